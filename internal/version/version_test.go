package version

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withLdflags(t *testing.T, v, commit, built string) {
	t.Helper()
	oldV, oldC, oldB := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = v, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldB })
}

func TestLdflagsTakePrecedence(t *testing.T) {
	withLdflags(t, "v1.2.3", "0123456789abcdef", "2025-03-04T05:06:07Z")

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), info.BuildTime)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
}

func TestDevFallback(t *testing.T) {
	withLdflags(t, "dev", "unknown", "unknown")

	v := GetVersion()
	assert.True(t, v == "dev" || strings.HasPrefix(v, "dev-") || strings.HasPrefix(v, "v"), v)
	assert.NotEmpty(t, GetShortVersion())
}

func TestBuildTimeFormats(t *testing.T) {
	withLdflags(t, "dev", "unknown", "2025-01-02 03:04:05")
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), GetBuildTime())
}
