package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/breach/internal/build"
	"github.com/conneroisu/breach/internal/config"
	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
)

const sample = "¦html\n<p>Hi</p>\n¦scss\nbody{color:red;}\n¦ts\nconst x=1;\n"

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.breach")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(path string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 8080},
		Source: config.SourceConfig{Path: path},
		Build: config.BuildConfig{
			Debounce:       100 * time.Millisecond,
			CompileTimeout: 10 * time.Second,
			CacheSize:      16,
			Parallel:       true,
			Target:         "es2020",
		},
		Watch: config.WatchConfig{PollInterval: time.Second},
		Log:   config.LogConfig{Level: "info", Format: "text"},
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	buildOut = ""
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "build", "config", "version"} {
		assert.True(t, names[want], want)
	}

	for _, flag := range []string{"port", "host", "open", "debounce"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(flag), flag)
	}
	assert.Equal(t, "p", serveCmd.Flags().Lookup("port").Shorthand)
}

func TestBuildOnce(t *testing.T) {
	cfg := testConfig(writeSource(t, sample))

	result, snap, err := buildOnce(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)

	assert.Equal(t, build.StatusClean, result.Status)
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.Empty(t, result.Diagnostics)

	out := t.TempDir()
	require.NoError(t, writeArtifacts(out, snap))

	css, err := os.ReadFile(filepath.Join(out, "style.css"))
	require.NoError(t, err)
	assert.Equal(t, "body {\n  color: red;\n}\n", string(css))

	js, err := os.ReadFile(filepath.Join(out, "script.js"))
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;\n", string(js))

	page, err := os.ReadFile(filepath.Join(out, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, snap.Page, string(page))
	assert.Contains(t, string(page), "<p>Hi</p>")
}

func TestBuildOncePartial(t *testing.T) {
	cfg := testConfig(writeSource(t, "¦html\n<p>Hi</p>\n¦scss\nbody{color:red;\n"))

	result, snap, err := buildOnce(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, build.StatusPartial, result.Status)
	assert.Equal(t, build.StatusPartial, snap.Status)

	var buf bytes.Buffer
	printDiagnostics(&buf, result.Diagnostics)
	assert.Contains(t, buf.String(), "scss#")
	assert.Positive(t, errors.CountErrors(result.Diagnostics))
}

func TestBuildCommand(t *testing.T) {
	path := writeSource(t, sample)
	out := filepath.Join(t.TempDir(), "dist")

	stdout, _, err := execute(t, "build", path, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "clean")

	for _, name := range []string{"index.html", "style.css", "script.js"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
}

func TestBuildCommandFailure(t *testing.T) {
	path := writeSource(t, "¦ \n")
	out := filepath.Join(t.TempDir(), "dist")

	_, stderr, err := execute(t, "build", path, "--out", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build failed")
	assert.NotEmpty(t, stderr)
	assert.NoDirExists(t, out)
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig("x.breach")

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Info(context.Background(), "hello", "key", "value")
	assert.Contains(t, buf.String(), "hello")

	cfg.Log.Level = "loud"
	_, err = newLogger(cfg, &buf)
	require.Error(t, err)
}

func TestWriteConfig(t *testing.T) {
	cfg := testConfig("page.breach")

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, cfg, "yaml"))

	var decoded map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "page.breach", decoded["source"]["path"])
	assert.Equal(t, 8080, decoded["server"]["port"])
	assert.Equal(t, "100ms", decoded["build"]["debounce"])

	buf.Reset()
	require.NoError(t, writeConfig(&buf, cfg, "json"))
	assert.True(t, json.Valid(buf.Bytes()))

	require.Error(t, writeConfig(&buf, cfg, "toml"))
}

func TestReportValidation(t *testing.T) {
	cfg := testConfig("page.breach")

	var buf bytes.Buffer
	require.NoError(t, reportValidation(&buf, config.ValidateWithDetails(cfg), true))
	assert.Contains(t, buf.String(), "valid")

	cfg.Server.Host = "0.0.0.0"
	buf.Reset()
	require.NoError(t, reportValidation(&buf, config.ValidateWithDetails(cfg), false))
	require.Error(t, reportValidation(&buf, config.ValidateWithDetails(cfg), true))

	cfg.Server.Port = 70000
	buf.Reset()
	err := reportValidation(&buf, config.ValidateWithDetails(cfg), false)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "server.port")
}

func TestWriteVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeVersion(&buf, "text", false))
	assert.True(t, strings.HasPrefix(buf.String(), "breach "))
	assert.Contains(t, buf.String(), "Platform:")

	buf.Reset()
	require.NoError(t, writeVersion(&buf, "json", false))
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Contains(t, info, "version")

	require.Error(t, writeVersion(&buf, "xml", false))
}

func TestFlagValidation(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	flags := AddServerFlags(cmd)

	require.NoError(t, cmd.Flags().Set("port", "3000"))
	assert.Equal(t, 3000, flags.Port)
	require.Error(t, cmd.Flags().Set("port", "70000"))
	require.Error(t, cmd.Flags().Set("port", "abc"))

	require.NoError(t, cmd.Flags().Set("debounce", "250ms"))
	assert.Equal(t, 250*time.Millisecond, flags.Debounce)
	require.Error(t, cmd.Flags().Set("debounce", "-1s"))
}
