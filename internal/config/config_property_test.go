//go:build property
// +build property

package config

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigurationProperties tests configuration validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: Valid configurations should always validate without error
	properties.Property("valid config validation", prop.ForAll(
		func(port int, host string, debounceMs int, cacheSize int) bool {
			cfg := validConfig()
			cfg.Server.Port = port
			cfg.Server.Host = host
			cfg.Build.Debounce = time.Duration(debounceMs) * time.Millisecond
			cfg.Build.CacheSize = cacheSize
			return cfg.Validate() == nil
		},
		gen.IntRange(0, 65535),
		gen.RegexMatch(`^[a-z][a-z0-9]{0,20}$`),
		gen.IntRange(0, 5000),
		gen.IntRange(0, 10000),
	))

	// Property: Ports outside the valid range are always rejected
	properties.Property("out of range ports rejected", prop.ForAll(
		func(port int) bool {
			cfg := validConfig()
			cfg.Server.Port = port
			return cfg.Validate() != nil
		},
		gen.OneGenOf(gen.IntRange(-100000, -1), gen.IntRange(65536, 200000)),
	))

	// Property: Validation should be deterministic
	properties.Property("validation determinism", prop.ForAll(
		func(host string) bool {
			cfg := validConfig()
			cfg.Server.Host = host
			return (cfg.Validate() == nil) == (cfg.Validate() == nil)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
