package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/conneroisu/breach/internal/compiler"
	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
		}
	}

	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg})
}

// Validate returns a config error describing every invalid field, or nil.
func (c *Config) Validate() error {
	result := ValidateWithDetails(c)
	if !result.HasErrors() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return errors.NewConfigError("invalid configuration: " + strings.Join(msgs, "; "))
}

// ValidateWithDetails performs comprehensive validation with detailed feedback
func ValidateWithDetails(c *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServerConfig(&c.Server, result)
	validateBuildConfig(&c.Build, result)

	if c.Watch.PollInterval < 0 {
		result.fail("watch.poll_interval", c.Watch.PollInterval, "must not be negative", "use 0 to disable polling")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		result.fail("log.level", c.Log.Level, err.Error(), "use one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		result.fail("log.format", c.Log.Format, fmt.Sprintf("unknown log format %q", c.Log.Format), "use text or json")
	}

	result.Valid = !result.HasErrors()
	return result
}

func validateServerConfig(config *ServerConfig, result *ValidationResult) {
	// Allow 0 for system-assigned ports
	if config.Port < 0 || config.Port > 65535 {
		result.fail("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.fail("server.host", config.Host, err.Error())
		} else if config.Host == "0.0.0.0" || config.Host == "::" {
			result.warn("server.host", config.Host, "server is reachable from other machines")
		}
	}

	for _, origin := range config.AllowedOrigins {
		if strings.ContainsAny(origin, " \t\n") {
			result.fail("server.allowed_origins", origin, "origin pattern contains whitespace")
		}
	}
}

func validateBuildConfig(config *BuildConfig, result *ValidationResult) {
	if config.Debounce < 0 {
		result.fail("build.debounce", config.Debounce, "must not be negative")
	}
	if config.CompileTimeout < 0 {
		result.fail("build.compile_timeout", config.CompileTimeout, "must not be negative")
	}
	if config.CacheSize < 0 {
		result.fail("build.cache_size", config.CacheSize, "must not be negative", "use 0 to disable the compile cache")
	}
	if config.Target != "" {
		if _, err := compiler.ParseTarget(config.Target); err != nil {
			result.fail("build.target", config.Target, err.Error(), "use es2015 through es2023 or esnext")
		}
	}
}

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	// Check for dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}
