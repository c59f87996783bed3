package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServerFlags are the flags shared by commands that run the server.
type ServerFlags struct {
	Port     int
	Host     string
	Open     bool
	Debounce time.Duration
}

// serverBindings maps server flags to their configuration keys.
var serverBindings = map[string]string{
	"port":     "server.port",
	"host":     "server.host",
	"open":     "server.open",
	"debounce": "build.debounce",
}

// AddServerFlags registers the server flags on cmd.
func AddServerFlags(cmd *cobra.Command) *ServerFlags {
	flags := &ServerFlags{}
	fs := cmd.Flags()

	fs.IntVarP(&flags.Port, "port", "p", 8080, "Port to serve on")
	fs.StringVar(&flags.Host, "host", "localhost", "Host to bind to")
	fs.BoolVar(&flags.Open, "open", false, "Open the page in a browser")
	fs.DurationVar(&flags.Debounce, "debounce", 100*time.Millisecond, "Quiet period before a rebuild")

	AddFlagValidation(cmd, "port", ValidatePort)
	AddFlagValidation(cmd, "debounce", ValidateDuration)
	return flags
}

// bindFlags binds each flag to a viper key. A bound flag only overrides the
// key when it was set on the command line.
func bindFlags(fs *pflag.FlagSet, bindings map[string]string) {
	for flagName, configKey := range bindings {
		if flag := fs.Lookup(flagName); flag != nil {
			_ = viper.BindPFlag(configKey, flag)
		}
	}
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 (any free port) through 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateDuration accepts non-negative Go durations such as 150ms.
func ValidateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %s", s)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", s)
	}
	return nil
}
