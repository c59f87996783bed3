package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/breach/internal/config"
	"github.com/conneroisu/breach/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "breach",
	Short: "Single-file polyglot web prototyping",
	Long: `breach serves a single .breach file that holds markup, styles and scripts
in language-tagged sections. Every save recompiles the file and connected
browsers reload to the newest build.

Quick Start:
  breach serve                    Serve the first .breach file in this directory
  breach build page.breach --out dist
  breach config show              Print the resolved configuration`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .breach.yml, can also use BREACH_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// initConfig loads .env and the config file into the global viper instance.
// Flags bound in init already take precedence over both.
func initConfig(_ *cobra.Command, _ []string) error {
	if err := config.LoadEnv("."); err != nil {
		return err
	}
	return config.Setup(viper.GetViper(), cfgFile, ".")
}

// loadConfig resolves the configuration, using path as the source file when
// given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		viper.Set("source.path", path)
	}
	return config.Load()
}

func newLogger(cfg *config.Config, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: out,
	}), nil
}
