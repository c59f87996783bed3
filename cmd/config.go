package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/breach/internal/config"
)

var (
	configFormat string
	configStrict bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect breach configuration",
	Long: `Inspect the configuration breach resolves from flags, BREACH_* environment
variables, .env, .breach.yml and defaults.

Examples:
  breach config show                  # resolved configuration as YAML
  breach config show --format json
  breach config validate --strict     # treat warnings as errors`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the resolved configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return writeConfig(cmd.OutOrStdout(), cfg, configFormat)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Decode(viper.GetViper(), ".")
	if err != nil {
		return err
	}
	return reportValidation(cmd.OutOrStdout(), config.ValidateWithDetails(cfg), configStrict)
}

func reportValidation(w io.Writer, result *config.ValidationResult, strict bool) error {
	if !result.HasErrors() && !result.HasWarnings() {
		fmt.Fprintln(w, "Configuration is valid")
		return nil
	}

	fmt.Fprint(w, result.String())
	switch {
	case result.HasErrors():
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	case strict:
		return fmt.Errorf("configuration has %d warning(s)", len(result.Warnings))
	}
	return nil
}
