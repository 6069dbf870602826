package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"papertrader/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files for the paper trader.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  papertrader config init -o my-config.yaml
  papertrader config validate -f my-config.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings.

Example:
  papertrader config init -o papertrader.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  papertrader config validate -f papertrader.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "papertrader.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  papertrader run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Portfolio: %s (%s %s, profile %s)\n",
		cfg.Portfolio.Name, cfg.Portfolio.InitialCapital, cfg.Portfolio.Currency, profileID(cfg))
	fmt.Printf("  Quotes: %s\n", quoteSourceName(cfg))
	fmt.Printf("  Journal: %s\n", journalName(cfg))
	return nil
}

func quoteSourceName(cfg *config.Config) string {
	switch cfg.Quotes.Source {
	case "", "static":
		return fmt.Sprintf("static (%d symbols)", len(cfg.Quotes.Static))
	default:
		return fmt.Sprintf("%s (%s)", cfg.Quotes.Source, cfg.Quotes.BaseURL)
	}
}

func journalName(cfg *config.Config) string {
	switch cfg.Journal.Type {
	case "", "none":
		return "disabled"
	case "sqlite":
		return "sqlite (" + cfg.Journal.DBPath + ")"
	case "csv":
		return "csv (" + cfg.Journal.Dir + ")"
	default:
		return cfg.Journal.Type
	}
}
