package cmd

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"papertrader/broker"
	"papertrader/config"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List broker profiles and product limits",
	Long: `Print the broker catalog: each profile's commission schedule, spread,
markup and financing rates, plus the leverage and shorting limits per
product type. Without a config file the built-in catalog is shown.

Example:
  papertrader profiles -f config.yaml`,
	RunE: runProfiles,
}

var profilesConfigPath string

func init() {
	rootCmd.AddCommand(profilesCmd)

	profilesCmd.Flags().StringVarP(&profilesConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if profilesConfigPath != "" {
		var err error
		cfg, err = config.LoadFromFile(profilesConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	catalog, err := cfg.Broker.Catalog()
	if err != nil {
		return fmt.Errorf("broker catalog: %w", err)
	}

	fmt.Println("Broker profiles:")
	for _, p := range catalog.Profiles() {
		fmt.Printf("  %s: %s\n", p.ID, p.Name)
		fmt.Printf("    commission: flat %s + %s of notional, min %s\n",
			p.Commission.Flat, percent(p.Commission.Percent), p.Commission.Min)
		fmt.Printf("    spread: %s, certificate markup: %s\n",
			percent(p.SpreadPercent), percent(p.Markup))
		fmt.Printf("    overnight: %s long / %s short per day\n",
			percent(p.OvernightLongRate), percent(p.OvernightShortRate))
		fmt.Printf("    margin: warning below %s%%, call below %s%%\n",
			p.MarginWarningLevel, p.MarginCallLevel)
	}

	products := catalog.Products()
	types := make([]string, 0, len(products))
	for t := range products {
		types = append(types, string(t))
	}
	sort.Strings(types)

	fmt.Println("\nProducts:")
	for _, t := range types {
		pc := products[broker.ProductType(t)]
		shorting := "no shorting"
		if pc.CanShort {
			shorting = "shorting allowed"
		}
		fmt.Printf("  %-9s max leverage %d, %s\n", t, pc.MaxLeverage, shorting)
	}
	return nil
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).String() + "%"
}
