// Package config loads and validates the paper-trader configuration
// from YAML or JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"papertrader/broker"
)

// Money is a decimal config value. YAML needs the custom hook because
// yaml.v3 decodes scalars by tag and knows nothing about decimals;
// JSON is covered by the embedded decimal. Accepts numbers and
// strings, so both `10000` and `"10000.50"` work.
type Money struct {
	decimal.Decimal
}

func (m *Money) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be a number or string")
	}
	s := strings.TrimSpace(value.Value)
	if s == "" || value.Tag == "!!null" {
		m.Decimal = decimal.Decimal{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	m.Decimal = d
	return nil
}

func (m Money) MarshalYAML() (any, error) {
	return m.Decimal.String(), nil
}

// Config is the complete runtime configuration.
type Config struct {
	Portfolio  PortfolioConfig  `json:"portfolio" yaml:"portfolio"`
	Broker     BrokerConfig     `json:"broker,omitempty" yaml:"broker,omitempty"`
	Quotes     QuotesConfig     `json:"quotes" yaml:"quotes"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Watch      WatchConfig      `json:"watch" yaml:"watch"`
	Simulation SimulationConfig `json:"simulation,omitempty" yaml:"simulation,omitempty"`
}

// PortfolioConfig seeds the default portfolio commands operate on.
type PortfolioConfig struct {
	Name           string `json:"name" yaml:"name"`
	Owner          string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Currency       string `json:"currency" yaml:"currency"`
	Profile        string `json:"profile" yaml:"profile"`
	InitialCapital Money  `json:"initial_capital" yaml:"initial_capital"`
}

// BrokerConfig overrides the built-in broker catalog. Empty lists
// keep the defaults.
type BrokerConfig struct {
	Profiles []ProfileConfig                             `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	Products map[broker.ProductType]broker.ProductConfig `json:"products,omitempty" yaml:"products,omitempty"`
}

// ProfileConfig is one broker profile in config form. All rates are
// plain fractions: 0.001 means 0.1%. Zero margin levels fall back to
// the broker defaults.
type ProfileConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	CommissionFlat    Money `json:"commission_flat,omitempty" yaml:"commission_flat,omitempty"`
	CommissionPercent Money `json:"commission_percent,omitempty" yaml:"commission_percent,omitempty"`
	CommissionMin     Money `json:"commission_min,omitempty" yaml:"commission_min,omitempty"`

	SpreadPercent Money `json:"spread_percent,omitempty" yaml:"spread_percent,omitempty"`
	Markup        Money `json:"markup,omitempty" yaml:"markup,omitempty"`

	OvernightLongRate  Money `json:"overnight_long_rate,omitempty" yaml:"overnight_long_rate,omitempty"`
	OvernightShortRate Money `json:"overnight_short_rate,omitempty" yaml:"overnight_short_rate,omitempty"`

	MaintenanceMargin  Money `json:"maintenance_margin,omitempty" yaml:"maintenance_margin,omitempty"`
	MarginWarningLevel Money `json:"margin_warning_level,omitempty" yaml:"margin_warning_level,omitempty"`
	MarginCallLevel    Money `json:"margin_call_level,omitempty" yaml:"margin_call_level,omitempty"`
}

// Profile converts to the broker type.
func (p ProfileConfig) Profile() broker.Profile {
	return broker.Profile{
		ID:   p.ID,
		Name: p.Name,
		Commission: broker.CommissionSchedule{
			Flat:    p.CommissionFlat.Decimal,
			Percent: p.CommissionPercent.Decimal,
			Min:     p.CommissionMin.Decimal,
		},
		SpreadPercent:             p.SpreadPercent.Decimal,
		Markup:                    p.Markup.Decimal,
		OvernightLongRate:         p.OvernightLongRate.Decimal,
		OvernightShortRate:        p.OvernightShortRate.Decimal,
		MaintenanceMarginFraction: p.MaintenanceMargin.Decimal,
		MarginWarningLevel:        p.MarginWarningLevel.Decimal,
		MarginCallLevel:           p.MarginCallLevel.Decimal,
	}
}

// Catalog builds the broker catalog the engine validates against.
func (b BrokerConfig) Catalog() (*broker.Catalog, error) {
	if len(b.Profiles) == 0 && len(b.Products) == 0 {
		return broker.DefaultCatalog(), nil
	}
	profiles := broker.DefaultProfiles()
	if len(b.Profiles) > 0 {
		profiles = make([]broker.Profile, 0, len(b.Profiles))
		for _, p := range b.Profiles {
			profiles = append(profiles, p.Profile())
		}
	}
	products := b.Products
	if len(products) == 0 {
		products = broker.DefaultProducts()
	}
	return broker.NewCatalog(profiles, products)
}

// QuotesConfig selects the quote source: "static" serves the fixed
// quotes below, "http" polls a JSON endpoint.
type QuotesConfig struct {
	Source  string `json:"source" yaml:"source"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries int    `json:"retries,omitempty" yaml:"retries,omitempty"`

	Static []StaticQuote `json:"static,omitempty" yaml:"static,omitempty"`
}

// ParseTimeout converts the timeout string to a duration; empty means
// the source default.
func (q QuotesConfig) ParseTimeout() (time.Duration, error) {
	if q.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(q.Timeout)
}

// StaticQuote is one fixed price served by the static source.
type StaticQuote struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Price  Money  `json:"price" yaml:"price"`
}

// JournalConfig selects the audit-trail backend.
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite", "csv", "postgres" or "none"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
}

// LoggingConfig mirrors the logger options.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// WatchConfig drives the periodic trigger sweep.
type WatchConfig struct {
	// Interval between sweeps, e.g. "30s".
	Interval string `json:"interval" yaml:"interval"`
	// Symbols fetched each sweep in addition to those the open book
	// needs.
	Symbols []string `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	// OvernightHourUTC is the UTC hour after which the daily
	// financing charge is applied once.
	OvernightHourUTC int `json:"overnight_hour_utc" yaml:"overnight_hour_utc"`
}

// ParseInterval converts the sweep interval to a duration.
func (w WatchConfig) ParseInterval() (time.Duration, error) {
	if w.Interval == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(w.Interval)
}

// SimulationConfig scripts a run: orders placed up front, then quote
// steps swept in sequence.
type SimulationConfig struct {
	Orders []SimOrder `json:"orders,omitempty" yaml:"orders,omitempty"`
	Steps  []SimStep  `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// SimOrder is one scripted order. Type "market" executes immediately
// at Price; the pending types go on the book.
type SimOrder struct {
	Type     string `json:"type" yaml:"type"` // market, limit, stop, stop_limit
	Symbol   string `json:"symbol" yaml:"symbol"`
	Side     string `json:"side" yaml:"side"`
	Product  string `json:"product" yaml:"product"`
	Quantity Money  `json:"quantity" yaml:"quantity"`
	Leverage int    `json:"leverage,omitempty" yaml:"leverage,omitempty"`

	// Price is the fill price for market orders.
	Price Money `json:"price,omitempty" yaml:"price,omitempty"`

	Barrier    Money `json:"barrier,omitempty" yaml:"barrier,omitempty"`
	LimitPrice Money `json:"limit_price,omitempty" yaml:"limit_price,omitempty"`
	StopPrice  Money `json:"stop_price,omitempty" yaml:"stop_price,omitempty"`
	StopLoss   Money `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	TakeProfit Money `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
}

// SimStep is one quote update in the script.
type SimStep struct {
	Quotes []StaticQuote `json:"quotes" yaml:"quotes"`
	// Delay advances the simulated clock before the step, e.g. "24h"
	// to cross a financing day.
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// ParseDelay converts the step delay to a duration.
func (s SimStep) ParseDelay() (time.Duration, error) {
	if s.Delay == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Delay)
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, YAML or JSON by extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Portfolio.Currency == "" {
		return fmt.Errorf("portfolio.currency is required")
	}
	if !c.Portfolio.InitialCapital.IsPositive() {
		return fmt.Errorf("portfolio.initial_capital must be positive")
	}

	catalog, err := c.Broker.Catalog()
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	profile := c.Portfolio.Profile
	if profile == "" {
		profile = broker.DefaultProfileID
	}
	if _, err := catalog.Profile(profile); err != nil {
		return fmt.Errorf("portfolio.profile: %w", err)
	}

	switch c.Quotes.Source {
	case "", "static":
		for _, q := range c.Quotes.Static {
			if q.Symbol == "" {
				return fmt.Errorf("quotes.static: symbol is required")
			}
			if !q.Price.IsPositive() {
				return fmt.Errorf("quotes.static: price for %s must be positive", q.Symbol)
			}
		}
	case "http":
		if c.Quotes.BaseURL == "" {
			return fmt.Errorf("quotes.base_url required for http source")
		}
		if _, err := c.Quotes.ParseTimeout(); err != nil {
			return fmt.Errorf("quotes.timeout: %w", err)
		}
	default:
		return fmt.Errorf("quotes.source must be 'static' or 'http'")
	}

	switch c.Journal.Type {
	case "", "none":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for sqlite journal")
		}
	case "csv":
		if c.Journal.Dir == "" {
			return fmt.Errorf("journal.dir required for csv journal")
		}
	case "postgres":
		if c.Journal.URL == "" {
			return fmt.Errorf("journal.url required for postgres journal")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv', 'postgres' or 'none'")
	}

	if _, err := c.Watch.ParseInterval(); err != nil {
		return fmt.Errorf("watch.interval: %w", err)
	}
	if c.Watch.OvernightHourUTC < 0 || c.Watch.OvernightHourUTC > 23 {
		return fmt.Errorf("watch.overnight_hour_utc must be between 0 and 23")
	}

	for i, o := range c.Simulation.Orders {
		if err := o.validate(); err != nil {
			return fmt.Errorf("simulation.orders[%d]: %w", i, err)
		}
	}
	for i, s := range c.Simulation.Steps {
		if len(s.Quotes) == 0 {
			return fmt.Errorf("simulation.steps[%d]: quotes are required", i)
		}
		if _, err := s.ParseDelay(); err != nil {
			return fmt.Errorf("simulation.steps[%d]: delay: %w", i, err)
		}
		for _, q := range s.Quotes {
			if q.Symbol == "" || !q.Price.IsPositive() {
				return fmt.Errorf("simulation.steps[%d]: quote needs symbol and positive price", i)
			}
		}
	}

	return nil
}

func (o SimOrder) validate() error {
	switch o.Type {
	case "market":
		if !o.Price.IsPositive() {
			return fmt.Errorf("market order needs a positive price")
		}
	case "limit":
		if !o.LimitPrice.IsPositive() {
			return fmt.Errorf("limit order needs a positive limit_price")
		}
	case "stop":
		if !o.StopPrice.IsPositive() {
			return fmt.Errorf("stop order needs a positive stop_price")
		}
	case "stop_limit":
		if !o.StopPrice.IsPositive() || !o.LimitPrice.IsPositive() {
			return fmt.Errorf("stop_limit order needs positive stop_price and limit_price")
		}
	default:
		return fmt.Errorf("type must be 'market', 'limit', 'stop' or 'stop_limit'")
	}
	if o.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !broker.Side(o.Side).Valid() {
		return fmt.Errorf("side must be 'long' or 'short'")
	}
	if !broker.ProductType(o.Product).Valid() {
		return fmt.Errorf("unknown product %q", o.Product)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}
	return nil
}

// Default returns a configuration with sensible defaults: a demo
// portfolio on the built-in broker, static quotes and a SQLite
// journal.
func Default() *Config {
	return &Config{
		Portfolio: PortfolioConfig{
			Name:           "paper",
			Currency:       "EUR",
			Profile:        broker.DefaultProfileID,
			InitialCapital: Money{decimal.NewFromInt(10000)},
		},
		Quotes: QuotesConfig{
			Source: "static",
			Static: []StaticQuote{
				{Symbol: "ACME", Price: Money{decimal.NewFromInt(100)}},
			},
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./papertrader.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			Interval:         "30s",
			OvernightHourUTC: 0,
		},
	}
}
