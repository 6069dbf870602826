package broker

import "github.com/shopspring/decimal"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultProfileID is the profile used when a portfolio does not name
// one.
const DefaultProfileID = "neobroker"

// DefaultProfiles are the built-in broker profiles. "neobroker"
// models a flat-fee mobile broker, "classic" a traditional bank
// broker with percentage commission.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:   "neobroker",
			Name: "Neobroker (flat fee)",
			Commission: CommissionSchedule{
				Flat:    dec("1"),
				Percent: decimal.Zero,
				Min:     dec("1"),
			},
			SpreadPercent:      dec("0.001"),
			Markup:             dec("0.003"),
			OvernightLongRate:  dec("0.00022"),
			OvernightShortRate: dec("0.00012"),
		},
		{
			ID:   "classic",
			Name: "Classic bank broker",
			Commission: CommissionSchedule{
				Flat:    dec("4.95"),
				Percent: dec("0.0025"),
				Min:     dec("9.90"),
			},
			SpreadPercent:      dec("0.0008"),
			Markup:             dec("0.002"),
			OvernightLongRate:  dec("0.00025"),
			OvernightShortRate: dec("0.00015"),
		},
	}
}

// DefaultProducts is the built-in product table.
func DefaultProducts() map[ProductType]ProductConfig {
	return map[ProductType]ProductConfig{
		Stock:    {MaxLeverage: 1, CanShort: false},
		CFD:      {MaxLeverage: 30, CanShort: true},
		Knockout: {MaxLeverage: 100, CanShort: true},
		Factor:   {MaxLeverage: 15, CanShort: true},
	}
}

// DefaultCatalog builds a catalog from the built-in profiles and
// product table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultProfiles(), DefaultProducts())
	if err != nil {
		panic(err) // built-ins are known good
	}
	return c
}
