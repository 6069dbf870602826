// Package broker describes the simulated brokers orders are priced
// against: the product types a broker offers, their leverage limits,
// and the fee and margin parameters of each broker profile.
//
// Profiles are static configuration. The engine reads them through a
// Catalog and never mutates them, so a Catalog is safe to share.
package broker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownProfile = errors.New("unknown broker profile")
	ErrUnknownProduct = errors.New("unknown product type")
)

// Side is the direction of a position or order.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Sign returns +1 for long and -1 for short, the factor P&L formulas
// multiply the price move by.
func (s Side) Sign() decimal.Decimal {
	if s == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the closing side for s.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// ProductType selects the instrument class of an order. The type
// decides how margin, spread and overnight financing are computed.
type ProductType string

const (
	// Stock positions are unleveraged and cannot be shorted.
	Stock ProductType = "stock"
	// CFD positions are leveraged contracts for difference with
	// financing charged while held overnight.
	CFD ProductType = "cfd"
	// Knockout certificates carry a barrier; margin is the distance
	// between entry price and barrier, and touching the barrier
	// closes the position worthless-or-better at the barrier.
	Knockout ProductType = "knockout"
	// Factor certificates apply a fixed daily leverage factor and
	// pay overnight financing like CFDs.
	Factor ProductType = "factor"
)

// Valid reports whether t is a known product type.
func (t ProductType) Valid() bool {
	switch t {
	case Stock, CFD, Knockout, Factor:
		return true
	}
	return false
}

// Leveraged reports whether positions of this type put up margin
// rather than the full notional.
func (t ProductType) Leveraged() bool {
	return t != Stock
}

// ProductConfig carries the per-product limits a broker enforces at
// order time.
type ProductConfig struct {
	// MaxLeverage caps the leverage of new positions. Stock is
	// always 1.
	MaxLeverage int `json:"maxLeverage" yaml:"maxLeverage"`
	// CanShort permits short positions for this product.
	CanShort bool `json:"canShort" yaml:"canShort"`
}

// CommissionSchedule is a flat-plus-percentage commission with a
// minimum charge, applied once per execution.
type CommissionSchedule struct {
	Flat    decimal.Decimal `json:"flat" yaml:"flat"`
	Percent decimal.Decimal `json:"percent" yaml:"percent"`
	Min     decimal.Decimal `json:"min" yaml:"min"`
}

// Apply returns the commission for an execution of the given
// notional value: Flat + notional*Percent, floored at Min.
func (c CommissionSchedule) Apply(notional decimal.Decimal) decimal.Decimal {
	fee := c.Flat.Add(notional.Mul(c.Percent))
	if fee.LessThan(c.Min) {
		return c.Min
	}
	return fee
}

// Profile bundles the pricing parameters of one simulated broker.
// All rates are plain fractions: 0.001 means 0.1%.
type Profile struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	Commission CommissionSchedule `json:"commission" yaml:"commission"`

	// SpreadPercent is the half-spread charged on entry for
	// leveraged products, as a fraction of the entry notional.
	SpreadPercent decimal.Decimal `json:"spreadPercent" yaml:"spreadPercent"`

	// Markup is the issuer markup added to the spread for
	// certificate products (knockout, factor).
	Markup decimal.Decimal `json:"markup" yaml:"markup"`

	// OvernightLongRate and OvernightShortRate are the daily
	// financing rates charged on the entry notional of leveraged
	// positions held across a day boundary.
	OvernightLongRate  decimal.Decimal `json:"overnightLongRate" yaml:"overnightLongRate"`
	OvernightShortRate decimal.Decimal `json:"overnightShortRate" yaml:"overnightShortRate"`

	// MaintenanceMarginFraction is the share of the initial margin
	// that must stay covered before a position is liquidated.
	// Defaults to 0.5 when zero.
	MaintenanceMarginFraction decimal.Decimal `json:"maintenanceMarginFraction" yaml:"maintenanceMarginFraction"`

	// MarginWarningLevel and MarginCallLevel are portfolio margin
	// levels in percent. Below the warning level the portfolio is
	// flagged; below the call level positions are force-closed.
	// Default to 150 and 100 when zero.
	MarginWarningLevel decimal.Decimal `json:"marginWarningLevel" yaml:"marginWarningLevel"`
	MarginCallLevel    decimal.Decimal `json:"marginCallLevel" yaml:"marginCallLevel"`
}

// OvernightRate returns the daily financing rate for the given side.
func (p Profile) OvernightRate(side Side) decimal.Decimal {
	if side == Short {
		return p.OvernightShortRate
	}
	return p.OvernightLongRate
}

func (p Profile) withDefaults() Profile {
	if p.MaintenanceMarginFraction.IsZero() {
		p.MaintenanceMarginFraction = decimal.RequireFromString("0.5")
	}
	if p.MarginWarningLevel.IsZero() {
		p.MarginWarningLevel = decimal.NewFromInt(150)
	}
	if p.MarginCallLevel.IsZero() {
		p.MarginCallLevel = decimal.NewFromInt(100)
	}
	return p
}

// Catalog resolves broker profiles and product configs by id. It is
// immutable after construction.
type Catalog struct {
	profiles map[string]Profile
	products map[ProductType]ProductConfig
}

// NewCatalog builds a catalog from the given profiles and product
// table. Zero-valued maintenance and margin levels are filled with
// their defaults.
func NewCatalog(profiles []Profile, products map[ProductType]ProductConfig) (*Catalog, error) {
	c := &Catalog{
		profiles: make(map[string]Profile, len(profiles)),
		products: make(map[ProductType]ProductConfig, len(products)),
	}
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("broker profile %q: missing id", p.Name)
		}
		if _, dup := c.profiles[p.ID]; dup {
			return nil, fmt.Errorf("broker profile %q: duplicate id", p.ID)
		}
		c.profiles[p.ID] = p.withDefaults()
	}
	for t, pc := range products {
		if !t.Valid() {
			return nil, fmt.Errorf("product table: %w: %q", ErrUnknownProduct, t)
		}
		if pc.MaxLeverage < 1 {
			return nil, fmt.Errorf("product %s: maxLeverage must be at least 1", t)
		}
		c.products[t] = pc
	}
	return c, nil
}

// Profile returns the profile registered under id.
func (c *Catalog) Profile(id string) (Profile, error) {
	p, ok := c.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	return p, nil
}

// Product returns the config for the given product type.
func (c *Catalog) Product(t ProductType) (ProductConfig, error) {
	pc, ok := c.products[t]
	if !ok {
		return ProductConfig{}, fmt.Errorf("%w: %q", ErrUnknownProduct, t)
	}
	return pc, nil
}

// Profiles lists all registered profiles sorted by id.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Products returns a copy of the product table.
func (c *Catalog) Products() map[ProductType]ProductConfig {
	out := make(map[ProductType]ProductConfig, len(c.products))
	for t, pc := range c.products {
		out[t] = pc
	}
	return out
}
