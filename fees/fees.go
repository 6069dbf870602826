// Package fees computes the charges a broker profile applies to an
// execution. All functions are pure; rounding to cash precision is
// left to the caller so that fee components can be summed first.
package fees

import (
	"github.com/shopspring/decimal"

	"papertrader/broker"
)

// Calculation breaks a charge into its components.
type Calculation struct {
	// Commission is the broker commission for the execution.
	Commission decimal.Decimal `json:"commission"`
	// SpreadCost is the half-spread (plus issuer markup for
	// certificates) charged on entry. Zero on exits and for stock.
	SpreadCost decimal.Decimal `json:"spreadCost"`
}

// Total is the sum of all components.
func (c Calculation) Total() decimal.Decimal {
	return c.Commission.Add(c.SpreadCost)
}

// Entry computes the charges for opening a position with the given
// entry notional (price * quantity).
//
// Stock pays commission only. CFDs add the spread, certificates
// (knockout, factor) add the spread plus the issuer markup.
func Entry(p broker.Profile, product broker.ProductType, notional decimal.Decimal) Calculation {
	c := Calculation{Commission: p.Commission.Apply(notional)}
	switch product {
	case broker.CFD:
		c.SpreadCost = notional.Mul(p.SpreadPercent)
	case broker.Knockout, broker.Factor:
		c.SpreadCost = notional.Mul(p.SpreadPercent.Add(p.Markup))
	}
	return c
}

// Exit computes the charges for closing a position at the given exit
// notional. Only commission applies; the spread was paid on entry.
func Exit(p broker.Profile, notional decimal.Decimal) Calculation {
	return Calculation{Commission: p.Commission.Apply(notional)}
}

// Overnight computes the daily financing charge for holding a
// leveraged position across a day boundary: the side's daily rate
// applied to the entry notional. Stock positions are never financed;
// callers skip them.
func Overnight(p broker.Profile, side broker.Side, entryNotional decimal.Decimal) decimal.Decimal {
	return entryNotional.Mul(p.OvernightRate(side))
}
