// Package margin holds the pure margin arithmetic: initial margin per
// product type, liquidation prices and margin levels. Nothing in here
// touches portfolio state; the engine feeds it numbers and applies
// the results.
package margin

import (
	"github.com/shopspring/decimal"

	"papertrader/broker"
)

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// Required returns the initial margin for a new position.
//
//	stock              price * qty (fully paid)
//	cfd, factor        price * qty / leverage
//	knockout           qty * |price - barrier|
//
// Barrier is ignored for everything but knockouts.
func Required(product broker.ProductType, price, qty decimal.Decimal, leverage int, barrier decimal.Decimal) decimal.Decimal {
	notional := price.Mul(qty)
	switch product {
	case broker.Knockout:
		return qty.Mul(price.Sub(barrier).Abs())
	case broker.CFD, broker.Factor:
		return notional.Div(decimal.NewFromInt(int64(leverage)))
	default:
		return notional
	}
}

// EffectiveLeverage is the gearing of a knockout certificate:
// price / |price - barrier|. The closer the barrier, the higher the
// gearing. Callers must ensure the barrier does not equal the price.
func EffectiveLeverage(price, barrier decimal.Decimal) decimal.Decimal {
	return price.Div(price.Sub(barrier).Abs())
}

// LiquidationPrice returns the price at which a leveraged position's
// unrealized loss eats through the non-maintenance share of its
// margin:
//
//	long   entry * (1 - (1/L) * (1-m))
//	short  entry * (1 + (1/L) * (1-m))
//
// where L is the position leverage and m the maintenance margin
// fraction. Knockouts liquidate at their barrier instead; stock never
// liquidates.
func LiquidationPrice(side broker.Side, entry decimal.Decimal, leverage int, maintenance decimal.Decimal) decimal.Decimal {
	move := one.Div(decimal.NewFromInt(int64(leverage))).Mul(one.Sub(maintenance))
	if side == broker.Short {
		return entry.Mul(one.Add(move))
	}
	return entry.Mul(one.Sub(move))
}

// DistanceToLiquidation returns how far the current price sits from
// the liquidation price, as a percentage of the current price. The
// result is clamped at zero once the price has crossed the level.
func DistanceToLiquidation(side broker.Side, current, liquidation decimal.Decimal) decimal.Decimal {
	dist := current.Sub(liquidation)
	if side == broker.Short {
		dist = liquidation.Sub(current)
	}
	if dist.IsNegative() {
		return decimal.Zero
	}
	if current.IsZero() {
		return decimal.Zero
	}
	return dist.Div(current).Mul(hundred)
}

// PositionLevel returns a position's margin level in percent:
//
//	(marginUsed + unrealizedPnl) / (marginUsed * m) * 100
//
// It reaches 100 exactly when the price touches the liquidation
// price. ok is false when the position uses no margin (the level is
// undefined and the position cannot be margin-called).
func PositionLevel(marginUsed, unrealized, maintenance decimal.Decimal) (decimal.Decimal, bool) {
	floor := marginUsed.Mul(maintenance)
	if floor.IsZero() {
		return decimal.Zero, false
	}
	return marginUsed.Add(unrealized).Div(floor).Mul(hundred), true
}

// PortfolioLevel returns the portfolio-wide margin level in percent:
//
//	(cash + total unrealized pnl) / total margin used * 100
//
// ok is false when no margin is in use; the portfolio is then
// unconditionally healthy.
func PortfolioLevel(cash, totalUnrealized, totalMargin decimal.Decimal) (decimal.Decimal, bool) {
	if totalMargin.IsZero() {
		return decimal.Zero, false
	}
	return cash.Add(totalUnrealized).Div(totalMargin).Mul(hundred), true
}
