package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/broker"
)

// CloseReason records why a position left the book.
type CloseReason string

const (
	CloseManual     CloseReason = "manual"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseKnockout   CloseReason = "knockout"
	CloseMarginCall CloseReason = "margin_call"
	CloseReset      CloseReason = "reset"
)

// Position is one open or closed holding. Values returned from the
// engine are snapshots; mutating them does not touch the book.
type Position struct {
	ID          string             `json:"id"`
	PortfolioID string             `json:"portfolioId"`
	Symbol      string             `json:"symbol"`
	Side        broker.Side        `json:"side"`
	Product     broker.ProductType `json:"product"`
	Quantity    decimal.Decimal    `json:"quantity"`
	EntryPrice  decimal.Decimal    `json:"entryPrice"`

	// Leverage is 1 for stock; for knockouts it is the effective
	// gearing derived from the barrier distance.
	Leverage int `json:"leverage"`

	// Barrier is the knockout level; zero for other products.
	Barrier decimal.Decimal `json:"barrier,omitempty"`

	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`

	// LiquidationPrice is fixed at open for leveraged positions:
	// the barrier for knockouts, the margin formula otherwise.
	// Zero for stock.
	LiquidationPrice decimal.Decimal `json:"liquidationPrice,omitempty"`

	// MarginUsed is the cash reserved at open and released at close.
	MarginUsed decimal.Decimal `json:"marginUsed"`

	// Fee components charged so far; TotalFeesPaid is their running
	// sum and is what the close nets out of the realized result.
	EntryCommission decimal.Decimal `json:"entryCommission"`
	EntrySpread     decimal.Decimal `json:"entrySpread"`
	OvernightFees   decimal.Decimal `json:"overnightFees"`
	ExitCommission  decimal.Decimal `json:"exitCommission"`
	TotalFeesPaid   decimal.Decimal `json:"totalFeesPaid"`

	// LastFinancingDay is the UTC calendar day (2006-01-02) the
	// position was last charged overnight financing for. Empty until
	// the first charge.
	LastFinancingDay string `json:"lastFinancingDay,omitempty"`

	OpenedAt time.Time `json:"openedAt"`
	Open     bool      `json:"open"`

	ClosePrice  decimal.Decimal `json:"closePrice,omitempty"`
	ClosedAt    time.Time       `json:"closedAt,omitempty"`
	RealizedPnL decimal.Decimal `json:"realizedPnl,omitempty"`
	CloseReason CloseReason     `json:"closeReason,omitempty"`
}

// Notional is the entry exposure: entry price times quantity.
func (p *Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// UnrealizedPnL is the mark-to-market result at the given price:
// (price - entry) * quantity, sign-flipped for shorts.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Side.Sign())
}

// LeveragedPnLPercent is the unrealized result as a percentage of the
// margin committed, the figure a leveraged trader watches.
func (p *Position) LeveragedPnLPercent(price decimal.Decimal) decimal.Decimal {
	if p.MarginUsed.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL(price).Div(p.MarginUsed).Mul(hundred)
}

func (p *Position) hitStopLoss(price decimal.Decimal) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Side == broker.Long {
		return price.LessThanOrEqual(*p.StopLoss)
	}
	return price.GreaterThanOrEqual(*p.StopLoss)
}

func (p *Position) hitTakeProfit(price decimal.Decimal) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Side == broker.Long {
		return price.GreaterThanOrEqual(*p.TakeProfit)
	}
	return price.LessThanOrEqual(*p.TakeProfit)
}

func (p *Position) barrierBreached(price decimal.Decimal) bool {
	if p.Product != broker.Knockout {
		return false
	}
	if p.Side == broker.Long {
		return price.LessThanOrEqual(p.Barrier)
	}
	return price.GreaterThanOrEqual(p.Barrier)
}

func (p *Position) liquidationBreached(price decimal.Decimal) bool {
	if p.Leverage <= 1 || p.Product == broker.Knockout || p.Product == broker.Stock {
		return false
	}
	if p.Side == broker.Long {
		return price.LessThanOrEqual(p.LiquidationPrice)
	}
	return price.GreaterThanOrEqual(p.LiquidationPrice)
}

// snapshot returns a copy safe to hand out of the lock.
func (p *Position) snapshot() Position {
	out := *p
	if p.StopLoss != nil {
		v := *p.StopLoss
		out.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		out.TakeProfit = &v
	}
	return out
}

// worseOf picks the exit price less favorable for the holder, used
// when a quote gaps through a stop level.
func worseOf(side broker.Side, level, quote decimal.Decimal) decimal.Decimal {
	if side == broker.Long {
		return decimal.Min(level, quote)
	}
	return decimal.Max(level, quote)
}

// validateLevels checks stop loss and take profit sit on the correct
// side of the reference price for the position side. The reference is
// the entry price: levels are protective exits relative to where the
// position was opened.
func validateLevels(side broker.Side, ref decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) error {
	if stopLoss != nil {
		if !stopLoss.IsPositive() {
			return fmt.Errorf("%w: stop loss must be positive", ErrInvalidLevels)
		}
		if side == broker.Long && stopLoss.GreaterThanOrEqual(ref) {
			return fmt.Errorf("%w: long stop loss %s must be below %s", ErrInvalidLevels, stopLoss, ref)
		}
		if side == broker.Short && stopLoss.LessThanOrEqual(ref) {
			return fmt.Errorf("%w: short stop loss %s must be above %s", ErrInvalidLevels, stopLoss, ref)
		}
	}
	if takeProfit != nil {
		if !takeProfit.IsPositive() {
			return fmt.Errorf("%w: take profit must be positive", ErrInvalidLevels)
		}
		if side == broker.Long && takeProfit.LessThanOrEqual(ref) {
			return fmt.Errorf("%w: long take profit %s must be above %s", ErrInvalidLevels, takeProfit, ref)
		}
		if side == broker.Short && takeProfit.GreaterThanOrEqual(ref) {
			return fmt.Errorf("%w: short take profit %s must be below %s", ErrInvalidLevels, takeProfit, ref)
		}
	}
	return nil
}
