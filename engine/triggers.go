package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"papertrader/market"
)

// TriggeredPosition reports one auto-closed position.
type TriggeredPosition struct {
	Position Position        `json:"position"`
	Reason   CloseReason     `json:"reason"`
	Price    decimal.Decimal `json:"price"`
}

// ExecutedOrder reports one pending order that left the book during a
// sweep: filled (Position set) or cancelled because the fill was
// rejected (CancelReason on the order).
type ExecutedOrder struct {
	Order    PendingOrder `json:"order"`
	Position *Position    `json:"position,omitempty"`
}

// TriggerReport is what one sweep did, for the caller to notify on.
type TriggerReport struct {
	TriggeredPositions []TriggeredPosition `json:"triggeredPositions"`
	ExecutedOrders     []ExecutedOrder     `json:"executedOrders"`

	// SkippedSymbols had open positions or pending orders but no
	// quote in the batch; they are retried next sweep.
	SkippedSymbols []string `json:"skippedSymbols,omitempty"`
}

// Empty reports whether the sweep had no effect.
func (r TriggerReport) Empty() bool {
	return len(r.TriggeredPositions) == 0 && len(r.ExecutedOrders) == 0
}

// decideTrigger evaluates one open position against its quote. First
// match wins, in priority order: knockout barrier, margin call, stop
// loss, take profit. Knockouts close at the barrier, margin calls at
// the quote; stop loss and take profit close at their level unless
// the quote gapped through to a worse price for the holder.
func decideTrigger(pos *Position, quote decimal.Decimal) (CloseReason, decimal.Decimal, bool) {
	switch {
	case pos.barrierBreached(quote):
		return CloseKnockout, pos.Barrier, true
	case pos.liquidationBreached(quote):
		return CloseMarginCall, quote, true
	case pos.hitStopLoss(quote):
		return CloseStopLoss, worseOf(pos.Side, *pos.StopLoss, quote), true
	case pos.hitTakeProfit(quote):
		return CloseTakeProfit, worseOf(pos.Side, *pos.TakeProfit, quote), true
	}
	return "", decimal.Decimal{}, false
}

// CheckTriggers sweeps every portfolio against the quote batch:
// first the open positions (auto-closes), then the pending orders
// (fills). Positions closed in the pass are excluded from the rest of
// it, so the call is safe to repeat with the same or stale quotes;
// the second pass is a no-op. Portfolios are locked one at a time and
// never across a quote fetch.
func (e *Engine) CheckTriggers(ctx context.Context, quotes market.Batch) (TriggerReport, error) {
	_ = ctx

	var report TriggerReport
	skipped := make(map[string]struct{})

	e.mu.RLock()
	portfolios := make([]*portfolio, 0, len(e.portfolios))
	for _, pf := range e.portfolios {
		portfolios = append(portfolios, pf)
	}
	e.mu.RUnlock()
	sort.Slice(portfolios, func(i, j int) bool { return portfolios[i].meta.ID < portfolios[j].meta.ID })

	for _, pf := range portfolios {
		pf.mu.Lock()

		var sweepTime time.Time
		triggered := 0
		for _, pos := range pf.sortedOpenLocked() {
			q, ok := quotes.Get(pos.Symbol)
			if !ok {
				skipped[pos.Symbol] = struct{}{}
				continue
			}
			reason, price, fire := decideTrigger(pos, q.Price)
			if !fire {
				continue
			}

			at := q.Time
			if at.IsZero() {
				at = e.now()
			}
			if at.After(sweepTime) {
				sweepTime = at
			}

			if _, err := e.closePositionLocked(pf, pos, price, at, reason, false); err != nil {
				e.log.WithError(err).WithFields(logrus.Fields{
					"portfolio": pf.meta.ID,
					"position":  pos.ID,
					"reason":    reason,
				}).Error("trigger close failed")
				continue
			}
			triggered++
			report.TriggeredPositions = append(report.TriggeredPositions, TriggeredPosition{
				Position: pos.snapshot(),
				Reason:   reason,
				Price:    price,
			})
		}

		fills := e.matchOrdersLocked(pf, quotes)
		report.ExecutedOrders = append(report.ExecutedOrders, fills...)

		for _, order := range pf.sortedPendingLocked() {
			if _, ok := quotes.Get(order.Symbol); !ok {
				skipped[order.Symbol] = struct{}{}
			}
		}

		if triggered > 0 || len(fills) > 0 {
			if sweepTime.IsZero() {
				sweepTime = e.now()
			}
			e.snapshotEquityLocked(pf, sweepTime, quotes)
		}
		pf.mu.Unlock()
	}

	for sym := range skipped {
		report.SkippedSymbols = append(report.SkippedSymbols, sym)
	}
	sort.Strings(report.SkippedSymbols)

	for _, t := range report.TriggeredPositions {
		e.log.WithFields(logrus.Fields{
			"portfolio": t.Position.PortfolioID,
			"position":  t.Position.ID,
			"symbol":    t.Position.Symbol,
			"reason":    t.Reason,
			"price":     t.Price,
			"pnl":       t.Position.RealizedPnL,
		}).Info("position auto-closed")
	}
	for _, f := range report.ExecutedOrders {
		fields := logrus.Fields{
			"portfolio": f.Order.PortfolioID,
			"order":     f.Order.ID,
			"symbol":    f.Order.Symbol,
			"status":    f.Order.Status,
		}
		if f.Position != nil {
			fields["position"] = f.Position.ID
			fields["price"] = f.Position.EntryPrice
			e.log.WithFields(fields).Info("pending order filled")
		} else {
			fields["reason"] = f.Order.CancelReason
			e.log.WithFields(fields).Warn("pending order cancelled at fill")
		}
	}

	return report, nil
}
