package engine

import (
	"context"
	"testing"
	"time"

	"papertrader/broker"
	"papertrader/market"
)

func TestStopLossClosesAtWorsePrice(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
		StopLoss:    lvl("95"),
	})
	assertCash(t, e, pf.ID, "8995")

	// The quote gapped through the stop: the close honors the gap.
	report := sweep(t, e, batch("ACME", "90", testTime))
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	trig := report.TriggeredPositions[0]
	if trig.Reason != CloseStopLoss {
		t.Fatalf("reason: got %s", trig.Reason)
	}
	assertDec(t, "trigger price", trig.Price, "90")
	assertDec(t, "close price", trig.Position.ClosePrice, "90")
	assertDec(t, "realized pnl", trig.Position.RealizedPnL, "-110")
	assertCash(t, e, pf.ID, "9885")
}

func TestTakeProfitCapsAtLevel(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
		TakeProfit:  lvl("110"),
	})

	// A gap past the target still exits at the target.
	report := sweep(t, e, batch("ACME", "115", testTime))
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	trig := report.TriggeredPositions[0]
	if trig.Reason != CloseTakeProfit {
		t.Fatalf("reason: got %s", trig.Reason)
	}
	assertDec(t, "trigger price", trig.Price, "110")
	assertDec(t, "realized pnl", trig.Position.RealizedPnL, "90")
	assertCash(t, e, pf.ID, "10085")
}

func TestShortStopLossGap(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Short,
		Product:     broker.CFD,
		Quantity:    dec("10"),
		Price:       dec("100"),
		Leverage:    5,
		StopLoss:    lvl("105"),
	})
	assertCash(t, e, pf.ID, "9795")

	// For a short the worse side is up.
	report := sweep(t, e, batch("ACME", "108", testTime))
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	trig := report.TriggeredPositions[0]
	if trig.Reason != CloseStopLoss {
		t.Fatalf("reason: got %s", trig.Reason)
	}
	assertDec(t, "trigger price", trig.Price, "108")
	assertDec(t, "realized pnl", trig.Position.RealizedPnL, "-90")
	assertCash(t, e, pf.ID, "9905")
}

func TestKnockoutClosesAtBarrier(t *testing.T) {
	e, j := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Knockout,
		Quantity:    dec("5"),
		Price:       dec("100"),
		Barrier:     dec("90"),
	})
	assertCash(t, e, pf.ID, "9945")

	quoteTime := testTime.Add(time.Hour)
	report := sweep(t, e, batch("ACME", "89", quoteTime))
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	trig := report.TriggeredPositions[0]
	if trig.Reason != CloseKnockout {
		t.Fatalf("reason: got %s", trig.Reason)
	}
	// The product expires at its barrier, fee-free.
	assertDec(t, "trigger price", trig.Price, "90")
	assertDec(t, "exit commission", trig.Position.ExitCommission, "0")
	assertDec(t, "realized pnl", trig.Position.RealizedPnL, "-55")
	if !trig.Position.ClosedAt.Equal(quoteTime) {
		t.Fatalf("closed at %s, quote at %s", trig.Position.ClosedAt, quoteTime)
	}
	assertCash(t, e, pf.ID, "9940")

	if len(j.positions) != 1 || j.positions[0].Reason != string(CloseKnockout) {
		t.Fatalf("journaled close: %+v", j.positions)
	}
}

func TestMarginCallAtQuote(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "financed", "10000")

	pos := mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.CFD,
		Quantity:    dec("1"),
		Price:       dec("100"),
		Leverage:    10,
	})
	assertDec(t, "liquidation price", pos.LiquidationPrice, "95")
	assertCash(t, e, pf.ID, "9989")

	// Above the liquidation price nothing happens.
	if report := sweep(t, e, batch("ACME", "95.01", testTime)); !report.Empty() {
		t.Fatalf("triggered above liquidation: %+v", report)
	}

	// Below it the position is force-closed at the quote.
	report := sweep(t, e, batch("ACME", "94", testTime))
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	trig := report.TriggeredPositions[0]
	if trig.Reason != CloseMarginCall {
		t.Fatalf("reason: got %s", trig.Reason)
	}
	assertDec(t, "trigger price", trig.Price, "94")
	assertDec(t, "realized pnl", trig.Position.RealizedPnL, "-8")
	assertCash(t, e, pf.ID, "9991")
}

func TestMarginCallOnTouch(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "financed", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.CFD,
		Quantity:    dec("1"),
		Price:       dec("100"),
		Leverage:    10,
	})

	report := sweep(t, e, batch("ACME", "95", testTime))
	if len(report.TriggeredPositions) != 1 || report.TriggeredPositions[0].Reason != CloseMarginCall {
		t.Fatalf("touch did not liquidate: %+v", report)
	}
}

func TestKnockoutBeatsStopLoss(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Knockout,
		Quantity:    dec("5"),
		Price:       dec("100"),
		Barrier:     dec("90"),
		StopLoss:    lvl("95"),
	})

	// The gap breaches both; the barrier wins and prices the close.
	report := sweep(t, e, batch("ACME", "85", testTime))
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	trig := report.TriggeredPositions[0]
	if trig.Reason != CloseKnockout {
		t.Fatalf("reason: got %s", trig.Reason)
	}
	assertDec(t, "trigger price", trig.Price, "90")
}

func TestMarginCallBeatsStopLoss(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "financed", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.CFD,
		Quantity:    dec("1"),
		Price:       dec("100"),
		Leverage:    10,
		StopLoss:    lvl("96"),
	})

	report := sweep(t, e, batch("ACME", "94", testTime))
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	if report.TriggeredPositions[0].Reason != CloseMarginCall {
		t.Fatalf("reason: got %s", report.TriggeredPositions[0].Reason)
	}
}

func TestSweepIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
		StopLoss:    lvl("95"),
	})

	quotes := batch("ACME", "90", testTime)
	if report := sweep(t, e, quotes); len(report.TriggeredPositions) != 1 {
		t.Fatalf("first sweep: %+v", report)
	}
	assertCash(t, e, pf.ID, "9885")

	// Replaying the same batch changes nothing.
	if report := sweep(t, e, quotes); !report.Empty() {
		t.Fatalf("second sweep not a no-op: %+v", report)
	}
	assertCash(t, e, pf.ID, "9885")
}

func TestSweepSkipsUnquotedSymbols(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("1"),
		Price:       dec("100"),
	})
	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ZETA",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("1"),
		Price:       dec("50"),
	})
	mustOrder(t, e, OrderRequest{
		PortfolioID: pf.ID,
		Symbol:      "QQQ",
		Side:        broker.Long,
		Product:     broker.Stock,
		Type:        OrderLimit,
		Quantity:    dec("1"),
		LimitPrice:  lvl("10"),
	})

	report := sweep(t, e, batch("ACME", "100", testTime))
	if !report.Empty() {
		t.Fatalf("unexpected effects: %+v", report)
	}
	if len(report.SkippedSymbols) != 2 || report.SkippedSymbols[0] != "QQQ" || report.SkippedSymbols[1] != "ZETA" {
		t.Fatalf("skipped symbols: %v", report.SkippedSymbols)
	}

	open, err := e.OpenPositions(context.Background(), pf.ID)
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open positions: got %d want 2", len(open))
	}
}

func TestSweepReleasesMarginBeforeFills(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "1010")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
		StopLoss:    lvl("95"),
	})
	assertCash(t, e, pf.ID, "5")

	// The fill only fits after the stop loss releases its margin in
	// the same sweep.
	mustOrder(t, e, OrderRequest{
		PortfolioID: pf.ID,
		Symbol:      "BETA",
		Side:        broker.Long,
		Product:     broker.Stock,
		Type:        OrderLimit,
		Quantity:    dec("9"),
		LimitPrice:  lvl("100"),
	})

	report := sweep(t, e, market.Batch{
		"ACME": {Symbol: "ACME", Price: dec("95"), Time: testTime},
		"BETA": {Symbol: "BETA", Price: dec("100"), Time: testTime},
	})
	if len(report.TriggeredPositions) != 1 {
		t.Fatalf("triggered: got %d want 1", len(report.TriggeredPositions))
	}
	if len(report.ExecutedOrders) != 1 || report.ExecutedOrders[0].Position == nil {
		t.Fatalf("expected one fill: %+v", report.ExecutedOrders)
	}
	// 5 + (1000 - 60) - 905
	assertCash(t, e, pf.ID, "40")
}

func TestSweepSpansPortfolios(t *testing.T) {
	e, _ := newTestEngine(t)
	first := newFundedPortfolio(t, e, "flat5", "10000")
	second := newFundedPortfolio(t, e, "flat5", "10000")

	for _, pf := range []Portfolio{first, second} {
		mustOpen(t, e, MarketOrder{
			PortfolioID: pf.ID,
			Symbol:      "ACME",
			Side:        broker.Long,
			Product:     broker.Stock,
			Quantity:    dec("10"),
			Price:       dec("100"),
			StopLoss:    lvl("95"),
		})
	}

	report := sweep(t, e, batch("ACME", "90", testTime))
	if len(report.TriggeredPositions) != 2 {
		t.Fatalf("triggered: got %d want 2", len(report.TriggeredPositions))
	}
	assertCash(t, e, first.ID, "9885")
	assertCash(t, e, second.ID, "9885")
}
