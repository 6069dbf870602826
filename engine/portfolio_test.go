package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/broker"
)

func TestResetClosesAtQuotes(t *testing.T) {
	e, j := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
	})
	mustOrder(t, e, OrderRequest{
		PortfolioID: pf.ID,
		Symbol:      "BETA",
		Side:        broker.Long,
		Product:     broker.Stock,
		Type:        OrderLimit,
		Quantity:    dec("1"),
		LimitPrice:  lvl("50"),
	})

	meta, err := e.ResetPortfolio(context.Background(), pf.ID, batch("ACME", "110", testTime))
	if err != nil {
		t.Fatalf("reset portfolio: %v", err)
	}
	assertDec(t, "cash", meta.Cash, "10000")
	assertDec(t, "initial capital", meta.InitialCapital, "10000")

	positions, err := e.AllPositions(context.Background(), pf.ID)
	if err != nil {
		t.Fatalf("all positions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("positions after reset: got %d", len(positions))
	}
	orders, err := e.AllOrders(context.Background(), pf.ID)
	if err != nil {
		t.Fatalf("all orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("orders after reset: got %d", len(orders))
	}

	// The in-memory log shrinks to the single reset entry; its impact
	// is whatever undoes the session result.
	txs, err := e.TransactionHistory(context.Background(), pf.ID)
	if err != nil {
		t.Fatalf("transaction history: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != TxReset {
		t.Fatalf("ledger after reset: %+v", txs)
	}
	assertDec(t, "reset impact", txs[0].CashImpact, "-85")
	assertDec(t, "reset balance", txs[0].Balance, "10000")

	// The audit trail keeps everything: the open, the forced close
	// and the reset itself, plus the closed position record.
	if len(j.txs) != 3 {
		t.Fatalf("journaled transactions: got %d want 3", len(j.txs))
	}
	if len(j.positions) != 1 {
		t.Fatalf("journaled positions: got %d want 1", len(j.positions))
	}
	rec := j.positions[0]
	if rec.Reason != string(CloseReset) {
		t.Fatalf("close reason: got %s", rec.Reason)
	}
	if !rec.ExitPrice.Equal(dec("110")) || !rec.RealizedPnL.Equal(dec("90")) {
		t.Fatalf("journaled close: exit %s pnl %s", rec.ExitPrice, rec.RealizedPnL)
	}
}

func TestResetWithoutQuoteWaivesExitFee(t *testing.T) {
	e, j := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
	})

	meta, err := e.ResetPortfolio(context.Background(), pf.ID, nil)
	if err != nil {
		t.Fatalf("reset portfolio: %v", err)
	}
	assertDec(t, "cash", meta.Cash, "10000")

	// Closed at entry, exit fee waived: only the entry commission
	// stuck to the position.
	rec := j.positions[0]
	if !rec.ExitPrice.Equal(dec("100")) {
		t.Fatalf("exit price: got %s", rec.ExitPrice)
	}
	assertDec(t, "journaled fees", rec.TotalFees, "5")
	assertDec(t, "journaled pnl", rec.RealizedPnL, "-5")
}

func TestSetInitialCapital(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
	})

	meta, err := e.SetInitialCapital(context.Background(), pf.ID, dec("5000"), nil)
	if err != nil {
		t.Fatalf("set initial capital: %v", err)
	}
	assertDec(t, "cash", meta.Cash, "5000")
	assertDec(t, "initial capital", meta.InitialCapital, "5000")

	txs, err := e.TransactionHistory(context.Background(), pf.ID)
	if err != nil {
		t.Fatalf("transaction history: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != TxCapitalChange {
		t.Fatalf("ledger after capital change: %+v", txs)
	}

	_, err = e.SetInitialCapital(context.Background(), pf.ID, decimal.Zero, nil)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("got %v want %v", err, ErrInvalidAmount)
	}
}

func TestUpdatePortfolioSettings(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	pos := mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
	})

	name := "renamed"
	profile := "financed"
	meta, err := e.UpdatePortfolioSettings(context.Background(), pf.ID, PortfolioUpdate{
		Name:          &name,
		BrokerProfile: &profile,
	})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if meta.Name != "renamed" || meta.BrokerProfile != "financed" {
		t.Fatalf("settings not applied: %+v", meta)
	}

	// The open position keeps what it was opened with; only future
	// executions price against the new profile.
	kept, err := e.Position(context.Background(), pf.ID, pos.ID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	assertDec(t, "margin", kept.MarginUsed, "1000")
	assertDec(t, "entry fees", kept.TotalFeesPaid, "5")

	closed, err := e.ClosePosition(context.Background(), pf.ID, pos.ID, dec("110"), testTime)
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	// Exit commission now 1 instead of 5: 100 - 5 - 1.
	assertDec(t, "realized pnl", closed.RealizedPnL, "94")
	assertCash(t, e, pf.ID, "10089")

	unknown := "nope"
	_, err = e.UpdatePortfolioSettings(context.Background(), pf.ID, PortfolioUpdate{BrokerProfile: &unknown})
	if !errors.Is(err, broker.ErrUnknownProfile) {
		t.Fatalf("got %v want %v", err, broker.ErrUnknownProfile)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "flat5", "10000")

	pos := mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.Stock,
		Quantity:    dec("10"),
		Price:       dec("100"),
		StopLoss:    lvl("95"),
	})

	// Scribbling on a snapshot must not reach the book.
	*pos.StopLoss = dec("1")
	fresh, err := e.Position(context.Background(), pf.ID, pos.ID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if fresh.StopLoss == nil || !fresh.StopLoss.Equal(dec("95")) {
		t.Fatalf("stop loss leaked through snapshot: %v", fresh.StopLoss)
	}
}

func TestTransactionBalancesChain(t *testing.T) {
	e, _ := newTestEngine(t)
	pf := newFundedPortfolio(t, e, "financed", "10000")

	opened := time.Date(2024, 2, 28, 15, 0, 0, 0, time.UTC)
	pos := mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "ACME",
		Side:        broker.Long,
		Product:     broker.CFD,
		Quantity:    dec("10"),
		Price:       dec("100"),
		Leverage:    5,
		Time:        opened,
	})
	if _, err := e.ApplyOvernightFees(context.Background(), pf.ID, testTime); err != nil {
		t.Fatalf("apply overnight fees: %v", err)
	}
	mustOpen(t, e, MarketOrder{
		PortfolioID: pf.ID,
		Symbol:      "BETA",
		Side:        broker.Short,
		Product:     broker.CFD,
		Quantity:    dec("5"),
		Price:       dec("40"),
		Leverage:    4,
	})
	if _, err := e.ClosePosition(context.Background(), pf.ID, pos.ID, dec("103"), testTime); err != nil {
		t.Fatalf("close position: %v", err)
	}

	txs, err := e.TransactionHistory(context.Background(), pf.ID)
	if err != nil {
		t.Fatalf("transaction history: %v", err)
	}
	if len(txs) != 4 {
		t.Fatalf("transactions: got %d want 4", len(txs))
	}
	wantTypes := []TransactionType{TxBuy, TxOvernightFee, TxSell, TxClose}
	running := dec("10000")
	for i, tx := range txs {
		if tx.Type != wantTypes[i] {
			t.Fatalf("tx %d type: got %s want %s", i, tx.Type, wantTypes[i])
		}
		running = running.Add(tx.CashImpact)
		if !tx.Balance.Equal(running) {
			t.Fatalf("tx %d balance: got %s want %s", i, tx.Balance, running)
		}
	}
	assertCash(t, e, pf.ID, running.String())
}

func TestPortfoliosListedOldestFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	clock := testTime
	e.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first := newFundedPortfolio(t, e, "flat5", "1000")
	second := newFundedPortfolio(t, e, "flat5", "2000")
	third := newFundedPortfolio(t, e, "flat5", "3000")

	all := e.Portfolios(context.Background())
	if len(all) != 3 {
		t.Fatalf("portfolios: got %d want 3", len(all))
	}
	for i, want := range []Portfolio{first, second, third} {
		if all[i].ID != want.ID {
			t.Fatalf("portfolio %d: got %s want %s", i, all[i].ID, want.ID)
		}
	}
}
