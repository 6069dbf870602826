package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"papertrader/margin"
	"papertrader/market"
)

// Metrics is the aggregate view of one portfolio valued against a
// quote batch. MarginLevel is nil while no margin is in use. Symbols
// of open positions missing from the batch are listed in
// MissingQuotes; those positions contribute no unrealized result.
type Metrics struct {
	PortfolioID    string          `json:"portfolioId"`
	Cash           decimal.Decimal `json:"cash"`
	InitialCapital decimal.Decimal `json:"initialCapital"`

	// Equity is cash plus reserved margin plus unrealized results.
	Equity     decimal.Decimal `json:"equity"`
	MarginUsed decimal.Decimal `json:"marginUsed"`
	FreeMargin decimal.Decimal `json:"freeMargin"`

	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	TotalFees     decimal.Decimal `json:"totalFees"`

	TotalTrades   int             `json:"totalTrades"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
	WinRate       decimal.Decimal `json:"winRate"`

	OpenPositions int `json:"openPositions"`
	PendingOrders int `json:"pendingOrders"`

	MarginLevel     *decimal.Decimal `json:"marginLevel,omitempty"`
	MarginWarning   bool             `json:"marginWarning"`
	LiquidationRisk bool             `json:"liquidationRisk"`

	MissingQuotes []string `json:"missingQuotes,omitempty"`
}

// FeeSummary breaks down every fee a portfolio paid since the last
// reset, across open and closed positions.
type FeeSummary struct {
	PortfolioID string          `json:"portfolioId"`
	Commission  decimal.Decimal `json:"commission"`
	Spread      decimal.Decimal `json:"spread"`
	Overnight   decimal.Decimal `json:"overnight"`
	Total       decimal.Decimal `json:"total"`
}

// Metrics values the portfolio against the supplied quotes.
func (e *Engine) Metrics(ctx context.Context, portfolioID string, quotes market.Batch) (Metrics, error) {
	_ = ctx

	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Metrics{}, err
	}

	pf.mu.RLock()
	defer pf.mu.RUnlock()

	m := Metrics{
		PortfolioID:    pf.meta.ID,
		Cash:           pf.meta.Cash,
		InitialCapital: pf.meta.InitialCapital,
	}

	missing := make(map[string]struct{})
	for _, pos := range pf.positions {
		m.TotalFees = m.TotalFees.Add(pos.TotalFeesPaid)

		if !pos.Open {
			m.TotalTrades++
			m.RealizedPnL = m.RealizedPnL.Add(pos.RealizedPnL)
			switch {
			case pos.RealizedPnL.IsPositive():
				m.WinningTrades++
			case pos.RealizedPnL.IsNegative():
				m.LosingTrades++
			}
			continue
		}

		m.OpenPositions++
		m.MarginUsed = m.MarginUsed.Add(pos.MarginUsed)
		if q, ok := quotes.Get(pos.Symbol); ok {
			m.UnrealizedPnL = m.UnrealizedPnL.Add(pos.UnrealizedPnL(q.Price))
		} else {
			missing[pos.Symbol] = struct{}{}
		}
	}

	for _, order := range pf.orders {
		if order.Status == StatusPending {
			m.PendingOrders++
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades))).
			Mul(hundred)
	}

	m.Equity = m.Cash.Add(m.MarginUsed).Add(m.UnrealizedPnL)
	m.FreeMargin = m.Equity.Sub(m.MarginUsed)
	if level, ok := margin.PortfolioLevel(m.Cash, m.UnrealizedPnL, m.MarginUsed); ok {
		m.MarginLevel = &level
		m.MarginWarning = level.LessThan(pf.profile.MarginWarningLevel)
		m.LiquidationRisk = level.LessThan(pf.profile.MarginCallLevel)
	}

	for sym := range missing {
		m.MissingQuotes = append(m.MissingQuotes, sym)
	}
	sort.Strings(m.MissingQuotes)

	return m, nil
}

// FeeSummary totals the fee components paid since the last reset.
func (e *Engine) FeeSummary(ctx context.Context, portfolioID string) (FeeSummary, error) {
	_ = ctx

	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return FeeSummary{}, err
	}

	pf.mu.RLock()
	defer pf.mu.RUnlock()

	s := FeeSummary{PortfolioID: pf.meta.ID}
	for _, pos := range pf.positions {
		s.Commission = s.Commission.Add(pos.EntryCommission).Add(pos.ExitCommission)
		s.Spread = s.Spread.Add(pos.EntrySpread)
		s.Overnight = s.Overnight.Add(pos.OvernightFees)
	}
	s.Total = s.Commission.Add(s.Spread).Add(s.Overnight)
	return s, nil
}
