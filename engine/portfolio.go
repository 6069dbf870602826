package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"papertrader/broker"
	"papertrader/market"
	"papertrader/pkg/id"
)

var hundred = decimal.NewFromInt(100)

// RoundCash rounds a money amount to cash precision, half to even.
// Every amount applied to a portfolio's cash goes through here, which
// keeps balances at two decimal places with no drift.
func RoundCash(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

type TransactionType string

const (
	TxBuy           TransactionType = "buy"
	TxSell          TransactionType = "sell"
	TxClose         TransactionType = "close"
	TxOvernightFee  TransactionType = "overnight_fee"
	TxReset         TransactionType = "reset"
	TxCapitalChange TransactionType = "capital_change"
)

// Transaction is one append-only ledger entry. CashImpact is the
// signed cash delta, Balance the cash after applying it.
type Transaction struct {
	ID          string          `json:"id"`
	PortfolioID string          `json:"portfolioId"`
	Type        TransactionType `json:"type"`
	Symbol      string          `json:"symbol,omitempty"`
	PositionID  string          `json:"positionId,omitempty"`
	OrderID     string          `json:"orderId,omitempty"`
	Quantity    decimal.Decimal `json:"quantity,omitempty"`
	Price       decimal.Decimal `json:"price,omitempty"`
	TotalFees   decimal.Decimal `json:"totalFees"`
	CashImpact  decimal.Decimal `json:"cashImpact"`
	Balance     decimal.Decimal `json:"balance"`
	ExecutedAt  time.Time       `json:"executedAt"`
	Description string          `json:"description,omitempty"`
}

// Portfolio is the exported account record. Cash excludes margin
// reserved by open positions.
type Portfolio struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId,omitempty"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	BrokerProfile  string          `json:"brokerProfile"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	Cash           decimal.Decimal `json:"cash"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// portfolio is the aggregate behind the record: the mutable book plus
// its lock. All fields are guarded by mu.
type portfolio struct {
	mu        sync.RWMutex
	meta      Portfolio
	profile   broker.Profile
	positions map[string]*Position
	orders    map[string]*PendingOrder
	txs       []Transaction
}

// applyLocked moves cash and appends the ledger entry, filling in ID,
// portfolio and running balance. With allowNegative false a negative
// result aborts as an invariant violation; debits that may legally
// overdraw (gap closes, financing) pass true.
func (pf *portfolio) applyLocked(tx Transaction, allowNegative bool) (Transaction, error) {
	next := pf.meta.Cash.Add(tx.CashImpact)
	if next.IsNegative() && !allowNegative {
		return Transaction{}, fmt.Errorf("%w: %s of %s would leave cash at %s",
			ErrInvariantViolation, tx.Type, tx.CashImpact, next)
	}
	pf.meta.Cash = next
	tx.ID = id.New()
	tx.PortfolioID = pf.meta.ID
	tx.Balance = next
	pf.txs = append(pf.txs, tx)
	return tx, nil
}

// sortedOpenLocked returns open positions oldest first. IDs are
// ULIDs, so lexicographic order is creation order.
func (pf *portfolio) sortedOpenLocked() []*Position {
	out := make([]*Position, 0, len(pf.positions))
	for _, pos := range pf.positions {
		if pos.Open {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type CreatePortfolioRequest struct {
	OwnerID        string          `json:"ownerId,omitempty"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency,omitempty"`
	BrokerProfile  string          `json:"brokerProfile,omitempty"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
}

// CreatePortfolio registers a new portfolio funded with the given
// initial capital.
func (e *Engine) CreatePortfolio(ctx context.Context, req CreatePortfolioRequest) (Portfolio, error) {
	_ = ctx

	if !req.InitialCapital.IsPositive() {
		return Portfolio{}, fmt.Errorf("create portfolio: %w: initial capital %s", ErrInvalidAmount, req.InitialCapital)
	}
	profileID := req.BrokerProfile
	if profileID == "" {
		profileID = broker.DefaultProfileID
	}
	profile, err := e.catalog.Profile(profileID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("create portfolio: %w", err)
	}
	currency := req.Currency
	if currency == "" {
		currency = "EUR"
	}

	pf := &portfolio{
		meta: Portfolio{
			ID:             uuid.NewString(),
			OwnerID:        req.OwnerID,
			Name:           req.Name,
			Currency:       currency,
			BrokerProfile:  profileID,
			InitialCapital: req.InitialCapital,
			Cash:           req.InitialCapital,
			CreatedAt:      e.now(),
		},
		profile:   profile,
		positions: make(map[string]*Position),
		orders:    make(map[string]*PendingOrder),
	}

	e.mu.Lock()
	e.portfolios[pf.meta.ID] = pf
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"portfolio": pf.meta.ID,
		"name":      pf.meta.Name,
		"profile":   profileID,
		"capital":   req.InitialCapital,
	}).Info("portfolio created")

	return pf.meta, nil
}

// Portfolio returns the account record.
func (e *Engine) Portfolio(ctx context.Context, portfolioID string) (Portfolio, error) {
	_ = ctx
	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Portfolio{}, err
	}
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.meta, nil
}

// Portfolios lists all accounts, oldest first.
func (e *Engine) Portfolios(ctx context.Context) []Portfolio {
	_ = ctx
	e.mu.RLock()
	all := make([]*portfolio, 0, len(e.portfolios))
	for _, pf := range e.portfolios {
		all = append(all, pf)
	}
	e.mu.RUnlock()

	out := make([]Portfolio, 0, len(all))
	for _, pf := range all {
		pf.mu.RLock()
		out = append(out, pf.meta)
		pf.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PortfolioUpdate changes account settings. Nil fields are left
// untouched. Switching broker profile applies to future executions;
// open positions keep the margins and liquidation prices they were
// opened with.
type PortfolioUpdate struct {
	Name          *string `json:"name,omitempty"`
	BrokerProfile *string `json:"brokerProfile,omitempty"`
}

func (e *Engine) UpdatePortfolioSettings(ctx context.Context, portfolioID string, update PortfolioUpdate) (Portfolio, error) {
	_ = ctx

	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Portfolio{}, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if update.BrokerProfile != nil {
		profile, err := e.catalog.Profile(*update.BrokerProfile)
		if err != nil {
			return Portfolio{}, fmt.Errorf("update settings: %w", err)
		}
		pf.profile = profile
		pf.meta.BrokerProfile = *update.BrokerProfile
	}
	if update.Name != nil {
		pf.meta.Name = *update.Name
	}
	return pf.meta, nil
}

// ResetPortfolio closes all open positions at their last-known quote
// (at entry with fees waived when no quote is supplied), wipes
// positions, pending orders and the transaction log, and restores
// cash to the initial capital. The closes are journaled before the
// wipe; the in-memory log afterwards holds the single reset entry.
func (e *Engine) ResetPortfolio(ctx context.Context, portfolioID string, quotes market.Batch) (Portfolio, error) {
	_ = ctx
	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Portfolio{}, err
	}
	return e.resetPortfolio(pf, quotes, pf.capital(), TxReset)
}

// SetInitialCapital is a reset with a new funding amount.
func (e *Engine) SetInitialCapital(ctx context.Context, portfolioID string, amount decimal.Decimal, quotes market.Batch) (Portfolio, error) {
	_ = ctx
	if !amount.IsPositive() {
		return Portfolio{}, fmt.Errorf("set initial capital: %w: %s", ErrInvalidAmount, amount)
	}
	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Portfolio{}, err
	}
	return e.resetPortfolio(pf, quotes, amount, TxCapitalChange)
}

func (pf *portfolio) capital() decimal.Decimal {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.meta.InitialCapital
}

func (e *Engine) resetPortfolio(pf *portfolio, quotes market.Batch, capital decimal.Decimal, txType TransactionType) (Portfolio, error) {
	at := e.now()

	pf.mu.Lock()
	closed := 0
	for _, pos := range pf.sortedOpenLocked() {
		price := pos.EntryPrice
		waive := true
		if q, ok := quotes.Get(pos.Symbol); ok {
			price = q.Price
			waive = false
		}
		if _, err := e.closePositionLocked(pf, pos, price, at, CloseReset, waive); err != nil {
			pf.mu.Unlock()
			return Portfolio{}, fmt.Errorf("reset portfolio: %w", err)
		}
		closed++
	}

	pf.positions = make(map[string]*Position)
	pf.orders = make(map[string]*PendingOrder)
	pf.txs = nil
	pf.meta.InitialCapital = capital

	tx, err := pf.applyLocked(Transaction{
		Type:        txType,
		CashImpact:  capital.Sub(pf.meta.Cash),
		ExecutedAt:  at,
		Description: fmt.Sprintf("portfolio reset, capital %s", capital),
	}, true)
	if err != nil {
		pf.mu.Unlock()
		return Portfolio{}, fmt.Errorf("reset portfolio: %w", err)
	}
	e.recordTransaction(tx)
	e.snapshotEquityLocked(pf, at, quotes)
	meta := pf.meta
	pf.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"portfolio": meta.ID,
		"closed":    closed,
		"capital":   capital,
	}).Info("portfolio reset")

	return meta, nil
}

// OpenPositions lists a portfolio's open positions, oldest first.
func (e *Engine) OpenPositions(ctx context.Context, portfolioID string) ([]Position, error) {
	return e.listPositions(ctx, portfolioID, true)
}

// AllPositions lists open and closed positions, oldest first. Closed
// positions survive until the next reset.
func (e *Engine) AllPositions(ctx context.Context, portfolioID string) ([]Position, error) {
	return e.listPositions(ctx, portfolioID, false)
}

func (e *Engine) listPositions(ctx context.Context, portfolioID string, openOnly bool) ([]Position, error) {
	_ = ctx
	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	pf.mu.RLock()
	out := make([]Position, 0, len(pf.positions))
	for _, pos := range pf.positions {
		if openOnly && !pos.Open {
			continue
		}
		out = append(out, pos.snapshot())
	}
	pf.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Position returns a single position snapshot.
func (e *Engine) Position(ctx context.Context, portfolioID, positionID string) (Position, error) {
	_ = ctx
	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Position{}, err
	}

	pf.mu.RLock()
	defer pf.mu.RUnlock()
	pos, ok := pf.positions[positionID]
	if !ok {
		return Position{}, fmt.Errorf("%w: %q", ErrPositionNotFound, positionID)
	}
	return pos.snapshot(), nil
}

// TransactionHistory returns the ledger entries since the last reset,
// oldest first.
func (e *Engine) TransactionHistory(ctx context.Context, portfolioID string) ([]Transaction, error) {
	_ = ctx
	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	pf.mu.RLock()
	defer pf.mu.RUnlock()
	out := make([]Transaction, len(pf.txs))
	copy(out, pf.txs)
	return out, nil
}
