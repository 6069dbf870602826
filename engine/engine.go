// Package engine is the paper-trading core: portfolio cash and margin
// bookkeeping, position lifecycle, pending-order matching and the
// trigger sweep that auto-closes positions on stop loss, take profit,
// knockout barrier breach or margin call.
//
// Every mutating operation on a portfolio runs under that portfolio's
// lock; quotes always arrive as explicit arguments fetched before any
// lock is taken. The in-memory ledger is the source of truth, the
// journal behind it is an audit sink.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"papertrader/broker"
	"papertrader/fees"
	"papertrader/journal"
	"papertrader/margin"
	"papertrader/market"
	"papertrader/pkg/id"
	"papertrader/pkg/logger"
)

const financingDayFormat = "2006-01-02"

type Engine struct {
	mu         sync.RWMutex
	portfolios map[string]*portfolio
	catalog    *broker.Catalog
	journal    journal.Journal
	log        *logrus.Logger
	now        func() time.Time
}

func New(catalog *broker.Catalog, j journal.Journal, log *logrus.Logger) *Engine {
	if catalog == nil {
		catalog = broker.DefaultCatalog()
	}
	if j == nil {
		j = journal.Nop{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		portfolios: make(map[string]*portfolio),
		catalog:    catalog,
		journal:    j,
		log:        log,
		now:        time.Now,
	}
}

// Catalog returns the broker catalog the engine validates orders
// against.
func (e *Engine) Catalog() *broker.Catalog { return e.catalog }

func (e *Engine) getPortfolio(portfolioID string) (*portfolio, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pf, ok := e.portfolios[portfolioID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPortfolioNotFound, portfolioID)
	}
	return pf, nil
}

// MarketOrder asks for an immediate fill at the supplied quote. The
// caller provides the price; the engine never reads ambient market
// state.
type MarketOrder struct {
	PortfolioID string             `json:"portfolioId"`
	Symbol      string             `json:"symbol"`
	Side        broker.Side        `json:"side"`
	Product     broker.ProductType `json:"product"`
	Quantity    decimal.Decimal    `json:"quantity"`
	Price       decimal.Decimal    `json:"price"`
	Leverage    int                `json:"leverage,omitempty"`
	Barrier     decimal.Decimal    `json:"barrier,omitempty"`
	StopLoss    *decimal.Decimal   `json:"stopLoss,omitempty"`
	TakeProfit  *decimal.Decimal   `json:"takeProfit,omitempty"`
	Time        time.Time          `json:"time,omitempty"`
}

// ExecuteMarketOrder opens a position at the request price, debiting
// margin plus entry fees. It fails without side effects when
// validation or the funds check rejects the request.
func (e *Engine) ExecuteMarketOrder(ctx context.Context, req MarketOrder) (Position, error) {
	_ = ctx

	pf, err := e.getPortfolio(req.PortfolioID)
	if err != nil {
		return Position{}, err
	}

	pf.mu.Lock()
	pos, err := e.openPositionLocked(pf, req, "")
	if err != nil {
		pf.mu.Unlock()
		return Position{}, fmt.Errorf("execute market order: %w", err)
	}
	snap := pos.snapshot()
	e.snapshotEquityLocked(pf, snap.OpenedAt, market.Batch{
		snap.Symbol: {Symbol: snap.Symbol, Price: snap.EntryPrice, Time: snap.OpenedAt},
	})
	pf.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"portfolio": req.PortfolioID,
		"position":  snap.ID,
		"symbol":    snap.Symbol,
		"side":      snap.Side,
		"product":   snap.Product,
		"quantity":  snap.Quantity,
		"price":     snap.EntryPrice,
	}).Info("position opened")

	return snap, nil
}

// ClosePosition closes an open position at the supplied exit price.
// A zero time means now.
func (e *Engine) ClosePosition(ctx context.Context, portfolioID, positionID string, exitPrice decimal.Decimal, at time.Time) (Position, error) {
	_ = ctx

	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Position{}, err
	}

	pf.mu.Lock()
	pos, ok := pf.positions[positionID]
	if !ok {
		pf.mu.Unlock()
		return Position{}, fmt.Errorf("close position: %w: %q", ErrPositionNotFound, positionID)
	}
	if !pos.Open {
		pf.mu.Unlock()
		return Position{}, fmt.Errorf("close position: %w: %q", ErrPositionAlreadyClosed, positionID)
	}

	if _, err := e.closePositionLocked(pf, pos, exitPrice, at, CloseManual, false); err != nil {
		pf.mu.Unlock()
		return Position{}, fmt.Errorf("close position: %w", err)
	}
	snap := pos.snapshot()
	e.snapshotEquityLocked(pf, snap.ClosedAt, market.Batch{
		snap.Symbol: {Symbol: snap.Symbol, Price: snap.ClosePrice, Time: snap.ClosedAt},
	})
	pf.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"portfolio": portfolioID,
		"position":  snap.ID,
		"symbol":    snap.Symbol,
		"price":     snap.ClosePrice,
		"pnl":       snap.RealizedPnL,
		"reason":    snap.CloseReason,
	}).Info("position closed")

	return snap, nil
}

// UpdatePositionLevels replaces a position's stop loss and take
// profit. Passing nil for a level clears it. Levels are validated
// against the entry price for the position side.
func (e *Engine) UpdatePositionLevels(ctx context.Context, portfolioID, positionID string, stopLoss, takeProfit *decimal.Decimal) (Position, error) {
	_ = ctx

	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return Position{}, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	pos, ok := pf.positions[positionID]
	if !ok {
		return Position{}, fmt.Errorf("update levels: %w: %q", ErrPositionNotFound, positionID)
	}
	if !pos.Open {
		return Position{}, fmt.Errorf("update levels: %w: %q", ErrPositionAlreadyClosed, positionID)
	}
	if err := validateLevels(pos.Side, pos.EntryPrice, stopLoss, takeProfit); err != nil {
		return Position{}, fmt.Errorf("update levels: %w", err)
	}

	pos.StopLoss = copyLevel(stopLoss)
	pos.TakeProfit = copyLevel(takeProfit)
	return pos.snapshot(), nil
}

// ApplyOvernightFees charges daily financing on every open CFD and
// factor position held across the UTC day boundary before asOf. The
// charge is keyed on (position, UTC day): calling again for the same
// day is a no-op. A zero asOf means now.
func (e *Engine) ApplyOvernightFees(ctx context.Context, portfolioID string, asOf time.Time) ([]Transaction, error) {
	_ = ctx

	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = e.now()
	}
	day := asOf.UTC().Format(financingDayFormat)

	pf.mu.Lock()
	var charged []Transaction
	for _, pos := range pf.sortedOpenLocked() {
		if pos.Product != broker.CFD && pos.Product != broker.Factor {
			continue
		}
		// Positions opened on or after the charge day have not
		// crossed the boundary yet.
		if pos.OpenedAt.UTC().Format(financingDayFormat) >= day {
			continue
		}
		if pos.LastFinancingDay >= day {
			continue
		}

		fee := RoundCash(fees.Overnight(pf.profile, pos.Side, pos.Notional()))
		pos.LastFinancingDay = day
		if fee.IsZero() {
			continue
		}

		// Financing may overdraw cash; the margin-call sweep deals
		// with the fallout.
		tx, err := pf.applyLocked(Transaction{
			Type:        TxOvernightFee,
			Symbol:      pos.Symbol,
			PositionID:  pos.ID,
			Quantity:    pos.Quantity,
			Price:       pos.EntryPrice,
			TotalFees:   fee,
			CashImpact:  fee.Neg(),
			ExecutedAt:  asOf,
			Description: fmt.Sprintf("overnight financing %s for %s %s", day, pos.Side, pos.Symbol),
		}, true)
		if err != nil {
			pf.mu.Unlock()
			return charged, fmt.Errorf("apply overnight fees: %w", err)
		}
		pos.OvernightFees = pos.OvernightFees.Add(fee)
		pos.TotalFeesPaid = pos.TotalFeesPaid.Add(fee)
		e.recordTransaction(tx)
		charged = append(charged, tx)
	}
	if len(charged) > 0 {
		e.snapshotEquityLocked(pf, asOf, nil)
	}
	pf.mu.Unlock()

	if len(charged) > 0 {
		e.log.WithFields(logrus.Fields{
			"portfolio": portfolioID,
			"day":       day,
			"positions": len(charged),
		}).Info("overnight financing applied")
	}
	return charged, nil
}

// openPositionLocked validates the request, charges margin plus entry
// fees and puts the position on the book. Called with pf.mu held.
// openPositionLocked validates and executes one fill. orderID links
// the entry transaction back to the pending order that produced it;
// direct market orders pass "".
func (e *Engine) openPositionLocked(pf *portfolio, req MarketOrder, orderID string) (*Position, error) {
	at := req.Time
	if at.IsZero() {
		at = e.now()
	}

	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, req.Side)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, req.Quantity)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, req.Price)
	}

	product, err := e.catalog.Product(req.Product)
	if err != nil {
		return nil, err
	}
	if req.Side == broker.Short && !product.CanShort {
		return nil, fmt.Errorf("%w: %s", ErrShortingNotAllowed, req.Product)
	}

	lev := req.Leverage
	if lev == 0 {
		lev = 1
	}
	if lev < 1 {
		return nil, fmt.Errorf("%w: leverage %d", ErrInvalidOrder, req.Leverage)
	}

	barrier := decimal.Zero
	switch req.Product {
	case broker.Stock:
		if lev != 1 {
			return nil, fmt.Errorf("%w: stock cannot be leveraged", ErrLeverageExceedsMax)
		}
	case broker.Knockout:
		barrier = req.Barrier
		if !barrier.IsPositive() {
			return nil, fmt.Errorf("%w: barrier required for knockout", ErrInvalidBarrier)
		}
		if req.Side == broker.Long && barrier.GreaterThanOrEqual(req.Price) {
			return nil, fmt.Errorf("%w: long barrier %s must be below price %s", ErrInvalidBarrier, barrier, req.Price)
		}
		if req.Side == broker.Short && barrier.LessThanOrEqual(req.Price) {
			return nil, fmt.Errorf("%w: short barrier %s must be above price %s", ErrInvalidBarrier, barrier, req.Price)
		}
		gearing := margin.EffectiveLeverage(req.Price, barrier)
		if gearing.GreaterThan(decimal.NewFromInt(int64(product.MaxLeverage))) {
			return nil, fmt.Errorf("%w: effective gearing %s above %d", ErrLeverageExceedsMax, gearing.Round(2), product.MaxLeverage)
		}
		lev = int(gearing.Floor().IntPart())
		if lev < 1 {
			lev = 1
		}
	default:
		if lev > product.MaxLeverage {
			return nil, fmt.Errorf("%w: %d > %d for %s", ErrLeverageExceedsMax, lev, product.MaxLeverage, req.Product)
		}
	}

	if err := validateLevels(req.Side, req.Price, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}

	notional := req.Price.Mul(req.Quantity)
	calc := fees.Entry(pf.profile, req.Product, notional)
	commission := RoundCash(calc.Commission)
	spread := RoundCash(calc.SpreadCost)
	entryFees := commission.Add(spread)
	marginUsed := RoundCash(margin.Required(req.Product, req.Price, req.Quantity, lev, barrier))
	debit := marginUsed.Add(entryFees)

	if pf.meta.Cash.LessThan(debit) {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, debit, pf.meta.Cash)
	}

	liq := decimal.Zero
	switch {
	case req.Product == broker.Knockout:
		liq = barrier
	case lev > 1:
		liq = margin.LiquidationPrice(req.Side, req.Price, lev, pf.profile.MaintenanceMarginFraction)
	}

	pos := &Position{
		ID:               id.New(),
		PortfolioID:      pf.meta.ID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		Product:          req.Product,
		Quantity:         req.Quantity,
		EntryPrice:       req.Price,
		Leverage:         lev,
		Barrier:          barrier,
		StopLoss:         copyLevel(req.StopLoss),
		TakeProfit:       copyLevel(req.TakeProfit),
		LiquidationPrice: liq,
		MarginUsed:       marginUsed,
		EntryCommission:  commission,
		EntrySpread:      spread,
		TotalFeesPaid:    entryFees,
		OpenedAt:         at,
		Open:             true,
	}

	txType := TxBuy
	if req.Side == broker.Short {
		txType = TxSell
	}
	tx, err := pf.applyLocked(Transaction{
		Type:        txType,
		Symbol:      req.Symbol,
		PositionID:  pos.ID,
		OrderID:     orderID,
		Quantity:    req.Quantity,
		Price:       req.Price,
		TotalFees:   entryFees,
		CashImpact:  debit.Neg(),
		ExecutedAt:  at,
		Description: fmt.Sprintf("open %s %s %s @ %s", req.Side, req.Quantity, req.Symbol, req.Price),
	}, false)
	if err != nil {
		return nil, err
	}

	pf.positions[pos.ID] = pos
	e.recordTransaction(tx)
	return pos, nil
}

// closePositionLocked realizes a position at exitPrice, releases its
// margin and appends the close transaction. The realized result is
// the gross move net of every fee the position paid plus the exit
// commission; the cash credit is margin plus that result. waiveFees
// suppresses the exit commission (reset without a quote); knockout
// closes never pay one. Called with pf.mu held; pos must be open.
func (e *Engine) closePositionLocked(pf *portfolio, pos *Position, exitPrice decimal.Decimal, at time.Time, reason CloseReason, waiveFees bool) (Transaction, error) {
	if !pos.Open {
		return Transaction{}, fmt.Errorf("%w: %q", ErrPositionAlreadyClosed, pos.ID)
	}
	if !exitPrice.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: exit %s", ErrInvalidPrice, exitPrice)
	}
	if at.IsZero() {
		at = e.now()
	}

	exitFee := decimal.Zero
	if !waiveFees && reason != CloseKnockout {
		exitFee = RoundCash(fees.Exit(pf.profile, exitPrice.Mul(pos.Quantity)).Commission)
	}

	gross := pos.UnrealizedPnL(exitPrice)
	realized := RoundCash(gross).Sub(pos.TotalFeesPaid).Sub(exitFee)
	credit := pos.MarginUsed.Add(realized)

	// Gap losses may overdraw the released margin; the close still
	// commits and the deficit is logged below.
	tx, err := pf.applyLocked(Transaction{
		Type:        TxClose,
		Symbol:      pos.Symbol,
		PositionID:  pos.ID,
		Quantity:    pos.Quantity,
		Price:       exitPrice,
		TotalFees:   exitFee,
		CashImpact:  credit,
		ExecutedAt:  at,
		Description: fmt.Sprintf("close %s %s %s @ %s (%s)", pos.Side, pos.Quantity, pos.Symbol, exitPrice, reason),
	}, true)
	if err != nil {
		return Transaction{}, err
	}

	pos.ExitCommission = exitFee
	pos.TotalFeesPaid = pos.TotalFeesPaid.Add(exitFee)
	pos.ClosePrice = exitPrice
	pos.ClosedAt = at
	pos.RealizedPnL = realized
	pos.CloseReason = reason
	pos.Open = false

	if pf.meta.Cash.IsNegative() {
		e.log.WithFields(logrus.Fields{
			"portfolio": pf.meta.ID,
			"position":  pos.ID,
			"cash":      pf.meta.Cash,
			"reason":    reason,
		}).Error("margin deficit: close left cash negative")
	}

	e.recordTransaction(tx)
	e.recordClosedPosition(pos)
	return tx, nil
}

func copyLevel(level *decimal.Decimal) *decimal.Decimal {
	if level == nil {
		return nil
	}
	v := *level
	return &v
}

// equityLocked values the portfolio with the given quotes. Open
// positions without a quote contribute their margin at entry value
// and no unrealized result.
func (pf *portfolio) equityLocked(quotes market.Batch) (equity, marginUsed, unrealized decimal.Decimal, level *decimal.Decimal) {
	for _, pos := range pf.positions {
		if !pos.Open {
			continue
		}
		marginUsed = marginUsed.Add(pos.MarginUsed)
		if q, ok := quotes.Get(pos.Symbol); ok {
			unrealized = unrealized.Add(pos.UnrealizedPnL(q.Price))
		}
	}
	equity = pf.meta.Cash.Add(marginUsed).Add(unrealized)
	if lvl, ok := margin.PortfolioLevel(pf.meta.Cash, unrealized, marginUsed); ok {
		level = &lvl
	}
	return equity, marginUsed, unrealized, level
}

func (e *Engine) snapshotEquityLocked(pf *portfolio, at time.Time, quotes market.Batch) {
	equity, marginUsed, _, level := pf.equityLocked(quotes)
	err := e.journal.RecordEquity(journal.EquitySnapshot{
		PortfolioID: pf.meta.ID,
		Time:        at,
		Cash:        pf.meta.Cash,
		Equity:      equity,
		MarginUsed:  marginUsed,
		FreeMargin:  equity.Sub(marginUsed),
		MarginLevel: level,
	})
	if err != nil {
		e.log.WithError(err).WithField("portfolio", pf.meta.ID).Error("journal equity write failed")
	}
}

func (e *Engine) recordTransaction(t Transaction) {
	err := e.journal.RecordTransaction(journal.Transaction{
		ID:          t.ID,
		PortfolioID: t.PortfolioID,
		Type:        string(t.Type),
		Symbol:      t.Symbol,
		PositionID:  t.PositionID,
		OrderID:     t.OrderID,
		Quantity:    t.Quantity,
		Price:       t.Price,
		TotalFees:   t.TotalFees,
		CashImpact:  t.CashImpact,
		Balance:     t.Balance,
		ExecutedAt:  t.ExecutedAt,
		Description: t.Description,
	})
	if err != nil {
		e.log.WithError(err).WithField("tx", t.ID).Error("journal transaction write failed")
	}
}

func (e *Engine) recordClosedPosition(p *Position) {
	err := e.journal.RecordPosition(journal.PositionRecord{
		PositionID:  p.ID,
		PortfolioID: p.PortfolioID,
		Symbol:      p.Symbol,
		Side:        string(p.Side),
		Product:     string(p.Product),
		Quantity:    p.Quantity,
		Leverage:    p.Leverage,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ClosePrice,
		MarginUsed:  p.MarginUsed,
		TotalFees:   p.TotalFeesPaid,
		RealizedPnL: p.RealizedPnL,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
		Reason:      string(p.CloseReason),
	})
	if err != nil {
		e.log.WithError(err).WithField("position", p.ID).Error("journal position write failed")
	}
}
