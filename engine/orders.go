package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"papertrader/broker"
	"papertrader/market"
	"papertrader/pkg/id"
)

type OrderType string

const (
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// PendingOrder waits on the book until a quote satisfies its firing
// condition, then opens a position at that quote. Exactly one
// terminal transition: filled or cancelled.
type PendingOrder struct {
	ID          string             `json:"id"`
	PortfolioID string             `json:"portfolioId"`
	Symbol      string             `json:"symbol"`
	Side        broker.Side        `json:"side"`
	Product     broker.ProductType `json:"product"`
	Type        OrderType          `json:"type"`
	Quantity    decimal.Decimal    `json:"quantity"`
	Leverage    int                `json:"leverage,omitempty"`
	Barrier     decimal.Decimal    `json:"barrier,omitempty"`

	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice  *decimal.Decimal `json:"stopPrice,omitempty"`

	// StopLoss and TakeProfit are carried onto the position when the
	// order fills.
	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`

	// Armed marks a stop_limit whose stop leg has triggered; from
	// then on only the limit leg is evaluated.
	Armed bool `json:"armed,omitempty"`

	Status       OrderStatus `json:"status"`
	CancelReason string      `json:"cancelReason,omitempty"`

	// PositionID links to the position a fill created.
	PositionID string `json:"positionId,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	FilledAt    time.Time `json:"filledAt,omitempty"`
	CancelledAt time.Time `json:"cancelledAt,omitempty"`
}

func (o *PendingOrder) snapshot() PendingOrder {
	out := *o
	out.LimitPrice = copyLevel(o.LimitPrice)
	out.StopPrice = copyLevel(o.StopPrice)
	out.StopLoss = copyLevel(o.StopLoss)
	out.TakeProfit = copyLevel(o.TakeProfit)
	return out
}

func fireLimit(side broker.Side, limit, quote decimal.Decimal) bool {
	if side == broker.Long {
		return quote.LessThanOrEqual(limit)
	}
	return quote.GreaterThanOrEqual(limit)
}

func fireStop(side broker.Side, stop, quote decimal.Decimal) bool {
	if side == broker.Long {
		return quote.GreaterThanOrEqual(stop)
	}
	return quote.LessThanOrEqual(stop)
}

// evaluate advances the order against one quote and reports whether
// it fires now. The firing table:
//
//	limit  long   quote <= limit
//	limit  short  quote >= limit
//	stop   long   quote >= stop
//	stop   short  quote <= stop
//
// A stop_limit arms at its stop condition, then evaluates the limit
// leg from the same tick onward. Fired orders fill at the quote.
func (o *PendingOrder) evaluate(quote decimal.Decimal) bool {
	switch o.Type {
	case OrderLimit:
		return fireLimit(o.Side, *o.LimitPrice, quote)
	case OrderStop:
		return fireStop(o.Side, *o.StopPrice, quote)
	case OrderStopLimit:
		if !o.Armed && fireStop(o.Side, *o.StopPrice, quote) {
			o.Armed = true
		}
		return o.Armed && fireLimit(o.Side, *o.LimitPrice, quote)
	}
	return false
}

type OrderRequest struct {
	PortfolioID string             `json:"portfolioId"`
	Symbol      string             `json:"symbol"`
	Side        broker.Side        `json:"side"`
	Product     broker.ProductType `json:"product"`
	Type        OrderType          `json:"type"`
	Quantity    decimal.Decimal    `json:"quantity"`
	Leverage    int                `json:"leverage,omitempty"`
	Barrier     decimal.Decimal    `json:"barrier,omitempty"`
	LimitPrice  *decimal.Decimal   `json:"limitPrice,omitempty"`
	StopPrice   *decimal.Decimal   `json:"stopPrice,omitempty"`
	StopLoss    *decimal.Decimal   `json:"stopLoss,omitempty"`
	TakeProfit  *decimal.Decimal   `json:"takeProfit,omitempty"`
}

// validateOrderRequest checks the per-variant required price fields
// and the static product rules. Price-dependent checks (barrier side,
// gearing, funds) run at fill time against the fill quote.
func (e *Engine) validateOrderRequest(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, req.Side)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, req.Quantity)
	}

	product, err := e.catalog.Product(req.Product)
	if err != nil {
		return err
	}
	if req.Side == broker.Short && !product.CanShort {
		return fmt.Errorf("%w: %s", ErrShortingNotAllowed, req.Product)
	}
	lev := req.Leverage
	if lev == 0 {
		lev = 1
	}
	switch {
	case lev < 1:
		return fmt.Errorf("%w: leverage %d", ErrInvalidOrder, req.Leverage)
	case req.Product == broker.Stock && lev != 1:
		return fmt.Errorf("%w: stock cannot be leveraged", ErrLeverageExceedsMax)
	case req.Product != broker.Knockout && lev > product.MaxLeverage:
		return fmt.Errorf("%w: %d > %d for %s", ErrLeverageExceedsMax, lev, product.MaxLeverage, req.Product)
	}
	if req.Product == broker.Knockout && !req.Barrier.IsPositive() {
		return fmt.Errorf("%w: barrier required for knockout", ErrInvalidBarrier)
	}

	requirePrice := func(name string, p *decimal.Decimal) error {
		if p == nil {
			return fmt.Errorf("%w: %s order requires %s", ErrInvalidOrder, req.Type, name)
		}
		if !p.IsPositive() {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidOrder, name)
		}
		return nil
	}
	forbidPrice := func(name string, p *decimal.Decimal) error {
		if p != nil {
			return fmt.Errorf("%w: %s order does not take %s", ErrInvalidOrder, req.Type, name)
		}
		return nil
	}

	switch req.Type {
	case OrderLimit:
		if err := requirePrice("limitPrice", req.LimitPrice); err != nil {
			return err
		}
		return forbidPrice("stopPrice", req.StopPrice)
	case OrderStop:
		if err := requirePrice("stopPrice", req.StopPrice); err != nil {
			return err
		}
		return forbidPrice("limitPrice", req.LimitPrice)
	case OrderStopLimit:
		if err := requirePrice("stopPrice", req.StopPrice); err != nil {
			return err
		}
		return requirePrice("limitPrice", req.LimitPrice)
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, req.Type)
	}
}

// CreatePendingOrder puts a validated order on the book as pending.
func (e *Engine) CreatePendingOrder(ctx context.Context, req OrderRequest) (PendingOrder, error) {
	_ = ctx

	pf, err := e.getPortfolio(req.PortfolioID)
	if err != nil {
		return PendingOrder{}, err
	}
	if err := e.validateOrderRequest(req); err != nil {
		return PendingOrder{}, fmt.Errorf("create pending order: %w", err)
	}

	lev := req.Leverage
	if lev == 0 {
		lev = 1
	}
	order := &PendingOrder{
		ID:          id.New(),
		PortfolioID: req.PortfolioID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Product:     req.Product,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Leverage:    lev,
		Barrier:     req.Barrier,
		LimitPrice:  copyLevel(req.LimitPrice),
		StopPrice:   copyLevel(req.StopPrice),
		StopLoss:    copyLevel(req.StopLoss),
		TakeProfit:  copyLevel(req.TakeProfit),
		Status:      StatusPending,
		CreatedAt:   e.now(),
	}

	pf.mu.Lock()
	pf.orders[order.ID] = order
	snap := order.snapshot()
	pf.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"portfolio": req.PortfolioID,
		"order":     snap.ID,
		"symbol":    snap.Symbol,
		"type":      snap.Type,
		"side":      snap.Side,
		"quantity":  snap.Quantity,
	}).Info("pending order created")

	return snap, nil
}

// CancelOrder transitions a pending order to cancelled. An order that
// already filled or was cancelled stays untouched and the call fails
// with ErrOrderAlreadyTerminal.
func (e *Engine) CancelOrder(ctx context.Context, portfolioID, orderID string) (PendingOrder, error) {
	_ = ctx

	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return PendingOrder{}, err
	}

	pf.mu.Lock()
	order, ok := pf.orders[orderID]
	if !ok {
		pf.mu.Unlock()
		return PendingOrder{}, fmt.Errorf("cancel order: %w: %q", ErrOrderNotFound, orderID)
	}
	if order.Status != StatusPending {
		status := order.Status
		pf.mu.Unlock()
		return PendingOrder{}, fmt.Errorf("cancel order: %w: %q is %s", ErrOrderAlreadyTerminal, orderID, status)
	}

	order.Status = StatusCancelled
	order.CancelReason = "cancelled by user"
	order.CancelledAt = e.now()
	snap := order.snapshot()
	pf.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"portfolio": portfolioID,
		"order":     orderID,
	}).Info("pending order cancelled")

	return snap, nil
}

// PendingOrders lists the orders still on the book, oldest first.
func (e *Engine) PendingOrders(ctx context.Context, portfolioID string) ([]PendingOrder, error) {
	return e.listOrders(ctx, portfolioID, true)
}

// AllOrders lists every order since the last reset, including filled
// and cancelled ones, oldest first.
func (e *Engine) AllOrders(ctx context.Context, portfolioID string) ([]PendingOrder, error) {
	return e.listOrders(ctx, portfolioID, false)
}

func (e *Engine) listOrders(ctx context.Context, portfolioID string, pendingOnly bool) ([]PendingOrder, error) {
	_ = ctx
	pf, err := e.getPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	pf.mu.RLock()
	out := make([]PendingOrder, 0, len(pf.orders))
	for _, order := range pf.orders {
		if pendingOnly && order.Status != StatusPending {
			continue
		}
		out = append(out, order.snapshot())
	}
	pf.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// sortedPendingLocked returns pending orders oldest first.
func (pf *portfolio) sortedPendingLocked() []*PendingOrder {
	out := make([]*PendingOrder, 0, len(pf.orders))
	for _, order := range pf.orders {
		if order.Status == StatusPending {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// matchOrdersLocked runs the firing table over the pending orders.
// Fired orders open positions at the quote; an open failure cancels
// the order with the reason recorded rather than leaving it pending.
// Called with pf.mu held.
func (e *Engine) matchOrdersLocked(pf *portfolio, quotes market.Batch) []ExecutedOrder {
	var out []ExecutedOrder

	for _, order := range pf.sortedPendingLocked() {
		q, ok := quotes.Get(order.Symbol)
		if !ok {
			continue
		}
		if !order.evaluate(q.Price) {
			continue
		}

		at := q.Time
		if at.IsZero() {
			at = e.now()
		}

		pos, err := e.openPositionLocked(pf, MarketOrder{
			PortfolioID: order.PortfolioID,
			Symbol:      order.Symbol,
			Side:        order.Side,
			Product:     order.Product,
			Quantity:    order.Quantity,
			Price:       q.Price,
			Leverage:    order.Leverage,
			Barrier:     order.Barrier,
			StopLoss:    order.StopLoss,
			TakeProfit:  order.TakeProfit,
			Time:        at,
		}, order.ID)
		if err != nil {
			order.Status = StatusCancelled
			order.CancelReason = err.Error()
			order.CancelledAt = at
			out = append(out, ExecutedOrder{Order: order.snapshot()})
			if !IsValidation(err) && !IsStateConflict(err) {
				e.log.WithError(err).WithFields(logrus.Fields{
					"portfolio": pf.meta.ID,
					"order":     order.ID,
				}).Error("order fill failed unexpectedly")
			}
			continue
		}

		order.Status = StatusFilled
		order.FilledAt = at
		order.PositionID = pos.ID
		posSnap := pos.snapshot()
		out = append(out, ExecutedOrder{Order: order.snapshot(), Position: &posSnap})
	}

	return out
}
