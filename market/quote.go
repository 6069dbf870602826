package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrQuoteNotAvailable is returned by a Source that has no price for the
// requested symbol. The engine treats it as skip-and-retry, never fatal.
var ErrQuoteNotAvailable = errors.New("quote not available")

// Quote is the latest known price for a symbol.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}

// Source supplies quotes. Implementations live outside the engine: the
// driver fetches quotes first, then hands them to the engine as a Batch,
// so a slow provider can never stall a portfolio lock.
type Source interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// Batch is a set of quotes keyed by symbol. All engine operations that
// need prices take a Batch as an explicit argument.
type Batch map[string]Quote

// Get returns the quote for symbol, if present.
func (b Batch) Get(symbol string) (Quote, bool) {
	q, ok := b[symbol]
	return q, ok
}

// Set stores q under its symbol.
func (b Batch) Set(q Quote) {
	b[q.Symbol] = q
}

// Symbols returns the symbols present in the batch.
func (b Batch) Symbols() []string {
	out := make([]string, 0, len(b))
	for s := range b {
		out = append(out, s)
	}
	return out
}

// Fetch collects quotes for symbols from src, giving each call its own
// timeout. Symbols whose fetch fails or times out are skipped and
// returned in the second value; the caller retries them next pass.
func Fetch(ctx context.Context, src Source, symbols []string, perCall time.Duration) (Batch, []string) {
	batch := make(Batch, len(symbols))
	var skipped []string

	for _, sym := range symbols {
		callCtx, cancel := context.WithTimeout(ctx, perCall)
		q, err := src.GetQuote(callCtx, sym)
		cancel()
		if err != nil {
			skipped = append(skipped, sym)
			continue
		}
		batch.Set(q)
	}
	return batch, skipped
}
