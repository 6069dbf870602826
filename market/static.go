package market

import "context"

// GetQuote makes Store a Source, serving whatever was last set.
func (s *Store) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	_ = ctx
	return s.Get(symbol)
}

// Static builds a pre-filled Store, the Source used by scripted runs
// and tests.
func Static(quotes ...Quote) *Store {
	s := NewStore()
	for _, q := range quotes {
		s.Set(q)
	}
	return s
}
