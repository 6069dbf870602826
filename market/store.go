package market

import "sync"

// Store keeps the last known quote per symbol. The watch driver feeds it
// from a Source and snapshots it into a Batch for each engine pass; it is
// also the "last-known price" used when a portfolio reset has to close
// positions without a fresh quote.
type Store struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewStore() *Store {
	return &Store{quotes: make(map[string]Quote)}
}

func (s *Store) Set(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
}

func (s *Store) Get(symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, ErrQuoteNotAvailable
	}
	return q, nil
}

// Snapshot copies the current contents into a Batch.
func (s *Store) Snapshot() Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch := make(Batch, len(s.quotes))
	for sym, q := range s.quotes {
		batch[sym] = q
	}
	return batch
}
