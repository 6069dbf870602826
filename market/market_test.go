package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	quotes map[string]Quote
	calls  int
}

func (f *fakeSource) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	f.calls++
	q, ok := f.quotes[symbol]
	if !ok {
		return Quote{}, ErrQuoteNotAvailable
	}
	return q, nil
}

func q(symbol, price string) Quote {
	return Quote{Symbol: symbol, Price: decimal.RequireFromString(price), Time: time.Now()}
}

func TestBatch(t *testing.T) {
	b := make(Batch)
	b.Set(q("ACME", "100"))
	b.Set(q("BETA", "50"))

	got, ok := b.Get("ACME")
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("100")))

	_, ok = b.Get("NOPE")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"ACME", "BETA"}, b.Symbols())
}

func TestFetchSkipsFailures(t *testing.T) {
	src := &fakeSource{quotes: map[string]Quote{
		"ACME": q("ACME", "100"),
		"BETA": q("BETA", "50"),
	}}

	batch, skipped := Fetch(context.Background(), src, []string{"ACME", "MISSING", "BETA"}, time.Second)
	assert.Len(t, batch, 2)
	assert.Equal(t, []string{"MISSING"}, skipped)
	assert.Equal(t, 3, src.calls)
}

func TestStoreSnapshot(t *testing.T) {
	s := Static(q("ACME", "100"))

	got, err := s.Get("ACME")
	require.NoError(t, err)
	assert.Equal(t, "ACME", got.Symbol)

	_, err = s.Get("NOPE")
	assert.ErrorIs(t, err, ErrQuoteNotAvailable)

	// The snapshot is detached from later writes.
	snap := s.Snapshot()
	s.Set(q("BETA", "50"))
	assert.Len(t, snap, 1)
	assert.Len(t, s.Snapshot(), 2)
}

func TestStoreIsASource(t *testing.T) {
	var src Source = Static(q("ACME", "100"))
	got, err := src.GetQuote(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, "ACME", got.Symbol)
}

func TestHTTPSource(t *testing.T) {
	asOf := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quotes/ACME":
			json.NewEncoder(w).Encode(map[string]any{
				"symbol": "ACME",
				"price":  "123.45",
				"time":   asOf,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Retries: -1})
	require.NoError(t, err)

	got, err := src.GetQuote(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, "ACME", got.Symbol)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("123.45")))
	assert.True(t, got.Time.Equal(asOf))

	_, err = src.GetQuote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrQuoteNotAvailable)
}

func TestHTTPSourceRejectsBadPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"symbol": "ACME", "price": "0"})
	}))
	defer srv.Close()

	src, err := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Retries: -1})
	require.NoError(t, err)

	_, err = src.GetQuote(context.Background(), "ACME")
	assert.ErrorIs(t, err, ErrQuoteNotAvailable)
}

func TestHTTPSourceRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPSource(HTTPOptions{})
	assert.Error(t, err)
}
