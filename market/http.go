package market

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// HTTPOptions configures an HTTPSource. BaseURL is required; the rest
// defaults to GET {base}/quotes/{symbol} with a short timeout and two
// retries.
type HTTPOptions struct {
	BaseURL string
	// Path is the request path with a {symbol} placeholder.
	Path    string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// HTTPSource pulls quotes from a JSON endpoint. It is used by the
// watch driver, which fetches before taking any engine lock, so a
// slow provider delays a sweep but never blocks trading operations.
type HTTPSource struct {
	client *resty.Client
	path   string
}

func NewHTTPSource(opts HTTPOptions) (*HTTPSource, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("quote source: base URL required")
	}
	if opts.Path == "" {
		opts.Path = "/quotes/{symbol}"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = 2
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	if opts.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+opts.APIKey)
	}

	return &HTTPSource{client: client, path: opts.Path}, nil
}

type quotePayload struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

func (s *HTTPSource) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	var payload quotePayload
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetResult(&payload).
		Get(s.path)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch quote %q: %w", symbol, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Quote{}, fmt.Errorf("%w: %q", ErrQuoteNotAvailable, symbol)
	}
	if resp.IsError() {
		return Quote{}, fmt.Errorf("fetch quote %q: status %d", symbol, resp.StatusCode())
	}
	if !payload.Price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %q returned price %s", ErrQuoteNotAvailable, symbol, payload.Price)
	}

	q := Quote{Symbol: symbol, Price: payload.Price, Time: payload.Time}
	if payload.Symbol != "" {
		q.Symbol = payload.Symbol
	}
	if q.Time.IsZero() {
		q.Time = time.Now().UTC()
	}
	return q, nil
}
