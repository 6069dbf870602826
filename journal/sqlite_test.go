package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleTransaction(id string, at time.Time) Transaction {
	return Transaction{
		ID:          id,
		PortfolioID: "pf-1",
		Type:        "buy",
		Symbol:      "ACME",
		PositionID:  "pos-1",
		Quantity:    dec("10"),
		Price:       dec("100"),
		TotalFees:   dec("5"),
		CashImpact:  dec("-1005"),
		Balance:     dec("8995"),
		ExecutedAt:  at,
		Description: "open long 10 ACME @ 100",
	}
}

func samplePosition(id string, closedAt time.Time) PositionRecord {
	return PositionRecord{
		PositionID:  id,
		PortfolioID: "pf-1",
		Symbol:      "ACME",
		Side:        "long",
		Product:     "stock",
		Quantity:    dec("10"),
		Leverage:    1,
		EntryPrice:  dec("100"),
		ExitPrice:   dec("110"),
		MarginUsed:  dec("1000"),
		TotalFees:   dec("10"),
		RealizedPnL: dec("90"),
		OpenedAt:    closedAt.Add(-time.Hour),
		ClosedAt:    closedAt,
		Reason:      "manual",
	}
}

func TestSQLiteTransactionRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tx := sampleTransaction("tx-1", at)
	require.NoError(t, j.RecordTransaction(tx))

	got, err := j.GetTransaction("tx-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, tx.Type, got.Type)
	assert.Equal(t, tx.Symbol, got.Symbol)
	assert.True(t, got.CashImpact.Equal(dec("-1005")), "cash impact %s", got.CashImpact)
	assert.True(t, got.Balance.Equal(dec("8995")), "balance %s", got.Balance)
	assert.True(t, got.ExecutedAt.Equal(at), "executed at %s", got.ExecutedAt)
}

func TestSQLiteGetTransactionNotFound(t *testing.T) {
	j := newTestJournal(t)

	_, err := j.GetTransaction("missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLiteListTransactionsBetween(t *testing.T) {
	j := newTestJournal(t)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"tx-1", "tx-2", "tx-3"} {
		tx := sampleTransaction(id, base.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, j.RecordTransaction(tx))
	}
	other := sampleTransaction("tx-other", base.Add(time.Hour))
	other.PortfolioID = "pf-2"
	require.NoError(t, j.RecordTransaction(other))

	// Half-open window catches the first two days only.
	got, err := j.ListTransactionsBetween("pf-1", base, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tx-1", got[0].ID)
	assert.Equal(t, "tx-2", got[1].ID)

	// Empty portfolio filter matches everything in the window.
	got, err = j.ListTransactionsBetween("", base, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSQLitePositionRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	closedAt := time.Date(2024, 3, 2, 16, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordPosition(samplePosition("pos-1", closedAt)))
	require.NoError(t, j.RecordPosition(samplePosition("pos-2", closedAt.Add(time.Minute))))

	got, err := j.ListClosedPositions("pf-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pos-1", got[0].PositionID)
	assert.Equal(t, "stock", got[0].Product)
	assert.Equal(t, 1, got[0].Leverage)
	assert.True(t, got[0].RealizedPnL.Equal(dec("90")), "pnl %s", got[0].RealizedPnL)
	assert.True(t, got[0].ClosedAt.Equal(closedAt))

	got, err = j.ListClosedPositions("pf-other")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteEquityRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	level := dec("250")
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		PortfolioID: "pf-1",
		Time:        at,
		Cash:        dec("8995"),
		Equity:      dec("10095"),
		MarginUsed:  dec("1000"),
		FreeMargin:  dec("9095"),
		MarginLevel: &level,
	}))
	// No margin in use: level stays NULL.
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		PortfolioID: "pf-1",
		Time:        at.Add(time.Minute),
		Cash:        dec("10085"),
		Equity:      dec("10085"),
		MarginUsed:  decimal.Zero,
		FreeMargin:  dec("10085"),
	}))

	got, err := j.ListEquityBetween("pf-1", at, at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].MarginLevel)
	assert.True(t, got[0].MarginLevel.Equal(dec("250")))
	assert.Nil(t, got[1].MarginLevel)
	assert.True(t, got[1].Cash.Equal(dec("10085")))
}
