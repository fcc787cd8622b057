package shopcore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLGateway(t *testing.T, dsn string) *SQLGateway {
	t.Helper()
	gateway, err := NewSQLGateway(&GatewayConfig{
		Backend:     BackendSQLite,
		DSN:         dsn,
		TablePrefix: "shop_",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gateway.Shutdown(ctx)
	})
	return gateway
}

// drainUntil pumps completions until done reports true. The worker executes
// on its own goroutine, so the test polls.
func drainUntil(t *testing.T, gateway *SQLGateway, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if gateway.Pump(0) == 0 {
			if time.Now().After(deadline) {
				t.Fatal("timed out waiting for gateway completion")
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSQLGateway_WriteReadRoundTrip(t *testing.T) {
	gateway := newTestSQLGateway(t, ":memory:")
	stmts := gateway.Statements()

	var wrote bool
	err := gateway.Query(&PersistenceRequest{
		OrderKey:  "veteran",
		Statement: stmts.UpsertUser,
		Params:    []any{"veteran", int64(500), int64(1000)},
		OnComplete: func(res *Result) {
			require.NoError(t, res.Err)
			assert.Equal(t, int64(1), res.RowsAffected)
			wrote = true
		},
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return wrote })

	var read *Result
	err = gateway.Query(&PersistenceRequest{
		OrderKey:   "veteran",
		Statement:  stmts.SelectUser,
		Params:     []any{"veteran"},
		Idempotent: true,
		OnComplete: func(res *Result) { read = res },
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return read != nil })

	require.NoError(t, read.Err)
	require.Len(t, read.Rows, 1)
	credits, ok := rowInt64(read.Rows[0], "credits")
	require.True(t, ok)
	assert.Equal(t, int64(500), credits)
	identity, ok := rowString(read.Rows[0], "identity")
	require.True(t, ok)
	assert.Equal(t, "veteran", identity)
}

func TestSQLGateway_SelectMissingRowReturnsNoRows(t *testing.T) {
	gateway := newTestSQLGateway(t, ":memory:")

	var read *Result
	err := gateway.Query(&PersistenceRequest{
		OrderKey:   "stranger",
		Statement:  gateway.Statements().SelectUser,
		Params:     []any{"stranger"},
		Idempotent: true,
		OnComplete: func(res *Result) { read = res },
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return read != nil })

	require.NoError(t, read.Err)
	assert.Empty(t, read.Rows)
}

func TestSQLGateway_CompletionOrderIsFIFO(t *testing.T) {
	gateway := newTestSQLGateway(t, ":memory:")
	stmts := gateway.Statements()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		err := gateway.Query(&PersistenceRequest{
			OrderKey:   "veteran",
			Statement:  stmts.UpsertUser,
			Params:     []any{"veteran", int64(i), int64(0)},
			OnComplete: func(res *Result) { order = append(order, i) },
		})
		require.NoError(t, err)
	}
	var read *Result
	err := gateway.Query(&PersistenceRequest{
		OrderKey:   "veteran",
		Statement:  stmts.SelectUser,
		Params:     []any{"veteran"},
		Idempotent: true,
		OnComplete: func(res *Result) { read = res },
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return read != nil })

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	require.Len(t, read.Rows, 1)
	credits, _ := rowInt64(read.Rows[0], "credits")
	assert.Equal(t, int64(4), credits)
}

func TestSQLGateway_TransactionCommitsAtomically(t *testing.T) {
	gateway := newTestSQLGateway(t, ":memory:")
	stmts := gateway.Statements()

	var succeeded bool
	err := gateway.RunTransaction(&PersistenceTx{
		OrderKey: "veteran",
		Statements: []Statement{
			{SQL: stmts.UpsertUser, Params: []any{"veteran", int64(500), int64(0)}},
			{SQL: stmts.DeleteInventory, Params: []any{"veteran"}},
			{SQL: stmts.InsertInventory, Params: []any{"veteran", "weapons", "ak47", int64(1500), int64(10)}},
		},
		OnSuccess: func() { succeeded = true },
		OnFailure: func(err error) { t.Errorf("unexpected tx failure: %v", err) },
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return succeeded })

	var read *Result
	err = gateway.Query(&PersistenceRequest{
		OrderKey:   "veteran",
		Statement:  stmts.SelectInventory,
		Params:     []any{"veteran"},
		Idempotent: true,
		OnComplete: func(res *Result) { read = res },
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return read != nil })

	require.NoError(t, read.Err)
	require.Len(t, read.Rows, 1)
	itemKey, _ := rowString(read.Rows[0], "item_key")
	assert.Equal(t, "ak47", itemKey)
}

func TestSQLGateway_TransactionRollsBackOnFailure(t *testing.T) {
	gateway := newTestSQLGateway(t, ":memory:")
	stmts := gateway.Statements()

	var txErr error
	err := gateway.RunTransaction(&PersistenceTx{
		OrderKey: "veteran",
		Statements: []Statement{
			{SQL: stmts.InsertInventory, Params: []any{"veteran", "weapons", "ak47", int64(1500), int64(10)}},
			{SQL: "NOT VALID SQL"},
		},
		OnSuccess: func() { t.Error("transaction must not commit") },
		OnFailure: func(err error) { txErr = err },
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return txErr != nil })
	assert.ErrorIs(t, txErr, ErrTxRolledBack)

	// Nothing from the failed transaction is visible.
	var read *Result
	err = gateway.Query(&PersistenceRequest{
		OrderKey:   "veteran",
		Statement:  stmts.SelectInventory,
		Params:     []any{"veteran"},
		Idempotent: true,
		OnComplete: func(res *Result) { read = res },
	})
	require.NoError(t, err)
	drainUntil(t, gateway, func() bool { return read != nil })
	assert.Empty(t, read.Rows)
}

func TestSQLGateway_ShutdownDeliversEveryCompletionExactlyOnce(t *testing.T) {
	gateway := newTestSQLGateway(t, ":memory:")
	stmts := gateway.Statements()

	const issued = 20
	completed := 0
	for i := 0; i < issued; i++ {
		err := gateway.Query(&PersistenceRequest{
			OrderKey:  "veteran",
			Statement: stmts.UpsertUser,
			Params:    []any{"veteran", int64(i), int64(0)},
			OnComplete: func(res *Result) {
				// Either executed or aborted, never dropped.
				if res.Err != nil {
					assert.ErrorIs(t, res.Err, ErrStoreAborted)
				}
				completed++
			},
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gateway.Shutdown(ctx))
	assert.Equal(t, issued, completed)

	// No further intake after teardown.
	err := gateway.Query(&PersistenceRequest{
		Statement:  stmts.SelectUser,
		Params:     []any{"veteran"},
		OnComplete: func(*Result) { t.Error("completion after shutdown") },
	})
	assert.ErrorIs(t, err, ErrStoreAborted)
	err = gateway.RunTransaction(&PersistenceTx{
		Statements: []Statement{{SQL: stmts.DeleteInventory, Params: []any{"veteran"}}},
		OnSuccess:  func() {},
		OnFailure:  func(error) {},
	})
	assert.ErrorIs(t, err, ErrStoreAborted)
	assert.Equal(t, 0, gateway.Pump(0))
}

func TestSQLGateway_FileBackendPersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "shop.db")

	first := newTestSQLGateway(t, dsn)
	var wrote bool
	err := first.Query(&PersistenceRequest{
		OrderKey:   "veteran",
		Statement:  first.Statements().UpsertUser,
		Params:     []any{"veteran", int64(777), int64(0)},
		OnComplete: func(res *Result) { require.NoError(t, res.Err); wrote = true },
	})
	require.NoError(t, err)
	drainUntil(t, first, func() bool { return wrote })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(ctx))

	second := newTestSQLGateway(t, dsn)
	var read *Result
	err = second.Query(&PersistenceRequest{
		OrderKey:   "veteran",
		Statement:  second.Statements().SelectUser,
		Params:     []any{"veteran"},
		Idempotent: true,
		OnComplete: func(res *Result) { read = res },
	})
	require.NoError(t, err)
	drainUntil(t, second, func() bool { return read != nil })

	require.NoError(t, read.Err)
	require.Len(t, read.Rows, 1)
	credits, _ := rowInt64(read.Rows[0], "credits")
	assert.Equal(t, int64(777), credits)
}

func TestSQLGateway_RejectsMalformedWork(t *testing.T) {
	gateway := newTestSQLGateway(t, ":memory:")

	assert.ErrorIs(t, gateway.Query(nil), ErrBadInput)
	assert.ErrorIs(t, gateway.Query(&PersistenceRequest{Statement: "SELECT 1"}), ErrBadInput)
	assert.ErrorIs(t, gateway.RunTransaction(nil), ErrBadInput)
	assert.ErrorIs(t, gateway.RunTransaction(&PersistenceTx{
		Statements: []Statement{{SQL: "SELECT 1"}},
		OnSuccess:  func() {},
	}), ErrBadInput)
}

func TestNewSQLGateway_ConfigErrors(t *testing.T) {
	_, err := NewSQLGateway(nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = NewSQLGateway(&GatewayConfig{Backend: "postgres", DSN: "x"}, zap.NewNop())
	require.Error(t, err)

	_, err = NewSQLGateway(&GatewayConfig{Backend: BackendSQLite, DSN: "   "}, zap.NewNop())
	require.Error(t, err)
}

func TestGatewayConfig_Defaults(t *testing.T) {
	cfg := &GatewayConfig{}
	cfg.applyDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 50, cfg.RetryBackoffMs)
	assert.Equal(t, 1000, cfg.RetryBackoffMaxMs)
	assert.Equal(t, 5000, cfg.StatementTimeoutMs)
}

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	gateway := &SQLGateway{config: &GatewayConfig{RetryBackoffMs: 50, RetryBackoffMaxMs: 300}}

	assert.Equal(t, 50*time.Millisecond, gateway.backoffDelay(0))
	assert.Equal(t, 100*time.Millisecond, gateway.backoffDelay(1))
	assert.Equal(t, 200*time.Millisecond, gateway.backoffDelay(2))
	assert.Equal(t, 300*time.Millisecond, gateway.backoffDelay(3))
	assert.Equal(t, 300*time.Millisecond, gateway.backoffDelay(10))
}

func TestIsReadStatement(t *testing.T) {
	assert.True(t, isReadStatement("SELECT 1"))
	assert.True(t, isReadStatement("  select identity FROM shop_users"))
	assert.False(t, isReadStatement("INSERT INTO shop_users VALUES (1)"))
	assert.False(t, isReadStatement("DELETE FROM shop_users"))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(nil))
	assert.False(t, isTransient(errors.New("syntax error")))
	assert.True(t, isTransient(driver.ErrBadConn))
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.True(t, isTransient(fmt.Errorf("exec: %w", driver.ErrBadConn)))
}

func TestBuildStatements_BackendDialects(t *testing.T) {
	sqlite := buildStatements(BackendSQLite, "shop_")
	assert.Contains(t, sqlite.UpsertUser, "ON CONFLICT (identity)")
	assert.Contains(t, sqlite.SelectUser, "shop_users")

	mysql := buildStatements(BackendMySQL, "shop_")
	assert.Contains(t, mysql.UpsertUser, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, mysql.InsertInventory, "shop_inventory")
}

func TestRowHelpers(t *testing.T) {
	row := Row{"credits": int64(5), "ratio": float64(2.9), "count": "12", "identity": "veteran"}

	n, ok := rowInt64(row, "credits")
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)
	n, ok = rowInt64(row, "ratio")
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)
	n, ok = rowInt64(row, "count")
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)
	_, ok = rowInt64(row, "missing")
	assert.False(t, ok)
	_, ok = rowInt64(row, "identity")
	assert.False(t, ok)

	s, ok := rowString(row, "identity")
	assert.True(t, ok)
	assert.Equal(t, "veteran", s)
	_, ok = rowString(row, "credits")
	assert.False(t, ok)
}
