package shopcore

import (
	"context"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Result carries the outcome of a single persistence request.
type Result struct {
	// Rows holds the result set for read statements, nil for writes.
	Rows []Row
	// RowsAffected reports the affected row count for write statements.
	RowsAffected int64
	// Err is nil on success. Aborted requests complete with ErrStoreAborted,
	// transient failures past the retry budget with ErrStoreTransient.
	Err error
}

// Statement is one parameterized SQL statement.
type Statement struct {
	SQL    string
	Params []any
}

// PersistenceRequest is a queued unit of work: a single parameterized
// statement tagged with a correlation id and a continuation.
type PersistenceRequest struct {
	// ID correlates the completion with its originating request. Auto-filled
	// with a UUID when empty.
	ID string
	// OrderKey scopes the FIFO ordering guarantee. Requests sharing an order
	// key complete in issue order. Use the session token or durable identity,
	// never a transient connection slot.
	OrderKey string
	// Statement and Params form the parameterized query to execute.
	Statement string
	Params    []any
	// Idempotent marks the request as safe to retry on transient store
	// errors. Reads should set it; writes must not.
	Idempotent bool
	// OnComplete is invoked exactly once from Pump. Never invoked after the
	// gateway has been torn down; pending requests at shutdown complete with
	// ErrStoreAborted instead.
	OnComplete func(*Result)
}

// PersistenceTx groups statements so they commit or roll back as a unit.
// Exactly one of OnSuccess or OnFailure is invoked, exactly once, from Pump.
type PersistenceTx struct {
	ID         string
	OrderKey   string
	Statements []Statement
	OnSuccess  func()
	OnFailure  func(error)
}

// The Gateway issues asynchronous operations against a relational store and
// correlates each completion with its originating request. Issuing calls
// return immediately; completions are delivered as continuations when the
// host drains them with Pump, so no callback ever runs on a background
// goroutine.
type Gateway interface {
	System

	// Query issues a read or write statement. Returns ErrStoreAborted if the
	// gateway has been shut down, otherwise the outcome arrives via
	// req.OnComplete.
	Query(req *PersistenceRequest) error

	// RunTransaction issues a group of statements which all succeed or are
	// all rolled back.
	RunTransaction(tx *PersistenceTx) error

	// Pump invokes up to max pending completions on the calling goroutine and
	// reports how many ran. max <= 0 drains everything pending.
	Pump(max int) int

	// Shutdown stops intake, waits for the in-flight statement bounded by
	// ctx, fails every queued request with ErrStoreAborted and delivers all
	// remaining completions before returning. No completion fires afterwards.
	Shutdown(ctx context.Context) error

	// Statements exposes the backend-specific SQL used for the engine's user
	// and inventory tables.
	Statements() *SQLStatements
}

// GatewayConfig is the data definition for the Gateway system.
type GatewayConfig struct {
	// Backend selects the relational store: "sqlite" or "mysql".
	Backend string `json:"backend"`
	// DSN is the driver-specific connection string.
	DSN string `json:"dsn"`
	// TablePrefix namespaces the engine tables on a shared store.
	TablePrefix string `json:"table_prefix,omitempty"`
	// MaxRetries bounds retry attempts for idempotent requests on transient
	// errors. Defaults to 3.
	MaxRetries int `json:"max_retries,omitempty"`
	// RetryBackoffMs is the initial backoff, doubled per attempt. Defaults to 50.
	RetryBackoffMs int `json:"retry_backoff_ms,omitempty"`
	// RetryBackoffMaxMs caps the backoff. Defaults to 1000.
	RetryBackoffMaxMs int `json:"retry_backoff_max_ms,omitempty"`
	// StatementTimeoutMs bounds a single statement execution. Defaults to 5000.
	StatementTimeoutMs int `json:"statement_timeout_ms,omitempty"`
}

func (c *GatewayConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoffMs <= 0 {
		c.RetryBackoffMs = 50
	}
	if c.RetryBackoffMaxMs <= 0 {
		c.RetryBackoffMaxMs = 1000
	}
	if c.StatementTimeoutMs <= 0 {
		c.StatementTimeoutMs = 5000
	}
}
