package shopcore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLGateway implements the Gateway interface over database/sql with the
// sqlite and mysql backends. A single worker goroutine executes requests
// strictly in enqueue order, which preserves per-order-key FIFO semantics.
// Completions are queued and only run when the host calls Pump, so session
// state is never touched from the worker.
type SQLGateway struct {
	config *GatewayConfig
	logger *zap.Logger
	db     *sql.DB
	stmts  *SQLStatements

	mu     sync.Mutex
	notify *sync.Cond
	queue  []*gatewayJob
	closed bool

	compMu      sync.Mutex
	completions []func()

	workerDone chan struct{}
}

type gatewayJob struct {
	req *PersistenceRequest
	tx  *PersistenceTx
}

var _ Gateway = (*SQLGateway)(nil)

// NewSQLGateway opens the configured backend, bootstraps the prefixed schema
// and starts the worker goroutine.
func NewSQLGateway(config *GatewayConfig, logger *zap.Logger) (*SQLGateway, error) {
	if config == nil {
		return nil, ErrBadInput
	}
	config.applyDefaults()

	db, err := openDB(config.Backend, config.DSN)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db, config.Backend, config.TablePrefix); err != nil {
		_ = db.Close()
		return nil, err
	}

	g := &SQLGateway{
		config:     config,
		logger:     logger,
		db:         db,
		stmts:      buildStatements(config.Backend, config.TablePrefix),
		workerDone: make(chan struct{}),
	}
	g.notify = sync.NewCond(&g.mu)
	go g.worker()

	logger.Info("persistence gateway ready",
		zap.String("backend", config.Backend),
		zap.String("table_prefix", config.TablePrefix))
	return g, nil
}

// GetType provides the runtime type of the system.
func (g *SQLGateway) GetType() SystemType {
	return SystemTypeGateway
}

// GetConfig returns the configuration type of the system.
func (g *SQLGateway) GetConfig() any {
	return g.config
}

func (g *SQLGateway) Statements() *SQLStatements {
	return g.stmts
}

func (g *SQLGateway) Query(req *PersistenceRequest) error {
	if req == nil || req.Statement == "" || req.OnComplete == nil {
		return ErrBadInput
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return g.enqueue(&gatewayJob{req: req})
}

func (g *SQLGateway) RunTransaction(tx *PersistenceTx) error {
	if tx == nil || len(tx.Statements) == 0 || tx.OnSuccess == nil || tx.OnFailure == nil {
		return ErrBadInput
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	return g.enqueue(&gatewayJob{tx: tx})
}

func (g *SQLGateway) enqueue(job *gatewayJob) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrStoreAborted
	}
	g.queue = append(g.queue, job)
	g.notify.Signal()
	return nil
}

func (g *SQLGateway) Pump(max int) int {
	g.compMu.Lock()
	n := len(g.completions)
	if max > 0 && max < n {
		n = max
	}
	batch := g.completions[:n]
	g.completions = g.completions[n:]
	g.compMu.Unlock()

	for _, complete := range batch {
		complete()
	}
	return n
}

func (g *SQLGateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	alreadyClosed := g.closed
	g.closed = true
	g.notify.Broadcast()
	g.mu.Unlock()

	if !alreadyClosed {
		select {
		case <-g.workerDone:
		case <-ctx.Done():
			// The in-flight statement did not finish in time. Completions are
			// left undelivered rather than risk firing during teardown.
			g.logger.Warn("gateway shutdown timed out waiting for in-flight statement")
			_ = g.db.Close()
			return ctx.Err()
		}
		_ = g.db.Close()
	}

	// Final drain: deliver every remaining completion, aborted ones included.
	for g.Pump(0) > 0 {
	}
	return nil
}

func (g *SQLGateway) worker() {
	defer close(g.workerDone)
	for {
		g.mu.Lock()
		for len(g.queue) == 0 && !g.closed {
			g.notify.Wait()
		}
		if len(g.queue) == 0 {
			g.mu.Unlock()
			return
		}
		job := g.queue[0]
		g.queue = g.queue[1:]
		closed := g.closed
		g.mu.Unlock()

		if closed {
			g.completeAborted(job)
			continue
		}
		g.execute(job)
	}
}

func (g *SQLGateway) completeAborted(job *gatewayJob) {
	if job.req != nil {
		req := job.req
		g.deliver(func() { req.OnComplete(&Result{Err: ErrStoreAborted}) })
		return
	}
	tx := job.tx
	g.deliver(func() { tx.OnFailure(ErrStoreAborted) })
}

func (g *SQLGateway) deliver(complete func()) {
	g.compMu.Lock()
	g.completions = append(g.completions, complete)
	g.compMu.Unlock()
}

func (g *SQLGateway) execute(job *gatewayJob) {
	if job.req != nil {
		req := job.req
		result := g.executeRequest(req)
		g.deliver(func() { req.OnComplete(result) })
		return
	}

	tx := job.tx
	if err := g.executeTx(tx); err != nil {
		g.deliver(func() { tx.OnFailure(err) })
		return
	}
	g.deliver(tx.OnSuccess)
}

func (g *SQLGateway) executeRequest(req *PersistenceRequest) *Result {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := g.executeStatement(req.Statement, req.Params)
		if err == nil {
			return result
		}
		lastErr = err

		if !req.Idempotent || !isTransient(err) || attempt >= g.config.MaxRetries {
			break
		}
		delay := g.backoffDelay(attempt)
		g.logger.Warn("retrying idempotent store read",
			zap.String("request_id", req.ID),
			zap.String("order_key", req.OrderKey),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		time.Sleep(delay)
	}

	if isTransient(lastErr) {
		return &Result{Err: fmt.Errorf("%w: %v", ErrStoreTransient, lastErr)}
	}
	return &Result{Err: fmt.Errorf("%w: %v", ErrStoreFatal, lastErr)}
}

func (g *SQLGateway) executeStatement(statement string, params []any) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(g.config.StatementTimeoutMs)*time.Millisecond)
	defer cancel()

	if isReadStatement(statement) {
		rows, err := g.db.QueryContext(ctx, statement, params...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		scanned, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: scanned}, nil
	}

	res, err := g.db.ExecContext(ctx, statement, params...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &Result{RowsAffected: affected}, nil
}

func (g *SQLGateway) executeTx(ptx *PersistenceTx) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(g.config.StatementTimeoutMs)*time.Millisecond)
	defer cancel()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		if isTransient(err) {
			return fmt.Errorf("%w: %v", ErrStoreTransient, err)
		}
		return fmt.Errorf("%w: %v", ErrStoreFatal, err)
	}

	for i, stmt := range ptx.Statements {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Params...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: statement %d: %v", ErrTxRolledBack, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxRolledBack, err)
	}
	return nil
}

func (g *SQLGateway) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(g.config.RetryBackoffMs) * time.Millisecond << uint(attempt)
	limit := time.Duration(g.config.RetryBackoffMaxMs) * time.Millisecond
	if delay > limit {
		delay = limit
	}
	return delay
}

func isReadStatement(statement string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(statement)), "SELECT")
}

// isTransient reports whether a retry of the same statement may succeed.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
	}
	return false
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// rowInt64 reads a numeric column across the driver representations the two
// backends produce.
func rowInt64(row Row, col string) (int64, bool) {
	switch v := row[col].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// rowString reads a text column.
func rowString(row Row, col string) (string, bool) {
	if v, ok := row[col].(string); ok {
		return v, true
	}
	return "", false
}
