package shopcore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported relational backends. Both are accessed through database/sql with
// identical placeholder syntax; only the upsert form and DDL differ.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// SQLStatements holds the backend-specific SQL for the engine's two tables.
type SQLStatements struct {
	SelectUser      string
	UpsertUser      string
	SelectInventory string
	DeleteInventory string
	InsertInventory string
}

func openDB(backend, dsn string) (*sql.DB, error) {
	switch backend {
	case BackendSQLite:
		if strings.TrimSpace(dsn) == "" {
			return nil, NewError("sqlite dsn is required", INVALID_ARGUMENT_ERROR_CODE)
		}
		if dsn != ":memory:" && !strings.Contains(dsn, "?") && !strings.HasPrefix(dsn, "file:") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		// modernc sqlite serializes writers; a single connection also keeps
		// in-memory databases coherent across statements.
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sqlite db: %w", err)
		}
		return db, nil

	case BackendMySQL:
		if strings.TrimSpace(dsn) == "" {
			return nil, NewError("mysql dsn is required", INVALID_ARGUMENT_ERROR_CODE)
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql db: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping mysql db: %w", err)
		}
		return db, nil

	default:
		return nil, NewError(fmt.Sprintf("unknown store backend %q", backend), INVALID_ARGUMENT_ERROR_CODE)
	}
}

// ensureSchema applies the engine DDL. All statements are idempotent so the
// bootstrap can run at every startup.
func ensureSchema(db *sql.DB, backend, prefix string) error {
	var ddl []string
	switch backend {
	case BackendSQLite:
		ddl = []string{
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %susers (
    identity   TEXT PRIMARY KEY,
    credits    INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);`, prefix),
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %sinventory (
    identity     TEXT NOT NULL,
    category_key TEXT NOT NULL,
    item_key     TEXT NOT NULL,
    price_paid   INTEGER NOT NULL,
    acquired_at  INTEGER NOT NULL,
    UNIQUE (identity, category_key, item_key)
);`, prefix),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %sinventory_identity_idx ON %sinventory (identity);`, prefix, prefix),
		}
	case BackendMySQL:
		ddl = []string{
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %susers (
    identity   VARCHAR(128) NOT NULL PRIMARY KEY,
    credits    BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
) ENGINE=InnoDB;`, prefix),
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %sinventory (
    identity     VARCHAR(128) NOT NULL,
    category_key VARCHAR(128) NOT NULL,
    item_key     VARCHAR(128) NOT NULL,
    price_paid   BIGINT NOT NULL,
    acquired_at  BIGINT NOT NULL,
    UNIQUE KEY %sinventory_entry (identity, category_key, item_key),
    KEY %sinventory_identity_idx (identity)
) ENGINE=InnoDB;`, prefix, prefix, prefix),
		}
	default:
		return NewError(fmt.Sprintf("unknown store backend %q", backend), INVALID_ARGUMENT_ERROR_CODE)
	}

	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func buildStatements(backend, prefix string) *SQLStatements {
	stmts := &SQLStatements{
		SelectUser:      fmt.Sprintf(`SELECT identity, credits, updated_at FROM %susers WHERE identity = ?`, prefix),
		SelectInventory: fmt.Sprintf(`SELECT identity, category_key, item_key, price_paid, acquired_at FROM %sinventory WHERE identity = ?`, prefix),
		DeleteInventory: fmt.Sprintf(`DELETE FROM %sinventory WHERE identity = ?`, prefix),
		InsertInventory: fmt.Sprintf(`INSERT INTO %sinventory (identity, category_key, item_key, price_paid, acquired_at) VALUES (?, ?, ?, ?, ?)`, prefix),
	}
	switch backend {
	case BackendMySQL:
		stmts.UpsertUser = fmt.Sprintf(`INSERT INTO %susers (identity, credits, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE credits = VALUES(credits), updated_at = VALUES(updated_at)`, prefix)
	default:
		stmts.UpsertUser = fmt.Sprintf(`INSERT INTO %susers (identity, credits, updated_at) VALUES (?, ?, ?)
ON CONFLICT (identity) DO UPDATE SET credits = excluded.credits, updated_at = excluded.updated_at`, prefix)
	}
	return stmts
}
