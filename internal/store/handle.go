package store

import (
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

// Handle is the single process-wide durable-storage handle. It is constructed
// eagerly and injected into every component, but the underlying database is
// opened lazily: the first Open caller runs the open plus schema setup, and
// every later caller gets the memoized result. A failed open is memoized too,
// so the failure is surfaced on every use instead of being retried blindly.
type Handle struct {
	path string
	once sync.Once
	db   *sqlx.DB
	err  error
}

func NewHandle(path string) *Handle {
	return &Handle{path: path}
}

func (h *Handle) Open() (*sqlx.DB, error) {
	h.once.Do(func() {
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", h.path)
		db, err := sqlx.Open("sqlite3", dsn)
		if err != nil {
			h.err = fmt.Errorf("failed to open database %s: %w", h.path, err)
			return
		}
		if err := db.Ping(); err != nil {
			db.Close()
			h.err = fmt.Errorf("failed to ping database %s: %w", h.path, err)
			return
		}
		if err := initSchema(db); err != nil {
			db.Close()
			h.err = fmt.Errorf("failed to init schema: %w", err)
			return
		}

		logger.Log.Info("Opened local store", zap.String("path", h.path))
		h.db = db
	})

	return h.db, h.err
}

func (h *Handle) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// ExecTx runs fn inside a transaction, rolling back on error.
func (h *Handle) ExecTx(fn func(tx *sqlx.Tx) error) error {
	db, err := h.Open()
	if err != nil {
		return err
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func initSchema(db *sqlx.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id    INTEGER PRIMARY KEY,
		name  TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_customers_name  ON customers(name);
	CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

	CREATE TABLE IF NOT EXISTS items (
		id             INTEGER PRIMARY KEY,
		name           TEXT NOT NULL,
		category       TEXT NOT NULL DEFAULT '',
		unit           TEXT NOT NULL DEFAULT '',
		purchase_price REAL NOT NULL DEFAULT 0,
		sale_price     REAL NOT NULL DEFAULT 0,
		stock_quantity REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_items_name ON items(name);

	CREATE TABLE IF NOT EXISTS sales (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id   INTEGER,
		customer_id INTEGER,
		sale_type   TEXT NOT NULL DEFAULT 'credit',
		item_id     INTEGER NOT NULL,
		quantity    REAL NOT NULL,
		unit_price  REAL NOT NULL,
		paid_amount REAL NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL,
		sync_state  TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_sales_customer ON sales(customer_id);
	CREATE INDEX IF NOT EXISTS idx_sales_created  ON sales(created_at);
	CREATE INDEX IF NOT EXISTS idx_sales_state    ON sales(sync_state);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		op_type         TEXT NOT NULL,
		payload         BLOB NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		sync_state      TEXT NOT NULL DEFAULT 'pending',
		enqueued_at     TIMESTAMP NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMP NOT NULL,
		last_error      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_queue_state ON sync_queue(sync_state);

	CREATE TABLE IF NOT EXISTS response_cache (
		url        TEXT NOT NULL,
		generation TEXT NOT NULL,
		status     INTEGER NOT NULL,
		headers    BLOB NOT NULL,
		body       BLOB NOT NULL,
		kind       TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL,
		PRIMARY KEY (url, generation)
	);
	CREATE INDEX IF NOT EXISTS idx_cache_generation ON response_cache(generation);
	`

	_, err := db.Exec(schema)
	return err
}
