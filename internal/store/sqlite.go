package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLiteStore implements Store on top of the shared sqlite handle. All SQL
// for every collection lives here; the queue and cache packages own the
// lifecycle of their rows but go through these methods.
type SQLiteStore struct {
	handle *Handle
}

func NewSQLiteStore(handle *Handle) *SQLiteStore {
	return &SQLiteStore{handle: handle}
}

func (s *SQLiteStore) db() (*sqlx.DB, error) {
	return s.handle.Open()
}

func (s *SQLiteStore) Close() error {
	return s.handle.Close()
}

// --- Customers ---

func (s *SQLiteStore) PutCustomer(ctx context.Context, c *Customer) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	const q = `
		INSERT INTO customers (id, name, phone) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name  = excluded.name,
			phone = excluded.phone`
	if _, err := db.ExecContext(ctx, q, c.ID, c.Name, c.Phone); err != nil {
		return 0, fmt.Errorf("put customer %d failed: %w", c.ID, err)
	}
	return c.ID, nil
}

func (s *SQLiteStore) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var c Customer
	err = db.GetContext(ctx, &c, `SELECT id, name, phone FROM customers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %d failed: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCustomers(ctx context.Context) ([]*Customer, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var out []*Customer
	if err := db.SelectContext(ctx, &out, `SELECT id, name, phone FROM customers ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list customers failed: %w", err)
	}
	return out, nil
}

// SearchCustomers matches name case-insensitively or phone by substring,
// mirroring the lookup the sale screen does while offline.
func (s *SQLiteStore) SearchCustomers(ctx context.Context, query string) ([]*Customer, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	pattern := "%" + strings.ToLower(query) + "%"
	const q = `
		SELECT id, name, phone FROM customers
		WHERE lower(name) LIKE ? OR phone LIKE ?
		ORDER BY name`
	var out []*Customer
	if err := db.SelectContext(ctx, &out, q, pattern, "%"+query+"%"); err != nil {
		return nil, fmt.Errorf("search customers %q failed: %w", query, err)
	}
	return out, nil
}

// --- Items ---

func (s *SQLiteStore) PutItem(ctx context.Context, it *Item) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	const q = `
		INSERT INTO items (id, name, category, unit, purchase_price, sale_price, stock_quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name           = excluded.name,
			category       = excluded.category,
			unit           = excluded.unit,
			purchase_price = excluded.purchase_price,
			sale_price     = excluded.sale_price,
			stock_quantity = excluded.stock_quantity`
	if _, err := db.ExecContext(ctx, q,
		it.ID, it.Name, it.Category, it.Unit, it.PurchasePrice, it.SalePrice, it.StockQuantity); err != nil {
		return 0, fmt.Errorf("put item %d failed: %w", it.ID, err)
	}
	return it.ID, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*Item, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var it Item
	err = db.GetContext(ctx, &it, `
		SELECT id, name, category, unit, purchase_price, sale_price, stock_quantity
		FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d failed: %w", id, err)
	}
	return &it, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]*Item, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var out []*Item
	if err := db.SelectContext(ctx, &out, `
		SELECT id, name, category, unit, purchase_price, sale_price, stock_quantity
		FROM items ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list items failed: %w", err)
	}
	return out, nil
}

// --- Sales ---

const insertSaleSQL = `
	INSERT INTO sales (server_id, customer_id, sale_type, item_id, quantity, unit_price, paid_amount, created_at, sync_state)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertSale(ctx context.Context, ex sqlx.ExtContext, sale *Sale) (int64, error) {
	res, err := ex.ExecContext(ctx, insertSaleSQL,
		sale.ServerID,
		sale.CustomerID,
		sale.SaleType,
		sale.ItemID,
		sale.Quantity,
		sale.UnitPrice,
		sale.PaidAmount,
		sale.CreatedAt,
		sale.SyncState,
	)
	if err != nil {
		return 0, fmt.Errorf("create sale failed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create sale: no insert id: %w", err)
	}
	sale.ID = id
	return id, nil
}

func (s *SQLiteStore) CreateSale(ctx context.Context, sale *Sale) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	return insertSale(ctx, db, sale)
}

// CreateSaleWithOp writes a sale row and its queue entry in one transaction.
// makeEntry builds the entry once the sale id is known; any failure rolls
// back the sale row too, so a pending sale can never exist without an entry
// to replay it.
func (s *SQLiteStore) CreateSaleWithOp(ctx context.Context, sale *Sale, makeEntry func(saleID int64) (*QueueEntry, error)) (int64, int64, error) {
	var saleID, entryID int64
	err := s.handle.ExecTx(func(tx *sqlx.Tx) error {
		id, err := insertSale(ctx, tx, sale)
		if err != nil {
			return err
		}
		saleID = id

		entry, err := makeEntry(id)
		if err != nil {
			return fmt.Errorf("build queue entry for sale %d failed: %w", id, err)
		}
		entryID, err = insertOp(ctx, tx, entry)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return saleID, entryID, nil
}

func (s *SQLiteStore) GetSale(ctx context.Context, id int64) (*Sale, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var sale Sale
	err = db.GetContext(ctx, &sale, `
		SELECT id, server_id, customer_id, sale_type, item_id, quantity, unit_price, paid_amount, created_at, sync_state
		FROM sales WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sale %d failed: %w", id, err)
	}
	return &sale, nil
}

func (s *SQLiteStore) ListSales(ctx context.Context) ([]*Sale, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var out []*Sale
	err = db.SelectContext(ctx, &out, `
		SELECT id, server_id, customer_id, sale_type, item_id, quantity, unit_price, paid_amount, created_at, sync_state
		FROM sales ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sales failed: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkSaleSynced(ctx context.Context, id int64, serverID sql.NullInt64) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`UPDATE sales SET sync_state = ?, server_id = ? WHERE id = ?`,
		StateSynced, serverID, id)
	if err != nil {
		return fmt.Errorf("mark sale %d synced failed: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkSaleFailed(ctx context.Context, id int64) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`UPDATE sales SET sync_state = ? WHERE id = ? AND sync_state != ?`,
		StateFailed, id, StateSynced)
	if err != nil {
		return fmt.Errorf("mark sale %d failed: %w", id, err)
	}
	return nil
}

// --- Pending-operation queue ---

const insertOpSQL = `
	INSERT INTO sync_queue (op_type, payload, idempotency_key, sync_state, enqueued_at, attempts, next_attempt_at)
	VALUES (?, ?, ?, ?, ?, 0, ?)`

func insertOp(ctx context.Context, ex sqlx.ExtContext, e *QueueEntry) (int64, error) {
	res, err := ex.ExecContext(ctx, insertOpSQL,
		e.OpType,
		[]byte(e.Payload),
		e.IdempotencyKey,
		StatePending,
		e.EnqueuedAt,
		e.NextAttemptAt,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s op failed: %w", e.OpType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue op: no insert id: %w", err)
	}
	e.ID = id
	return id, nil
}

func (s *SQLiteStore) EnqueueOp(ctx context.Context, e *QueueEntry) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	return insertOp(ctx, db, e)
}

// PendingOps returns every un-synced entry in enqueue order.
func (s *SQLiteStore) PendingOps(ctx context.Context) ([]*QueueEntry, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var out []*QueueEntry
	err = db.SelectContext(ctx, &out, `
		SELECT id, op_type, payload, idempotency_key, sync_state, enqueued_at, attempts, next_attempt_at, last_error
		FROM sync_queue WHERE sync_state = ? ORDER BY id ASC`, StatePending)
	if err != nil {
		return nil, fmt.Errorf("list pending ops failed: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkOpSynced(ctx context.Context, id int64) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`UPDATE sync_queue SET sync_state = ?, last_error = NULL WHERE id = ?`,
		StateSynced, id)
	if err != nil {
		return fmt.Errorf("mark op %d synced failed: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RecordOpFailure(ctx context.Context, id int64, nextAttempt time.Time, cause string) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE sync_queue
		SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		nextAttempt, cause, id)
	if err != nil {
		return fmt.Errorf("record op %d failure failed: %w", id, err)
	}
	return nil
}

// --- Response cache ---

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e *CacheEntry) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO response_cache (url, generation, status, headers, body, kind, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, generation) DO UPDATE SET
			status     = excluded.status,
			headers    = excluded.headers,
			body       = excluded.body,
			kind       = excluded.kind,
			fetched_at = excluded.fetched_at`
	_, err = db.ExecContext(ctx, q,
		e.URL, e.Generation, e.Status, []byte(e.Headers), e.Body, e.Kind, e.FetchedAt)
	if err != nil {
		return fmt.Errorf("put cache entry %s failed: %w", e.URL, err)
	}
	return nil
}

// GetCacheEntry returns the freshest stored response for url across all live
// generations.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, url string) (*CacheEntry, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var e CacheEntry
	err = db.GetContext(ctx, &e, `
		SELECT url, generation, status, headers, body, kind, fetched_at
		FROM response_cache WHERE url = ?
		ORDER BY fetched_at DESC LIMIT 1`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry %s failed: %w", url, err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListCacheGenerations(ctx context.Context) ([]string, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var out []string
	if err := db.SelectContext(ctx, &out, `SELECT DISTINCT generation FROM response_cache ORDER BY generation`); err != nil {
		return nil, fmt.Errorf("list cache generations failed: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteCacheGenerationsExcept(ctx context.Context, keep []string) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	if len(keep) == 0 {
		if _, err := db.ExecContext(ctx, `DELETE FROM response_cache`); err != nil {
			return fmt.Errorf("evict cache generations failed: %w", err)
		}
		return nil
	}

	q, args, err := sqlx.In(`DELETE FROM response_cache WHERE generation NOT IN (?)`, keep)
	if err != nil {
		return fmt.Errorf("evict cache generations: build query: %w", err)
	}
	if _, err := db.ExecContext(ctx, db.Rebind(q), args...); err != nil {
		return fmt.Errorf("evict cache generations failed: %w", err)
	}
	return nil
}
