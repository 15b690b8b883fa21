package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

type SyncState string

const (
	StatePending SyncState = "pending"
	StateSynced  SyncState = "synced"
	StateFailed  SyncState = "failed"
)

type Customer struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Phone string `db:"phone" json:"phone"`
}

type Item struct {
	ID            int64   `db:"id" json:"id"`
	Name          string  `db:"name" json:"name"`
	Category      string  `db:"category" json:"category"`
	Unit          string  `db:"unit" json:"unit"`
	PurchasePrice float64 `db:"purchase_price" json:"purchase_price"`
	SalePrice     float64 `db:"sale_price" json:"sale_price"`
	StockQuantity float64 `db:"stock_quantity" json:"stock_quantity"`
}

// Sale is an append-only local record. ID is a local surrogate; ServerID is
// filled in once the remote server acknowledges the sale. After that the row
// is immutable except for sync_state and server_id.
type Sale struct {
	ID         int64         `db:"id" json:"id"`
	ServerID   sql.NullInt64 `db:"server_id" json:"server_id"`
	CustomerID sql.NullInt64 `db:"customer_id" json:"customer_id"`
	SaleType   string        `db:"sale_type" json:"sale_type"`
	ItemID     int64         `db:"item_id" json:"item_id"`
	Quantity   float64       `db:"quantity" json:"quantity"`
	UnitPrice  float64       `db:"unit_price" json:"unit_price"`
	PaidAmount float64       `db:"paid_amount" json:"paid_amount"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	SyncState  SyncState     `db:"sync_state" json:"sync_state"`
}

// QueueEntry is one durable pending write. IdempotencyKey is assigned at
// enqueue time and never changes, so a replay after a lost acknowledgement
// carries the same key.
type QueueEntry struct {
	ID             int64           `db:"id"`
	OpType         string          `db:"op_type"`
	Payload        json.RawMessage `db:"payload"`
	IdempotencyKey string          `db:"idempotency_key"`
	SyncState      SyncState       `db:"sync_state"`
	EnqueuedAt     time.Time       `db:"enqueued_at"`
	Attempts       int             `db:"attempts"`
	NextAttemptAt  time.Time       `db:"next_attempt_at"`
	LastError      sql.NullString  `db:"last_error"`
}

// CacheEntry is a stored upstream response, scoped to one cache generation.
type CacheEntry struct {
	URL        string          `db:"url"`
	Generation string          `db:"generation"`
	Status     int             `db:"status"`
	Headers    json.RawMessage `db:"headers"`
	Body       []byte          `db:"body"`
	Kind       string          `db:"kind"`
	FetchedAt  time.Time       `db:"fetched_at"`
}
