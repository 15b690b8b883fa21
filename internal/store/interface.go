package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by point lookups when no record matches.
var ErrNotFound = errors.New("record not found")

type Store interface {
	// Customers
	PutCustomer(ctx context.Context, c *Customer) (int64, error)
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	ListCustomers(ctx context.Context) ([]*Customer, error)
	SearchCustomers(ctx context.Context, query string) ([]*Customer, error)

	// Items
	PutItem(ctx context.Context, it *Item) (int64, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItems(ctx context.Context) ([]*Item, error)

	// Sales
	CreateSale(ctx context.Context, s *Sale) (int64, error)
	CreateSaleWithOp(ctx context.Context, s *Sale, makeEntry func(saleID int64) (*QueueEntry, error)) (saleID, entryID int64, err error)
	GetSale(ctx context.Context, id int64) (*Sale, error)
	ListSales(ctx context.Context) ([]*Sale, error)
	MarkSaleSynced(ctx context.Context, id int64, serverID sql.NullInt64) error
	MarkSaleFailed(ctx context.Context, id int64) error

	// Pending-operation queue
	EnqueueOp(ctx context.Context, e *QueueEntry) (int64, error)
	PendingOps(ctx context.Context) ([]*QueueEntry, error)
	MarkOpSynced(ctx context.Context, id int64) error
	RecordOpFailure(ctx context.Context, id int64, nextAttempt time.Time, cause string) error

	// Response cache
	PutCacheEntry(ctx context.Context, e *CacheEntry) error
	GetCacheEntry(ctx context.Context, url string) (*CacheEntry, error)
	ListCacheGenerations(ctx context.Context) ([]string, error)
	DeleteCacheGenerationsExcept(ctx context.Context, keep []string) error

	Close() error
}
