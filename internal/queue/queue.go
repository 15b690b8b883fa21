package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/store"
)

const OpRecordSale = "record_sale"

// SalePayload is the serialized form of a queued sale write. The fields map
// one-to-one onto the upstream form protocol.
type SalePayload struct {
	SaleID     int64   `json:"sale_id"`
	SaleType   string  `json:"sale_type"`
	ItemID     int64   `json:"item_id"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	PaidAmount float64 `json:"paid_amount"`
	CustomerID int64   `json:"customer_id,omitempty"`
}

// Queue is the durable FIFO of pending writes. It owns the lifecycle of
// queue entries; nothing else touches them.
type Queue struct {
	store store.Store
}

func New(st store.Store) *Queue {
	return &Queue{store: st}
}

// newEntry fixes the idempotency key here, once, so every replay of this
// entry is recognizable to the server as the same operation.
func newEntry(opType string, raw []byte) *store.QueueEntry {
	now := time.Now().UTC()
	return &store.QueueEntry{
		OpType:         opType,
		Payload:        raw,
		IdempotencyKey: uuid.New().String(),
		SyncState:      store.StatePending,
		EnqueuedAt:     now,
		NextAttemptAt:  now,
	}
}

// Enqueue durably records a pending write and returns its entry id.
func (q *Queue) Enqueue(ctx context.Context, opType string, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize %s payload: %w", opType, err)
	}

	id, err := q.store.EnqueueOp(ctx, newEntry(opType, raw))
	if err != nil {
		return 0, err
	}

	logger.Log.Debug("Enqueued pending operation",
		zap.Int64("entryID", id),
		zap.String("opType", opType),
	)
	return id, nil
}

// RecordSale writes the sale row and its pending entry in one transaction. A
// sale that landed without an entry would never replay, so the pair commits
// together or not at all.
func (q *Queue) RecordSale(ctx context.Context, sale *store.Sale, p SalePayload) (saleID, entryID int64, err error) {
	saleID, entryID, err = q.store.CreateSaleWithOp(ctx, sale, func(id int64) (*store.QueueEntry, error) {
		p.SaleID = id
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s payload: %w", OpRecordSale, err)
		}
		return newEntry(OpRecordSale, raw), nil
	})
	if err != nil {
		return 0, 0, err
	}

	logger.Log.Debug("Recorded sale with pending entry",
		zap.Int64("saleID", saleID),
		zap.Int64("entryID", entryID),
	)
	return saleID, entryID, nil
}

// Pending returns un-synced entries in strict enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]*store.QueueEntry, error) {
	return q.store.PendingOps(ctx)
}

// MarkSynced is the durability boundary: an entry is flagged synced only
// after the server acknowledged it. A crash before this call means the entry
// replays on the next pass.
func (q *Queue) MarkSynced(ctx context.Context, id int64) error {
	return q.store.MarkOpSynced(ctx, id)
}

// RecordFailure bumps the attempt counter and pushes the next attempt out.
func (q *Queue) RecordFailure(ctx context.Context, id int64, nextAttempt time.Time, cause error) error {
	return q.store.RecordOpFailure(ctx, id, nextAttempt, cause.Error())
}
