package sync

import "context"

type Status string

const (
	StatusIdle     Status = "idle"
	StatusDraining Status = "draining"
)

// ConnectivityMonitor is the slice of the network monitor the engine needs.
type ConnectivityMonitor interface {
	IsOnline() bool
	OnTransition(func(online bool))
}

// SaleSender replays one recorded sale against the remote server.
type SaleSender interface {
	RecordSale(ctx context.Context, saleType string, itemID int64, quantity float64, unitPrice, paidAmount float64, customerID int64, idempotencyKey string) error
}

// NotifyFunc receives user-facing sync messages (aggregate results,
// connectivity changes).
type NotifyFunc func(message string)

// DrainStats summarizes one drain pass over the snapshot of pending entries.
type DrainStats struct {
	Attempted int
	Synced    int
	Failed    int
	Deferred  int
}
