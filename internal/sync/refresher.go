package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/store"
)

// RecordPuller is the slice of the remote client the refresher consumes.
type RecordPuller interface {
	ListCustomers(ctx context.Context) ([]*store.Customer, error)
	ListItems(ctx context.Context) ([]*store.Item, error)
}

// Refresher pulls the customer and item collections from the server into the
// local store so reads keep working offline. Records are server-owned; the
// pull overwrites whatever is stored locally.
type Refresher struct {
	store   store.Store
	puller  RecordPuller
	monitor ConnectivityMonitor
}

func NewRefresher(st store.Store, puller RecordPuller, monitor ConnectivityMonitor) *Refresher {
	return &Refresher{store: st, puller: puller, monitor: monitor}
}

// Start refreshes once when already online and again after every
// connectivity-restored edge.
func (r *Refresher) Start(ctx context.Context) {
	r.monitor.OnTransition(func(online bool) {
		if !online {
			return
		}
		if err := r.Refresh(ctx); err != nil {
			logger.Log.Warn("Refresh after reconnect failed", zap.Error(err))
		}
	})

	if r.monitor.IsOnline() {
		go func() {
			if err := r.Refresh(ctx); err != nil {
				logger.Log.Warn("Initial refresh failed", zap.Error(err))
			}
		}()
	}
}

func (r *Refresher) Refresh(ctx context.Context) error {
	customers, err := r.puller.ListCustomers(ctx)
	if err != nil {
		return fmt.Errorf("failed to pull customers: %w", err)
	}
	for _, c := range customers {
		if _, err := r.store.PutCustomer(ctx, c); err != nil {
			return err
		}
	}

	items, err := r.puller.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to pull items: %w", err)
	}
	for _, it := range items {
		if _, err := r.store.PutItem(ctx, it); err != nil {
			return err
		}
	}

	logger.Log.Info("Refreshed local collections",
		zap.Int("customers", len(customers)),
		zap.Int("items", len(items)),
	)
	return nil
}
