package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/store"
)

// Engine drains the pending-operation queue against the remote server. It is
// a two-state machine, idle and draining, with per-entry failure handling:
// a failed entry stays pending and the engine always returns to idle.
type Engine struct {
	cfg     config.SyncConfig
	queue   *queue.Queue
	store   store.Store
	sender  SaleSender
	monitor ConnectivityMonitor
	notify  NotifyFunc

	mu       sync.Mutex
	status   Status
	followUp bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(cfg config.SyncConfig, q *queue.Queue, st store.Store, sender SaleSender, monitor ConnectivityMonitor, notify NotifyFunc) *Engine {
	if notify == nil {
		notify = func(message string) {
			logger.Log.Info("Sync notification", zap.String("message", message))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		queue:   q,
		store:   st,
		sender:  sender,
		monitor: monitor,
		notify:  notify,
		status:  StatusIdle,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start hooks the engine onto connectivity transitions and, when already
// online, schedules one drain shortly after startup.
func (e *Engine) Start() {
	e.monitor.OnTransition(func(online bool) {
		if online {
			e.notify("Connection restored. Syncing offline data...")
			e.TriggerDrain()
		} else {
			e.notify("You are offline. Data will be synced when connection is restored.")
		}
	})

	if e.monitor.IsOnline() {
		timer := time.AfterFunc(e.cfg.GetStartupDelay(), e.TriggerDrain)
		go func() {
			<-e.ctx.Done()
			timer.Stop()
		}()
	}
}

// Stop cancels the engine and waits for any in-flight drain. The cancel
// happens under the trigger mutex so a late trigger either sees the
// cancellation or finishes registering its drain before the wait starts.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()
	e.wg.Wait()
	logger.Log.Info("Sync engine stopped")
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// TriggerDrain requests a drain. Safe to call from any goroutine and from
// any trigger source (connectivity edge, scheduler, API, startup timer); a
// trigger arriving while a drain is in flight schedules exactly one
// follow-up pass instead of starting a second drain. A trigger after Stop
// is a no-op.
func (e *Engine) TriggerDrain() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.Err() != nil {
		return
	}
	if e.status == StatusDraining {
		e.followUp = true
		logger.Log.Debug("Drain already in flight, coalescing trigger")
		return
	}
	e.status = StatusDraining
	e.wg.Add(1)
	go e.drainLoop()
}

func (e *Engine) drainLoop() {
	defer e.wg.Done()

	for {
		e.drainPass(e.ctx)

		e.mu.Lock()
		if e.followUp && e.ctx.Err() == nil {
			e.followUp = false
			e.mu.Unlock()
			continue
		}
		e.status = StatusIdle
		e.mu.Unlock()
		return
	}
}

// drainPass works through a snapshot of the pending queue in FIFO order.
// Entries enqueued after the snapshot wait for the next trigger, so a busy
// client cannot starve the pass. One failing entry never blocks the rest.
func (e *Engine) drainPass(ctx context.Context) DrainStats {
	var stats DrainStats

	entries, err := e.queue.Pending(ctx)
	if err != nil {
		logger.Log.Error("Failed to load pending queue", zap.Error(err))
		return stats
	}
	if len(entries) == 0 {
		return stats
	}

	logger.Log.Info("Draining pending queue", zap.Int("pending", len(entries)))
	now := time.Now().UTC()

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.NextAttemptAt.After(now) {
			stats.Deferred++
			continue
		}

		stats.Attempted++
		if err := e.processEntry(ctx, entry); err != nil {
			stats.Failed++
			e.recordFailure(ctx, entry, err)
			continue
		}

		if err := e.queue.MarkSynced(ctx, entry.ID); err != nil {
			// The remote operation succeeded; the entry will replay on the
			// next pass and the idempotency key keeps that safe.
			logger.Log.Error("Failed to mark entry synced",
				zap.Int64("entryID", entry.ID), zap.Error(err))
			stats.Failed++
			continue
		}
		stats.Synced++
	}

	if stats.Synced > 0 {
		e.notify(fmt.Sprintf("%d offline sales synced successfully!", stats.Synced))
	}
	logger.Log.Info("Drain pass complete",
		zap.Int("attempted", stats.Attempted),
		zap.Int("synced", stats.Synced),
		zap.Int("failed", stats.Failed),
		zap.Int("deferred", stats.Deferred),
	)
	return stats
}

func (e *Engine) processEntry(ctx context.Context, entry *store.QueueEntry) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.GetAttemptTimeout())
	defer cancel()

	switch entry.OpType {
	case queue.OpRecordSale:
		return e.replaySale(attemptCtx, entry)
	default:
		// An unknown op type is a permanent failure; leave it pending so it
		// is visible, but report loudly.
		return fmt.Errorf("unknown op type %q", entry.OpType)
	}
}

func (e *Engine) replaySale(ctx context.Context, entry *store.QueueEntry) error {
	var p queue.SalePayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode sale payload: %w", err)
	}

	err := e.sender.RecordSale(ctx, p.SaleType, p.ItemID, p.Quantity, p.UnitPrice, p.PaidAmount, p.CustomerID, entry.IdempotencyKey)
	if err != nil {
		return err
	}

	if p.SaleID != 0 {
		if err := e.store.MarkSaleSynced(ctx, p.SaleID, sql.NullInt64{}); err != nil {
			logger.Log.Error("Sale acknowledged but local flag update failed",
				zap.Int64("saleID", p.SaleID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, entry *store.QueueEntry, cause error) {
	logger.Log.Warn("Sync entry failed, will retry",
		zap.Int64("entryID", entry.ID),
		zap.String("opType", entry.OpType),
		zap.Int("attempts", entry.Attempts+1),
		zap.Error(cause),
	)

	next := time.Now().UTC().Add(e.backoff(entry.Attempts))
	if err := e.queue.RecordFailure(ctx, entry.ID, next, cause); err != nil {
		logger.Log.Error("Failed to record entry failure",
			zap.Int64("entryID", entry.ID), zap.Error(err))
	}

	if entry.OpType == queue.OpRecordSale {
		var p queue.SalePayload
		if json.Unmarshal(entry.Payload, &p) == nil && p.SaleID != 0 {
			if err := e.store.MarkSaleFailed(ctx, p.SaleID); err != nil {
				logger.Log.Error("Failed to flag sale as failed",
					zap.Int64("saleID", p.SaleID), zap.Error(err))
			}
		}
	}
}

// backoff doubles per attempt from the configured base up to the cap, so a
// permanently failing entry cannot hot-loop the drain.
func (e *Engine) backoff(attempts int) time.Duration {
	d := e.cfg.GetBackoffBase()
	limit := e.cfg.GetBackoffCap()
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
