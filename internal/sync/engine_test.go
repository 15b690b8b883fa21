package sync

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/store"
)

type saleCall struct {
	SaleType   string
	ItemID     int64
	Quantity   float64
	UnitPrice  float64
	PaidAmount float64
	CustomerID int64
	Key        string
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []saleCall
	failFor map[int64]error // keyed by item id
	delay   time.Duration
}

func (f *fakeSender) RecordSale(ctx context.Context, saleType string, itemID int64, quantity float64, unitPrice, paidAmount float64, customerID int64, idempotencyKey string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, saleCall{
		SaleType:   saleType,
		ItemID:     itemID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		PaidAmount: paidAmount,
		CustomerID: customerID,
		Key:        idempotencyKey,
	})
	err := f.failFor[itemID]
	f.mu.Unlock()
	return err
}

func (f *fakeSender) recorded() []saleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]saleCall(nil), f.calls...)
}

type fakeMonitor struct {
	mu     sync.Mutex
	online bool
	cbs    []func(bool)
}

func (m *fakeMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *fakeMonitor) OnTransition(cb func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbs = append(m.cbs, cb)
}

func (m *fakeMonitor) setOnline(online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	cbs := make([]func(bool), len(m.cbs))
	copy(cbs, m.cbs)
	m.mu.Unlock()

	if changed {
		for _, cb := range cbs {
			cb(online)
		}
	}
}

type notifyRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (n *notifyRecorder) notify(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *notifyRecorder) recorded() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		StartupDelay:   "1ms",
		AttemptTimeout: "1s",
		BackoffBase:    "1ms",
		BackoffCap:     "4ms",
	}
}

func newTestEngine(t *testing.T, sender *fakeSender, monitor ConnectivityMonitor, notify NotifyFunc) (*Engine, *queue.Queue, store.Store) {
	t.Helper()
	st := store.NewSQLiteStore(store.NewHandle(filepath.Join(t.TempDir(), "engine.db")))
	t.Cleanup(func() { st.Close() })

	q := queue.New(st)
	if monitor == nil {
		monitor = &fakeMonitor{online: true}
	}
	e := NewEngine(testSyncConfig(), q, st, sender, monitor, notify)
	t.Cleanup(e.Stop)
	return e, q, st
}

func enqueueSale(t *testing.T, ctx context.Context, q *queue.Queue, st store.Store, itemID int64) int64 {
	t.Helper()
	sale := &store.Sale{
		SaleType:  "cash",
		ItemID:    itemID,
		Quantity:  1,
		UnitPrice: 10,
		CreatedAt: time.Now().UTC(),
		SyncState: store.StatePending,
	}
	saleID, err := st.CreateSale(ctx, sale)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, queue.OpRecordSale, queue.SalePayload{
		SaleID:    saleID,
		SaleType:  "cash",
		ItemID:    itemID,
		Quantity:  1,
		UnitPrice: 10,
	})
	require.NoError(t, err)
	return saleID
}

func TestDrain_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	e, q, st := newTestEngine(t, sender, nil, nil)

	for _, itemID := range []int64{1, 2, 3} {
		enqueueSale(t, ctx, q, st, itemID)
	}

	stats := e.drainPass(ctx)
	assert.Equal(t, 3, stats.Synced)

	calls := sender.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, int64(1), calls[0].ItemID)
	assert.Equal(t, int64(2), calls[1].ItemID)
	assert.Equal(t, int64(3), calls[2].ItemID)
}

func TestDrain_PartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{failFor: map[int64]error{2: assert.AnError}}
	e, q, st := newTestEngine(t, sender, nil, nil)

	saleA := enqueueSale(t, ctx, q, st, 1)
	saleB := enqueueSale(t, ctx, q, st, 2)
	saleC := enqueueSale(t, ctx, q, st, 3)

	stats := e.drainPass(ctx)
	assert.Equal(t, 2, stats.Synced)
	assert.Equal(t, 1, stats.Failed)

	// B failed but did not block C.
	calls := sender.recorded()
	require.Len(t, calls, 3)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	for saleID, want := range map[int64]store.SyncState{
		saleA: store.StateSynced,
		saleB: store.StateFailed,
		saleC: store.StateSynced,
	} {
		sale, err := st.GetSale(ctx, saleID)
		require.NoError(t, err)
		assert.Equal(t, want, sale.SyncState, "sale %d", saleID)
	}
}

func TestDrain_IdempotencyKeyStableAcrossRetries(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{failFor: map[int64]error{7: assert.AnError}}
	e, q, st := newTestEngine(t, sender, nil, nil)

	enqueueSale(t, ctx, q, st, 7)

	e.drainPass(ctx)
	time.Sleep(10 * time.Millisecond) // let the backoff window lapse

	sender.mu.Lock()
	sender.failFor = nil
	sender.mu.Unlock()

	stats := e.drainPass(ctx)
	assert.Equal(t, 1, stats.Synced)

	calls := sender.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Key, calls[1].Key,
		"a replayed entry must present the same idempotency key")
}

func TestDrain_BackoffDefersRetry(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{failFor: map[int64]error{7: assert.AnError}}
	e, q, st := newTestEngine(t, sender, nil, nil)

	enqueueSale(t, ctx, q, st, 7)

	first := e.drainPass(ctx)
	assert.Equal(t, 1, first.Failed)

	// Immediately after a failure the entry is inside its backoff window.
	second := e.drainPass(ctx)
	assert.Equal(t, 0, second.Attempted)
	assert.Equal(t, 1, second.Deferred)
}

func TestDrain_AggregateNotification(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	rec := &notifyRecorder{}
	e, q, st := newTestEngine(t, sender, nil, rec.notify)

	// The offline sale from the reference scenario.
	saleID, err := st.CreateSale(ctx, &store.Sale{
		SaleType:   "cash",
		ItemID:     7,
		Quantity:   2,
		UnitPrice:  50,
		PaidAmount: 100,
		CreatedAt:  time.Now().UTC(),
		SyncState:  store.StatePending,
	})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.OpRecordSale, queue.SalePayload{
		SaleID:     saleID,
		SaleType:   "cash",
		ItemID:     7,
		Quantity:   2,
		UnitPrice:  50,
		PaidAmount: 100,
	})
	require.NoError(t, err)

	stats := e.drainPass(ctx)
	assert.Equal(t, 1, stats.Synced)

	calls := sender.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(7), calls[0].ItemID)
	assert.Equal(t, float64(2), calls[0].Quantity)
	assert.Equal(t, float64(50), calls[0].UnitPrice)
	assert.Equal(t, float64(100), calls[0].PaidAmount)

	require.Equal(t, []string{"1 offline sales synced successfully!"}, rec.recorded())

	// An empty pass says nothing.
	e.drainPass(ctx)
	assert.Len(t, rec.recorded(), 1)
}

func waitForIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Status() == StatusIdle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("engine did not return to idle")
}

func TestTriggerDrain_CoalescesConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{delay: 20 * time.Millisecond}
	e, q, st := newTestEngine(t, sender, nil, nil)

	for _, itemID := range []int64{1, 2} {
		enqueueSale(t, ctx, q, st, itemID)
	}

	for i := 0; i < 5; i++ {
		e.TriggerDrain()
	}
	waitForIdle(t, e)

	// Coalesced triggers never process an entry twice.
	assert.Len(t, sender.recorded(), 2)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_DrainsOnConnectivityRestored(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	monitor := &fakeMonitor{online: false}
	rec := &notifyRecorder{}
	e, q, st := newTestEngine(t, sender, monitor, rec.notify)

	enqueueSale(t, ctx, q, st, 1)
	e.Start()

	// Offline: nothing moves.
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, sender.recorded())

	monitor.setOnline(true)
	waitForIdle(t, e)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sender.recorded()) == 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Len(t, sender.recorded(), 1)
	assert.Contains(t, rec.recorded(), "Connection restored. Syncing offline data...")
}

func TestEngine_TriggerAfterStopIsNoop(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	e, q, st := newTestEngine(t, sender, nil, nil)

	enqueueSale(t, ctx, q, st, 1)

	e.Stop()
	e.TriggerDrain()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusIdle, e.Status())
	assert.Empty(t, sender.recorded())

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
