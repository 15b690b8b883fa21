package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/store"
)

type fakePuller struct {
	customers []*store.Customer
	items     []*store.Item
	err       error
}

func (f *fakePuller) ListCustomers(ctx context.Context) ([]*store.Customer, error) {
	return f.customers, f.err
}

func (f *fakePuller) ListItems(ctx context.Context) ([]*store.Item, error) {
	return f.items, f.err
}

func TestRefresher_MirrorsServerRecords(t *testing.T) {
	ctx := context.Background()
	st := store.NewSQLiteStore(store.NewHandle(filepath.Join(t.TempDir(), "refresh.db")))
	defer st.Close()

	puller := &fakePuller{
		customers: []*store.Customer{
			{ID: 1, Name: "Amina", Phone: "111"},
			{ID: 2, Name: "Bashir", Phone: "222"},
		},
		items: []*store.Item{
			{ID: 7, Name: "Sugar 1kg", SalePrice: 50},
		},
	}
	r := NewRefresher(st, puller, &fakeMonitor{online: true})

	require.NoError(t, r.Refresh(ctx))

	customers, err := st.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 2)

	items, err := st.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Sugar 1kg", items[0].Name)

	// A second pull overwrites rather than duplicates.
	puller.customers[0].Phone = "999"
	require.NoError(t, r.Refresh(ctx))

	got, err := st.GetCustomer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "999", got.Phone)
}

func TestRefresher_PullFailureReported(t *testing.T) {
	st := store.NewSQLiteStore(store.NewHandle(filepath.Join(t.TempDir(), "refresh.db")))
	defer st.Close()

	r := NewRefresher(st, &fakePuller{err: assert.AnError}, &fakeMonitor{})
	assert.Error(t, r.Refresh(context.Background()))
}
