package netmon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flipProbe struct {
	mu     sync.Mutex
	online bool
}

func (f *flipProbe) set(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
}

func (f *flipProbe) probe(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func TestMonitor_FiresOncePerEdge(t *testing.T) {
	probe := &flipProbe{online: true}
	m := NewMonitor(probe.probe, 5*time.Millisecond)

	transitions := make(chan bool, 16)
	m.OnTransition(func(online bool) { transitions <- online })

	m.Start()
	defer m.Stop()

	require.True(t, m.IsOnline())

	// Steady state: no callbacks.
	time.Sleep(25 * time.Millisecond)
	assert.Empty(t, transitions)

	probe.set(false)
	select {
	case online := <-transitions:
		assert.False(t, online)
	case <-time.After(time.Second):
		t.Fatal("expected an online->offline transition")
	}

	// Still offline: no second callback for the same edge.
	time.Sleep(25 * time.Millisecond)
	assert.Empty(t, transitions)

	probe.set(true)
	select {
	case online := <-transitions:
		assert.True(t, online)
	case <-time.After(time.Second):
		t.Fatal("expected an offline->online transition")
	}
}

func TestMonitor_IsOnlineReflectsProbe(t *testing.T) {
	probe := &flipProbe{online: false}
	m := NewMonitor(probe.probe, time.Hour)
	m.Start()
	defer m.Stop()

	assert.False(t, m.IsOnline())
	probe.set(true)
	assert.True(t, m.IsOnline(), "IsOnline is a point-in-time check, not a cached value")
}

func TestDialProber_Unreachable(t *testing.T) {
	probe, err := DialProber("http://127.0.0.1:1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, probe(context.Background()))
}
