package netmon

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

// Prober answers a point-in-time "is the transport up" question. It is
// advisory: a true result does not guarantee the server will actually accept
// a request, only that the transport layer looks reachable.
type Prober func(ctx context.Context) bool

// DialProber probes by opening a TCP connection to the upstream host.
func DialProber(baseURL string, timeout time.Duration) (Prober, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	dialer := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context) bool {
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, nil
}

type TransitionFunc = func(online bool)

// Monitor polls the prober and reports connectivity edges. Callbacks fire
// exactly once per offline->online or online->offline transition, never on
// steady state.
type Monitor struct {
	probe    Prober
	interval time.Duration

	mu        sync.Mutex
	online    bool
	callbacks []TransitionFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(probe Prober, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		probe:    probe,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// IsOnline re-probes and returns the current state. The stored edge state is
// updated as a side effect, so an IsOnline call can itself fire transitions.
func (m *Monitor) IsOnline() bool {
	return m.check()
}

func (m *Monitor) OnTransition(cb TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start seeds the state with one probe, then polls on the configured
// interval until Stop.
func (m *Monitor) Start() {
	online := m.probe(m.ctx)
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()

	logger.Log.Info("Network monitor started", zap.Bool("online", online))

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
	logger.Log.Info("Network monitor stopped")
}

func (m *Monitor) check() bool {
	online := m.probe(m.ctx)

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	callbacks := append([]TransitionFunc(nil), m.callbacks...)
	m.mu.Unlock()

	if changed {
		logger.Log.Info("Connectivity transition", zap.Bool("online", online))
		for _, cb := range callbacks {
			cb(online)
		}
	}

	return online
}
