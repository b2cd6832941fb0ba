// Package connectivity adapts the external online/offline signal. The
// engine never polls the network; whoever owns the real signal feeds edges
// into the Monitor, and an offline→online edge fires the registered
// callbacks (typically a sync trigger).
package connectivity

import "sync"

type onlineSub struct {
	id int
	fn func()
}

// Monitor tracks the connectivity flag and edge-triggers callbacks.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   []onlineSub
}

// NewMonitor starts offline; the owner reports the initial state.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// IsOnline returns the last reported connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the state and, on an offline→online edge, invokes the
// callbacks in registration order. Repeated online reports do not re-fire.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	cameOnline := online && !m.online
	m.online = online
	subs := make([]onlineSub, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !cameOnline {
		return
	}
	for _, s := range subs {
		s.fn()
	}
}

// OnOnline registers a callback for the just-came-online event and returns
// its unsubscribe function. Unsubscribe is idempotent.
func (m *Monitor) OnOnline(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, onlineSub{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}
