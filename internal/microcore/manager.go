package microcore

import (
	"sync"

	"github.com/npcforge/npcforge/internal/domain"
)

// Manager owns the set of currently-running Microcore instances, one per
// active bot id, and enforces that starting a replacement for an id stops
// any existing loop first.
type Manager struct {
	adapter    Adapter
	onSnapshot func(domain.StatusSnapshot)
	onError    func(botID string, err error)

	mu    sync.Mutex
	cores map[string]*Microcore
}

// NewManager constructs a Manager. onSnapshot and onError may be nil.
func NewManager(adapter Adapter, onSnapshot func(domain.StatusSnapshot), onError func(string, error)) *Manager {
	return &Manager{
		adapter:    adapter,
		onSnapshot: onSnapshot,
		onError:    onError,
		cores:      make(map[string]*Microcore),
	}
}

// Start stops any existing loop for id, then starts a fresh Microcore.
func (m *Manager) Start(id string, cfg Config, initial domain.MicrocoreState, status domain.BotStatus) *Microcore {
	m.mu.Lock()
	existing := m.cores[id]
	delete(m.cores, id)
	m.mu.Unlock()

	if existing != nil {
		existing.Stop()
	}

	mc := New(id, m.adapter, cfg, initial, status, m.onSnapshot, m.onError)
	m.mu.Lock()
	m.cores[id] = mc
	m.mu.Unlock()

	mc.Run()
	return mc
}

// Stop halts and removes id's loop, if any. Idempotent.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	mc := m.cores[id]
	delete(m.cores, id)
	m.mu.Unlock()

	if mc != nil {
		mc.Stop()
	}
}

// StopAll halts every running loop, used on daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cores := make([]*Microcore, 0, len(m.cores))
	for _, mc := range m.cores {
		cores = append(cores, mc)
	}
	m.cores = make(map[string]*Microcore)
	m.mu.Unlock()

	for _, mc := range cores {
		mc.Stop()
	}
}

// Send routes an event to id's loop. Returns false if no loop is running
// for id or its inbox is full.
func (m *Manager) Send(id string, ev domain.MicrocoreEvent) bool {
	m.mu.Lock()
	mc := m.cores[id]
	m.mu.Unlock()
	if mc == nil {
		return false
	}
	return mc.Send(ev)
}

// Snapshot returns id's most recent status snapshot, if a loop is running.
func (m *Manager) Snapshot(id string) (domain.StatusSnapshot, bool) {
	m.mu.Lock()
	mc := m.cores[id]
	m.mu.Unlock()
	if mc == nil {
		return domain.StatusSnapshot{}, false
	}
	return mc.Snapshot(), true
}

// Running reports whether a loop is currently active for id.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cores[id]
	return ok
}
