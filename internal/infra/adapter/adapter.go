// Package adapter implements the Game-Server Adapter (spec §4.E): the
// single persistent RPC connection to the sandbox world, its rate-limited
// command queue, feedback parsing, and combat-state maintenance. It is the
// hardest component in the system and the only one that owns a live
// network connection.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
	"github.com/npcforge/npcforge/internal/infra/eventbus"
	"github.com/npcforge/npcforge/internal/infra/healing"
	"github.com/npcforge/npcforge/internal/infra/persistence"
)

// ConnState is a value in the adapter's connection state machine.
type ConnState string

const (
	StateDisconnected      ConnState = "disconnected"
	StateConnecting        ConnState = "connecting"
	StateConnected         ConnState = "connected"
	StateDisconnecting     ConnState = "disconnecting"
	StateManualDisconnect  ConnState = "manual_disconnect"
)

// Transport is the RPC channel to the game server. A concrete
// implementation (e.g. a TCP-line client) satisfies this for production
// wiring; tests inject a fake.
type Transport interface {
	Connect(ctx context.Context) error
	SendCommand(ctx context.Context, cmd string) (string, error)
	Close() error
}

// Config tunes adapter behavior. Zero values are replaced by the defaults
// noted per field.
type Config struct {
	ReconnectBaseDelay          time.Duration // default 1s
	MaxReconnectDelay           time.Duration // default 30s
	MaxCommandsPerSecond        float64       // default 5
	CommandTimeout              time.Duration // ≥ 1s, default 10s
	HeartbeatInterval           time.Duration // ≥ 5s, default 30s
	HeartbeatCommand            string        // default "/list"
	SnapshotInterval            time.Duration // ≥ 1s, default 5s
	SnapshotPersistenceInterval time.Duration // ≥ 5s, default 60s
	CleanupInterval             time.Duration // default 60s
	CombatantTTL                time.Duration // default 5m
	EventHistoryCap             int           // default 500
	EventHistoryTTL             time.Duration // default 10m
	DedupWindow                 time.Duration // default 2s
	DamageWindow                time.Duration // default 10s
	SnapshotPath                string        // "" disables persistence
	CommandPrefix               string        // default "/npc"
}

func (c Config) normalized() Config {
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.MaxCommandsPerSecond <= 0 {
		c.MaxCommandsPerSecond = 5
	}
	if c.CommandTimeout < time.Second {
		c.CommandTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval < 5*time.Second {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatCommand == "" {
		c.HeartbeatCommand = "/list"
	}
	if c.SnapshotInterval < time.Second {
		c.SnapshotInterval = 5 * time.Second
	}
	if c.SnapshotPersistenceInterval < 5*time.Second {
		c.SnapshotPersistenceInterval = 60 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 60 * time.Second
	}
	if c.CombatantTTL <= 0 {
		c.CombatantTTL = 5 * time.Minute
	}
	if c.EventHistoryCap <= 0 {
		c.EventHistoryCap = 500
	}
	if c.EventHistoryTTL <= 0 {
		c.EventHistoryTTL = 10 * time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Second
	}
	if c.DamageWindow <= 0 {
		c.DamageWindow = 10 * time.Second
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "/npc"
	}
	return c
}

// Metrics is the snapshot returned by GetMetrics.
type Metrics struct {
	CommandsSent       int64     `json:"commandsSent"`
	CommandsFailed     int64     `json:"commandsFailed"`
	CommandsTimedOut   int64     `json:"commandsTimedOut"`
	QueueLength        int       `json:"queueLength"`
	QueueHighWater     int       `json:"queueHighWater"`
	ReconnectAttempts  int       `json:"reconnectAttempts"`
	LastReconnectDelay time.Duration `json:"lastReconnectDelay"`
	Connected          bool      `json:"connected"`
	LastCommandAt      time.Time `json:"lastCommandAt"`
	LastHeartbeatAt    time.Time `json:"lastHeartbeatAt"`
}

// Adapter is the Game-Server Adapter. Safe for concurrent use.
type Adapter struct {
	cfg          Config
	newTransport func() Transport
	onEvent      func(domain.CombatEvent)
	onSignal     func(name string, payload map[string]string)
	snapshotFile *persistence.Store[domain.CombatSnapshotFile]
	breaker      *healing.CircuitBreaker

	mu               sync.Mutex
	state            ConnState
	transport        Transport
	attempt          int
	reconnectTimer   *time.Timer
	manualDisconnect bool

	queue          []*commandRequest
	queueSignal    chan struct{}
	lastSendAt     time.Time
	queueHighWater int

	combatants  map[string]*domain.CombatantState
	history     *domain.Ring[domain.CombatEvent]
	dedup       map[string]time.Time
	templates   map[string]func(params map[string]string) string
	subscribers *eventbus.Bus

	subMu             sync.Mutex
	onCombatSnapshot  func(map[string]domain.CombatantState)
	onCombatUpdate    func(string, domain.CombatantState)

	metrics Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type commandRequest struct {
	cmd        string
	resultCh   chan commandResult
	enqueuedAt time.Time
}

type commandResult struct {
	response string
	err      error
}

// New constructs an Adapter. newTransport is called once per connect
// attempt so a fresh Transport backs every connection.
func New(cfg Config, newTransport func() Transport, onEvent func(domain.CombatEvent), onSignal func(string, map[string]string)) *Adapter {
	cfg = cfg.normalized()
	a := &Adapter{
		cfg:          cfg,
		newTransport: newTransport,
		onEvent:      onEvent,
		onSignal:     onSignal,
		breaker:      healing.NewCircuitBreaker("game-server", healing.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: cfg.MaxReconnectDelay, HalfOpenMax: 1}),
		state:        StateDisconnected,
		queueSignal:  make(chan struct{}, 1),
		combatants:   make(map[string]*domain.CombatantState),
		history:      domain.NewRing[domain.CombatEvent](cfg.EventHistoryCap),
		dedup:        make(map[string]time.Time),
		templates:    make(map[string]func(map[string]string) string),
		subscribers:  eventbus.New(),
		stopCh:       make(chan struct{}),
	}
	if cfg.SnapshotPath != "" {
		a.snapshotFile = persistence.New(cfg.SnapshotPath, func() domain.CombatSnapshotFile {
			return domain.CombatSnapshotFile{Snapshot: make(map[string]domain.CombatantState)}
		})
	}
	// dispatchLoop runs for the lifetime of the Adapter, not per-connection,
	// so reconnects never race two dispatchers over the same queue.
	a.wg.Add(1)
	go a.dispatchLoop()
	return a
}

// Connect transitions disconnected → connecting → connected. Calling it
// while already connecting/connected is a no-op that returns nil.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateDisconnected {
		a.mu.Unlock()
		return nil
	}
	a.state = StateConnecting
	a.manualDisconnect = false
	transport := a.newTransport()
	a.mu.Unlock()

	if err := a.breaker.Allow(); err != nil {
		a.mu.Lock()
		a.state = StateDisconnected
		a.mu.Unlock()
		a.scheduleReconnect()
		return fmt.Errorf("%w: %v", domain.ErrConnectTimeout, err)
	}

	if err := transport.Connect(ctx); err != nil {
		a.breaker.RecordFailure()
		a.mu.Lock()
		a.state = StateDisconnected
		a.mu.Unlock()
		a.scheduleReconnect()
		return err
	}
	a.breaker.RecordSuccess()

	a.mu.Lock()
	a.transport = transport
	a.state = StateConnected
	a.attempt = 0
	a.mu.Unlock()

	a.startPeriodicActivities()
	return nil
}

// Disconnect stops periodic activity, fails queued commands, and closes
// the transport. If manual is set, reconnect scheduling is inhibited.
func (a *Adapter) Disconnect(manual bool) {
	a.mu.Lock()
	if a.state == StateDisconnected || a.state == StateManualDisconnect {
		a.mu.Unlock()
		return
	}
	a.state = StateDisconnecting
	transport := a.transport
	a.transport = nil
	if manual {
		a.manualDisconnect = true
	}
	a.mu.Unlock()

	a.drainQueue(domain.ErrDisconnected)

	if transport != nil {
		_ = transport.Close()
	}

	a.mu.Lock()
	if manual {
		a.state = StateManualDisconnect
	} else {
		a.state = StateDisconnected
	}
	a.mu.Unlock()

	if !manual {
		a.scheduleReconnect()
	}
}

// scheduleReconnect arms the single reconnect timer using the spec's
// exponential-backoff formula, unless manualDisconnect is set.
func (a *Adapter) scheduleReconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manualDisconnect {
		return
	}
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
	}

	attempt := a.attempt
	a.attempt++
	capped := attempt
	if capped > 10 {
		capped = 10
	}
	delay := a.cfg.ReconnectBaseDelay * (1 << uint(capped))
	if delay > a.cfg.MaxReconnectDelay {
		delay = a.cfg.MaxReconnectDelay
	}
	a.metrics.ReconnectAttempts++
	a.metrics.LastReconnectDelay = delay

	a.reconnectTimer = time.AfterFunc(delay, func() {
		_ = a.Connect(context.Background())
	})
}

// State returns the current connection state.
func (a *Adapter) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Shutdown optionally waits (bounded by timeout) for the queue to drain,
// then disconnects and stops all periodic activity.
func (a *Adapter) Shutdown(graceful bool, timeout time.Duration) {
	if graceful {
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			a.mu.Lock()
			empty := len(a.queue) == 0
			a.mu.Unlock()
			if empty {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.Disconnect(true)
	a.wg.Wait()
}

// GetMetrics returns a point-in-time snapshot of adapter metrics.
func (a *Adapter) GetMetrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.metrics
	m.QueueLength = len(a.queue)
	m.QueueHighWater = a.queueHighWater
	m.Connected = a.state == StateConnected
	return m
}
