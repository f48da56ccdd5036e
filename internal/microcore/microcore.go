// Package microcore implements the per-bot tick loop (spec §4.D): movement
// toward a target, scheduled scans, a bounded memory FIFO, and status
// snapshot publication. One Microcore owns exactly one goroutine and one
// time.Ticker; state is mutated only by that goroutine, so no lock guards
// it — the single-writer discipline the teacher uses for its save/retry
// queues (internal/infra/scheduler, internal/infra/persistence).
package microcore

import (
	"context"
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// DefaultTickRate is the tick period used when Config.TickRate is unset.
const DefaultTickRate = 200 * time.Millisecond

// MinTickRate is the floor enforced on Config.TickRate.
const MinTickRate = 50 * time.Millisecond

// Adapter is the subset of the game-server adapter a Microcore needs.
type Adapter interface {
	MoveBot(ctx context.Context, botID string, delta domain.Vector3) error
	ScanArea(ctx context.Context, botID string, radius float64) (domain.ScanResult, error)
}

// Config tunes a single Microcore's behavior.
type Config struct {
	TickRate     time.Duration // ≥ MinTickRate; default DefaultTickRate
	StepDistance float64       // units moved per full tick interval at full speed
	ScanInterval time.Duration // 0 disables periodic scanning
	ScanRadius   float64
	Autonomy     bool
}

func (c Config) normalized() Config {
	if c.TickRate <= 0 {
		c.TickRate = DefaultTickRate
	} else if c.TickRate < MinTickRate {
		c.TickRate = MinTickRate
	}
	if c.StepDistance <= 0 {
		c.StepDistance = 1.0
	}
	return c
}

// Microcore runs the tick loop for a single active bot.
type Microcore struct {
	id      string
	adapter Adapter
	cfg     Config

	inbox chan domain.MicrocoreEvent

	onSnapshot func(domain.StatusSnapshot)
	onError    func(botID string, err error)

	memory *domain.Ring[string]
	state  domain.MicrocoreState
	status domain.BotStatus

	snapMu   sync.RWMutex
	snapshot domain.StatusSnapshot

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Microcore. It does not start the tick loop; call Run.
func New(id string, adapter Adapter, cfg Config, initial domain.MicrocoreState, status domain.BotStatus, onSnapshot func(domain.StatusSnapshot), onError func(string, error)) *Microcore {
	cfg = cfg.normalized()
	mc := &Microcore{
		id:         id,
		adapter:    adapter,
		cfg:        cfg,
		inbox:      make(chan domain.MicrocoreEvent, 64),
		onSnapshot: onSnapshot,
		onError:    onError,
		memory:     domain.NewRing[string](domain.MicrocoreMemoryCap),
		state:      initial,
		status:     status,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if initial.Memory != nil {
		for _, m := range initial.Memory {
			mc.memory.Push(m)
		}
	}
	return mc
}

// Run starts the tick loop in a new goroutine. Calling Run more than once
// is a programmer error; use a Manager to enforce the stop-then-start
// replacement rule per bot id.
func (mc *Microcore) Run() {
	go mc.loop()
}

func (mc *Microcore) loop() {
	defer close(mc.doneCh)

	ticker := time.NewTicker(mc.cfg.TickRate)
	defer ticker.Stop()

	last := time.Now()
	first := true
	for {
		select {
		case <-mc.stopCh:
			return
		case now := <-ticker.C:
			var elapsed time.Duration
			if first {
				elapsed = mc.cfg.TickRate
				first = false
			} else {
				elapsed = now.Sub(last)
			}
			last = now
			mc.tick(elapsed, "tick")
		}
	}
}

// Stop idempotently and synchronously halts the tick loop.
func (mc *Microcore) Stop() {
	mc.stopOnce.Do(func() {
		close(mc.stopCh)
	})
	<-mc.doneCh
}

// Send enqueues an inbound event. Returns false if the inbox is full,
// meaning the event is dropped rather than blocking the caller.
func (mc *Microcore) Send(ev domain.MicrocoreEvent) bool {
	select {
	case mc.inbox <- ev:
		return true
	default:
		return false
	}
}

// Snapshot returns the most recently published status snapshot.
func (mc *Microcore) Snapshot() domain.StatusSnapshot {
	mc.snapMu.RLock()
	defer mc.snapMu.RUnlock()
	return mc.snapshot
}

// tick runs one full iteration of the spec's 5-step tick algorithm. Only
// the loop goroutine calls this, so mc.state is unsynchronized.
func (mc *Microcore) tick(elapsed time.Duration, reason string) {
	mc.drainEvents()
	moveReason := mc.advanceMovement(elapsed)
	scanned := mc.maybeScan()

	switch {
	case moveReason == "taskComplete":
		reason = "taskComplete"
	case scanned:
		reason = "scan"
	case moveReason == "move":
		reason = "move"
	}
	mc.publishSnapshot(reason)
}

func (mc *Microcore) drainEvents() {
	for {
		select {
		case ev := <-mc.inbox:
			mc.applyEvent(ev)
		default:
			return
		}
	}
}

func (mc *Microcore) applyEvent(ev domain.MicrocoreEvent) {
	switch ev.Kind {
	case domain.EventMoveTo:
		if ev.Target != nil {
			t := *ev.Target
			mc.state.Target = &t
		}
	case domain.EventTask:
		mc.state.CurrentTask = ev.Task
		if ev.Memory != "" {
			mc.memory.Push(ev.Memory)
		}
	case domain.EventScanNow:
		mc.state.LastScanAt = time.Time{} // forces maybeScan to fire this tick
	case domain.EventPhaseUpdate:
		mc.state.Phase = ev.Phase
		mc.memory.Push("phase changed to " + phaseLabel(ev.Phase))
	}
	if ev.Memory != "" && ev.Kind != domain.EventTask {
		mc.memory.Push(ev.Memory)
	}
	mc.state.Memory = mc.memory.Snapshot()
}

// advanceMovement implements spec §4.D step 3. It returns the cause of the
// tick's snapshot publish: "taskComplete" when the target was just reached
// and a task was running, "move" when the bot stepped toward a target, or
// "" when there was nothing to move (no target set).
func (mc *Microcore) advanceMovement(elapsed time.Duration) string {
	mc.state.TickCount++

	if mc.state.Target == nil {
		return ""
	}
	delta := mc.state.Target.Sub(mc.state.Position)
	dist := delta.Length()

	if dist <= 0.001 {
		mc.state.Position = *mc.state.Target
		mc.state.Velocity = domain.Vector3{}
		hadTask := mc.state.CurrentTask != ""
		mc.state.Target = nil
		if hadTask {
			mc.memory.Push("task complete: " + mc.state.CurrentTask)
			mc.state.CurrentTask = ""
		}
		mc.state.Memory = mc.memory.Snapshot()
		if hadTask {
			return "taskComplete"
		}
		return "move"
	}

	frac := float64(elapsed) / float64(mc.cfg.TickRate)
	step := min(dist, max(mc.cfg.StepDistance*frac, 0.01))
	dir := delta.Scale(1 / dist)
	moveDelta := dir.Scale(step)

	mc.state.Position = mc.state.Position.Add(moveDelta)
	mc.state.Velocity = dir.Scale(mc.cfg.StepDistance)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.adapter.MoveBot(ctx, mc.id, moveDelta); err != nil && mc.onError != nil {
		mc.onError(mc.id, err)
	}
	return "move"
}

// maybeScan implements spec §4.D step 4. Returns true when a scan was
// actually issued this tick.
func (mc *Microcore) maybeScan() bool {
	if mc.cfg.ScanInterval <= 0 {
		return false
	}
	if time.Since(mc.state.LastScanAt) < mc.cfg.ScanInterval {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := mc.adapter.ScanArea(ctx, mc.id, mc.cfg.ScanRadius)
	mc.state.LastScanAt = time.Now()
	if err != nil {
		if mc.onError != nil {
			mc.onError(mc.id, err)
		}
		return true
	}
	mc.state.LastScanResult = &result

	if mc.cfg.Autonomy && mc.state.CurrentTask == "" {
		for _, hint := range phaseHints(mc.state.Phase, result) {
			mc.memory.Push(hint)
		}
		mc.state.Memory = mc.memory.Snapshot()
	}
	return true
}

func (mc *Microcore) publishSnapshot(reason string) {
	snap := domain.StatusSnapshot{
		BotID:      mc.id,
		Reason:     reason,
		TickCount:  mc.state.TickCount,
		Position:   mc.state.Position,
		Velocity:   mc.state.Velocity,
		Task:       mc.state.CurrentTask,
		Status:     mc.status,
		Memory:     append([]string(nil), mc.state.Memory...),
		LastScan:   mc.state.LastScanResult,
		LastTickAt: time.Now(),
	}
	mc.snapMu.Lock()
	mc.snapshot = snap
	mc.snapMu.Unlock()

	if mc.onSnapshot != nil {
		mc.onSnapshot(snap)
	}
}

// phaseHints returns memory-only hints for autonomous behavior; it never
// issues movement, per spec §4.D step 4.
func phaseHints(phase int, scan domain.ScanResult) []string {
	if len(scan.Nearby) == 0 {
		return nil
	}
	return []string{phaseLabel(phase) + ": spotted " + scan.Nearby[0]}
}

func phaseLabel(phase int) string {
	switch phase {
	case 1:
		return "phase-1-survey"
	case 2:
		return "phase-2-approach"
	case 3:
		return "phase-3-engage"
	case 4:
		return "phase-4-consolidate"
	case 5:
		return "phase-5-withdraw"
	case 6:
		return "phase-6-idle"
	default:
		return "phase-unknown"
	}
}
