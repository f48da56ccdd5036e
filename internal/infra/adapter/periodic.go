package adapter

import (
	"context"
	"strconv"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// startPeriodicActivities launches the heartbeat, snapshot-emission,
// snapshot-persistence, and cleanup timers for the lifetime of the current
// connection. Each runs in its own goroutine and exits when stopCh closes
// or the adapter disconnects.
func (a *Adapter) startPeriodicActivities() {
	a.wg.Add(1)
	go a.runEvery(a.cfg.HeartbeatInterval, a.heartbeat)

	a.wg.Add(1)
	go a.runEvery(a.cfg.SnapshotInterval, a.emitSnapshot)

	a.wg.Add(1)
	go a.runEvery(a.cfg.CleanupInterval, func() { a.cleanup(time.Now()) })

	if a.snapshotFile != nil {
		a.wg.Add(1)
		go a.runEvery(a.cfg.SnapshotPersistenceInterval, a.persistSnapshot)
	}
}

// runEvery ticks fn at interval until the connection drops or the adapter
// shuts down. Each periodic activity gets its own ticker so a slow one
// never delays the others.
func (a *Adapter) runEvery(interval time.Duration, fn func()) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if a.State() != StateConnected {
				return
			}
			fn()
		}
	}
}

// heartbeat sends the configured benign command; a failure disconnects and
// schedules a reconnect.
func (a *Adapter) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
	defer cancel()

	a.mu.Lock()
	a.metrics.LastHeartbeatAt = time.Now()
	a.mu.Unlock()

	if _, err := a.SendCommand(ctx, a.cfg.HeartbeatCommand); err != nil {
		a.Disconnect(false)
	}
}

// emitSnapshot publishes a combat-state signal to subscribers when combat
// state is non-empty.
func (a *Adapter) emitSnapshot() {
	snap := a.snapshotCombatants()
	if len(snap) == 0 {
		return
	}
	if a.onSignal != nil {
		a.onSignal("combat-snapshot", map[string]string{"entities": strconv.Itoa(len(snap))})
	}
	a.subMu.Lock()
	fn := a.onCombatSnapshot
	a.subMu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// persistSnapshot writes the current combat snapshot through the
// persistence layer.
func (a *Adapter) persistSnapshot() {
	if a.snapshotFile == nil {
		return
	}
	a.snapshotFile.Save(domain.CombatSnapshotFile{
		SavedAt:  time.Now(),
		Snapshot: a.snapshotCombatants(),
	})
}
