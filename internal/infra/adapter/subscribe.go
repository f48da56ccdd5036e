package adapter

import (
	"github.com/npcforge/npcforge/internal/domain"
)

// Subscribe implements domain.GameServerAdapter by delegating to the
// shared event bus; see internal/infra/eventbus for the fan-out logic
// (local handlers here, push-channel clients via eventbus.PushServer).
func (a *Adapter) Subscribe(filter domain.SubscriptionFilter, handler func(domain.CombatEvent)) func() {
	return a.subscribers.Subscribe(filter, handler)
}

// OnCombatSnapshot registers fn to receive a defensive copy of the full
// combat state every time a periodic snapshot is emitted (spec §4.E); the
// push channel's combat_snapshot message is sourced from this. Only one
// handler is kept; a later call replaces the former.
func (a *Adapter) OnCombatSnapshot(fn func(map[string]domain.CombatantState)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.onCombatSnapshot = fn
}

// OnCombatUpdate registers fn to be invoked with the post-update state of a
// single combatant immediately after an event is ingested; the push
// channel's combat_update message is sourced from this.
func (a *Adapter) OnCombatUpdate(fn func(entityID string, state domain.CombatantState)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.onCombatUpdate = fn
}
