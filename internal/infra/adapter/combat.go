package adapter

import (
	"strings"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// ingestLine parses one feedback line and, if it yields a non-duplicate
// event, updates combat state, appends to history, and fans it out.
func (a *Adapter) ingestLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	ev, ok := parseFeedbackLine(line, time.Now())
	if !ok {
		return
	}
	a.ingestEvent(ev)
}

// ingestEvent applies dedup, combat-state maintenance, and fan-out for an
// already-parsed event. Used directly by callers that build CombatEvent
// from structured update-server payloads rather than raw text lines.
func (a *Adapter) ingestEvent(ev domain.CombatEvent) {
	key := ev.DedupKey()

	a.mu.Lock()
	if last, seen := a.dedup[key]; seen && ev.Timestamp.Sub(last) < a.cfg.DedupWindow {
		a.mu.Unlock()
		return
	}
	a.dedup[key] = ev.Timestamp
	a.history.Push(ev)

	var updates []domain.CombatantState
	if ev.Target != "" {
		a.updateTarget(ev)
		if tgt := a.combatants[ev.Target]; tgt != nil {
			updates = append(updates, *tgt)
		}
	}
	if ev.Source != "" {
		a.updateSource(ev)
		if src := a.combatants[ev.Source]; src != nil {
			updates = append(updates, *src)
		}
	}
	if ev.Source != "" && ev.Target != "" && domain.IsFriendlyID(ev.Source) && domain.IsFriendlyID(ev.Target) {
		if a.onSignal != nil {
			a.onSignal("friendly-fire", map[string]string{"source": ev.Source, "target": ev.Target})
		}
	}
	a.mu.Unlock()

	a.subMu.Lock()
	updateFn := a.onCombatUpdate
	a.subMu.Unlock()
	if updateFn != nil {
		for _, u := range updates {
			updateFn(u.ID, u)
		}
	}

	a.subscribers.Publish(ev)
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

// combatant returns (creating if absent) the tracking record for id. Caller
// must hold a.mu.
func (a *Adapter) combatant(id string) *domain.CombatantState {
	c, ok := a.combatants[id]
	if !ok {
		c = &domain.CombatantState{ID: id, Status: domain.CombatantActive}
		a.combatants[id] = c
	}
	return c
}

func (a *Adapter) updateTarget(ev domain.CombatEvent) {
	c := a.combatant(ev.Target)
	c.UpdatedAt = ev.Timestamp
	c.LastEvent = &ev

	switch ev.Type {
	case domain.EventAttack, domain.EventDamage:
		dmg := ev.Damage
		if ev.Amount > 0 {
			c.Health = ev.Amount
		} else {
			c.Health = max(c.Health-dmg, 0)
		}
		c.LastDamage = dmg
		c.DamageTaken.Add(ev.Timestamp, dmg, a.cfg.DamageWindow)
		if c.Health <= 0 {
			c.Status = domain.CombatantDown
		}
	case domain.EventHealth:
		c.Health = ev.Amount
		if ev.Damage > 0 {
			c.MaxHealth = ev.Damage
		}
		if c.Health <= 0 {
			c.Status = domain.CombatantDown
		} else {
			c.Status = domain.CombatantActive
		}
	case domain.EventDefeated:
		c.Status = domain.CombatantDefeated
		c.Health = 0
	case domain.EventHeal:
		c.Health += ev.Amount
		if c.MaxHealth > 0 && c.Health > c.MaxHealth {
			c.Health = c.MaxHealth
		}
		if c.Health > 0 && c.Status != domain.CombatantDefeated {
			c.Status = domain.CombatantActive
		}
	case domain.EventDodge, domain.EventBlock, domain.EventParry:
		c.LastDefensiveAt = ev.Timestamp
	case domain.EventDurability:
		if c.Durability == nil {
			c.Durability = make(map[string]float64)
		}
		c.Durability[ev.Item] = ev.Amount
	}
}

func (a *Adapter) updateSource(ev domain.CombatEvent) {
	c := a.combatant(ev.Source)
	c.UpdatedAt = ev.Timestamp
	c.LastAction = string(ev.Type)

	switch ev.Type {
	case domain.EventAttack:
		c.LastCritical = ev.Critical
		c.DamageDealt.Add(ev.Timestamp, ev.Damage, a.cfg.DamageWindow)
	case domain.EventDodge, domain.EventBlock, domain.EventParry:
		if ev.Target != "" {
			c.LastCounteredBy = ev.Target
		}
	}
}

// cleanup evicts idle combatants and prunes history/dedup beyond TTL, per
// spec §4.E's periodic cleanup activity.
func (a *Adapter) cleanup(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, c := range a.combatants {
		if now.Sub(c.UpdatedAt) > a.cfg.CombatantTTL {
			delete(a.combatants, id)
		}
	}
	for k, t := range a.dedup {
		if now.Sub(t) > a.cfg.EventHistoryTTL {
			delete(a.dedup, k)
		}
	}

	var kept []domain.CombatEvent
	for _, ev := range a.history.Snapshot() {
		if now.Sub(ev.Timestamp) <= a.cfg.EventHistoryTTL {
			kept = append(kept, ev)
		}
	}
	a.history = domain.NewRing[domain.CombatEvent](a.cfg.EventHistoryCap)
	for _, ev := range kept {
		a.history.Push(ev)
	}
}

// snapshotCombatants returns a defensive copy of the current combat state,
// used for periodic snapshot emission and persistence.
func (a *Adapter) snapshotCombatants() map[string]domain.CombatantState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]domain.CombatantState, len(a.combatants))
	for id, c := range a.combatants {
		out[id] = *c
	}
	return out
}
