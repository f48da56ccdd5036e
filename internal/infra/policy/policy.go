// Package policy implements the Policy Hooks boundary (spec §4.H): the
// core only consumes a domain.PolicyHook and is responsible for honoring
// the cooldowns and payloads it returns. Scoring itself is out of scope;
// this package owns only the cooldown/monotonic-application bookkeeping.
package policy

import (
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// NoopHook is the default PolicyHook: it never proposes an action. Used
// when the daemon has no external policy object configured.
type NoopHook struct{}

// Evaluate implements domain.PolicyHook.
func (NoopHook) Evaluate(domain.PolicyMetrics) []domain.PolicyAction { return nil }

// cooldownRecord tracks the last time a given action kind was applied.
type cooldownRecord struct {
	appliedAt time.Time
	expiresAt time.Time
}

// Enforcer wraps a domain.PolicyHook and enforces its returned cooldowns:
// an action kind still within its own previously-returned cooldown window
// is suppressed from Evaluate's result until that window elapses, and
// applications are recorded monotonically — an out-of-order or duplicate
// Apply call for a kind can never move its cooldown window backwards.
type Enforcer struct {
	hook domain.PolicyHook

	mu      sync.Mutex
	records map[domain.PolicyActionKind]cooldownRecord
	now     func() time.Time
}

// NewEnforcer wraps hook. If hook is nil, NoopHook is used.
func NewEnforcer(hook domain.PolicyHook) *Enforcer {
	if hook == nil {
		hook = NoopHook{}
	}
	return &Enforcer{
		hook:    hook,
		records: make(map[domain.PolicyActionKind]cooldownRecord),
		now:     time.Now,
	}
}

// Evaluate asks the wrapped hook for actions given metrics, then drops any
// action whose kind is still within the cooldown window recorded by a
// previous Apply call.
func (e *Enforcer) Evaluate(metrics domain.PolicyMetrics) []domain.PolicyAction {
	proposed := e.hook.Evaluate(metrics)
	if len(proposed) == 0 {
		return nil
	}

	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	actionable := make([]domain.PolicyAction, 0, len(proposed))
	for _, a := range proposed {
		if rec, ok := e.records[a.Kind]; ok && now.Before(rec.expiresAt) {
			continue
		}
		actionable = append(actionable, a)
	}
	return actionable
}

// Apply records that action was applied at "at", arming its cooldown
// window. Application is monotonic per kind: a call with an "at" at or
// before the kind's already-recorded appliedAt is a no-op, so replaying or
// reordering Apply calls can never shorten or rewind a cooldown.
func (e *Enforcer) Apply(action domain.PolicyAction, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rec, ok := e.records[action.Kind]; ok && !at.After(rec.appliedAt) {
		return false
	}
	e.records[action.Kind] = cooldownRecord{appliedAt: at, expiresAt: at.Add(action.Cooldown)}
	return true
}

// LastApplied returns when action.Kind was last applied, and whether it
// has ever been applied.
func (e *Enforcer) LastApplied(kind domain.PolicyActionKind) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[kind]
	return rec.appliedAt, ok
}
