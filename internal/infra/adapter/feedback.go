package adapter

import (
	"regexp"
	"strconv"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// feedbackPattern is one entry in the fixed ordered pattern list. Patterns
// are tried in order per line; the first match wins and later patterns are
// skipped for that line.
type feedbackPattern struct {
	re    *regexp.Regexp
	build func(m []string, line string, now time.Time) domain.CombatEvent
}

func mustFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// feedbackPatterns is grounded on spec §4.E's fixed ordered list:
// critical-hit, attack-with-health, dodge, block, parry, damage-taken,
// health-status, defeated-by, was-defeated, heal, durability.
var feedbackPatterns = []feedbackPattern{
	{
		// critical-hit: "Bolt critically hits Zombie for 12.5"
		re: regexp.MustCompile(`(?i)^(\S+) critically hits? (\S+) for ([0-9.]+)`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{
				Type: domain.EventAttack, Source: domain.NormalizeEntityID(m[1]), Target: domain.NormalizeEntityID(m[2]),
				Damage: mustFloat(m[3]), Critical: true, RawLine: line, Timestamp: now,
			}
		},
	},
	{
		// attack-with-health: "Bolt hits Zombie for 4.0 (health: 12.0)"
		re: regexp.MustCompile(`(?i)^(\S+) hits? (\S+) for ([0-9.]+)(?: \(health: ([0-9.]+)\))?`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			ev := domain.CombatEvent{
				Type: domain.EventAttack, Source: domain.NormalizeEntityID(m[1]), Target: domain.NormalizeEntityID(m[2]),
				Damage: mustFloat(m[3]), RawLine: line, Timestamp: now,
			}
			if m[4] != "" {
				ev.Amount = mustFloat(m[4])
			}
			return ev
		},
	},
	{
		// dodge: "Zombie dodges Bolt's attack"
		re: regexp.MustCompile(`(?i)^(\S+) dodges? (\S+)'s attack`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventDodge, Target: domain.NormalizeEntityID(m[1]), Source: domain.NormalizeEntityID(m[2]), RawLine: line, Timestamp: now}
		},
	},
	{
		// block: "Zombie blocks Bolt's attack"
		re: regexp.MustCompile(`(?i)^(\S+) blocks? (\S+)'s attack`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventBlock, Target: domain.NormalizeEntityID(m[1]), Source: domain.NormalizeEntityID(m[2]), RawLine: line, Timestamp: now}
		},
	},
	{
		// parry: "Zombie parries Bolt's attack"
		re: regexp.MustCompile(`(?i)^(\S+) parr(?:y|ies) (\S+)'s attack`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventParry, Target: domain.NormalizeEntityID(m[1]), Source: domain.NormalizeEntityID(m[2]), RawLine: line, Timestamp: now}
		},
	},
	{
		// damage-taken: "Bolt takes 6.0 damage"
		re: regexp.MustCompile(`(?i)^(\S+) takes? ([0-9.]+) damage`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventDamage, Target: domain.NormalizeEntityID(m[1]), Damage: mustFloat(m[2]), RawLine: line, Timestamp: now}
		},
	},
	{
		// health-status: "Bolt health: 14.0/20.0"
		re: regexp.MustCompile(`(?i)^(\S+) health: ([0-9.]+)/([0-9.]+)`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventHealth, Target: domain.NormalizeEntityID(m[1]), Amount: mustFloat(m[2]), Damage: mustFloat(m[3]), RawLine: line, Timestamp: now}
		},
	},
	{
		// defeated-by: "Zombie was defeated by Bolt"
		re: regexp.MustCompile(`(?i)^(\S+) was defeated by (\S+)`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventDefeated, Target: domain.NormalizeEntityID(m[1]), Source: domain.NormalizeEntityID(m[2]), RawLine: line, Timestamp: now}
		},
	},
	{
		// was-defeated: "Bolt was defeated" (no attacker named)
		re: regexp.MustCompile(`(?i)^(\S+) was defeated$`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventDefeated, Target: domain.NormalizeEntityID(m[1]), RawLine: line, Timestamp: now}
		},
	},
	{
		// heal: "Bolt heals Zombie for 5.0"
		re: regexp.MustCompile(`(?i)^(\S+) heals? (\S+) for ([0-9.]+)`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventHeal, Source: domain.NormalizeEntityID(m[1]), Target: domain.NormalizeEntityID(m[2]), Amount: mustFloat(m[3]), RawLine: line, Timestamp: now}
		},
	},
	{
		// durability: "Bolt's pickaxe durability: 42.0"
		re: regexp.MustCompile(`(?i)^(\S+)'s (\S+) durability: ([0-9.]+)`),
		build: func(m []string, line string, now time.Time) domain.CombatEvent {
			return domain.CombatEvent{Type: domain.EventDurability, Target: domain.NormalizeEntityID(m[1]), Item: m[2], Amount: mustFloat(m[3]), RawLine: line, Timestamp: now}
		},
	},
}

// parseFeedbackLine tries each pattern in order, returning the first match.
// ok is false if no pattern matched the line.
func parseFeedbackLine(line string, now time.Time) (ev domain.CombatEvent, ok bool) {
	for _, p := range feedbackPatterns {
		if m := p.re.FindStringSubmatch(line); m != nil {
			return p.build(m, line, now), true
		}
	}
	return domain.CombatEvent{}, false
}
