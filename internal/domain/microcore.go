package domain

import "time"

// MicrocoreEventKind tags the variant carried by a MicrocoreEvent.
type MicrocoreEventKind string

const (
	EventMoveTo       MicrocoreEventKind = "moveTo"
	EventTask         MicrocoreEventKind = "task"
	EventScanNow      MicrocoreEventKind = "scan"
	EventPhaseUpdate  MicrocoreEventKind = "phaseUpdate"
)

// MicrocoreEvent is a tagged-variant message fed into a bot's tick-loop
// inbox. Only the fields relevant to Kind are populated; unknown kinds are
// logged and ignored rather than causing a panic.
type MicrocoreEvent struct {
	Kind   MicrocoreEventKind
	Target *Vector3
	Task   string
	Radius float64
	Phase  int
	Memory string
}

// MicrocoreState is the in-memory, per-active-bot movement/scan state.
type MicrocoreState struct {
	Position        Vector3
	Velocity        Vector3
	Target          *Vector3
	TickCount       int64
	LastScanAt      time.Time
	LastScanResult  *ScanResult
	Memory          []string
	CurrentTask     string
	AutonomyEnabled bool
	Phase           int
}

// StatusSnapshot is the immutable per-tick publication. Consumers must not
// retain or mutate it.
type StatusSnapshot struct {
	BotID      string     `json:"botId"`
	Reason     string     `json:"reason"`
	TickCount  int64      `json:"tickCount"`
	Position   Vector3    `json:"position"`
	Velocity   Vector3    `json:"velocity"`
	Task       string     `json:"task,omitempty"`
	Status     BotStatus  `json:"status"`
	Memory     []string   `json:"memory"`
	LastScan   *ScanResult `json:"lastScan,omitempty"`
	LastTickAt time.Time  `json:"lastTickAt"`
}

// MicrocoreMemoryCap is the default bound on the memory FIFO.
const MicrocoreMemoryCap = 10

// SubscriptionFilter restricts a local/push subscriber to a subset of event
// types. An empty Types slice means "all types".
type SubscriptionFilter struct {
	Types []CombatEventType
	Once  bool
}

// Matches reports whether the filter accepts an event of the given type.
func (f SubscriptionFilter) Matches(t CombatEventType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, want := range f.Types {
		if want == t {
			return true
		}
	}
	return false
}
