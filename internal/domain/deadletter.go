package domain

import "time"

// DeadLetterEntry represents a spawn that exhausted its retries.
type DeadLetterEntry struct {
	ID            string      `json:"id"`
	Profile       BotIdentity `json:"profile"`
	SpawnPosition Vector3     `json:"spawnPosition"`
	LastError     string      `json:"lastError"`
	FailCount     int         `json:"failCount"`
	Timestamp     time.Time   `json:"timestamp"`
}

// PolicyMetrics is the fixed-shape metrics payload handed to a PolicyHook.
type PolicyMetrics struct {
	ActiveBots     int     `json:"activeBots"`
	DeadLetterSize int     `json:"deadLetterSize"`
	QueueLength    int     `json:"queueLength"`
	ReconnectRate  float64 `json:"reconnectRate"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// PolicyActionKind is the fixed taxonomy of actions a PolicyHook may return.
type PolicyActionKind string

const (
	ActionAdjustPolicy  PolicyActionKind = "adjust_policy"
	ActionRebalanceNode PolicyActionKind = "rebalance_node"
	ActionScaleDown     PolicyActionKind = "scale_down"
)

// PolicyAction is a single directive returned by a PolicyHook's Evaluate.
type PolicyAction struct {
	Kind    PolicyActionKind  `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
	Cooldown time.Duration    `json:"cooldown"`
}
