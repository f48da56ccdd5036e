package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// GameServerAdapter is the boundary the microcore and supervisor use to
// reach the game-server RPC channel. Implemented by infra/adapter.Adapter.
type GameServerAdapter interface {
	// MoveBot nudges the entity's position by delta; used by the microcore
	// tick loop once per tick when a target is set.
	MoveBot(ctx context.Context, botID string, delta Vector3) error

	// ScanArea asks the game server for nearby entities/blocks within radius.
	ScanArea(ctx context.Context, botID string, radius float64) (ScanResult, error)

	// SpawnEntity asks the game server to materialize a bot's entity.
	SpawnEntity(ctx context.Context, req SpawnRequest) error

	// DespawnEntity removes the bot's entity from the world.
	DespawnEntity(ctx context.Context, botID string) error

	// Subscribe registers a local combat-event handler; returns an unsubscribe func.
	Subscribe(filter SubscriptionFilter, handler func(CombatEvent)) func()
}

// PolicyHook consumes periodic metrics and returns zero or more actions the
// supervisor should apply. Scoring is intentionally out of scope — only the
// action taxonomy and cooldown contract are specified.
type PolicyHook interface {
	Evaluate(metrics PolicyMetrics) []PolicyAction
}

// Persister is the contract infra/persistence.Store implements: debounced,
// atomic load/save of a single JSON-serializable value at a path.
type Persister[T any] interface {
	Load() (T, error)
	Save(v T)
	Flush() error
	Close() error
}
