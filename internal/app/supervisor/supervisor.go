// Package supervisor implements the Bot Supervisor (spec §4.G): the
// orchestration layer that ties the registry, learning store, game-server
// adapter, and microcore tick loops together behind spawn/despawn/respawn
// and team-preset operations.
package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
	"github.com/npcforge/npcforge/internal/infra/learning"
	"github.com/npcforge/npcforge/internal/infra/policy"
	"github.com/npcforge/npcforge/internal/infra/registry"
	"github.com/npcforge/npcforge/internal/microcore"
)

// RetryConfig tunes the spawn retry policy. Grounded on the teacher's
// scheduler.RetryConfig shape (MaxRetries/BaseDelay), minus the priority
// heap and hash-ring affinity the teacher built it on — a single supervisor
// only ever retries its own spawn, so a slice-backed dead-letter queue is
// all the ordering this component needs.
type RetryConfig struct {
	MaxRetries int           // default 3
	RetryDelay time.Duration // base delay, default 1s; doubles per attempt
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// SpawnOptions is the input to Spawn.
type SpawnOptions struct {
	Name          string
	Role          domain.BotRole
	EntityType    string
	Personality   *domain.Personality
	Appearance    string
	SpawnPosition domain.Vector3
	Description   string
	MergeLearning bool
	Microcore     microcore.Config
}

// SpawnResult pairs an attempted bot with the outcome, used by the batch
// and team operations to accumulate per-entry results without aborting.
type SpawnResult struct {
	ID      string
	Profile domain.BotIdentity
	Err     error
}

// Supervisor orchestrates bot lifecycle across the registry, learning
// store, game-server adapter, and microcore manager.
type Supervisor struct {
	reg      *registry.Registry
	learn    *learning.Store
	adapter  domain.GameServerAdapter // nil means "no live connection"
	cores    *microcore.Manager
	maxActive int
	retry    RetryConfig

	mu           sync.Mutex
	failures     map[string]int // bot id -> consecutive failure count
	deadLetter   []domain.DeadLetterEntry
	enforcer     *policy.Enforcer
}

// New constructs a Supervisor. adapter may be nil (registry-only mode);
// cores may be nil if microcore ticking is not desired (e.g. in tests).
func New(reg *registry.Registry, learn *learning.Store, adapter domain.GameServerAdapter, cores *microcore.Manager, maxActive int, retry RetryConfig) *Supervisor {
	if maxActive <= 0 {
		maxActive = registry.DefaultMaxActive
	}
	return &Supervisor{
		reg:       reg,
		learn:     learn,
		adapter:   adapter,
		cores:     cores,
		maxActive: maxActive,
		retry:     retry.normalized(),
		failures:  make(map[string]int),
	}
}

// Spawn validates the role, pre-checks the spawn limit, resolves or
// creates the registry profile, optionally merges the learning profile,
// and — if an adapter is configured — attempts a world spawn with retry.
// Exhausting retries still leaves the registry entry created; the bot is
// added to the dead-letter queue and Spawn returns a nil-adapter-style
// response (no error) since the profile itself was created successfully.
func (s *Supervisor) Spawn(ctx context.Context, opts SpawnOptions) (domain.BotIdentity, error) {
	if !opts.Role.IsValid() {
		return domain.BotIdentity{}, fmt.Errorf("spawn %q: %w", opts.Name, domain.ErrUnknownRole)
	}
	if s.reg.CountActive() >= s.maxActive {
		return domain.BotIdentity{}, fmt.Errorf("Cannot spawn 1 bot(s): would exceed maximum of %d bots: %w", s.maxActive, domain.ErrSpawnLimitExceeded)
	}

	profile, err := s.reg.EnsureProfile(registry.EnsureProfileOptions{
		Name: opts.Name, Role: opts.Role, EntityType: opts.EntityType,
		Personality: opts.Personality, Appearance: opts.Appearance,
		SpawnPosition: opts.SpawnPosition, Description: opts.Description,
	})
	if err != nil {
		return domain.BotIdentity{}, fmt.Errorf("ensure profile: %w", err)
	}

	if opts.MergeLearning && s.learn != nil {
		if err := s.reg.MergeLearningProfile(profile.ID, s.learn.GetProfile(profile.Name)); err != nil {
			return domain.BotIdentity{}, fmt.Errorf("merge learning profile: %w", err)
		}
	}

	if s.adapter == nil {
		return profile, nil
	}

	if err := s.spawnWithRetry(ctx, profile, opts); err != nil {
		s.addDeadLetter(profile, opts.SpawnPosition, err)
		return profile, nil
	}

	updated, err := s.reg.RecordSpawn(profile.ID, opts.SpawnPosition, true)
	if err != nil {
		return profile, fmt.Errorf("record spawn: %w", err)
	}
	s.resetFailures(profile.ID)

	if s.cores != nil {
		s.cores.Start(profile.ID, opts.Microcore, domain.MicrocoreState{Position: opts.SpawnPosition}, domain.StatusActive)
	}
	return updated, nil
}

// spawnWithRetry attempts the world spawn up to s.retry.MaxRetries times
// with exponential backoff (retryDelay * 2^(attempt-1)), per spec §4.G.
func (s *Supervisor) spawnWithRetry(ctx context.Context, profile domain.BotIdentity, opts SpawnOptions) error {
	s.mu.Lock()
	retry := s.retry
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= retry.MaxRetries; attempt++ {
		err := s.adapter.SpawnEntity(ctx, domain.SpawnRequest{
			ID: profile.ID, EntityType: profile.EntityType,
			Position: opts.SpawnPosition, Appearance: profile.Appearance,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		s.incrementFailures(profile.ID)

		if attempt < retry.MaxRetries {
			delay := retry.RetryDelay << uint(attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrRetryExhausted, lastErr)
}

func (s *Supervisor) incrementFailures(id string) {
	s.mu.Lock()
	s.failures[id]++
	s.mu.Unlock()
}

func (s *Supervisor) resetFailures(id string) {
	s.mu.Lock()
	delete(s.failures, id)
	s.mu.Unlock()
}

// FailureCount returns id's consecutive spawn-failure count.
func (s *Supervisor) FailureCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[id]
}

func (s *Supervisor) addDeadLetter(profile domain.BotIdentity, pos domain.Vector3, cause error) {
	_ = s.reg.MarkInactive(profile.ID)
	s.mu.Lock()
	s.deadLetter = append(s.deadLetter, domain.DeadLetterEntry{
		ID: profile.ID, Profile: profile, SpawnPosition: pos,
		LastError: cause.Error(), FailCount: s.failures[profile.ID], Timestamp: time.Now(),
	})
	s.mu.Unlock()
}

// DeadLetterQueue returns a snapshot of every entry currently queued.
func (s *Supervisor) DeadLetterQueue() []domain.DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeadLetterEntry(nil), s.deadLetter...)
}

// RetryDeadLetterQueue drains the dead-letter queue into fresh spawn
// attempts, partitioning results into successes and failures. overrides,
// if non-nil, replaces the retry config used for this drain only.
func (s *Supervisor) RetryDeadLetterQueue(ctx context.Context, overrides *RetryConfig) (successes, failures []SpawnResult) {
	s.mu.Lock()
	pending := s.deadLetter
	s.deadLetter = nil
	s.mu.Unlock()

	s.mu.Lock()
	prevRetry := s.retry
	if overrides != nil {
		s.retry = overrides.normalized()
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.retry = prevRetry
		s.mu.Unlock()
	}()

	for _, entry := range pending {
		opts := SpawnOptions{
			Name: entry.Profile.Name, Role: entry.Profile.Role, EntityType: entry.Profile.EntityType,
			Personality: &entry.Profile.Personality, Appearance: entry.Profile.Appearance,
			SpawnPosition: entry.SpawnPosition, Description: entry.Profile.Description,
		}
		profile, err := s.Spawn(ctx, opts)
		if err != nil || s.FailureCount(entry.ID) > 0 {
			failures = append(failures, SpawnResult{ID: entry.ID, Profile: profile, Err: err})
			continue
		}
		successes = append(successes, SpawnResult{ID: entry.ID, Profile: profile})
	}
	return successes, failures
}

// SpawnBatch iterates opts sequentially, accumulating per-entry results,
// after pre-checking the aggregate against the spawn limit.
func (s *Supervisor) SpawnBatch(ctx context.Context, list []SpawnOptions) ([]SpawnResult, error) {
	if s.reg.CountActive()+len(list) > s.maxActive {
		return nil, fmt.Errorf("Cannot spawn %d bot(s): would exceed maximum of %d bots: %w", len(list), s.maxActive, domain.ErrSpawnLimitExceeded)
	}

	results := make([]SpawnResult, 0, len(list))
	for _, opts := range list {
		profile, err := s.Spawn(ctx, opts)
		results = append(results, SpawnResult{ID: profile.ID, Profile: profile, Err: err})
	}
	return results, nil
}

// Despawn retires id: despawns the world entity (if an adapter is
// configured), stops its microcore loop, and records the despawn.
func (s *Supervisor) Despawn(ctx context.Context, id string) error {
	profile, err := s.reg.Get(id)
	if err != nil {
		return err
	}

	if s.adapter != nil {
		if err := s.adapter.DespawnEntity(ctx, id); err != nil {
			return fmt.Errorf("despawn entity: %w", err)
		}
	}
	if s.cores != nil {
		s.cores.Stop(id)
	}
	_, err = s.reg.RecordDespawn(id, profile.LastKnownPosition)
	return err
}

// Respawn despawns (best-effort) then re-spawns id at position, reusing
// its existing profile.
func (s *Supervisor) Respawn(ctx context.Context, id string, position domain.Vector3) (domain.BotIdentity, error) {
	profile, err := s.reg.Get(id)
	if err != nil {
		return domain.BotIdentity{}, err
	}
	_ = s.Despawn(ctx, id)

	return s.Spawn(ctx, SpawnOptions{
		Name: profile.Name, Role: profile.Role, EntityType: profile.EntityType,
		Personality: &profile.Personality, Appearance: profile.Appearance,
		SpawnPosition: position, Description: profile.Description,
	})
}

// SetPolicyEnforcer installs the policy hook this supervisor consults from
// EvaluatePolicy (spec §4.H). Passing nil disables policy evaluation.
func (s *Supervisor) SetPolicyEnforcer(e *policy.Enforcer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforcer = e
}

// EvaluatePolicy gathers current supervisor metrics, asks the configured
// policy enforcer for actions, and applies (and records) each one returned.
// A nil enforcer makes this a no-op, matching NoopHook's behavior.
func (s *Supervisor) EvaluatePolicy() []domain.PolicyAction {
	s.mu.Lock()
	enforcer := s.enforcer
	deadLetterSize := len(s.deadLetter)
	s.mu.Unlock()
	if enforcer == nil {
		return nil
	}

	actions := enforcer.Evaluate(domain.PolicyMetrics{
		ActiveBots:     s.reg.CountActive(),
		DeadLetterSize: deadLetterSize,
		CapturedAt:     time.Now(),
	})

	now := time.Now()
	for _, action := range actions {
		s.applyPolicyAction(action)
		enforcer.Apply(action, now)
	}
	return actions
}

// applyPolicyAction honors a single policy directive. Scoring is out of
// scope per spec §4.H; this only has to apply the payload the hook handed
// back.
func (s *Supervisor) applyPolicyAction(action domain.PolicyAction) {
	switch action.Kind {
	case domain.ActionAdjustPolicy:
		if v, ok := action.Payload["max_active"]; ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				s.mu.Lock()
				s.maxActive = n
				s.mu.Unlock()
			}
		}
	case domain.ActionScaleDown:
		for _, npc := range s.reg.GetAll() {
			if npc.Status == domain.StatusActive {
				_ = s.Despawn(context.Background(), npc.ID)
				break
			}
		}
	case domain.ActionRebalanceNode:
		// single-node supervisor has nothing to rebalance onto; the action
		// is still recorded so its cooldown takes effect.
	}
}

// SpawnAllKnown attempts to spawn every registry entry not already active.
func (s *Supervisor) SpawnAllKnown(ctx context.Context) ([]SpawnResult, error) {
	all := s.reg.GetAll()
	list := make([]SpawnOptions, 0, len(all))
	for _, npc := range all {
		if npc.Status == domain.StatusActive {
			continue
		}
		list = append(list, SpawnOptions{
			Name: npc.Name, Role: npc.Role, EntityType: npc.EntityType,
			Personality: &npc.Personality, Appearance: npc.Appearance,
			SpawnPosition: npc.SpawnPosition, Description: npc.Description,
		})
	}
	return s.SpawnBatch(ctx, list)
}
