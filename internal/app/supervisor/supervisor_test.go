package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
	"github.com/npcforge/npcforge/internal/infra/learning"
	"github.com/npcforge/npcforge/internal/infra/registry"
)

type fakeAdapter struct {
	mu        sync.Mutex
	failNext  int // number of SpawnEntity calls to fail before succeeding
	spawned   []string
	despawned []string
}

func (f *fakeAdapter) MoveBot(ctx context.Context, botID string, delta domain.Vector3) error {
	return nil
}
func (f *fakeAdapter) ScanArea(ctx context.Context, botID string, radius float64) (domain.ScanResult, error) {
	return domain.ScanResult{}, nil
}
func (f *fakeAdapter) SpawnEntity(ctx context.Context, req domain.SpawnRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return domain.ErrCommandFailed
	}
	f.spawned = append(f.spawned, req.ID)
	return nil
}
func (f *fakeAdapter) DespawnEntity(ctx context.Context, botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.despawned = append(f.despawned, botID)
	return nil
}
func (f *fakeAdapter) Subscribe(domain.SubscriptionFilter, func(domain.CombatEvent)) func() {
	return func() {}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(filepath.Join(t.TempDir(), "registry.json"), func() float64 { return 0.5 })
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newTestLearning(t *testing.T) *learning.Store {
	t.Helper()
	dir := t.TempDir()
	l, err := learning.New(filepath.Join(dir, "profiles.json"), filepath.Join(dir, "knowledge.json"))
	if err != nil {
		t.Fatalf("learning.New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestSupervisor_SpawnRegistryOnlyWhenNoAdapter(t *testing.T) {
	s := New(newTestRegistry(t), newTestLearning(t), nil, nil, 0, RetryConfig{})

	profile, err := s.Spawn(context.Background(), SpawnOptions{Name: "bolt", Role: domain.RoleMiner, EntityType: "villager"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if profile.Status != domain.StatusIdle {
		t.Fatalf("expected idle status with no adapter, got %v", profile.Status)
	}
}

func TestSupervisor_SpawnSucceedsAndRecordsSpawn(t *testing.T) {
	adapter := &fakeAdapter{}
	s := New(newTestRegistry(t), newTestLearning(t), adapter, nil, 0, RetryConfig{RetryDelay: time.Millisecond})

	profile, err := s.Spawn(context.Background(), SpawnOptions{Name: "bolt", Role: domain.RoleMiner, EntityType: "villager"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if profile.Status != domain.StatusActive {
		t.Fatalf("expected active status, got %v", profile.Status)
	}
	if len(adapter.spawned) != 1 {
		t.Fatalf("expected one world spawn, got %v", adapter.spawned)
	}
}

func TestSupervisor_SpawnRetriesThenSucceeds(t *testing.T) {
	adapter := &fakeAdapter{failNext: 2}
	s := New(newTestRegistry(t), newTestLearning(t), adapter, nil, 0, RetryConfig{MaxRetries: 3, RetryDelay: time.Millisecond})

	profile, err := s.Spawn(context.Background(), SpawnOptions{Name: "bolt", Role: domain.RoleMiner, EntityType: "villager"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if profile.Status != domain.StatusActive {
		t.Fatalf("expected eventual success, got status %v", profile.Status)
	}
}

func TestSupervisor_SpawnExhaustsRetriesIntoDeadLetter(t *testing.T) {
	adapter := &fakeAdapter{failNext: 100}
	s := New(newTestRegistry(t), newTestLearning(t), adapter, nil, 0, RetryConfig{MaxRetries: 2, RetryDelay: time.Millisecond})

	profile, err := s.Spawn(context.Background(), SpawnOptions{Name: "bolt", Role: domain.RoleMiner, EntityType: "villager"})
	if err != nil {
		t.Fatalf("spawn should not itself error on dead-letter: %v", err)
	}
	if profile.Status == domain.StatusActive {
		t.Fatal("expected bot not to be active after exhausting retries")
	}
	dlq := s.DeadLetterQueue()
	if len(dlq) != 1 || dlq[0].ID != profile.ID {
		t.Fatalf("expected one dead-letter entry for %s, got %+v", profile.ID, dlq)
	}
}

func TestSupervisor_RetryDeadLetterQueueDrainsAndPartitions(t *testing.T) {
	adapter := &fakeAdapter{failNext: 100}
	s := New(newTestRegistry(t), newTestLearning(t), adapter, nil, 0, RetryConfig{MaxRetries: 1, RetryDelay: time.Millisecond})

	_, _ = s.Spawn(context.Background(), SpawnOptions{Name: "bolt", Role: domain.RoleMiner, EntityType: "villager"})
	if len(s.DeadLetterQueue()) != 1 {
		t.Fatal("expected dead-letter entry before retry")
	}

	adapter.mu.Lock()
	adapter.failNext = 0
	adapter.mu.Unlock()

	successes, failures := s.RetryDeadLetterQueue(context.Background(), nil)
	if len(successes) != 1 || len(failures) != 0 {
		t.Fatalf("expected the drained entry to now succeed, got successes=%v failures=%v", successes, failures)
	}
	if len(s.DeadLetterQueue()) != 0 {
		t.Fatal("expected dead-letter queue to be empty after drain")
	}
}

func TestSupervisor_SpawnBatchRespectsAggregateLimit(t *testing.T) {
	s := New(newTestRegistry(t), newTestLearning(t), nil, nil, 1, RetryConfig{})

	_, err := s.SpawnBatch(context.Background(), []SpawnOptions{
		{Name: "a", Role: domain.RoleMiner, EntityType: "villager"},
		{Name: "b", Role: domain.RoleMiner, EntityType: "villager"},
	})
	if !errors.Is(err, domain.ErrSpawnLimitExceeded) {
		t.Fatalf("expected spawn limit error, got %v", err)
	}
	const want = "Cannot spawn 2 bot(s): would exceed maximum of 1 bots"
	if err == nil || err.Error()[:len(want)] != want {
		t.Fatalf("expected error to start with %q, got %v", want, err)
	}
}

func TestSupervisor_SpawnTeamExpandsPreset(t *testing.T) {
	adapter := &fakeAdapter{}
	s := New(newTestRegistry(t), newTestLearning(t), adapter, nil, 0, RetryConfig{RetryDelay: time.Millisecond})

	results, err := s.SpawnTeam(context.Background(), PresetMining, TeamOptions{NamePrefix: "dig"})
	if err != nil {
		t.Fatalf("spawn team: %v", err)
	}
	if len(results) != len(teamRoster[PresetMining]) {
		t.Fatalf("expected %d members, got %d", len(teamRoster[PresetMining]), len(results))
	}
}

func TestSupervisor_SpawnTeamUnknownPreset(t *testing.T) {
	s := New(newTestRegistry(t), newTestLearning(t), nil, nil, 0, RetryConfig{})
	if _, err := s.SpawnTeam(context.Background(), TeamPreset("unknown"), TeamOptions{}); err == nil {
		t.Fatal("expected unknown preset error")
	}
}

func TestSupervisor_DespawnRecordsInactive(t *testing.T) {
	adapter := &fakeAdapter{}
	s := New(newTestRegistry(t), newTestLearning(t), adapter, nil, 0, RetryConfig{RetryDelay: time.Millisecond})

	profile, _ := s.Spawn(context.Background(), SpawnOptions{Name: "bolt", Role: domain.RoleMiner, EntityType: "villager"})
	if err := s.Despawn(context.Background(), profile.ID); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if len(adapter.despawned) != 1 {
		t.Fatalf("expected one despawn call, got %v", adapter.despawned)
	}
}
