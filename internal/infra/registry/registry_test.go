package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

func seededRNG(vals ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := vals[i%len(vals)]
		i++
		return v
	}
}

func TestEnsureProfile_CreatesWithGeneratedID(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.9, 0.9, 0.5, 0.5, 0.9, 0.1, 0.9))

	npc, err := r.EnsureProfile(EnsureProfileOptions{Name: "Rocky Miner!", Role: domain.RoleMiner, EntityType: "villager"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if npc.ID != "rocky_miner_01" {
		t.Fatalf("expected sanitized id rocky_miner_01, got %s", npc.ID)
	}
	if npc.PersonalityMeta.Archetype == "" {
		t.Fatal("expected a derived archetype")
	}
}

func TestEnsureProfile_ReturnsExistingByName(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	first, _ := r.EnsureProfile(EnsureProfileOptions{Name: "Bolt", Role: domain.RoleExplorer})
	second, err := r.EnsureProfile(EnsureProfileOptions{Name: "Bolt", Role: domain.RoleExplorer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent id, got %s and %s", first.ID, second.ID)
	}
}

func TestEnsureProfile_UnknownRoleRejected(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	if _, err := r.EnsureProfile(EnsureProfileOptions{Name: "X", Role: domain.BotRole("wizard")}); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestNextID_IncrementsOnCollision(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	a, _ := r.EnsureProfile(EnsureProfileOptions{Name: "scout", Role: domain.RoleExplorer})
	b, _ := r.EnsureProfile(EnsureProfileOptions{Name: "Scout", Role: domain.RoleExplorer})
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids for distinct names that sanitize the same, got both %s", a.ID)
	}
}

func TestRecordSpawnAndDespawn(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	npc, _ := r.EnsureProfile(EnsureProfileOptions{Name: "Digger", Role: domain.RoleMiner})

	pos := domain.Vector3{X: 1, Y: 2, Z: 3}
	spawned, err := r.RecordSpawn(npc.ID, pos, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spawned.Status != domain.StatusActive || spawned.SpawnCount != 1 {
		t.Fatalf("expected active status and spawnCount 1, got %+v", spawned)
	}

	despawned, err := r.RecordDespawn(npc.ID, pos)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if despawned.Status != domain.StatusInactive {
		t.Fatalf("expected inactive status, got %s", despawned.Status)
	}

	spawnedAgain, err := r.RecordSpawn(npc.ID, pos, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spawnedAgain.SpawnCount != 2 {
		t.Fatalf("expected spawnCount to be monotonic non-decreasing, got %d", spawnedAgain.SpawnCount)
	}
}

func TestRecordSpawn_UnknownIDFails(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	if _, err := r.RecordSpawn("missing", domain.Vector3{}, false); err != domain.ErrBotNotFound {
		t.Fatalf("expected ErrBotNotFound, got %v", err)
	}
}

func TestListByStatusAndCountActive(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	a, _ := r.EnsureProfile(EnsureProfileOptions{Name: "A", Role: domain.RoleMiner})
	b, _ := r.EnsureProfile(EnsureProfileOptions{Name: "B", Role: domain.RoleBuilder})
	r.RecordSpawn(a.ID, domain.Vector3{}, true)

	active := r.ListActive()
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("expected exactly one active bot (%s), got %+v", a.ID, active)
	}
	if r.CountActive() != 1 {
		t.Fatalf("expected CountActive 1, got %d", r.CountActive())
	}

	idle := r.ListByStatus(domain.StatusIdle)
	if len(idle) != 1 || idle[0].ID != b.ID {
		t.Fatalf("expected B to remain idle, got %+v", idle)
	}
}

func TestMergeLearningProfile(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	npc, _ := r.EnsureProfile(EnsureProfileOptions{Name: "Learner", Role: domain.RoleFarmer})

	lp := domain.NewLearningProfile("Learner")
	lp.XP = 120
	lp.TasksCompleted = 4
	lp.AverageSuccessRate = 0.75

	if err := r.MergeLearningProfile(npc.ID, lp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := r.Get(npc.ID)
	if got.Metadata["xp"] != "120" {
		t.Fatalf("expected merged xp metadata, got %+v", got.Metadata)
	}
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r := New(path, seededRNG(0.5))
	npc, _ := r.EnsureProfile(EnsureProfileOptions{Name: "Persisted", Role: domain.RoleCombat})
	r.RecordSpawn(npc.ID, domain.Vector3{X: 5}, true)
	if err := r.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r2 := New(path, seededRNG(0.5))
	if err := r2.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	reloaded, err := r2.Get(npc.ID)
	if err != nil {
		t.Fatalf("expected reloaded entry, got error: %v", err)
	}
	if reloaded.Status != domain.StatusActive || reloaded.LastKnownPosition.X != 5 {
		t.Fatalf("expected reloaded state to match persisted state, got %+v", reloaded)
	}

	byName, err := r2.GetByName("Persisted")
	if err != nil || byName.ID != npc.ID {
		t.Fatalf("expected name index to survive reload, got %+v, %v", byName, err)
	}
}

func TestClone_IsIndependentOfStoredEntry(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "registry.json"), seededRNG(0.5))
	npc, _ := r.EnsureProfile(EnsureProfileOptions{Name: "Iso", Role: domain.RoleGeneralist})

	snap, _ := r.Get(npc.ID)
	snap.Metadata = map[string]string{"tampered": "true"}
	snap.Name = "mutated"

	again, _ := r.Get(npc.ID)
	if again.Name == "mutated" {
		t.Fatal("expected Get to return a defensive copy, not a shared pointer")
	}
	_ = time.Now()
}
