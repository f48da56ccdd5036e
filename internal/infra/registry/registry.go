// Package registry implements the Bot Registry (spec §4.C): the durable
// index of bot identity, personality, and spawn status. It is the sole
// owner of domain.BotIdentity on disk; every mutating operation schedules a
// debounced save through internal/infra/persistence.
package registry

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
	"github.com/npcforge/npcforge/internal/infra/persistence"
)

// DefaultMaxActive is the spawn-limit default applied when a caller does
// not override it.
const DefaultMaxActive = 8

var idSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// EnsureProfileOptions is the input to EnsureProfile.
type EnsureProfileOptions struct {
	Name          string
	Role          domain.BotRole
	EntityType    string
	Personality   *domain.Personality // nil means sample a fresh vector
	Appearance    string
	SpawnPosition domain.Vector3
	Description   string
}

// Registry is the in-memory, persistence-backed store of BotIdentity
// entries. All exported methods are safe for concurrent use.
type Registry struct {
	store *persistence.Store[domain.RegistryFile]
	rng   func() float64

	mu      sync.RWMutex
	byID    map[string]*domain.BotIdentity
	byName  map[string]string // name -> id
	byRole  map[domain.BotRole]map[string]struct{}
	idSeq   map[string]int // base name -> next counter to try
}

// New constructs a Registry persisted at path. rng supplies randomness for
// freshly-sampled personality vectors (nil defaults to math/rand); inject a
// seeded source in tests for determinism.
func New(path string, rng func() float64) *Registry {
	if rng == nil {
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		rng = src.Float64
	}
	r := &Registry{
		rng:    rng,
		byID:   make(map[string]*domain.BotIdentity),
		byName: make(map[string]string),
		byRole: make(map[domain.BotRole]map[string]struct{}),
		idSeq:  make(map[string]int),
	}
	r.store = persistence.New(path, func() domain.RegistryFile {
		return domain.RegistryFile{Version: 1}
	})
	return r
}

// Load reads the persisted file and rebuilds the in-memory indexes. Call
// once at startup before serving any request.
func (r *Registry) Load() error {
	file, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range file.NPCs {
		npc := file.NPCs[i]
		r.indexLocked(&npc)
	}
	return nil
}

// indexLocked inserts npc into all in-memory indexes. Caller holds mu.
func (r *Registry) indexLocked(npc *domain.BotIdentity) {
	cp := npc.Clone()
	r.byID[cp.ID] = &cp
	r.byName[cp.Name] = cp.ID
	if r.byRole[cp.Role] == nil {
		r.byRole[cp.Role] = make(map[string]struct{})
	}
	r.byRole[cp.Role][cp.ID] = struct{}{}
}

// EnsureProfile returns the existing entry for opts.Name if one exists,
// otherwise materializes and persists a new one with a generated id.
func (r *Registry) EnsureProfile(opts EnsureProfileOptions) (domain.BotIdentity, error) {
	if !opts.Role.IsValid() {
		return domain.BotIdentity{}, fmt.Errorf("%w: %s", domain.ErrUnknownRole, opts.Role)
	}

	r.mu.Lock()
	if id, ok := r.byName[opts.Name]; ok {
		existing := *r.byID[id]
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	var vec domain.Personality
	if opts.Personality != nil {
		vec = *opts.Personality
	} else {
		vec = domain.RandomPersonality(r.rng)
	}
	vec.Clamp()
	if !vec.Valid() {
		return domain.BotIdentity{}, domain.ErrInvalidPersonality
	}

	now := time.Now()
	npc := domain.BotIdentity{
		ID:              r.nextID(opts.Name),
		Name:            opts.Name,
		Role:            opts.Role,
		EntityType:      opts.EntityType,
		Personality:     vec,
		PersonalityMeta: domain.NewPersonalityBundle(vec),
		Appearance:      opts.Appearance,
		SpawnPosition:   opts.SpawnPosition,
		Description:     opts.Description,
		Status:          domain.StatusIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	r.indexLocked(&npc)
	r.mu.Unlock()

	r.scheduleSave()
	return npc, nil
}

// nextID sanitizes name to lowercase alphanumerics/underscores and appends
// a 2-digit counter, incrementing until unused. Caller must not hold mu.
func (r *Registry) nextID(name string) string {
	base := idSanitizer.ReplaceAllString(strings.ToLower(name), "_")
	base = strings.Trim(base, "_")
	if base == "" {
		base = "bot"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.idSeq[base]
	if n == 0 {
		n = 1
	}
	for {
		candidate := fmt.Sprintf("%s_%02d", base, n)
		if _, exists := r.byID[candidate]; !exists {
			r.idSeq[base] = n + 1
			return candidate
		}
		n++
	}
}

// Upsert replaces the stored entry for npc.ID (or inserts it if new),
// recomputing the personality bundle, and schedules a save.
func (r *Registry) Upsert(npc domain.BotIdentity) (domain.BotIdentity, error) {
	if !npc.Personality.Valid() {
		return domain.BotIdentity{}, domain.ErrInvalidPersonality
	}
	npc.PersonalityMeta = domain.NewPersonalityBundle(npc.Personality)
	npc.UpdatedAt = time.Now()

	r.mu.Lock()
	if prev, ok := r.byID[npc.ID]; ok {
		r.unindexLocked(prev)
	}
	r.indexLocked(&npc)
	r.mu.Unlock()

	r.scheduleSave()
	return npc, nil
}

// unindexLocked removes npc from the name/role indexes (not byID — the
// caller re-adds it via indexLocked immediately after). Caller holds mu.
func (r *Registry) unindexLocked(npc *domain.BotIdentity) {
	delete(r.byName, npc.Name)
	if set := r.byRole[npc.Role]; set != nil {
		delete(set, npc.ID)
	}
}

// RecordSpawn marks id active at position, optionally incrementing the
// spawn count.
func (r *Registry) RecordSpawn(id string, position domain.Vector3, increment bool) (domain.BotIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	npc, ok := r.byID[id]
	if !ok {
		return domain.BotIdentity{}, domain.ErrBotNotFound
	}
	npc.Status = domain.StatusActive
	npc.LastKnownPosition = position
	npc.LastSpawnedAt = time.Now()
	npc.UpdatedAt = npc.LastSpawnedAt
	if increment {
		npc.SpawnCount++
	}
	out := npc.Clone()
	r.scheduleSaveLocked()
	return out, nil
}

// RecordDespawn marks id inactive at position.
func (r *Registry) RecordDespawn(id string, position domain.Vector3) (domain.BotIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	npc, ok := r.byID[id]
	if !ok {
		return domain.BotIdentity{}, domain.ErrBotNotFound
	}
	npc.Status = domain.StatusInactive
	npc.LastKnownPosition = position
	npc.LastDespawnedAt = time.Now()
	npc.UpdatedAt = npc.LastDespawnedAt
	out := npc.Clone()
	r.scheduleSaveLocked()
	return out, nil
}

// MarkInactive forces id to inactive without updating position, e.g. after
// a dead-letter failure prior to any successful spawn.
func (r *Registry) MarkInactive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	npc, ok := r.byID[id]
	if !ok {
		return domain.ErrBotNotFound
	}
	npc.Status = domain.StatusInactive
	npc.UpdatedAt = time.Now()
	r.scheduleSaveLocked()
	return nil
}

// ListActive returns a snapshot of every entry with Status == active.
func (r *Registry) ListActive() []domain.BotIdentity {
	return r.ListByStatus(domain.StatusActive)
}

// ListByStatus returns a snapshot of every entry with the given status.
func (r *Registry) ListByStatus(status domain.BotStatus) []domain.BotIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.BotIdentity
	for _, npc := range r.byID {
		if npc.Status == status {
			out = append(out, npc.Clone())
		}
	}
	return out
}

// CountActive reports how many entries currently have Status == active,
// the figure the spawn-limit contract checks against.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, npc := range r.byID {
		if npc.Status == domain.StatusActive {
			n++
		}
	}
	return n
}

// Get returns a snapshot of id, or domain.ErrBotNotFound.
func (r *Registry) Get(id string) (domain.BotIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	npc, ok := r.byID[id]
	if !ok {
		return domain.BotIdentity{}, domain.ErrBotNotFound
	}
	return npc.Clone(), nil
}

// GetByName returns a snapshot of the entry named name, or domain.ErrBotNotFound.
func (r *Registry) GetByName(name string) (domain.BotIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return domain.BotIdentity{}, domain.ErrBotNotFound
	}
	return r.byID[id].Clone(), nil
}

// GetAll returns a snapshot of every entry.
func (r *Registry) GetAll() []domain.BotIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BotIdentity, 0, len(r.byID))
	for _, npc := range r.byID {
		out = append(out, npc.Clone())
	}
	return out
}

// MergeLearningProfile folds a learning summary into id's metadata so the
// registry entry reflects a bot's latest experience without the registry
// needing to know the learning store's internal shape.
func (r *Registry) MergeLearningProfile(id string, learning domain.LearningProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	npc, ok := r.byID[id]
	if !ok {
		return domain.ErrBotNotFound
	}
	if npc.Metadata == nil {
		npc.Metadata = make(map[string]string)
	}
	npc.Metadata["xp"] = strconv.Itoa(learning.XP)
	npc.Metadata["tasksCompleted"] = strconv.Itoa(learning.TasksCompleted)
	npc.Metadata["tasksFailed"] = strconv.Itoa(learning.TasksFailed)
	npc.Metadata["averageSuccessRate"] = strconv.FormatFloat(learning.AverageSuccessRate, 'f', 4, 64)
	npc.UpdatedAt = time.Now()
	r.scheduleSaveLocked()
	return nil
}

// scheduleSave snapshots the current table and hands it to the debounced
// store. Caller must not hold mu.
func (r *Registry) scheduleSave() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.scheduleSaveLocked()
}

// scheduleSaveLocked is scheduleSave for callers already holding mu (RLock
// suffices since Store.Save copies the value immediately).
func (r *Registry) scheduleSaveLocked() {
	file := domain.RegistryFile{
		Version:   1,
		UpdatedAt: time.Now(),
		NPCs:      make([]domain.BotIdentity, 0, len(r.byID)),
	}
	for _, npc := range r.byID {
		file.NPCs = append(file.NPCs, npc.Clone())
	}
	r.store.Save(file)
}

// Flush forces any pending save to disk immediately.
func (r *Registry) Flush() error { return r.store.Flush() }

// Close flushes and stops accepting further saves.
func (r *Registry) Close() error { return r.store.Close() }
