// Package learning implements the Learning Store (spec §4.B): per-bot
// skill/performance tracking and the outcome history it is derived from.
// The JSON files remain the authoritative persisted state (internal/infra/
// persistence.Store); an in-memory modernc.org/sqlite mirror of outcomes
// exists only so the aggregate queries below can be expressed as SQL
// instead of hand-rolled loops, per SPEC_FULL.md §2.2.
package learning

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/npcforge/npcforge/internal/domain"
	"github.com/npcforge/npcforge/internal/infra/persistence"
)

// EventKind tags a Store lifecycle signal.
type EventKind string

const (
	EventOutcomeRecorded  EventKind = "outcome_recorded"
	EventTaskCompleted    EventKind = "task_completed"
	EventYieldRecorded    EventKind = "yield_recorded"
	EventHazardEncountered EventKind = "hazard_encountered"
)

// Event is emitted by RecordOutcome.
type Event struct {
	Kind EventKind
	NPC  string
	Task string
}

// OutcomeInput is the input to RecordOutcome.
type OutcomeInput struct {
	NPCID       string
	Task        string
	Success     bool
	Yield       float64
	Environment string
	DurationMs  float64
	Hazards     []string
	Metadata    map[string]string
}

// Store is the learning/outcome persistence and query surface. Safe for
// concurrent use.
type Store struct {
	profiles  *persistence.Store[domain.LearningFile]
	knowledge *persistence.Store[domain.KnowledgeFile]
	outcomeCap int
	onEvent   func(Event)

	mu       sync.RWMutex
	byName   map[string]domain.LearningProfile
	outcomes []domain.OutcomeRecord
	mirror   *sql.DB
}

// Option configures a Store.
type Option func(*Store)

// WithOutcomeCap overrides domain.DefaultOutcomeCap.
func WithOutcomeCap(n int) Option { return func(s *Store) { s.outcomeCap = n } }

// WithEventHandler registers a callback invoked after every RecordOutcome.
func WithEventHandler(fn func(Event)) Option { return func(s *Store) { s.onEvent = fn } }

// New constructs a Store persisting profiles and outcomes at the given
// paths.
func New(profilesPath, knowledgePath string, opts ...Option) (*Store, error) {
	mirror, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open outcome mirror: %w", err)
	}
	if _, err := mirror.Exec(`CREATE TABLE outcomes (
		task_type TEXT NOT NULL,
		npc_id    TEXT NOT NULL,
		success   INTEGER NOT NULL,
		yield     REAL NOT NULL,
		environment TEXT NOT NULL DEFAULT '',
		duration_ms REAL NOT NULL,
		hazards   TEXT NOT NULL DEFAULT '',
		ts        INTEGER NOT NULL
	)`); err != nil {
		mirror.Close()
		return nil, fmt.Errorf("migrate outcome mirror: %w", err)
	}
	if _, err := mirror.Exec(`CREATE INDEX idx_outcomes_task ON outcomes(task_type, ts)`); err != nil {
		mirror.Close()
		return nil, fmt.Errorf("index outcome mirror: %w", err)
	}

	s := &Store{
		profiles:   persistence.New(profilesPath, func() domain.LearningFile { return domain.LearningFile{} }),
		knowledge:  persistence.New(knowledgePath, func() domain.KnowledgeFile { return domain.KnowledgeFile{Version: 1} }),
		outcomeCap: domain.DefaultOutcomeCap,
		byName:     make(map[string]domain.LearningProfile),
		mirror:     mirror,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load reads both persisted files, prunes outcomes, and rebuilds the
// sqlite mirror and cached aggregates.
func (s *Store) Load() error {
	profiles, err := s.profiles.Load()
	if err != nil {
		return err
	}
	kf, err := s.knowledge.Load()
	if err != nil {
		return err
	}

	kf.Outcomes = domain.PruneOutcomes(kf.Outcomes, time.Now(), s.outcomeCap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName = make(map[string]domain.LearningProfile, len(profiles))
	for name, p := range profiles {
		s.byName[name] = p
	}
	s.outcomes = kf.Outcomes

	if _, err := s.mirror.Exec(`DELETE FROM outcomes`); err != nil {
		return fmt.Errorf("reset outcome mirror: %w", err)
	}
	for _, o := range s.outcomes {
		if err := s.insertMirrorLocked(o); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertMirrorLocked(o domain.OutcomeRecord) error {
	_, err := s.mirror.Exec(
		`INSERT INTO outcomes (task_type, npc_id, success, yield, environment, duration_ms, hazards, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.TaskType, o.NPCID, boolToInt(o.Success), o.Yield, o.Environment, o.DurationMs,
		joinHazards(o.Hazards), o.Timestamp.Unix(),
	)
	return err
}

// RecordOutcome appends an outcome, updates the npc's skill counters and
// running means for task, recomputes aggregates, prunes to the cap, and
// schedules a save of both files.
func (s *Store) RecordOutcome(in OutcomeInput) error {
	record := domain.OutcomeRecord{
		TaskType:    in.Task,
		NPCID:       in.NPCID,
		Success:     in.Success,
		Yield:       in.Yield,
		Environment: in.Environment,
		DurationMs:  in.DurationMs,
		Hazards:     in.Hazards,
		Timestamp:   time.Now(),
		Metadata:    in.Metadata,
	}

	s.mu.Lock()
	s.outcomes = append(s.outcomes, record)
	s.outcomes = domain.PruneOutcomes(s.outcomes, record.Timestamp, s.outcomeCap)
	if err := s.insertMirrorLocked(record); err != nil {
		s.mu.Unlock()
		return err
	}

	profile, ok := s.byName[in.NPCID]
	if !ok {
		profile = domain.NewLearningProfile(in.NPCID)
	}
	perf := profile.Performance[in.Task]
	perf.Attempts++
	if in.Success {
		perf.Successes++
		perf.SuccessStreak++
		if perf.SuccessStreak > perf.BestStreak {
			perf.BestStreak = perf.SuccessStreak
		}
	} else {
		perf.Failures++
		perf.SuccessStreak = 0
	}
	perf.MeanDuration = runningMean(perf.MeanDuration, perf.Attempts, in.DurationMs)
	if in.DurationMs > 0 {
		efficiency := in.Yield / (in.DurationMs / 1000)
		perf.MeanEfficiency = runningMean(perf.MeanEfficiency, perf.Attempts, efficiency)
	}
	perf.LastOutcome = in.Success
	perf.LastReward = in.Yield
	if profile.Performance == nil {
		profile.Performance = make(map[string]domain.SkillPerformance)
	}
	profile.Performance[in.Task] = perf
	profile.LastTask = in.Task

	var totalYield float64
	for _, o := range s.outcomes {
		if o.NPCID == in.NPCID {
			totalYield += o.Yield
		}
	}
	profile.RecomputeAggregates(totalYield)
	s.byName[in.NPCID] = profile
	s.mu.Unlock()

	s.scheduleSave()

	if s.onEvent != nil {
		s.onEvent(Event{Kind: EventOutcomeRecorded, NPC: in.NPCID, Task: in.Task})
		if in.Success {
			s.onEvent(Event{Kind: EventTaskCompleted, NPC: in.NPCID, Task: in.Task})
		}
		if in.Yield > 0 {
			s.onEvent(Event{Kind: EventYieldRecorded, NPC: in.NPCID, Task: in.Task})
		}
		if len(in.Hazards) > 0 {
			s.onEvent(Event{Kind: EventHazardEncountered, NPC: in.NPCID, Task: in.Task})
		}
	}
	return nil
}

// UpdateSkills clamps each skill to [0,100] and merges them into npc's
// profile, scheduling a save.
func (s *Store) UpdateSkills(npc string, skills map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.byName[npc]
	if !ok {
		profile = domain.NewLearningProfile(npc)
	}
	if profile.Skills == nil {
		profile.Skills = make(map[string]float64)
	}
	for name, v := range skills {
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		profile.Skills[name] = v
	}
	s.byName[npc] = profile
	s.scheduleSaveLocked()
}

// GetSuccessRate returns successes/attempts across every outcome of task.
func (s *Store) GetSuccessRate(task string) (float64, error) {
	var successes, attempts int
	row := s.mirror.QueryRow(
		`SELECT COALESCE(SUM(success), 0), COUNT(*) FROM outcomes WHERE task_type = ?`, task)
	if err := row.Scan(&successes, &attempts); err != nil {
		return 0, err
	}
	if attempts == 0 {
		return 0, nil
	}
	return float64(successes) / float64(attempts), nil
}

// GetAverageYield returns the mean yield across every outcome of task.
func (s *Store) GetAverageYield(task string) (float64, error) {
	var avg sql.NullFloat64
	row := s.mirror.QueryRow(`SELECT AVG(yield) FROM outcomes WHERE task_type = ?`, task)
	if err := row.Scan(&avg); err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// GetHazardFrequency returns how many outcomes (of any task) recorded
// hazard.
func (s *Store) GetHazardFrequency(hazard string) (int, error) {
	rows, err := s.mirror.Query(`SELECT hazards FROM outcomes`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return 0, err
		}
		for _, h := range splitHazards(joined) {
			if h == hazard {
				count++
				break
			}
		}
	}
	return count, rows.Err()
}

// GetTaskHistory returns the most recent limit outcomes for task, newest
// first.
func (s *Store) GetTaskHistory(task string, limit int) ([]domain.OutcomeRecord, error) {
	rows, err := s.mirror.Query(
		`SELECT npc_id, success, yield, environment, duration_ms, hazards, ts
		 FROM outcomes WHERE task_type = ? ORDER BY ts DESC LIMIT ?`, task, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutcomeRecord
	for rows.Next() {
		var npcID, environment, hazards string
		var success int
		var yield, durationMs float64
		var ts int64
		if err := rows.Scan(&npcID, &success, &yield, &environment, &durationMs, &hazards, &ts); err != nil {
			return nil, err
		}
		out = append(out, domain.OutcomeRecord{
			TaskType:    task,
			NPCID:       npcID,
			Success:     success != 0,
			Yield:       yield,
			Environment: environment,
			DurationMs:  durationMs,
			Hazards:     splitHazards(hazards),
			Timestamp:   time.Unix(ts, 0),
		})
	}
	return out, rows.Err()
}

// GetDynamicDurationEstimate scales baseMs by the track record on task
// across every bot's outcomes: round(baseMs * (mod - yieldBonus)) where mod = max(0.5, 1.3 -
// successRate) and yieldBonus = min(0.9, avgYield/200).
func (s *Store) GetDynamicDurationEstimate(task string, baseMs float64) (float64, error) {
	rate, err := s.GetSuccessRate(task)
	if err != nil {
		return 0, err
	}
	avgYield, err := s.GetAverageYield(task)
	if err != nil {
		return 0, err
	}
	mod := math.Max(0.5, 1.3-rate)
	yieldBonus := math.Min(0.9, avgYield/200)
	return math.Round(baseMs * (mod - yieldBonus)), nil
}

// GetRecommendedSupplies returns the top five hazards by frequency across
// the last 50 outcomes of task.
func (s *Store) GetRecommendedSupplies(task string) ([]string, error) {
	rows, err := s.mirror.Query(
		`SELECT hazards FROM outcomes WHERE task_type = ? ORDER BY ts DESC LIMIT 50`, task)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	freq := make(map[string]int)
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return nil, err
		}
		for _, h := range splitHazards(joined) {
			freq[h]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	type pair struct {
		hazard string
		count  int
	}
	pairs := make([]pair, 0, len(freq))
	for h, c := range freq {
		pairs = append(pairs, pair{h, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].hazard < pairs[j].hazard
	})
	if len(pairs) > 5 {
		pairs = pairs[:5]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.hazard
	}
	return out, nil
}

// GetProfile returns a copy of npc's learning profile, or a new empty
// profile (domain.NewLearningProfile) if none has been recorded yet.
func (s *Store) GetProfile(npc string) domain.LearningProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.byName[npc]; ok {
		return p
	}
	return domain.NewLearningProfile(npc)
}

func (s *Store) scheduleSave() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.scheduleSaveLocked()
}

func (s *Store) scheduleSaveLocked() {
	profiles := make(domain.LearningFile, len(s.byName))
	for name, p := range s.byName {
		profiles[name] = p
	}
	s.profiles.Save(profiles)

	s.knowledge.Save(domain.KnowledgeFile{
		Version:     1,
		Outcomes:    append([]domain.OutcomeRecord(nil), s.outcomes...),
		LastUpdated: time.Now(),
	})
}

// Flush forces any pending save to disk immediately.
func (s *Store) Flush() error {
	if err := s.profiles.Flush(); err != nil {
		return err
	}
	return s.knowledge.Flush()
}

// Close flushes and stops accepting further saves, and closes the sqlite
// mirror.
func (s *Store) Close() error {
	if err := s.profiles.Close(); err != nil {
		return err
	}
	if err := s.knowledge.Close(); err != nil {
		return err
	}
	return s.mirror.Close()
}

func runningMean(prevMean float64, n int, sample float64) float64 {
	if n <= 0 {
		return sample
	}
	return prevMean + (sample-prevMean)/float64(n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// joinHazards/splitHazards use a simple NUL-separated encoding since
// hazard strings are free-form-but-short tags, not user-facing text.
func joinHazards(hazards []string) string {
	out := ""
	for i, h := range hazards {
		if i > 0 {
			out += "\x00"
		}
		out += h
	}
	return out
}

func splitHazards(joined string) []string {
	if joined == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(joined); i++ {
		if joined[i] == 0 {
			out = append(out, joined[start:i])
			start = i + 1
		}
	}
	out = append(out, joined[start:])
	return out
}
