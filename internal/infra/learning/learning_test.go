package learning

import (
	"math"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "learning.json"), filepath.Join(dir, "knowledge.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestRecordOutcome_UpdatesProfileAndAggregates(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordOutcome(OutcomeInput{NPCID: "bolt", Task: "mine", Success: true, Yield: 10, DurationMs: 1000}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := s.RecordOutcome(OutcomeInput{NPCID: "bolt", Task: "mine", Success: false, Yield: 0, DurationMs: 1200, Hazards: []string{"lava"}}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	p := s.GetProfile("bolt")
	if p.TotalAttempts() != 2 {
		t.Fatalf("expected 2 attempts, got %d", p.TotalAttempts())
	}
	if p.TasksCompleted != 1 || p.TasksFailed != 1 {
		t.Fatalf("expected 1 completed / 1 failed, got %d/%d", p.TasksCompleted, p.TasksFailed)
	}
	if p.TotalYield != 10 {
		t.Fatalf("expected totalYield 10, got %v", p.TotalYield)
	}
}

func TestRecordOutcome_EmitsEvents(t *testing.T) {
	dir := t.TempDir()
	var kinds []EventKind
	s, err := New(filepath.Join(dir, "learning.json"), filepath.Join(dir, "knowledge.json"),
		WithEventHandler(func(e Event) { kinds = append(kinds, e.Kind) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s.RecordOutcome(OutcomeInput{NPCID: "bolt", Task: "mine", Success: true, Yield: 5, Hazards: []string{"lava"}})

	want := map[EventKind]bool{EventOutcomeRecorded: true, EventTaskCompleted: true, EventYieldRecorded: true, EventHazardEncountered: true}
	got := make(map[EventKind]bool)
	for _, k := range kinds {
		got[k] = true
	}
	for k := range want {
		if !got[k] {
			t.Errorf("expected event %s to be emitted, got %v", k, kinds)
		}
	}
}

func TestGetSuccessRateAndAverageYield(t *testing.T) {
	s := newTestStore(t)
	s.RecordOutcome(OutcomeInput{NPCID: "a", Task: "scout", Success: true, Yield: 20})
	s.RecordOutcome(OutcomeInput{NPCID: "b", Task: "scout", Success: true, Yield: 10})
	s.RecordOutcome(OutcomeInput{NPCID: "c", Task: "scout", Success: false, Yield: 0})

	rate, err := s.GetSuccessRate("scout")
	if err != nil {
		t.Fatalf("GetSuccessRate: %v", err)
	}
	if math.Abs(rate-2.0/3.0) > 1e-9 {
		t.Fatalf("expected success rate 2/3, got %v", rate)
	}

	avg, err := s.GetAverageYield("scout")
	if err != nil {
		t.Fatalf("GetAverageYield: %v", err)
	}
	if math.Abs(avg-10) > 1e-9 {
		t.Fatalf("expected average yield 10, got %v", avg)
	}
}

func TestGetHazardFrequencyAndRecommendedSupplies(t *testing.T) {
	s := newTestStore(t)
	s.RecordOutcome(OutcomeInput{NPCID: "a", Task: "mine", Success: false, Hazards: []string{"lava", "collapse"}})
	s.RecordOutcome(OutcomeInput{NPCID: "b", Task: "mine", Success: false, Hazards: []string{"lava"}})
	s.RecordOutcome(OutcomeInput{NPCID: "c", Task: "mine", Success: true, Hazards: []string{"gas"}})

	n, err := s.GetHazardFrequency("lava")
	if err != nil {
		t.Fatalf("GetHazardFrequency: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected lava frequency 2, got %d", n)
	}

	supplies, err := s.GetRecommendedSupplies("mine")
	if err != nil {
		t.Fatalf("GetRecommendedSupplies: %v", err)
	}
	if len(supplies) == 0 || supplies[0] != "lava" {
		t.Fatalf("expected lava to be the top hazard, got %v", supplies)
	}
}

func TestGetTaskHistory_NewestFirstAndLimited(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		s.RecordOutcome(OutcomeInput{NPCID: "a", Task: "build", Success: true, Yield: float64(i)})
	}

	hist, err := s.GetTaskHistory("build", 2)
	if err != nil {
		t.Fatalf("GetTaskHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 records, got %d", len(hist))
	}
	if hist[0].Yield != 4 {
		t.Fatalf("expected newest-first ordering (yield 4), got %v", hist[0].Yield)
	}
}

func TestGetDynamicDurationEstimate(t *testing.T) {
	s := newTestStore(t)
	// No history: successRate=0 -> mod=max(0.5,1.3)=1.3, avgYield=0 -> yieldBonus=0
	est, err := s.GetDynamicDurationEstimate("farm", 1000)
	if err != nil {
		t.Fatalf("GetDynamicDurationEstimate: %v", err)
	}
	if est != 1300 {
		t.Fatalf("expected 1300 with no history, got %v", est)
	}

	for i := 0; i < 10; i++ {
		s.RecordOutcome(OutcomeInput{NPCID: "a", Task: "farm", Success: true, Yield: 100})
	}
	est2, err := s.GetDynamicDurationEstimate("farm", 1000)
	if err != nil {
		t.Fatalf("GetDynamicDurationEstimate: %v", err)
	}
	// successRate=1 -> mod=max(0.5,0.3)=0.5, avgYield=100 -> yieldBonus=min(0.9,0.5)=0.5
	if est2 != 0 {
		t.Fatalf("expected 0 with perfect record and high yield, got %v", est2)
	}
}

func TestUpdateSkills_Clamps(t *testing.T) {
	s := newTestStore(t)
	s.UpdateSkills("bolt", map[string]float64{"mining": 150, "combat": -10, "scouting": 42})

	p := s.GetProfile("bolt")
	if p.Skills["mining"] != 100 {
		t.Fatalf("expected mining clamped to 100, got %v", p.Skills["mining"])
	}
	if p.Skills["combat"] != 0 {
		t.Fatalf("expected combat clamped to 0, got %v", p.Skills["combat"])
	}
	if p.Skills["scouting"] != 42 {
		t.Fatalf("expected scouting unclamped at 42, got %v", p.Skills["scouting"])
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	learningPath := filepath.Join(dir, "learning.json")
	knowledgePath := filepath.Join(dir, "knowledge.json")

	s, err := New(learningPath, knowledgePath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.RecordOutcome(OutcomeInput{NPCID: "bolt", Task: "mine", Success: true, Yield: 15})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s2, err := New(learningPath, knowledgePath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rate, err := s2.GetSuccessRate("mine")
	if err != nil {
		t.Fatalf("GetSuccessRate: %v", err)
	}
	if rate != 1 {
		t.Fatalf("expected reloaded outcomes to feed the mirror, got rate %v", rate)
	}
	p := s2.GetProfile("bolt")
	if p.TotalYield != 15 {
		t.Fatalf("expected reloaded profile totalYield 15, got %v", p.TotalYield)
	}
}
