package domain

// SkillPerformance tracks a bot's history with a single named skill.
type SkillPerformance struct {
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	MeanDuration  float64 `json:"meanDuration"`
	MeanEfficiency float64 `json:"meanEfficiency"`
	SuccessStreak int     `json:"successStreak"`
	BestStreak    int     `json:"bestStreak"`
	LastOutcome   bool    `json:"lastOutcome"`
	LastReward    float64 `json:"lastReward"`
}

// SuccessRate returns successes/attempts, or 0 when attempts is 0.
func (sp SkillPerformance) SuccessRate() float64 {
	if sp.Attempts == 0 {
		return 0
	}
	return float64(sp.Successes) / float64(sp.Attempts)
}

// LearningProfile is the per-bot-name learning state.
type LearningProfile struct {
	Name              string                      `json:"name"`
	Skills            map[string]float64          `json:"skills"`
	Performance       map[string]SkillPerformance `json:"performance"`
	TasksCompleted    int                         `json:"tasksCompleted"`
	TasksFailed       int                         `json:"tasksFailed"`
	XP                int                         `json:"xp"`
	MotivationDrift   float64                     `json:"motivationDrift"`
	TotalYield        float64                     `json:"totalYield"`
	AverageSuccessRate float64                    `json:"averageSuccessRate"`
	LastTask          string                      `json:"lastTask,omitempty"`
}

// NewLearningProfile returns an empty profile (no skills, no history) ready
// for use, with MotivationDrift at its 0.5 midpoint.
func NewLearningProfile(name string) LearningProfile {
	return LearningProfile{
		Name:        name,
		Skills:      make(map[string]float64),
		Performance: make(map[string]SkillPerformance),
		MotivationDrift: 0.5,
	}
}

// TotalAttempts sums attempts across every tracked skill — the invariant
// `tasksCompleted + tasksFailed == Σ attempts` is checked against this.
func (lp LearningProfile) TotalAttempts() int {
	total := 0
	for _, perf := range lp.Performance {
		total += perf.Attempts
	}
	return total
}

// RecomputeAggregates re-derives TotalYield, AverageSuccessRate, and
// TasksCompleted/TasksFailed from Performance, satisfying the invariant
// that cached aggregates are exactly re-derivable from raw counters. Callers
// supply the accumulated outcome yield separately since yield lives on
// OutcomeRecord, not SkillPerformance.
func (lp *LearningProfile) RecomputeAggregates(totalYield float64) {
	var sumRates float64
	var completed, failed int
	n := 0
	for _, perf := range lp.Performance {
		sumRates += perf.SuccessRate()
		completed += perf.Successes
		failed += perf.Failures
		n++
	}
	lp.TasksCompleted = completed
	lp.TasksFailed = failed
	lp.TotalYield = totalYield
	if n > 0 {
		lp.AverageSuccessRate = sumRates / float64(n)
	} else {
		lp.AverageSuccessRate = 0
	}
}

// LearningFile is the on-disk shape: bot name -> profile.
type LearningFile map[string]LearningProfile
