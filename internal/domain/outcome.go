package domain

import "time"

// OutcomeRecord is an immutable record of a single task attempt.
type OutcomeRecord struct {
	TaskType    string            `json:"taskType"`
	NPCID       string            `json:"npcId"`
	Success     bool              `json:"success"`
	Yield       float64           `json:"yield"`
	Environment string            `json:"environment,omitempty"`
	DurationMs  float64           `json:"durationMs"`
	Hazards     []string          `json:"hazards,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutcomeRetentionDays is the age cutoff applied by PruneOutcomes.
const OutcomeRetentionDays = 90

// DefaultOutcomeCap is the default maximum retained outcome count.
const DefaultOutcomeCap = 50_000

// PruneOutcomes drops records older than OutcomeRetentionDays and caps the
// remainder at maxCount, keeping the newest. Input is assumed ordered
// oldest-first (append order); the result preserves that order.
func PruneOutcomes(records []OutcomeRecord, now time.Time, maxCount int) []OutcomeRecord {
	cutoff := now.AddDate(0, 0, -OutcomeRetentionDays)
	kept := records[:0:0]
	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	if maxCount > 0 && len(kept) > maxCount {
		kept = kept[len(kept)-maxCount:]
	}
	return kept
}

// KnowledgeFile is the on-disk shape of the outcomes/knowledge store.
type KnowledgeFile struct {
	Version     int                `json:"version"`
	Skills      map[string]float64 `json:"skills"`
	Outcomes    []OutcomeRecord    `json:"outcomes"`
	Yields      map[string]float64 `json:"yields"`
	Stats       map[string]float64 `json:"stats"`
	LastUpdated time.Time          `json:"lastUpdated"`
}
