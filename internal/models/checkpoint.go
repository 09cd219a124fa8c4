package models

import "time"

// EvaluationCheckpoint records how far a named background loop has
// progressed. LastProcessedTimestamp never decreases; a cycle that fails
// before its commit boundary leaves the checkpoint untouched so the next
// run reprocesses the same window.
type EvaluationCheckpoint struct {
	LoopName               string    `gorm:"primarykey" json:"loop_name"`
	LastRunAt              time.Time `json:"last_run_at"`
	LastProcessedTimestamp time.Time `json:"last_processed_timestamp"`
}
