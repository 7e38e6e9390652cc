package domain

import "time"

// ProcessingCheckpoint is a durable snapshot of in-flight operation state,
// owned by a job. The data map is opaque to everything below the caller.
type ProcessingCheckpoint struct {
	ID       string             `json:"id"`
	JobID    string             `json:"job_id"`
	Type     string             `json:"type"`
	Data     map[string]any     `json:"data"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// CheckpointMetadata describes how a checkpoint may be used.
type CheckpointMetadata struct {
	Description            string        `json:"description"`
	CanResumeFrom          bool          `json:"can_resume_from"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
}

// RestoreResult is the outcome of a restore-latest lookup. Having nothing
// to restore is a normal outcome, not an error.
type RestoreResult struct {
	Success      bool                  `json:"success"`
	Checkpoint   *ProcessingCheckpoint `json:"checkpoint,omitempty"`
	RestoredData map[string]any        `json:"restored_data,omitempty"`
	Message      string                `json:"message"`
}
