package domain

import "time"

// ReportStatus tracks the lifecycle of an error report.
type ReportStatus string

const (
	ReportStatusOpen          ReportStatus = "open"
	ReportStatusInvestigating ReportStatus = "investigating"
	ReportStatusResolved      ReportStatus = "resolved"
)

// RecoveryAttemptType names the kind of recovery action taken.
type RecoveryAttemptType string

const (
	RecoveryAttemptRetry             RecoveryAttemptType = "retry"
	RecoveryAttemptCheckpointRestore RecoveryAttemptType = "checkpoint_restore"
	RecoveryAttemptManual            RecoveryAttemptType = "manual_intervention"
)

// AttemptResult is the outcome of one recovery attempt.
type AttemptResult string

const (
	AttemptResultSuccess AttemptResult = "success"
	AttemptResultFailure AttemptResult = "failure"
	AttemptResultPartial AttemptResult = "partial"
)

// RecoveryAttempt logs one recovery action taken during a session.
type RecoveryAttempt struct {
	Type      RecoveryAttemptType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Result    AttemptResult       `json:"result"`
	Details   string              `json:"details,omitempty"`
	Retry     *RetryResult        `json:"retry_result,omitempty"`
}

// ReportContext is the ambient context attached to an error report.
type ReportContext struct {
	SessionID   string              `json:"session_id,omitempty"`
	JobID       string              `json:"job_id,omitempty"`
	UserActions []UserAction        `json:"user_actions"`
	Checkpoints []string            `json:"checkpoints"`
	Network     NetworkStatus       `json:"network"`
	Performance PerformanceSnapshot `json:"performance"`
}

// ErrorReport is the durable record of a terminal failure. Created once;
// mutable afterward only via status and feedback updates.
type ErrorReport struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Error            ClassifiedError   `json:"error"`
	Context          ReportContext     `json:"context"`
	SystemInfo       SystemInfo        `json:"system_info"`
	RecoveryAttempts []RecoveryAttempt `json:"recovery_attempts"`
	UserFeedback     string            `json:"user_feedback,omitempty"`
	Status           ReportStatus      `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
