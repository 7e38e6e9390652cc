package domain

import (
	"fmt"
	"time"
)

// ErrorType is the closed set of failure categories the classifier emits.
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeRateLimit      ErrorType = "api_rate_limit"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeProcessing     ErrorType = "processing"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeStorage        ErrorType = "storage"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeQuotaExceeded  ErrorType = "quota_exceeded"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Severity ranks how badly a failure hurts the user.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RecoveryStrategy is the recommended handling approach for an error type.
type RecoveryStrategy string

const (
	StrategyAutoRetry           RecoveryStrategy = "auto_retry"
	StrategyUserRetry           RecoveryStrategy = "user_retry"
	StrategyFallbackMethod      RecoveryStrategy = "fallback_method"
	StrategyCheckpointRestore   RecoveryStrategy = "checkpoint_restore"
	StrategyManualIntervention  RecoveryStrategy = "manual_intervention"
	StrategyGracefulDegradation RecoveryStrategy = "graceful_degradation"
)

// ErrorContext carries the call-site circumstances of a failure.
// Built fresh per classification; no identity beyond the call.
type ErrorContext struct {
	Operation        string        `json:"operation"`
	JobID            string        `json:"job_id,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	UserID           string        `json:"user_id,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
	Network          NetworkStatus `json:"network"`
	RetryCount       int           `json:"retry_count"`
	LastCheckpointID string        `json:"last_checkpoint_id,omitempty"`
}

// ClassifiedError is the normalized description of one failure occurrence.
// Immutable once built; never deduplicated.
type ClassifiedError struct {
	ID                    string           `json:"id"`
	Type                  ErrorType        `json:"type"`
	Severity              Severity         `json:"severity"`
	Message               string           `json:"message"`
	UserMessage           string           `json:"user_message"`
	Strategy              RecoveryStrategy `json:"recovery_strategy"`
	Context               ErrorContext     `json:"context"`
	Recoverable           bool             `json:"recoverable"`
	Retryable             bool             `json:"retryable"`
	MaxRetries            int              `json:"max_retries"`
	RetryDelay            time.Duration    `json:"retry_delay"`
	ActionableSteps       []string         `json:"actionable_steps"`
	SupportTicketRequired bool             `json:"support_ticket_required"`
	Telemetry             map[string]any   `json:"telemetry,omitempty"`
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// StatusError is a raw error carrying an HTTP-style status code.
// Callers at the service boundary wrap upstream responses in this so the
// classifier can match on the numeric code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP-style code.
func (e *StatusError) StatusCode() int {
	return e.Code
}
