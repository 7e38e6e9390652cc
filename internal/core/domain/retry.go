package domain

import "time"

// CircuitState is the per-operation breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitSnapshot is a point-in-time view of one operation's breaker.
type CircuitSnapshot struct {
	Operation   string       `json:"operation"`
	Failures    int          `json:"failures"`
	LastFailure time.Time    `json:"last_failure"`
	State       CircuitState `json:"state"`
}

// RetryAttempt records one invocation inside a retry loop.
type RetryAttempt struct {
	Number    int              `json:"number"`
	Err       *ClassifiedError `json:"error,omitempty"`
	Delay     time.Duration    `json:"delay"`
	Timestamp time.Time        `json:"timestamp"`
	Success   bool             `json:"success"`
	Elapsed   time.Duration    `json:"elapsed"`
}

// RetryResult aggregates the outcome of a full retry loop.
// Built fresh per executor call; never persisted on its own.
type RetryResult struct {
	Success                bool             `json:"success"`
	Data                   any              `json:"data,omitempty"`
	Err                    *ClassifiedError `json:"error,omitempty"`
	Attempts               []RetryAttempt   `json:"attempts"`
	TotalElapsed           time.Duration    `json:"total_elapsed"`
	RestoredFromCheckpoint bool             `json:"restored_from_checkpoint"`
}
