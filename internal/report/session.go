package report

import (
	"context"
	"sync"

	"github.com/vietddude/rescue/internal/core/domain"
)

// Session buffers one session's diagnostic context: the recent user actions
// and the recovery attempts made since the last overall success. Both
// buffers are capped; writes past the cap evict the oldest entry.
//
// Implementations must be safe for concurrent use. The in-process
// MemorySession covers single-instance deployments; infra/redis.SessionStore
// provides the same surface across processes.
type Session interface {
	// TrackAction appends a user action, evicting the oldest past the cap.
	TrackAction(ctx context.Context, action domain.UserAction) error

	// Actions returns the buffered actions, oldest first.
	Actions(ctx context.Context) ([]domain.UserAction, error)

	// TrackRecoveryAttempt appends a recovery attempt, evicting past the cap.
	TrackRecoveryAttempt(ctx context.Context, attempt domain.RecoveryAttempt) error

	// RecoveryAttempts returns the buffered attempts, oldest first.
	RecoveryAttempts(ctx context.Context) ([]domain.RecoveryAttempt, error)

	// ClearRecoveryAttempts drops the attempt buffer after an overall success.
	ClearRecoveryAttempts(ctx context.Context) error
}

// MemorySession keeps the session buffers in process memory.
type MemorySession struct {
	mu          sync.Mutex
	maxActions  int
	maxAttempts int
	actions     []domain.UserAction
	attempts    []domain.RecoveryAttempt
}

// NewMemorySession creates a session with the given buffer caps.
// Non-positive caps fall back to 50 actions and 10 attempts.
func NewMemorySession(maxActions, maxAttempts int) *MemorySession {
	if maxActions <= 0 {
		maxActions = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &MemorySession{
		maxActions:  maxActions,
		maxAttempts: maxAttempts,
	}
}

func (s *MemorySession) TrackAction(_ context.Context, action domain.UserAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	if len(s.actions) > s.maxActions {
		s.actions = s.actions[len(s.actions)-s.maxActions:]
	}
	return nil
}

func (s *MemorySession) Actions(_ context.Context) ([]domain.UserAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAction, len(s.actions))
	copy(out, s.actions)
	return out, nil
}

func (s *MemorySession) TrackRecoveryAttempt(_ context.Context, attempt domain.RecoveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	if len(s.attempts) > s.maxAttempts {
		s.attempts = s.attempts[len(s.attempts)-s.maxAttempts:]
	}
	return nil
}

func (s *MemorySession) RecoveryAttempts(_ context.Context) ([]domain.RecoveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RecoveryAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out, nil
}

func (s *MemorySession) ClearRecoveryAttempts(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = nil
	return nil
}
