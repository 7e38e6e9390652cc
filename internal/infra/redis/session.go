package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
)

// SessionStore keeps one session's diagnostic buffers in Redis so that user
// action history and recovery attempts survive process restarts and are
// visible across instances. Lists are capped on every write, so the store
// never grows past its configured bounds.
type SessionStore struct {
	client      *Client
	sessionID   string
	maxActions  int
	maxAttempts int
	ttl         time.Duration
}

// NewSessionStore binds a store to one session id.
func NewSessionStore(client *Client, sessionID string, maxActions, maxAttempts int) *SessionStore {
	if maxActions <= 0 {
		maxActions = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &SessionStore{
		client:      client,
		sessionID:   sessionID,
		maxActions:  maxActions,
		maxAttempts: maxAttempts,
		ttl:         24 * time.Hour,
	}
}

// Key helpers
func (s *SessionStore) actionsKey() string {
	return fmt.Sprintf("session_actions:%s", s.sessionID)
}

func (s *SessionStore) attemptsKey() string {
	return fmt.Sprintf("session_attempts:%s", s.sessionID)
}

// TrackAction appends a user action, evicting the oldest past the cap.
func (s *SessionStore) TrackAction(ctx context.Context, action domain.UserAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal user action: %w", err)
	}

	key := s.actionsKey()
	pipe := s.client.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.maxActions), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to track action: %w", err)
	}
	return nil
}

// Actions returns the buffered actions, oldest first.
func (s *SessionStore) Actions(ctx context.Context) ([]domain.UserAction, error) {
	raw, err := s.client.rdb.LRange(ctx, s.actionsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", err)
	}

	actions := make([]domain.UserAction, 0, len(raw))
	for _, item := range raw {
		var a domain.UserAction
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue // Skip corrupt entries
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// TrackRecoveryAttempt appends a recovery attempt, evicting past the cap.
func (s *SessionStore) TrackRecoveryAttempt(
	ctx context.Context,
	attempt domain.RecoveryAttempt,
) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery attempt: %w", err)
	}

	key := s.attemptsKey()
	pipe := s.client.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.maxAttempts), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to track recovery attempt: %w", err)
	}
	return nil
}

// RecoveryAttempts returns the buffered attempts, oldest first.
func (s *SessionStore) RecoveryAttempts(ctx context.Context) ([]domain.RecoveryAttempt, error) {
	raw, err := s.client.rdb.LRange(ctx, s.attemptsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recovery attempts: %w", err)
	}

	attempts := make([]domain.RecoveryAttempt, 0, len(raw))
	for _, item := range raw {
		var a domain.RecoveryAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// ClearRecoveryAttempts drops the attempt buffer after an overall success.
func (s *SessionStore) ClearRecoveryAttempts(ctx context.Context) error {
	return s.client.rdb.Del(ctx, s.attemptsKey()).Err()
}
