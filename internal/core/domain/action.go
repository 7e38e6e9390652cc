package domain

import "time"

// UserAction is one observed user interaction, kept only for diagnostic
// attachment to error reports. It never influences control flow.
type UserAction struct {
	Type      string         `json:"type"`
	Target    string         `json:"target"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}
