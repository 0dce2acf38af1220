package domain

import (
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionID string

// Status of a live session. Only a refresh of the session resource
// updates it; status is never pushed over the realtime channel.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusRecorded  Status = "recorded"
)

// Joinable reports whether the room accepts realtime connections.
func (s Status) Joinable() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusActive:
		return true
	}
	return false
}

type Session struct {
	ID          SessionID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}
