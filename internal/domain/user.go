// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36

	DefaultUsername = "Anonymous"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// Role is the audio-publish permission level inside a live room.
// Speaker and listener are mutually exclusive.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// ParseRole maps anything that is not explicitly "speaker" to listener.
func ParseRole(s string) Role {
	if Role(s) == RoleSpeaker {
		return RoleSpeaker
	}
	return RoleListener
}

func (r Role) CanPublish() bool { return r == RoleSpeaker }

// Identity is the durable client-side display identity. It is not a
// security credential; the server trusts it as-is.
type Identity struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
}

func ValidateUsername(name string) error {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
