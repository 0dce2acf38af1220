// Package wire defines the JSON messages exchanged over the live room
// channel. Every frame carries a "type" discriminant; the rest of the
// payload is event-specific.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/voxclub/liveroom/internal/domain"
)

// ErrUnknownType marks inbound frames whose type the client does not
// understand. Callers log and drop them; they are never fatal.
var ErrUnknownType = fmt.Errorf("unknown event type")

const (
	EventRoomState        = "room_state"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventChatMessage      = "chat_message"
	EventReaction         = "reaction"
	EventHandRaisedUpdate = "hand_raised_update"
	EventUserPromoted     = "user_promoted"
	EventUserDemoted      = "user_demoted"
	EventPong             = "pong"
)

// RoomStateEvent is the full snapshot the server sends on (re)connect.
// It wholesale replaces the client-side projection.
type RoomStateEvent struct {
	Participants []domain.Participant `json:"participants"`
	Speakers     []domain.UserID      `json:"speakers"`
	Listeners    []domain.UserID      `json:"listeners"`
	HandRaised   []domain.UserID      `json:"hand_raised"`
	ChatMessages []domain.ChatMessage `json:"chat_messages"`
	Stats        domain.Stats         `json:"stats"`
}

type UserJoinedEvent struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Role     domain.Role   `json:"role"`
	Stats    domain.Stats  `json:"stats"`
}

type UserLeftEvent struct {
	UserID domain.UserID `json:"user_id"`
	Stats  domain.Stats  `json:"stats"`
}

type ChatMessageEvent struct {
	Message domain.ChatMessage `json:"message"`
}

type ReactionEvent struct {
	UserID    domain.UserID `json:"user_id"`
	Username  string        `json:"username"`
	Emoji     string        `json:"emoji"`
	Timestamp string        `json:"timestamp"`
}

type HandRaisedUpdateEvent struct {
	UserID     domain.UserID   `json:"user_id"`
	Action     string          `json:"action"`
	HandRaised []domain.UserID `json:"hand_raised"`
	Stats      domain.Stats    `json:"stats"`
}

type UserPromotedEvent struct {
	UserID domain.UserID `json:"user_id"`
	Stats  domain.Stats  `json:"stats"`
}

type UserDemotedEvent struct {
	UserID domain.UserID `json:"user_id"`
	Stats  domain.Stats  `json:"stats"`
}

type PongEvent struct{}

// Decode parses one inbound frame into its typed event. Frames with an
// unrecognized type return ErrUnknownType wrapped with the type name.
func Decode(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		ev  any
		err error
	)
	switch env.Type {
	case EventRoomState:
		ev, err = decodeAs[RoomStateEvent](data)
	case EventUserJoined:
		ev, err = decodeAs[UserJoinedEvent](data)
	case EventUserLeft:
		ev, err = decodeAs[UserLeftEvent](data)
	case EventChatMessage:
		ev, err = decodeAs[ChatMessageEvent](data)
	case EventReaction:
		ev, err = decodeAs[ReactionEvent](data)
	case EventHandRaisedUpdate:
		ev, err = decodeAs[HandRaisedUpdateEvent](data)
	case EventUserPromoted:
		ev, err = decodeAs[UserPromotedEvent](data)
	case EventUserDemoted:
		ev, err = decodeAs[UserDemotedEvent](data)
	case EventPong:
		ev = PongEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
