package wire

import "github.com/voxclub/liveroom/internal/domain"

const (
	ActionRaise = "raise"
	ActionLower = "lower"
)

type ChatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Reaction struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

type HandRaise struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type Promote struct {
	Type         string        `json:"type"`
	TargetUserID domain.UserID `json:"target_user_id"`
}

type Demote struct {
	Type         string        `json:"type"`
	TargetUserID domain.UserID `json:"target_user_id"`
}

type Ping struct {
	Type string `json:"type"`
}

func NewChat(message string) ChatMessage   { return ChatMessage{Type: "chat", Message: message} }
func NewReaction(emoji string) Reaction    { return Reaction{Type: "reaction", Emoji: emoji} }
func NewHandRaise(action string) HandRaise { return HandRaise{Type: "hand_raise", Action: action} }
func NewPromote(t domain.UserID) Promote   { return Promote{Type: "promote", TargetUserID: t} }
func NewDemote(t domain.UserID) Demote     { return Demote{Type: "demote", TargetUserID: t} }
func NewPing() Ping                        { return Ping{Type: "ping"} }
