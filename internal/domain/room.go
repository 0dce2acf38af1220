package domain

type Participant struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	JoinedAt string `json:"joined_at,omitempty"`
	IsMuted  bool   `json:"is_muted"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	UserID    UserID `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Reaction is ephemeral presentation state; entries expire shortly
// after they are pushed and are never part of the durable room state.
type Reaction struct {
	ID       string `json:"id"`
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}

// Stats are authoritative from the server. The client never recomputes
// them from its own set sizes; the server value wins.
type Stats struct {
	TotalParticipants int `json:"total_participants"`
	SpeakersCount     int `json:"speakers_count"`
	ListenersCount    int `json:"listeners_count"`
	HandRaisedCount   int `json:"hand_raised_count"`
}
