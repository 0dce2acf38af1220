// Package server is a development room server speaking the same
// protocol the client consumes: session API, token issuance and the
// live-room websocket. State is in-memory and per-process.
package server

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/wire"
)

const (
	chatHistoryMax  = 100
	chatSnapshotMax = 50
)

// sender abstracts the websocket write side so the hub can be driven
// directly in tests.
type sender interface {
	TrySend(data []byte) error
}

type liveRoom struct {
	members      map[domain.UserID]sender
	participants []domain.Participant
	speakers     []domain.UserID
	listeners    []domain.UserID
	handRaised   []domain.UserID
	chat         []domain.ChatMessage
}

func newLiveRoom() *liveRoom {
	return &liveRoom{members: make(map[domain.UserID]sender)}
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
	rooms    map[domain.SessionID]*liveRoom
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[domain.SessionID]*domain.Session),
		rooms:    make(map[domain.SessionID]*liveRoom),
	}
}

func (h *Hub) CreateSession(title, description string) *domain.Session {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:          domain.SessionID(uuid.NewString()),
		Title:       title,
		Description: description,
		Status:      domain.StatusLive,
		StartedAt:   &now,
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	log.Info().Str("module", "server.hub").Str("session", string(s.ID)).Str("title", title).Msg("session created")
	return s
}

// Sessions lists every known session, newest first.
func (h *Hub) Sessions() []domain.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b domain.Session) int {
		switch {
		case a.StartedAt == nil || b.StartedAt == nil:
			return 0
		case a.StartedAt.After(*b.StartedAt):
			return -1
		case b.StartedAt.After(*a.StartedAt):
			return 1
		}
		return 0
	})
	return out
}

func (h *Hub) Session(id domain.SessionID) (*domain.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// SetSessionStatus updates a session's status (ending a room, tests).
func (h *Hub) SetSessionStatus(id domain.SessionID, status domain.Status) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if ok {
		s.Status = status
	}
	return ok
}

func (h *Hub) room(id domain.SessionID) *liveRoom {
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := newLiveRoom()
	h.rooms[id] = r
	return r
}

// Connect registers a member, sends them the full snapshot first, then
// announces the join to everyone else.
func (h *Hub) Connect(sessionID domain.SessionID, p domain.Participant, conn sender) {
	h.mu.Lock()
	r := h.room(sessionID)
	r.members[p.UserID] = conn
	if i := slices.IndexFunc(r.participants, func(m domain.Participant) bool { return m.UserID == p.UserID }); i >= 0 {
		r.participants[i] = p
	} else {
		r.participants = append(r.participants, p)
	}
	if p.Role == domain.RoleSpeaker {
		r.speakers = appendUnique(r.speakers, p.UserID)
	} else {
		r.listeners = appendUnique(r.listeners, p.UserID)
	}
	snapshot := h.snapshotLocked(r)
	joined := marshalEvent(wire.EventUserJoined, wire.UserJoinedEvent{
		UserID:   p.UserID,
		Username: p.Username,
		Role:     p.Role,
		Stats:    statsLocked(r),
	})
	h.mu.Unlock()

	h.sendTo(conn, snapshot)
	h.broadcastExcept(sessionID, p.UserID, joined)
	log.Info().Str("module", "server.hub").Str("session", string(sessionID)).Str("user_id", string(p.UserID)).Msg("member connected")
}

// Disconnect removes a member. The conn guard keeps a stale read pump
// from evicting a member that already reconnected on a fresh socket.
func (h *Hub) Disconnect(sessionID domain.SessionID, userID domain.UserID, conn sender) {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if conn != nil && r.members[userID] != conn {
		h.mu.Unlock()
		return
	}
	delete(r.members, userID)
	r.participants = slices.DeleteFunc(r.participants, func(m domain.Participant) bool { return m.UserID == userID })
	r.speakers = removeID(r.speakers, userID)
	r.listeners = removeID(r.listeners, userID)
	r.handRaised = removeID(r.handRaised, userID)
	left := marshalEvent(wire.EventUserLeft, wire.UserLeftEvent{UserID: userID, Stats: statsLocked(r)})
	h.mu.Unlock()

	h.broadcast(sessionID, left)
	log.Info().Str("module", "server.hub").Str("session", string(sessionID)).Str("user_id", string(userID)).Msg("member disconnected")
}

func (h *Hub) Chat(sessionID domain.SessionID, userID domain.UserID, username, text string) {
	msg := domain.ChatMessage{
		ID:        fmt.Sprintf("%s_%d", userID, time.Now().UnixNano()),
		UserID:    userID,
		Username:  username,
		Message:   text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	h.mu.Lock()
	r := h.room(sessionID)
	r.chat = append(r.chat, msg)
	if len(r.chat) > chatHistoryMax {
		r.chat = r.chat[len(r.chat)-chatHistoryMax:]
	}
	h.mu.Unlock()

	h.broadcast(sessionID, marshalEvent(wire.EventChatMessage, wire.ChatMessageEvent{Message: msg}))
}

func (h *Hub) Reaction(sessionID domain.SessionID, userID domain.UserID, username, emoji string) {
	h.broadcast(sessionID, marshalEvent(wire.EventReaction, wire.ReactionEvent{
		UserID:    userID,
		Username:  username,
		Emoji:     emoji,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}))
}

func (h *Hub) HandRaise(sessionID domain.SessionID, userID domain.UserID, action string) {
	h.mu.Lock()
	r := h.room(sessionID)
	switch action {
	case wire.ActionRaise:
		r.handRaised = appendUnique(r.handRaised, userID)
	case wire.ActionLower:
		r.handRaised = removeID(r.handRaised, userID)
	}
	update := marshalEvent(wire.EventHandRaisedUpdate, wire.HandRaisedUpdateEvent{
		UserID:     userID,
		Action:     action,
		HandRaised: slices.Clone(r.handRaised),
		Stats:      statsLocked(r),
	})
	h.mu.Unlock()

	h.broadcast(sessionID, update)
}

// Promote moves the target to the speaker set and clears any raised
// hand; the promotion itself is the grant the queue was waiting for.
func (h *Hub) Promote(sessionID domain.SessionID, target domain.UserID) {
	h.mu.Lock()
	r := h.room(sessionID)
	r.listeners = removeID(r.listeners, target)
	r.speakers = appendUnique(r.speakers, target)
	r.handRaised = removeID(r.handRaised, target)
	setRole(r, target, domain.RoleSpeaker)
	ev := marshalEvent(wire.EventUserPromoted, wire.UserPromotedEvent{UserID: target, Stats: statsLocked(r)})
	h.mu.Unlock()

	h.broadcast(sessionID, ev)
}

func (h *Hub) Demote(sessionID domain.SessionID, target domain.UserID) {
	h.mu.Lock()
	r := h.room(sessionID)
	r.speakers = removeID(r.speakers, target)
	r.listeners = appendUnique(r.listeners, target)
	setRole(r, target, domain.RoleListener)
	ev := marshalEvent(wire.EventUserDemoted, wire.UserDemotedEvent{UserID: target, Stats: statsLocked(r)})
	h.mu.Unlock()

	h.broadcast(sessionID, ev)
}

func (h *Hub) Pong(conn sender) {
	h.sendTo(conn, marshalEvent(wire.EventPong, wire.PongEvent{}))
}

// RoomSnapshot is the debug view of a room's current state.
func (h *Hub) RoomSnapshot(sessionID domain.SessionID) wire.RoomStateEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[sessionID]
	if !ok {
		return wire.RoomStateEvent{}
	}
	return snapshotEventLocked(r)
}

func (h *Hub) snapshotLocked(r *liveRoom) []byte {
	return marshalEvent(wire.EventRoomState, snapshotEventLocked(r))
}

func snapshotEventLocked(r *liveRoom) wire.RoomStateEvent {
	chat := r.chat
	if len(chat) > chatSnapshotMax {
		chat = chat[len(chat)-chatSnapshotMax:]
	}
	return wire.RoomStateEvent{
		Participants: slices.Clone(r.participants),
		Speakers:     slices.Clone(r.speakers),
		Listeners:    slices.Clone(r.listeners),
		HandRaised:   slices.Clone(r.handRaised),
		ChatMessages: slices.Clone(chat),
		Stats:        statsLocked(r),
	}
}

func statsLocked(r *liveRoom) domain.Stats {
	return domain.Stats{
		TotalParticipants: len(r.participants),
		SpeakersCount:     len(r.speakers),
		ListenersCount:    len(r.listeners),
		HandRaisedCount:   len(r.handRaised),
	}
}

func (h *Hub) broadcast(sessionID domain.SessionID, data []byte) {
	h.mu.RLock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	conns := make([]sender, 0, len(r.members))
	for _, c := range r.members {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.sendTo(c, data)
	}
}

func (h *Hub) broadcastExcept(sessionID domain.SessionID, except domain.UserID, data []byte) {
	h.mu.RLock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	conns := make([]sender, 0, len(r.members))
	for id, c := range r.members {
		if id != except {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.sendTo(c, data)
	}
}

func (h *Hub) sendTo(conn sender, data []byte) {
	if conn == nil {
		return
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "server.hub").Msg("dropping frame for slow member")
	}
}

func marshalEvent(typ string, ev any) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "server.hub").Str("type", typ).Msg("marshal event")
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil
	}
	if m == nil {
		m = map[string]any{}
	}
	m["type"] = typ
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

func setRole(r *liveRoom, target domain.UserID, role domain.Role) {
	for i := range r.participants {
		if r.participants[i].UserID == target {
			r.participants[i].Role = role
		}
	}
}

func appendUnique(ids []domain.UserID, id domain.UserID) []domain.UserID {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []domain.UserID, id domain.UserID) []domain.UserID {
	return slices.DeleteFunc(ids, func(v domain.UserID) bool { return v == id })
}
