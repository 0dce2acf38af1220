// Package state projects inbound room events onto an in-memory
// snapshot of a live session. The projector is the only writer of that
// snapshot; every other component reads through Snapshot.
package state

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/wire"
)

const DefaultReactionTTL = 2 * time.Second

type NoticeKind string

const (
	NoticeJoined    NoticeKind = "joined"
	NoticeHandRaise NoticeKind = "hand_raise"
	NoticeAudio     NoticeKind = "audio"
)

// Notice is a transient, user-visible message derived from an event.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Hooks are invoked synchronously after an event has been applied,
// outside the projector lock. All fields are optional.
type Hooks struct {
	// OnNotice receives transient notices (someone joined, raised a hand).
	OnNotice func(Notice)
	// OnRoleChange fires when a promote/demote targets the local user.
	// The audio coordinator uses it to force the transport closed.
	OnRoleChange func(domain.Role)
	// OnChatFrom fires for chat messages sent by other users.
	OnChatFrom func(domain.ChatMessage)
}

// Snapshot is a read-only copy of the projected room state.
type Snapshot struct {
	Participants []domain.Participant
	Speakers     []domain.UserID
	Listeners    []domain.UserID
	HandRaised   []domain.UserID
	ChatMessages []domain.ChatMessage
	Reactions    []domain.Reaction
	Stats        domain.Stats
	Role         domain.Role
}

type reactionEntry struct {
	domain.Reaction
	expiresAt time.Time
}

type Projector struct {
	mu sync.RWMutex

	self domain.UserID
	role domain.Role

	participants []domain.Participant
	speakers     []domain.UserID
	listeners    []domain.UserID
	handRaised   []domain.UserID
	chat         []domain.ChatMessage
	reactions    []reactionEntry
	stats        domain.Stats

	reactionTTL time.Duration
	now         func() time.Time
	hooks       Hooks
}

type Option func(*Projector)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) { p.now = now }
}

func WithReactionTTL(ttl time.Duration) Option {
	return func(p *Projector) { p.reactionTTL = ttl }
}

func WithHooks(h Hooks) Option {
	return func(p *Projector) { p.hooks = h }
}

func New(self domain.UserID, role domain.Role, opts ...Option) *Projector {
	p := &Projector{
		self:        self,
		role:        role,
		reactionTTL: DefaultReactionTTL,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Projector) Role() domain.Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

// Reset discards the projection. Called when the channel closes; a
// fresh room_state snapshot is expected from the server on reconnect.
func (p *Projector) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants = nil
	p.speakers = nil
	p.listeners = nil
	p.handRaised = nil
	p.chat = nil
	p.reactions = nil
	p.stats = domain.Stats{}
}

// Apply projects one decoded event. Events are applied strictly in the
// order they are handed in; there is no reordering buffer.
func (p *Projector) Apply(ev any) {
	var after []func()

	p.mu.Lock()
	switch e := ev.(type) {
	case wire.RoomStateEvent:
		p.applyRoomState(e)
	case wire.UserJoinedEvent:
		after = p.applyUserJoined(e)
	case wire.UserLeftEvent:
		p.applyUserLeft(e)
	case wire.ChatMessageEvent:
		after = p.applyChat(e)
	case wire.ReactionEvent:
		p.applyReaction(e)
	case wire.HandRaisedUpdateEvent:
		after = p.applyHandRaised(e)
	case wire.UserPromotedEvent:
		after = p.applyRoleChange(e.UserID, e.Stats, domain.RoleSpeaker)
	case wire.UserDemotedEvent:
		after = p.applyRoleChange(e.UserID, e.Stats, domain.RoleListener)
	case wire.PongEvent:
		// Heartbeat acknowledgement, no state effect.
	default:
		log.Warn().Str("module", "state").Type("event", ev).Msg("unhandled event")
	}
	p.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

func (p *Projector) applyRoomState(e wire.RoomStateEvent) {
	p.participants = slices.Clone(e.Participants)
	p.speakers = slices.Clone(e.Speakers)
	p.listeners = slices.Clone(e.Listeners)
	p.handRaised = slices.Clone(e.HandRaised)
	p.chat = slices.Clone(e.ChatMessages)
	p.stats = e.Stats
}

func (p *Projector) applyUserJoined(e wire.UserJoinedEvent) []func() {
	if !slices.ContainsFunc(p.participants, func(m domain.Participant) bool { return m.UserID == e.UserID }) {
		p.participants = append(p.participants, domain.Participant{
			UserID:   e.UserID,
			Username: e.Username,
			Role:     e.Role,
			IsMuted:  true,
		})
	}
	p.stats = e.Stats

	if e.UserID == p.self || p.hooks.OnNotice == nil {
		return nil
	}
	n := Notice{Kind: NoticeJoined, Text: e.Username + " joined"}
	return []func(){func() { p.hooks.OnNotice(n) }}
}

func (p *Projector) applyUserLeft(e wire.UserLeftEvent) {
	p.participants = slices.DeleteFunc(p.participants, func(m domain.Participant) bool {
		return m.UserID == e.UserID
	})
	p.speakers = removeID(p.speakers, e.UserID)
	p.listeners = removeID(p.listeners, e.UserID)
	p.handRaised = removeID(p.handRaised, e.UserID)
	p.stats = e.Stats
}

func (p *Projector) applyChat(e wire.ChatMessageEvent) []func() {
	p.chat = append(p.chat, e.Message)

	if e.Message.UserID == p.self || p.hooks.OnChatFrom == nil {
		return nil
	}
	msg := e.Message
	return []func(){func() { p.hooks.OnChatFrom(msg) }}
}

func (p *Projector) applyReaction(e wire.ReactionEvent) {
	p.reactions = append(p.reactions, reactionEntry{
		Reaction: domain.Reaction{
			ID:       uuid.NewString(),
			UserID:   e.UserID,
			Username: e.Username,
			Emoji:    e.Emoji,
		},
		expiresAt: p.now().Add(p.reactionTTL),
	})
}

func (p *Projector) applyHandRaised(e wire.HandRaisedUpdateEvent) []func() {
	p.handRaised = slices.Clone(e.HandRaised)
	p.stats = e.Stats

	if e.UserID == p.self || e.Action != wire.ActionRaise || p.hooks.OnNotice == nil {
		return nil
	}
	n := Notice{Kind: NoticeHandRaise, Text: string(e.UserID) + " raised a hand"}
	return []func(){func() { p.hooks.OnNotice(n) }}
}

// applyRoleChange keeps speakers and listeners disjoint: the target is
// always removed from the opposite set before entering the new one.
func (p *Projector) applyRoleChange(target domain.UserID, stats domain.Stats, to domain.Role) []func() {
	p.stats = stats

	isParticipant := slices.ContainsFunc(p.participants, func(m domain.Participant) bool {
		return m.UserID == target
	})
	switch to {
	case domain.RoleSpeaker:
		p.listeners = removeID(p.listeners, target)
		if isParticipant && !slices.Contains(p.speakers, target) {
			p.speakers = append(p.speakers, target)
		}
	case domain.RoleListener:
		p.speakers = removeID(p.speakers, target)
		if isParticipant && !slices.Contains(p.listeners, target) {
			p.listeners = append(p.listeners, target)
		}
	}
	for i := range p.participants {
		if p.participants[i].UserID == target {
			p.participants[i].Role = to
		}
	}

	if target != p.self {
		return nil
	}
	p.role = to
	if p.hooks.OnRoleChange == nil {
		return nil
	}
	return []func(){func() { p.hooks.OnRoleChange(to) }}
}

// Snapshot copies the current projection. Expired reactions are
// excluded as a pure function of the clock, so expiry is observable
// without waiting for a sweep.
func (p *Projector) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.now()
	var reactions []domain.Reaction
	for _, r := range p.reactions {
		if r.expiresAt.After(now) {
			reactions = append(reactions, r.Reaction)
		}
	}

	return Snapshot{
		Participants: slices.Clone(p.participants),
		Speakers:     slices.Clone(p.speakers),
		Listeners:    slices.Clone(p.listeners),
		HandRaised:   slices.Clone(p.handRaised),
		ChatMessages: slices.Clone(p.chat),
		Reactions:    reactions,
		Stats:        p.stats,
		Role:         p.role,
	}
}

// SweepReactions drops expired entries. The room client drives it from
// a coarse ticker; Snapshot already filters, so the sweep is pure GC.
func (p *Projector) SweepReactions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	before := len(p.reactions)
	p.reactions = slices.DeleteFunc(p.reactions, func(r reactionEntry) bool {
		return !r.expiresAt.After(now)
	})
	return before - len(p.reactions)
}

func removeID(ids []domain.UserID, id domain.UserID) []domain.UserID {
	return slices.DeleteFunc(ids, func(v domain.UserID) bool { return v == id })
}
