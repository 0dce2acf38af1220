// Package room is the live-room client: it resolves identity, loads
// the session, keeps the realtime channel and projection alive, and
// translates user intents into outbound protocol messages.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/api"
	"github.com/voxclub/liveroom/internal/audio"
	"github.com/voxclub/liveroom/internal/channel"
	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/identity"
	"github.com/voxclub/liveroom/internal/state"
	"github.com/voxclub/liveroom/internal/wire"
)

var (
	ErrEmptyMessage       = errors.New("empty chat message")
	ErrNotJoined          = errors.New("not joined to a session")
	ErrAlreadyJoined      = errors.New("already joined")
	ErrSessionNotJoinable = errors.New("session is not joinable")
)

const sweepPeriod = 500 * time.Millisecond

type Config struct {
	API      *api.Client
	Identity *identity.Store

	// Transport overrides the default WebRTC transport, for tests.
	Transport audio.Transport
	Dialer    *websocket.Dialer

	PingPeriod     time.Duration
	ReconnectDelay time.Duration
	ReactionTTL    time.Duration
	StunURL        string

	// OnNotice receives transient user-visible notices from every
	// subsystem (joins, hand raises, audio teardown).
	OnNotice func(state.Notice)
	// OnUpdate fires after every applied event and connectivity change;
	// the UI re-reads Snapshot on it.
	OnUpdate func()
	// OnChatFrom fires for chat from other users (audible notification
	// hook; the chat log itself comes from the projection).
	OnChatFrom func(domain.ChatMessage)
}

type Client struct {
	cfg Config

	api *api.Client
	ids *identity.Store

	mu         sync.Mutex
	identity   domain.Identity
	session    *domain.Session
	proj       *state.Projector
	ch         *channel.Manager
	audio      *audio.Coordinator
	handRaised bool
	connected  bool
	joined     bool
	sweepStop  chan struct{}
}

func New(cfg Config) (*Client, error) {
	if cfg.API == nil {
		return nil, errors.New("api client required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("identity store required")
	}
	id, err := cfg.Identity.Identity()
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		api:      cfg.API,
		ids:      cfg.Identity,
		identity: id,
	}

	transport := cfg.Transport
	if transport == nil {
		transport = audio.NewWebRTCTransport(audio.DefaultWebRTCConfig(cfg.StunURL))
	}
	c.audio = audio.NewCoordinator(cfg.API, transport, func(reason string) {
		c.notify(state.Notice{Kind: state.NoticeAudio, Text: reason})
		c.update()
	})
	return c, nil
}

// Join loads the session and opens the realtime channel. A missing
// session is terminal for this client; the caller renders a dead end
// and does not retry.
func (c *Client) Join(ctx context.Context, sessionID domain.SessionID, role domain.Role) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.mu.Unlock()

	session, err := c.api.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Status.Joinable() {
		return fmt.Errorf("%w: status %s", ErrSessionNotJoinable, session.Status)
	}

	proj := state.New(c.identity.UserID, role,
		state.WithReactionTTL(c.cfg.ReactionTTL),
		state.WithHooks(state.Hooks{
			OnNotice:   c.notify,
			OnChatFrom: c.cfg.OnChatFrom,
			OnRoleChange: func(r domain.Role) {
				log.Info().Str("module", "room").Str("role", string(r)).Msg("local role changed")
				c.audio.RoleChanged(r)
			},
		}),
	)

	ch := channel.NewManager(channel.Config{
		URL:            c.api.ChannelURL(),
		Dialer:         c.cfg.Dialer,
		PingPeriod:     c.cfg.PingPeriod,
		ReconnectDelay: c.cfg.ReconnectDelay,
		ShouldReconnect: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.session != nil && c.session.Status.Joinable()
		},
		OnMessage: func(data []byte) {
			ev, err := wire.Decode(data)
			if err != nil {
				// Malformed or unknown frames are logged and dropped,
				// never fatal for the projector or the channel.
				log.Warn().Err(err).Str("module", "room").Msg("dropping inbound frame")
				return
			}
			proj.Apply(ev)
			c.update()
		},
		OnConnected: func(up bool) {
			c.mu.Lock()
			c.connected = up
			c.mu.Unlock()
			c.update()
		},
	})

	c.mu.Lock()
	c.session = session
	c.proj = proj
	c.ch = ch
	c.joined = true
	c.sweepStop = make(chan struct{})
	c.mu.Unlock()

	go c.sweepReactions(proj, c.sweepStop)

	return ch.Connect(ctx, channel.Params{
		SessionID: session.ID,
		UserID:    c.identity.UserID,
		Username:  c.identity.Username,
		Role:      role,
	})
}

// ReloadSession refreshes session metadata (status is pull-only; it is
// never pushed over the channel).
func (c *Client) ReloadSession(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, ErrNotJoined
	}
	fresh, err := c.api.Session(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.session = fresh
	c.mu.Unlock()
	return fresh, nil
}

// SendChat sends a trimmed, non-empty chat message. The chat log is
// appended only when the server echoes the message back.
func (c *Client) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	return ch.Send(wire.NewChat(text))
}

// React sends an emoji reaction. Like chat, the reaction appears only
// via the server echo.
func (c *Client) React(emoji string) error {
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	return ch.Send(wire.NewReaction(emoji))
}

// RaiseHand flips the local hand flag synchronously before the server
// round-trip; the server's hand_raised_update stays the sole source of
// truth for queue membership.
func (c *Client) RaiseHand() error {
	return c.sendHand(wire.ActionRaise, true)
}

func (c *Client) LowerHand() error {
	return c.sendHand(wire.ActionLower, false)
}

func (c *Client) sendHand(action string, raised bool) error {
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handRaised = raised
	c.mu.Unlock()
	c.update()
	return ch.Send(wire.NewHandRaise(action))
}

// Promote requests speaker role for another user. No optimistic local
// effect; the projection waits for the server's user_promoted event.
func (c *Client) Promote(target domain.UserID) error {
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	return ch.Send(wire.NewPromote(target))
}

func (c *Client) Demote(target domain.UserID) error {
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	return ch.Send(wire.NewDemote(target))
}

// SetUsername persists the new name and bounces the channel (and any
// audio connection): the identity is bound into the handshake and not
// updatable mid-session.
func (c *Client) SetUsername(ctx context.Context, name string) error {
	id, err := c.ids.SetUsername(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.identity = id
	session := c.session
	ch := c.ch
	proj := c.proj
	c.mu.Unlock()

	if ch == nil || session == nil {
		return nil
	}
	c.audio.Leave()
	ch.Disconnect()
	proj.Reset()
	return ch.Connect(ctx, channel.Params{
		SessionID: session.ID,
		UserID:    id.UserID,
		Username:  id.Username,
		Role:      proj.Role(),
	})
}

// JoinAudio brings the audio transport up with the current role.
func (c *Client) JoinAudio(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	id := c.identity
	proj := c.proj
	c.mu.Unlock()
	if session == nil || proj == nil {
		return ErrNotJoined
	}
	return c.audio.Join(ctx, session.ID, id, proj.Role())
}

func (c *Client) LeaveAudio() { c.audio.Leave() }

func (c *Client) AudioConnected() bool { return c.audio.Connected() }

func (c *Client) Snapshot() state.Snapshot {
	c.mu.Lock()
	proj := c.proj
	c.mu.Unlock()
	if proj == nil {
		return state.Snapshot{}
	}
	return proj.Snapshot()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) HandRaised() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handRaised
}

func (c *Client) Role() domain.Role {
	c.mu.Lock()
	proj := c.proj
	c.mu.Unlock()
	if proj == nil {
		return domain.RoleListener
	}
	return proj.Role()
}

func (c *Client) Identity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) Session() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close performs the four mandatory cleanups: pending reconnect, the
// channel itself, the audio transport, and the heartbeat. Safe to call
// more than once.
func (c *Client) Close() {
	c.mu.Lock()
	ch := c.ch
	proj := c.proj
	stop := c.sweepStop
	c.ch = nil
	c.proj = nil
	c.sweepStop = nil
	c.joined = false
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if ch != nil {
		ch.Close()
	}
	c.audio.Leave()
	if proj != nil {
		proj.Reset()
	}
}

func (c *Client) openChannel() (*channel.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil, ErrNotJoined
	}
	return c.ch, nil
}

func (c *Client) notify(n state.Notice) {
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(n)
	}
}

func (c *Client) update() {
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate()
	}
}

func (c *Client) sweepReactions(proj *state.Projector, stop <-chan struct{}) {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if proj.SweepReactions() > 0 {
				c.update()
			}
		}
	}
}
