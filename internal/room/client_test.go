package room_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxclub/liveroom/internal/api"
	"github.com/voxclub/liveroom/internal/config"
	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/identity"
	"github.com/voxclub/liveroom/internal/room"
	"github.com/voxclub/liveroom/internal/server"
	"github.com/voxclub/liveroom/internal/state"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type env struct {
	hub *server.Hub
	api *api.Client
}

func newEnv(t *testing.T, audioEnabled bool) *env {
	t.Helper()
	cfg := &config.Config{
		Mode:         "release",
		Secret:       "test-secret",
		ReadLimit:    1 << 15,
		APIBase:      "http://localhost",
		StunURL:      "stun:stun.example:3478",
		AudioEnabled: audioEnabled,
	}
	hub := server.NewHub()
	srv := httptest.NewServer(server.SetupRouter(context.Background(), cfg, hub))
	t.Cleanup(srv.Close)
	return &env{hub: hub, api: api.New(srv.URL)}
}

type fakeTransport struct {
	mu       sync.Mutex
	active   bool
	connects int
	publish  bool
}

func (f *fakeTransport) Connect(ctx context.Context, token, url string, publish bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.connects++
	f.publish = publish
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	return nil
}

func (f *fakeTransport) OnDisconnect(func(err error)) {}

func (f *fakeTransport) state() (active bool, connects int, publish bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.connects, f.publish
}

type noticeLog struct {
	mu      sync.Mutex
	notices []state.Notice
}

func (l *noticeLog) add(n state.Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *noticeLog) ofKind(kind state.NoticeKind) []state.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []state.Notice
	for _, n := range l.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func newClient(t *testing.T, e *env, transport *fakeTransport, notices *noticeLog) *room.Client {
	t.Helper()
	cfg := room.Config{
		API:      e.api,
		Identity: identity.NewStore(filepath.Join(t.TempDir(), "identity.json")),
	}
	if transport != nil {
		cfg.Transport = transport
	}
	if notices != nil {
		cfg.OnNotice = notices.add
	}
	c, err := room.New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitConnected(t *testing.T, c *room.Client) {
	t.Helper()
	require.Eventually(t, c.Connected, waitFor, tick)
}

func selfIn(ids []domain.UserID, self domain.UserID) bool {
	for _, id := range ids {
		if id == self {
			return true
		}
	}
	return false
}

func TestJoinReceivesRoomState(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Morning show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, c)

	self := c.Identity().UserID
	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return selfIn(snap.Listeners, self) && snap.Stats.TotalParticipants == 1
	}, waitFor, tick)
	require.Equal(t, domain.RoleListener, c.Role())
}

func TestJoinMissingSessionIsTerminal(t *testing.T) {
	e := newEnv(t, false)
	c := newClient(t, e, &fakeTransport{}, nil)
	err := c.Join(context.Background(), "no-such-session", domain.RoleListener)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.False(t, c.Connected())
}

func TestJoinEndedSessionRefused(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Over", "")
	require.True(t, e.hub.SetSessionStatus(session.ID, domain.StatusEnded))

	c := newClient(t, e, &fakeTransport{}, nil)
	err := c.Join(context.Background(), session.ID, domain.RoleListener)
	require.ErrorIs(t, err, room.ErrSessionNotJoinable)
}

func TestDoubleJoinRefused(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))
	require.ErrorIs(t, c.Join(context.Background(), session.ID, domain.RoleListener), room.ErrAlreadyJoined)
}

func TestChatRoundTrip(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, c)

	require.ErrorIs(t, c.SendChat("   "), room.ErrEmptyMessage)
	require.NoError(t, c.SendChat("  hello room  "))

	require.Eventually(t, func() bool {
		msgs := c.Snapshot().ChatMessages
		return len(msgs) == 1 && msgs[0].Message == "hello room"
	}, waitFor, tick)
}

func TestHandRaiseOptimisticThenConfirmed(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, c)

	require.NoError(t, c.RaiseHand())
	// Local flag flips before the server round-trip.
	require.True(t, c.HandRaised())

	self := c.Identity().UserID
	require.Eventually(t, func() bool {
		return selfIn(c.Snapshot().HandRaised, self)
	}, waitFor, tick)

	require.NoError(t, c.LowerHand())
	require.False(t, c.HandRaised())
	require.Eventually(t, func() bool {
		return !selfIn(c.Snapshot().HandRaised, self)
	}, waitFor, tick)
}

func TestPromotionChangesRoleAndTearsDownAudio(t *testing.T) {
	e := newEnv(t, true)
	session := e.hub.CreateSession("Show", "")

	notices := &noticeLog{}
	transport := &fakeTransport{}
	listener := newClient(t, e, transport, notices)
	require.NoError(t, listener.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, listener)

	host := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, host.Join(context.Background(), session.ID, domain.RoleSpeaker))
	waitConnected(t, host)

	// Listener connects audio first so the promotion has something to
	// tear down.
	require.NoError(t, listener.JoinAudio(context.Background()))
	require.True(t, listener.AudioConnected())
	_, _, publish := transport.state()
	require.False(t, publish)

	require.NoError(t, host.Promote(listener.Identity().UserID))

	require.Eventually(t, func() bool {
		return listener.Role() == domain.RoleSpeaker
	}, waitFor, tick)

	self := listener.Identity().UserID
	require.Eventually(t, func() bool {
		snap := listener.Snapshot()
		return selfIn(snap.Speakers, self) && !selfIn(snap.Listeners, self)
	}, waitFor, tick)

	// Audio is forcibly closed and never rejoined automatically.
	require.Eventually(t, func() bool { return !listener.AudioConnected() }, waitFor, tick)
	require.NotEmpty(t, notices.ofKind(state.NoticeAudio))
	_, connects, _ := transport.state()
	require.Equal(t, 1, connects)

	// A deliberate rejoin now negotiates with publish capability.
	require.NoError(t, listener.JoinAudio(context.Background()))
	_, connects, publish = transport.state()
	require.Equal(t, 2, connects)
	require.True(t, publish)
}

func TestDemotionClearsSpeakerSlot(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	speaker := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, speaker.Join(context.Background(), session.ID, domain.RoleSpeaker))
	waitConnected(t, speaker)

	host := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, host.Join(context.Background(), session.ID, domain.RoleSpeaker))
	waitConnected(t, host)

	require.NoError(t, host.Demote(speaker.Identity().UserID))
	require.Eventually(t, func() bool {
		return speaker.Role() == domain.RoleListener
	}, waitFor, tick)
}

func TestJoinNoticeForOtherMembers(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	notices := &noticeLog{}
	first := newClient(t, e, &fakeTransport{}, notices)
	require.NoError(t, first.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, first)

	second := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, second.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, second)

	require.Eventually(t, func() bool {
		return len(notices.ofKind(state.NoticeJoined)) == 1
	}, waitFor, tick)
}

func TestSetUsernameReconnectsWithNewName(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, c)

	require.NoError(t, c.SetUsername(context.Background(), "Fresh Name"))
	require.Equal(t, "Fresh Name", c.Identity().Username)

	self := c.Identity().UserID
	require.Eventually(t, func() bool {
		for _, p := range c.Snapshot().Participants {
			if p.UserID == self && p.Username == "Fresh Name" {
				return true
			}
		}
		return false
	}, waitFor, tick)
	require.Eventually(t, c.Connected, waitFor, tick)
}

func TestJoinAudioWithoutTransportBackend(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, c)

	err := c.JoinAudio(context.Background())
	require.ErrorIs(t, err, api.ErrTransportUnavailable)
	require.False(t, c.AudioConnected())
}

func TestJoinAudioBeforeJoin(t *testing.T) {
	e := newEnv(t, false)
	c := newClient(t, e, &fakeTransport{}, nil)
	require.ErrorIs(t, c.JoinAudio(context.Background()), room.ErrNotJoined)
}

func TestReloadSessionReflectsStatusChange(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))

	require.True(t, e.hub.SetSessionStatus(session.ID, domain.StatusEnded))
	fresh, err := c.ReloadSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatusEnded, fresh.Status)
	require.False(t, fresh.Status.Joinable())
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newEnv(t, false)
	session := e.hub.CreateSession("Show", "")

	c := newClient(t, e, &fakeTransport{}, nil)
	require.NoError(t, c.Join(context.Background(), session.ID, domain.RoleListener))
	waitConnected(t, c)

	c.Close()
	c.Close()
	require.ErrorIs(t, c.SendChat("late"), room.ErrNotJoined)
}
