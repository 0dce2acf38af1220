package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxclub/liveroom/internal/api"
	"github.com/voxclub/liveroom/internal/audio"
	"github.com/voxclub/liveroom/internal/domain"
)

type fakeIssuer struct {
	mu     sync.Mutex
	reqs   []api.TokenRequest
	grant  *api.TokenGrant
	err    error
	block  chan struct{}
	called chan struct{}
}

func (f *fakeIssuer) IssueToken(ctx context.Context, req api.TokenRequest) (*api.TokenGrant, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.called != nil {
		close(f.called)
		f.called = nil
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.grant, nil
}

func (f *fakeIssuer) lastReq(t *testing.T) api.TokenRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reqs)
	return f.reqs[len(f.reqs)-1]
}

type fakeTransport struct {
	mu         sync.Mutex
	connects   int
	closes     int
	publish    bool
	token, url string
	connectErr error
	onDisc     func(error)
}

func (f *fakeTransport) Connect(ctx context.Context, token, url string, publish bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects++
	f.token, f.url, f.publish = token, url, publish
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) OnDisconnect(fn func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisc = fn
}

func (f *fakeTransport) dropConnection(err error) {
	f.mu.Lock()
	fn := f.onDisc
	f.mu.Unlock()
	fn(err)
}

func grant() *api.TokenGrant {
	return &api.TokenGrant{Token: "tok", URL: "https://media.example/room", Room: "abc"}
}

func id() domain.Identity {
	return domain.Identity{UserID: "u1", Username: "A"}
}

func TestJoinNegotiatesTokenAndConnects(t *testing.T) {
	issuer := &fakeIssuer{grant: grant()}
	transport := &fakeTransport{}
	c := audio.NewCoordinator(issuer, transport, nil)

	require.NoError(t, c.Join(context.Background(), "abc", id(), domain.RoleSpeaker))
	require.True(t, c.Connected())

	req := issuer.lastReq(t)
	require.Equal(t, domain.SessionID("abc"), req.SessionID)
	require.Equal(t, domain.RoleSpeaker, req.Role)
	require.True(t, transport.publish, "speakers connect with publish capability")
	require.Equal(t, "tok", transport.token)
}

func TestJoinAsListenerDoesNotPublish(t *testing.T) {
	issuer := &fakeIssuer{grant: grant()}
	transport := &fakeTransport{}
	c := audio.NewCoordinator(issuer, transport, nil)

	require.NoError(t, c.Join(context.Background(), "abc", id(), domain.RoleListener))
	require.False(t, transport.publish)
}

func TestJoinTransportUnavailable(t *testing.T) {
	issuer := &fakeIssuer{err: api.ErrTransportUnavailable}
	transport := &fakeTransport{}
	c := audio.NewCoordinator(issuer, transport, nil)

	err := c.Join(context.Background(), "abc", id(), domain.RoleListener)
	require.ErrorIs(t, err, api.ErrTransportUnavailable)
	require.False(t, c.Connected())
	require.Zero(t, transport.connects)
}

func TestJoinGuardedAgainstConcurrentInvocation(t *testing.T) {
	issuer := &fakeIssuer{
		grant:  grant(),
		block:  make(chan struct{}),
		called: make(chan struct{}),
	}
	called := issuer.called
	transport := &fakeTransport{}
	c := audio.NewCoordinator(issuer, transport, nil)

	done := make(chan error, 1)
	go func() {
		done <- c.Join(context.Background(), "abc", id(), domain.RoleListener)
	}()
	<-called

	require.ErrorIs(t, c.Join(context.Background(), "abc", id(), domain.RoleListener), audio.ErrJoinInProgress)

	close(issuer.block)
	require.NoError(t, <-done)
	require.True(t, c.Connected())
}

func TestRoleChangeForcesTeardownWithoutRejoin(t *testing.T) {
	var reasons []string
	issuer := &fakeIssuer{grant: grant()}
	transport := &fakeTransport{}
	c := audio.NewCoordinator(issuer, transport, func(reason string) { reasons = append(reasons, reason) })

	require.NoError(t, c.Join(context.Background(), "abc", id(), domain.RoleListener))
	require.True(t, c.Connected())

	c.RoleChanged(domain.RoleSpeaker)
	require.False(t, c.Connected())
	require.Equal(t, 1, transport.closes)
	require.Len(t, reasons, 1)
	require.Contains(t, reasons[0], "rejoin")
	// No automatic rejoin: the transport saw exactly one connect.
	require.Equal(t, 1, transport.connects)

	// Re-invoking join requests a token with the new role.
	require.NoError(t, c.Join(context.Background(), "abc", id(), domain.RoleSpeaker))
	require.Equal(t, domain.RoleSpeaker, issuer.lastReq(t).Role)
	require.True(t, transport.publish)
}

func TestRoleChangeWhileDisconnectedIsSilent(t *testing.T) {
	var reasons []string
	c := audio.NewCoordinator(&fakeIssuer{grant: grant()}, &fakeTransport{}, func(reason string) { reasons = append(reasons, reason) })

	c.RoleChanged(domain.RoleSpeaker)
	require.Empty(t, reasons)
}

func TestLeaveAlwaysSafe(t *testing.T) {
	transport := &fakeTransport{}
	c := audio.NewCoordinator(&fakeIssuer{grant: grant()}, transport, nil)

	c.Leave()
	c.Leave()
	require.Equal(t, 2, transport.closes)
	require.False(t, c.Connected())
}

func TestTransportLossClearsStateAndNotifies(t *testing.T) {
	var mu sync.Mutex
	var reasons []string
	issuer := &fakeIssuer{grant: grant()}
	transport := &fakeTransport{}
	c := audio.NewCoordinator(issuer, transport, func(reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	require.NoError(t, c.Join(context.Background(), "abc", id(), domain.RoleListener))
	transport.dropConnection(errors.New("ice failed"))

	require.Eventually(t, func() bool { return !c.Connected() }, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1)
	require.Contains(t, reasons[0], "ice failed")
}

func TestJoinWhileConnectedIsNoOp(t *testing.T) {
	issuer := &fakeIssuer{grant: grant()}
	transport := &fakeTransport{}
	c := audio.NewCoordinator(issuer, transport, nil)

	require.NoError(t, c.Join(context.Background(), "abc", id(), domain.RoleListener))
	require.NoError(t, c.Join(context.Background(), "abc", id(), domain.RoleListener))
	require.Equal(t, 1, transport.connects)
}
