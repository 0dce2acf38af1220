// Package audio coordinates the secondary real-time audio connection:
// token negotiation, transport setup/teardown, and the forced teardown
// on role changes. The transport cannot upgrade permissions in place,
// so a promoted or demoted user always rejoins explicitly.
package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/api"
	"github.com/voxclub/liveroom/internal/domain"
)

var ErrJoinInProgress = errors.New("audio join already in progress")

// TokenIssuer is the slice of the session API the coordinator needs.
type TokenIssuer interface {
	IssueToken(ctx context.Context, req api.TokenRequest) (*api.TokenGrant, error)
}

// Transport is the negotiated media connection. Implementations report
// runtime disconnects through the callback set with OnDisconnect; the
// coordinator clears local state but never auto-rejoins.
type Transport interface {
	Connect(ctx context.Context, token, url string, publish bool) error
	Close() error
	OnDisconnect(fn func(err error))
}

type Coordinator struct {
	issuer    TokenIssuer
	transport Transport

	mu        sync.Mutex
	joining   bool
	connected bool
	grant     *api.TokenGrant

	// onClosed fires when the transport drops or is forced closed, so
	// the UI can surface a notice.
	onClosed func(reason string)
}

func NewCoordinator(issuer TokenIssuer, transport Transport, onClosed func(reason string)) *Coordinator {
	c := &Coordinator{
		issuer:    issuer,
		transport: transport,
		onClosed:  onClosed,
	}
	transport.OnDisconnect(c.transportLost)
	return c
}

// Join negotiates a token for (session, identity, role) and brings the
// transport up with publish capability only for speakers. Guarded
// against concurrent invocation.
func (c *Coordinator) Join(ctx context.Context, sessionID domain.SessionID, id domain.Identity, role domain.Role) error {
	c.mu.Lock()
	if c.joining {
		c.mu.Unlock()
		return ErrJoinInProgress
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.joining = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.joining = false
		c.mu.Unlock()
	}()

	grant, err := c.issuer.IssueToken(ctx, api.TokenRequest{
		SessionID: sessionID,
		UserID:    id.UserID,
		Username:  id.Username,
		Role:      role,
	})
	if err != nil {
		// Includes api.ErrTransportUnavailable: surfaced to the user,
		// no fallback audio path, no auto-retry.
		return err
	}

	if err := c.transport.Connect(ctx, grant.Token, grant.URL, role.CanPublish()); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.grant = grant
	c.mu.Unlock()
	log.Info().Str("module", "audio").Str("session", string(sessionID)).Bool("publish", role.CanPublish()).Msg("audio transport joined")
	return nil
}

// Leave tears the transport down and clears token state. Always safe,
// connected or not.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.grant = nil
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		log.Warn().Err(err).Str("module", "audio").Msg("transport close")
	}
	if wasConnected {
		log.Info().Str("module", "audio").Msg("audio transport left")
	}
}

// RoleChanged is the one permitted cross-transition from the event
// channel: an active connection is forced closed so the user rejoins
// with the new permission level. Rejoin is deliberately manual.
func (c *Coordinator) RoleChanged(role domain.Role) {
	c.mu.Lock()
	active := c.connected
	c.mu.Unlock()
	if !active {
		return
	}
	c.Leave()
	if c.onClosed != nil {
		c.onClosed("role changed to " + string(role) + ", rejoin audio to continue")
	}
}

func (c *Coordinator) transportLost(err error) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.grant = nil
	c.mu.Unlock()
	if !wasConnected {
		return
	}
	log.Warn().Err(err).Str("module", "audio").Msg("audio transport lost")
	if c.onClosed != nil {
		reason := "audio connection lost"
		if err != nil {
			reason += ": " + err.Error()
		}
		c.onClosed(reason)
	}
}

func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
