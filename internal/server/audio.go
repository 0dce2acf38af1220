package server

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/domain"
)

// AudioController answers SDP offers POSTed to the transport URL the
// token endpoint hands out. It terminates one peer connection per user;
// there is no fan-out between peers here, this is a dev transport.
type AudioController struct {
	Tokens *tokenStore
	WebRTC webrtc.Configuration

	mu  sync.Mutex
	pcs map[domain.UserID]*webrtc.PeerConnection
}

func NewAudioController(tokens *tokenStore, cfg webrtc.Configuration) *AudioController {
	return &AudioController{
		Tokens: tokens,
		WebRTC: cfg,
		pcs:    make(map[domain.UserID]*webrtc.PeerConnection),
	}
}

func (ctl *AudioController) HandleOffer(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	grant, ok := ctl.Tokens.lookup(token)
	if !ok || grant.SessionID != domain.SessionID(c.Param("id")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	offerSDP, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || len(offerSDP) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing offer"})
		return
	}

	answer, pc, err := ctl.answer(string(offerSDP), grant)
	if err != nil {
		log.Error().Err(err).Str("module", "server.audio").Str("user_id", string(grant.UserID)).Msg("answer offer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "negotiation failed"})
		return
	}

	ctl.mu.Lock()
	if old, ok := ctl.pcs[grant.UserID]; ok {
		_ = old.Close()
	}
	ctl.pcs[grant.UserID] = pc
	ctl.mu.Unlock()

	c.Data(http.StatusOK, "application/sdp", []byte(answer))
}

func (ctl *AudioController) answer(offerSDP string, grant tokenGrant) (string, *webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(ctl.WebRTC)
	if err != nil {
		return "", nil, err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "server.audio").
			Str("user_id", string(grant.UserID)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "server.audio").Str("user_id", string(grant.UserID)).Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return "", nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", nil, err
	}
	<-gatherComplete

	return pc.LocalDescription().SDP, pc, nil
}

func (ctl *AudioController) Close() {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	for id, pc := range ctl.pcs {
		if err := pc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "server.audio").Str("user_id", string(id)).Msg("close peer connection")
		}
	}
	ctl.pcs = make(map[domain.UserID]*webrtc.PeerConnection)
}
