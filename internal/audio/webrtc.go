package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCTransport negotiates the audio connection over an HTTP SDP
// exchange: the local offer is POSTed to the issued transport URL with
// the bearer token, and the returned answer is applied.
type WebRTCTransport struct {
	cfg   webrtc.Configuration
	httpc *http.Client

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	onDisconnect func(err error)
}

func DefaultWebRTCConfig(stunURL string) webrtc.Configuration {
	if stunURL == "" {
		stunURL = "stun:stun.l.google.com:19302"
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{stunURL}},
		},
	}
}

func NewWebRTCTransport(cfg webrtc.Configuration) *WebRTCTransport {
	return &WebRTCTransport{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebRTCTransport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

func (t *WebRTCTransport) Connect(ctx context.Context, token, transportURL string, publish bool) error {
	pc, err := webrtc.NewPeerConnection(t.cfg)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	direction := webrtc.RTPTransceiverDirectionRecvonly
	if publish {
		direction = webrtc.RTPTransceiverDirectionSendrecv
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: direction,
	}); err != nil {
		_ = pc.Close()
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.lost(errors.New("peer connection " + s.String()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	answer, err := t.exchange(ctx, token, transportURL, pc.LocalDescription().SDP)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		_ = pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}

	t.mu.Lock()
	old := t.pc
	t.pc = pc
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (t *WebRTCTransport) exchange(ctx context.Context, token, transportURL, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, transportURL, strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("sdp exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("sdp exchange: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return string(body), nil
}

func (t *WebRTCTransport) lost(err error) {
	t.mu.Lock()
	fn := t.onDisconnect
	t.pc = nil
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (t *WebRTCTransport) Close() error {
	t.mu.Lock()
	pc := t.pc
	t.pc = nil
	t.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}
