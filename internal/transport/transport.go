// Package transport wraps a pion PeerConnection configured for a two-party
// audio call.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.call/internal/util"
)

// Config configures a Peer.
type Config struct {
	// STUNServers used for candidate gathering. Empty gathers host
	// candidates only.
	STUNServers []string

	// LoggerFactory receives pion's internal logs. Nil uses
	// util.PionLoggerFactory.
	LoggerFactory logging.LoggerFactory
}

// Peer wraps a single PeerConnection carrying one bidirectional audio
// transceiver. It satisfies negotiation.PeerConnection.
//
// Its lifecycle is governed by the PeerConnection state and the context
// passed at construction time: Done closes when the connection fails or
// closes, or when ctx is cancelled.
type Peer struct {
	pc *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	pcState     webrtc.PeerConnectionState
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote)
}

// NewPeer creates a Peer backed by a new PeerConnection. Add the local
// track with AddTrack before creating an offer or answer.
func NewPeer(ctx context.Context, cfg Config) (*Peer, error) {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = util.PionLoggerFactory{}
	}

	api, err := newAPI(lf)
	if err != nil {
		return nil, err
	}

	pc, err := newPeerConnection(api, cfg.STUNServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pCtx, pCancel := context.WithCancel(ctx)

	p := &Peer{
		pc:      pc,
		ctx:     pCtx,
		cancel:  pCancel,
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		util.LogDebug("local candidate: %s", c.String())
		p.mu.RLock()
		handler := p.onCandidate
		p.mu.RUnlock()
		if handler != nil {
			handler(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		p.mu.Lock()
		p.pcState = state
		handler := p.onState
		p.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			pCancel()
		}

		if handler != nil {
			handler(state)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("remote track: codec=%s ssrc=%d", track.Codec().MimeType, track.SSRC())
		p.mu.RLock()
		handler := p.onTrack
		p.mu.RUnlock()
		if handler != nil {
			handler(track)
		}
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the Peer is shut down
// (connection failed or closed, or parent context cancelled).
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close shuts down the PeerConnection. Safe to call more than once.
func (p *Peer) Close() error {
	p.cancel()
	return p.pc.Close()
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// OnConnectionStateChange registers the observer of connection state
// transitions.
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches the local audio track on a sendrecv transceiver so the
// remote side can answer with its own audio.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	transceiver, err := p.pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// Drain RTCP so the interceptors keep processing reports.
	go func() {
		sender := transceiver.Sender()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

// OnTrack registers the consumer of the remote audio track.
func (p *Peer) OnTrack(fn func(*webrtc.TrackRemote)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// SignalingState returns the offer/answer state of the connection.
func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

// OnICECandidate registers a callback invoked for every gathered local
// candidate.
func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}
