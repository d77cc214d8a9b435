// Package app contains the call session controller, the only surface the
// CLI talks to.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.call/internal/config"
	"github.com/1ureka/1ureka.net.call/internal/media"
	"github.com/1ureka/1ureka.net.call/internal/negotiation"
	"github.com/1ureka/1ureka.net.call/internal/signaling"
	"github.com/1ureka/1ureka.net.call/internal/transport"
	"github.com/1ureka/1ureka.net.call/internal/util"
)

var (
	// ErrClosed is returned by operations on a closed Session.
	ErrClosed = errors.New("session closed")

	// ErrNotConnected is returned by in-call operations while no call is
	// connected.
	ErrNotConnected = errors.New("call not connected")

	// ErrNotOnHold is returned by Resume when the call is not on hold.
	ErrNotOnHold = errors.New("call not on hold")
)

// Relay is the signaling transport. *signaling.Client implements it.
type Relay interface {
	Connect()
	WaitOpen(ctx context.Context) error
	Send(msg signaling.Message) error
	IsOpen() bool
	ClientID() string
	OnMessage(handler func(signaling.Message))
	OnStatus(handler func(signaling.Status))
	Stop()
}

// Peer is the peer connection of one call. *transport.Peer implements it.
type Peer interface {
	negotiation.PeerConnection
	AddTrack(track webrtc.TrackLocal) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote))
	ConnectionState() webrtc.PeerConnectionState
}

// Deps are the collaborators of a Session. Nil fields are replaced with
// the real implementations built from the config.
type Deps struct {
	NewRelay func() Relay
	NewPeer  func(ctx context.Context) (Peer, error)
	Source   media.Source
	Sink     media.Sink
}

// Session drives one call at a time. Every state change happens on a
// single event-loop goroutine; relay messages, peer events, timers and
// user commands are posted to it and handled strictly in order.
type Session struct {
	cfg  *config.Config
	deps Deps

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the event loop.
	relay       Relay
	driver      *negotiation.Driver
	peer        Peer
	stream      media.LocalStream
	answerTimer *time.Timer
	muted       bool

	// Mirrored for readers outside the loop.
	mu              sync.RWMutex
	state           negotiation.State
	connectedAt     time.Time
	held            bool
	heldAt          time.Time
	heldFor         time.Duration
	connectedCh     chan struct{}
	endedCh         chan struct{}
	unavailableCh   chan struct{}
	unavailableOnce sync.Once
}

// NewSession creates a Session and starts its event loop. Call Close to
// stop it.
func NewSession(cfg *config.Config, deps Deps) *Session {
	if deps.NewRelay == nil {
		deps.NewRelay = func() Relay {
			return signaling.NewClient(cfg.RelayURL, signaling.ClientOptions{
				Policy: signaling.ReconnectPolicy{
					BaseInterval: cfg.ReconnectBaseInterval,
					MaxAttempts:  cfg.ReconnectMaxAttempts,
				},
				ClientID:     cfg.ClientID,
				Capabilities: signaling.Capabilities{PeerConnection: true, Audio: true},
				PingInterval: cfg.PingInterval,
				PongTimeout:  cfg.PongTimeout,
			})
		}
	}
	if deps.NewPeer == nil {
		deps.NewPeer = func(ctx context.Context) (Peer, error) {
			peer, err := transport.NewPeer(ctx, transport.Config{STUNServers: cfg.GetSTUNServers()})
			if err != nil {
				return nil, err
			}
			return peer, nil
		}
	}
	if deps.Source == nil {
		deps.Source = media.GeneratorSource{}
	}
	if deps.Sink == nil {
		deps.Sink = media.NewPCMSink(nil, cfg.Volume)
	}

	s := &Session{
		cfg:           cfg,
		deps:          deps,
		jobs:          make(chan func(), 64),
		done:          make(chan struct{}),
		connectedCh:   make(chan struct{}),
		endedCh:       make(chan struct{}),
		unavailableCh: make(chan struct{}),
	}
	go s.loop()
	return s
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

func (s *Session) loop() {
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.done:
			return
		}
	}
}

// post queues fn on the event loop. It reports false once the session is
// closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.jobs <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the event loop and waits for its result.
func (s *Session) do(fn func() error) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// ---------------------------------------------------------------------------
// Public surface
// ---------------------------------------------------------------------------

// Start places an outbound call: it prepares local audio and the peer
// connection, waits for the relay bounded by ctx and sends the offer.
// A failure to capture audio returns media.ErrAccessDenied before any peer
// connection is created.
func (s *Session) Start(ctx context.Context) error {
	relay, err := s.prepare(ctx)
	if err != nil {
		return err
	}

	if err := relay.WaitOpen(ctx); err != nil {
		util.LogError("relay not available: %v", err)
		s.abandon()
		return fmt.Errorf("%w: %v", negotiation.ErrNotReady, err)
	}

	return s.do(func() error {
		if s.driver == nil {
			return negotiation.ErrEnded
		}
		err := s.dispatch(negotiation.StartCall{
			RelayOpen: s.relay != nil && s.relay.IsOpen(),
			PeerReady: s.peer != nil,
		})
		if err != nil {
			return err
		}
		s.armAnswerTimer()
		util.LogInfo("calling %s", peerLabel(s.cfg.PeerID))
		return nil
	})
}

// Listen prepares local audio and the peer connection and waits for the
// relay to open. The call proceeds when an offer arrives.
func (s *Session) Listen(ctx context.Context) error {
	relay, err := s.prepare(ctx)
	if err != nil {
		return err
	}

	if err := relay.WaitOpen(ctx); err != nil {
		util.LogError("relay not available: %v", err)
		s.abandon()
		return fmt.Errorf("%w: %v", negotiation.ErrNotReady, err)
	}

	util.LogInfo("waiting for a call as %s", relay.ClientID())
	return nil
}

// End hangs up and stops the relay, cancelling any pending reconnect. It
// always succeeds and is safe to call more than once.
func (s *Session) End() {
	s.do(func() error {
		if s.driver != nil {
			s.dispatch(negotiation.EndCall{})
		}
		s.stopAnswerTimer()
		if s.relay != nil {
			s.relay.Stop()
			s.relay = nil
		}
		return nil
	})
}

// Close ends the call and stops the event loop.
func (s *Session) Close() {
	s.End()
	s.closeOnce.Do(func() { close(s.done) })
}

// SetVolume sets the remote audio volume, clamped to [0, 1].
func (s *Session) SetVolume(level float64) {
	s.deps.Sink.SetOutputVolume(media.ClampVolume(level))
}

// SetMute replaces local audio with silence while muted. A call on hold
// stays silent until it is resumed.
func (s *Session) SetMute(muted bool) {
	s.do(func() error {
		s.muted = muted
		if s.stream != nil && !s.OnHold() {
			s.stream.SetMuted(muted)
		}
		return nil
	})
}

// Hold silences both directions of the connected call and stops its
// duration clock. Holding a call already on hold does nothing.
func (s *Session) Hold() error {
	return s.do(func() error {
		if s.driver == nil || s.driver.State() != negotiation.Connected {
			return ErrNotConnected
		}
		if s.OnHold() {
			return nil
		}

		s.stream.SetMuted(true)
		s.deps.Sink.SetPaused(true)

		s.mu.Lock()
		s.held = true
		s.heldAt = time.Now()
		s.mu.Unlock()

		util.LogInfo("call on hold")
		return nil
	})
}

// Resume takes the call off hold.
func (s *Session) Resume() error {
	return s.do(func() error {
		if s.driver == nil || s.driver.State() != negotiation.Connected {
			return ErrNotConnected
		}
		if !s.OnHold() {
			return ErrNotOnHold
		}

		s.releaseHold()
		s.stream.SetMuted(s.muted)
		util.LogInfo("call resumed")
		return nil
	})
}

// OnHold reports whether the current call is on hold.
func (s *Session) OnHold() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.held
}

// StartRecording records the remote audio of the connected call into a new
// WAV file under the configured recording directory and returns its path.
func (s *Session) StartRecording() (string, error) {
	var path string
	err := s.do(func() error {
		if s.driver == nil || s.driver.State() != negotiation.Connected {
			return ErrNotConnected
		}
		p, err := s.deps.Sink.StartRecording(s.cfg.RecordingDir)
		path = p
		return err
	})
	return path, err
}

// StopRecording finalizes the recording and returns its path. Recordings
// also stop when the call ends.
func (s *Session) StopRecording() (string, error) {
	var path string
	err := s.do(func() error {
		p, err := s.deps.Sink.StopRecording()
		path = p
		return err
	})
	return path, err
}

// Ready reports whether a peer connection exists and the relay is open.
func (s *Session) Ready() bool {
	var ready bool
	s.do(func() error {
		ready = s.peer != nil && s.relay != nil && s.relay.IsOpen()
		return nil
	})
	return ready
}

// State returns the negotiation state of the current call.
func (s *Session) State() negotiation.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Duration returns how long the call has been connected, not counting time
// on hold, or 0 when it is not connected.
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != negotiation.Connected {
		return 0
	}
	return s.talkTimeLocked()
}

// PeerState returns the connection state of the current peer connection,
// or PeerConnectionStateClosed when there is none.
func (s *Session) PeerState() webrtc.PeerConnectionState {
	state := webrtc.PeerConnectionStateClosed
	s.do(func() error {
		if s.peer != nil {
			state = s.peer.ConnectionState()
		}
		return nil
	})
	return state
}

// Connected returns a channel closed when the current call connects.
func (s *Session) Connected() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedCh
}

// Ended returns a channel closed when the current call ends.
func (s *Session) Ended() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedCh
}

// Unavailable returns a channel closed once the relay gave up
// reconnecting.
func (s *Session) Unavailable() <-chan struct{} {
	return s.unavailableCh
}

// ---------------------------------------------------------------------------
// Call setup
// ---------------------------------------------------------------------------

// prepare makes sure a relay exists and is connecting and that a fresh call
// (local audio, peer connection, machine) is ready. It returns the relay to
// wait on.
func (s *Session) prepare(ctx context.Context) (Relay, error) {
	var relay Relay
	err := s.do(func() error {
		if s.driver == nil || s.driver.State() == negotiation.Ended {
			if err := s.newCall(ctx); err != nil {
				return err
			}
		}

		if s.relay == nil {
			s.relay = s.newRelay()
		}
		s.relay.Connect()
		relay = s.relay
		return nil
	})
	return relay, err
}

// newCall builds the collaborators of one call.
func (s *Session) newCall(ctx context.Context) error {
	// ── 1. Local audio ─────────────────────────────────────────────────
	stream, err := s.deps.Source.AcquireLocalAudio(context.WithoutCancel(ctx))
	if err != nil {
		util.LogError("cannot capture local audio: %v", err)
		return err
	}
	stream.SetMuted(s.muted)

	// ── 2. Peer connection ─────────────────────────────────────────────
	peer, err := s.deps.NewPeer(context.WithoutCancel(ctx))
	if err != nil {
		stream.Stop()
		util.LogError("cannot create peer connection: %v", err)
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	if err := peer.AddTrack(stream.Track()); err != nil {
		stream.Stop()
		peer.Close()
		util.LogError("cannot attach local audio: %v", err)
		return err
	}

	// ── 3. State machine ───────────────────────────────────────────────
	driver := negotiation.NewDriver(peer, relayOutbound{s}, s.cfg.PeerID, stream.Stop)
	driver.OnTransition(s.onTransition)

	peer.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.post(func() {
			if s.driver != driver {
				return
			}
			s.dispatch(negotiation.LocalCandidate{
				Candidate: c,
				RelayOpen: s.relay != nil && s.relay.IsOpen(),
			})
		})
	})
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.post(func() {
			if s.driver != driver {
				return
			}
			s.dispatch(negotiation.PeerStateChanged{State: state})
		})
	})
	peer.OnTrack(s.deps.Sink.RenderRemoteAudio)

	s.stopAnswerTimer()
	s.driver = driver
	s.peer = peer
	s.stream = stream

	s.mu.Lock()
	s.state = negotiation.Idle
	s.connectedAt = time.Time{}
	s.held = false
	s.heldFor = 0
	s.connectedCh = make(chan struct{})
	s.endedCh = make(chan struct{})
	s.mu.Unlock()

	return nil
}

func (s *Session) newRelay() Relay {
	relay := s.deps.NewRelay()

	relay.OnMessage(func(msg signaling.Message) {
		s.post(func() {
			if s.relay != relay {
				return
			}
			if s.driver == nil {
				util.LogWarning("no call prepared, ignoring %s", msg.Type())
				return
			}
			s.dispatch(negotiation.RemoteMessage{Msg: msg})
		})
	})
	relay.OnStatus(func(status signaling.Status) {
		if status != signaling.StatusUnavailable {
			return
		}
		util.LogError("signaling unavailable")
		s.unavailableOnce.Do(func() { close(s.unavailableCh) })
	})

	return relay
}

// abandon releases a call that never got started.
func (s *Session) abandon() {
	s.do(func() error {
		if s.driver != nil && s.driver.State() == negotiation.Idle {
			s.dispatch(negotiation.EndCall{})
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Machine plumbing (event loop only)
// ---------------------------------------------------------------------------

// dispatch feeds ev to the machine and logs what it rejected.
func (s *Session) dispatch(ev negotiation.Event) error {
	err := s.driver.Dispatch(ev)
	switch {
	case err == nil:
	case errors.Is(err, negotiation.ErrEnded), errors.Is(err, signaling.ErrNotOpen):
		util.LogDebug("%v", err)
	case errors.Is(err, negotiation.ErrRemote):
		util.LogError("%v", err)
	default:
		util.LogWarning("%v", err)
	}
	return err
}

func (s *Session) onTransition(from, to negotiation.State) {
	s.mu.Lock()
	s.state = to
	switch to {
	case negotiation.Connected:
		s.connectedAt = time.Now()
		close(s.connectedCh)
	case negotiation.Ended:
		close(s.endedCh)
	}
	s.mu.Unlock()

	switch to {
	case negotiation.Connected:
		s.stopAnswerTimer()
		util.LogSuccess("call connected")
	case negotiation.Ended:
		s.stopAnswerTimer()
		s.peer = nil
		s.stream = nil
		if path, err := s.deps.Sink.StopRecording(); err == nil {
			util.LogInfo("recording saved to %s", path)
		} else if !errors.Is(err, media.ErrNotRecording) {
			util.LogWarning("%v", err)
		}
		if from == negotiation.Connected {
			s.mu.RLock()
			talked := s.talkTimeLocked()
			s.mu.RUnlock()
			util.LogInfo("call ended after %s", talked.Round(time.Second))
		} else {
			util.LogInfo("call ended")
		}
		if s.OnHold() {
			s.releaseHold()
		}
	}
}

// releaseHold restarts the duration clock and the remote audio.
func (s *Session) releaseHold() {
	s.mu.Lock()
	s.heldFor += time.Since(s.heldAt)
	s.held = false
	s.mu.Unlock()
	s.deps.Sink.SetPaused(false)
}

// talkTimeLocked is the connected time minus time on hold. s.mu must be
// held.
func (s *Session) talkTimeLocked() time.Duration {
	end := time.Now()
	if s.held {
		end = s.heldAt
	}
	return end.Sub(s.connectedAt) - s.heldFor
}

func (s *Session) armAnswerTimer() {
	if s.cfg.AnswerTimeout <= 0 || s.driver.State() != negotiation.Offering {
		return
	}
	driver := s.driver
	s.answerTimer = time.AfterFunc(s.cfg.AnswerTimeout, func() {
		s.post(func() {
			if s.driver != driver {
				return
			}
			util.LogWarning("no answer within %s", s.cfg.AnswerTimeout)
			s.dispatch(negotiation.OfferTimedOut{})
		})
	})
}

func (s *Session) stopAnswerTimer() {
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
}

// relayOutbound lets the machine reach whichever relay is current.
type relayOutbound struct {
	s *Session
}

func (r relayOutbound) Send(msg signaling.Message) error {
	if r.s.relay == nil {
		return signaling.ErrNotOpen
	}
	return r.s.relay.Send(msg)
}

func (r relayOutbound) IsOpen() bool {
	return r.s.relay != nil && r.s.relay.IsOpen()
}

func peerLabel(id string) string {
	if id == "" {
		return "any peer"
	}
	return id
}
