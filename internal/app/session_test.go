package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.call/internal/config"
	"github.com/1ureka/1ureka.net.call/internal/media"
	"github.com/1ureka/1ureka.net.call/internal/negotiation"
	"github.com/1ureka/1ureka.net.call/internal/signaling"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────────────────────

type fakeRelay struct {
	mu            sync.Mutex
	open          bool
	openOnConnect bool
	connects      int
	stops         int
	sent          []signaling.Message
	onMessage     func(signaling.Message)
	onStatus      func(signaling.Status)
}

func (r *fakeRelay) Connect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	if r.openOnConnect {
		r.open = true
	}
}

func (r *fakeRelay) WaitOpen(ctx context.Context) error {
	if r.IsOpen() {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeRelay) Send(msg signaling.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return signaling.ErrNotOpen
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *fakeRelay) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *fakeRelay) ClientID() string { return "alice" }

func (r *fakeRelay) OnMessage(h func(signaling.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = h
}

func (r *fakeRelay) OnStatus(h func(signaling.Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatus = h
}

func (r *fakeRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.open = false
}

func (r *fakeRelay) deliver(msg signaling.Message) {
	r.mu.Lock()
	h := r.onMessage
	r.mu.Unlock()
	h(msg)
}

func (r *fakeRelay) status(st signaling.Status) {
	r.mu.Lock()
	h := r.onStatus
	r.mu.Unlock()
	h(st)
}

func (r *fakeRelay) count(t signaling.MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.Type() == t {
			n++
		}
	}
	return n
}

type fakePeer struct {
	mu          sync.Mutex
	calls       []string
	state       webrtc.SignalingState
	connState   webrtc.PeerConnectionState
	closed      int
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePeer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.record("set-local " + desc.Type.String())
	p.mu.Lock()
	defer p.mu.Unlock()
	if desc.Type == webrtc.SDPTypeOffer {
		p.state = webrtc.SignalingStateHaveLocalOffer
	} else {
		p.state = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.record("set-remote " + desc.Type.String())
	p.mu.Lock()
	defer p.mu.Unlock()
	if desc.Type == webrtc.SDPTypeOffer {
		p.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		p.state = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.record("add-candidate " + c.Candidate)
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) error { return nil }

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OnTrack(func(*webrtc.TrackRemote)) {}

func (p *fakePeer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connState
}

func (p *fakePeer) fireState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.connState = st
	h := p.onState
	p.mu.Unlock()
	h(st)
}

func (p *fakePeer) fireCandidate(c string) {
	p.mu.Lock()
	h := p.onCandidate
	p.mu.Unlock()
	h(webrtc.ICECandidateInit{Candidate: c})
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeStream struct {
	mu    sync.Mutex
	stops int
	muted bool
}

func (s *fakeStream) Track() webrtc.TrackLocal { return nil }

func (s *fakeStream) SetMuted(m bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = m
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeStream) snapshot() (stops int, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops, s.muted
}

type fakeSource struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (f *fakeSource) AcquireLocalAudio(context.Context) (media.LocalStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeSource) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

type fakeSink struct {
	mu        sync.Mutex
	volume    float64
	paused    bool
	recording string
	dirs      []string
}

func (f *fakeSink) RenderRemoteAudio(*webrtc.TrackRemote) {}

func (f *fakeSink) SetPaused(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
}

func (f *fakeSink) StartRecording(dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording != "" {
		return "", media.ErrAlreadyRecording
	}
	f.dirs = append(f.dirs, dir)
	f.recording = filepath.Join(dir, fmt.Sprintf("call_%d.wav", len(f.dirs)))
	return f.recording, nil
}

func (f *fakeSink) StopRecording() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording == "" {
		return "", media.ErrNotRecording
	}
	path := f.recording
	f.recording = ""
	return path, nil
}

func (f *fakeSink) state() (paused bool, recording string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused, f.recording
}

func (f *fakeSink) SetOutputVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func (f *fakeSink) get() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

// ──────────────────────────────────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────────────────────────────────

type harness struct {
	session *Session
	relay   *fakeRelay
	source  *fakeSource
	sink    *fakeSink

	mu    sync.Mutex
	peers []*fakePeer
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{PeerID: "bob", Volume: 0.5}
	}

	h := &harness{
		relay:  &fakeRelay{openOnConnect: true},
		source: &fakeSource{},
		sink:   &fakeSink{},
	}
	h.session = NewSession(cfg, Deps{
		NewRelay: func() Relay { return h.relay },
		NewPeer: func(context.Context) (Peer, error) {
			p := &fakePeer{state: webrtc.SignalingStateStable}
			h.mu.Lock()
			h.peers = append(h.peers, p)
			h.mu.Unlock()
			return p, nil
		},
		Source: h.source,
		Sink:   h.sink,
	})
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *harness) peer() *fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[len(h.peers)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitClosed(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func answerMsg() *signaling.Answer {
	return &signaling.Answer{Description: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}}
}

func offerMsg() *signaling.Offer {
	return &signaling.Offer{Description: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}}
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestStartSendsOffer(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.session.State(); got != negotiation.Offering {
		t.Errorf("State = %s, want offering", got)
	}

	h.relay.mu.Lock()
	sent := append([]signaling.Message(nil), h.relay.sent...)
	h.relay.mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	offer, ok := sent[0].(*signaling.Offer)
	if !ok || offer.Target != "bob" || offer.Description.SDP != "local-offer" {
		t.Errorf("sent %#v, want offer to bob", sent[0])
	}
}

func TestStartMediaDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.source.err = fmt.Errorf("%w: microphone blocked", media.ErrAccessDenied)

	err := h.session.Start(context.Background())
	if !errors.Is(err, media.ErrAccessDenied) {
		t.Fatalf("Start error = %v, want ErrAccessDenied", err)
	}
	if h.peerCount() != 0 {
		t.Errorf("created %d peer connections, want 0", h.peerCount())
	}
	if h.session.State() != negotiation.Idle {
		t.Errorf("State = %s, want idle", h.session.State())
	}
}

func TestStartRelayNeverOpens(t *testing.T) {
	h := newHarness(t, nil)
	h.relay.openOnConnect = false

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.session.Start(ctx)
	if !errors.Is(err, negotiation.ErrNotReady) {
		t.Fatalf("Start error = %v, want ErrNotReady", err)
	}
	if h.peer().closeCount() != 1 {
		t.Errorf("peer closed %d times, want 1", h.peer().closeCount())
	}
	if stops, _ := h.source.last().snapshot(); stops != 1 {
		t.Errorf("media stopped %d times, want 1", stops)
	}
	if h.relay.count(signaling.TypeOffer) != 0 {
		t.Error("offer sent without an open relay")
	}
}

func TestAnswerConnectsCall(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.peer().fireCandidate("host-1")
	waitFor(t, "local candidate", func() bool { return h.relay.count(signaling.TypeCandidate) == 1 })

	h.relay.deliver(answerMsg())
	waitClosed(t, "connected", h.session.Connected())

	if got := h.session.State(); got != negotiation.Connected {
		t.Errorf("State = %s, want connected", got)
	}
	time.Sleep(5 * time.Millisecond)
	if h.session.Duration() <= 0 {
		t.Error("Duration is zero while connected")
	}
	if h.relay.count(signaling.TypeAnswer) != 0 {
		t.Error("initiator sent an answer")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.session.End()
	h.session.End()

	if got := h.session.State(); got != negotiation.Ended {
		t.Errorf("State = %s, want ended", got)
	}
	if n := h.peer().closeCount(); n != 1 {
		t.Errorf("peer closed %d times, want 1", n)
	}
	if stops, _ := h.source.last().snapshot(); stops != 1 {
		t.Errorf("media stopped %d times, want 1", stops)
	}
	if n := h.relay.count(signaling.TypeEndCall); n != 1 {
		t.Errorf("sent %d end_call messages, want 1", n)
	}
	h.relay.mu.Lock()
	stops := h.relay.stops
	h.relay.mu.Unlock()
	if stops != 1 {
		t.Errorf("relay stopped %d times, want 1", stops)
	}
	if h.session.Duration() != 0 {
		t.Error("Duration non-zero after hang-up")
	}
}

func TestEndWithoutCall(t *testing.T) {
	h := newHarness(t, nil)
	h.session.End()
	if h.session.State() != negotiation.Idle {
		t.Errorf("State = %s, want idle", h.session.State())
	}
}

func TestListenAnswersOffer(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	h.relay.deliver(&signaling.Candidate{Candidate: webrtc.ICECandidateInit{Candidate: "early"}})
	h.relay.deliver(offerMsg())
	waitFor(t, "answer", func() bool { return h.relay.count(signaling.TypeAnswer) == 1 })

	if got := h.session.State(); got != negotiation.AnswerSent {
		t.Errorf("State = %s, want answer-sent", got)
	}

	calls := h.peer().callLog()
	want := []string{"set-remote offer", "add-candidate early", "create-answer", "set-local answer"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("peer calls = %v, want %v", calls, want)
	}

	h.peer().fireState(webrtc.PeerConnectionStateConnected)
	waitClosed(t, "connected", h.session.Connected())
}

func TestRemoteHangUpAllowsRestart(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := h.peer()
	ended := h.session.Ended()

	h.relay.deliver(signaling.NewEndCall())
	waitClosed(t, "ended", ended)

	if first.closeCount() != 1 {
		t.Errorf("peer closed %d times, want 1", first.closeCount())
	}
	if h.relay.count(signaling.TypeEndCall) != 0 {
		t.Error("remote hang-up was echoed")
	}

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if h.peerCount() != 2 {
		t.Errorf("peer connections = %d, want 2", h.peerCount())
	}
	if h.session.State() != negotiation.Offering {
		t.Errorf("State = %s, want offering", h.session.State())
	}
	if n := h.relay.count(signaling.TypeOffer); n != 2 {
		t.Errorf("offers sent = %d, want 2", n)
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := h.session.Start(context.Background())
	if !errors.Is(err, negotiation.ErrOutOfOrder) {
		t.Errorf("second Start error = %v, want ErrOutOfOrder", err)
	}
	if h.peerCount() != 1 || h.relay.count(signaling.TypeOffer) != 1 {
		t.Errorf("peers %d, offers %d", h.peerCount(), h.relay.count(signaling.TypeOffer))
	}
}

func TestAnswerTimeoutEndsCall(t *testing.T) {
	h := newHarness(t, &config.Config{PeerID: "bob", AnswerTimeout: 20 * time.Millisecond})
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitClosed(t, "ended", h.session.Ended())
	if n := h.relay.count(signaling.TypeEndCall); n != 1 {
		t.Errorf("sent %d end_call messages, want 1", n)
	}
}

func TestSetVolumeClamps(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		in, want float64
	}{
		{0.3, 0.3},
		{1.5, 1},
		{-2, 0},
	}
	for _, tt := range tests {
		h.session.SetVolume(tt.in)
		if got := h.sink.get(); got != tt.want {
			t.Errorf("SetVolume(%v) → sink %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetMute(t *testing.T) {
	h := newHarness(t, nil)
	h.session.SetMute(true)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, muted := h.source.last().snapshot(); !muted {
		t.Error("new stream not muted")
	}

	h.session.SetMute(false)
	if _, muted := h.source.last().snapshot(); muted {
		t.Error("stream still muted")
	}
}

func TestReady(t *testing.T) {
	h := newHarness(t, nil)
	if h.session.Ready() {
		t.Error("Ready before Listen")
	}
	if err := h.session.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !h.session.Ready() {
		t.Error("not Ready after Listen")
	}
	h.session.End()
	if h.session.Ready() {
		t.Error("Ready after End")
	}
}

func TestUnavailableSurfacedOnce(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.relay.status(signaling.StatusUnavailable)
	h.relay.status(signaling.StatusUnavailable)
	waitClosed(t, "unavailable", h.session.Unavailable())
}

func TestClosedSessionRejectsStart(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Close()

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start error = %v, want ErrClosed", err)
	}
}

func connect(t *testing.T, h *harness) {
	t.Helper()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.relay.deliver(answerMsg())
	waitClosed(t, "connected", h.session.Connected())
}

func TestIdleSessionIgnoresStrayHangUp(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	ended := h.session.Ended()

	h.relay.deliver(signaling.NewEndCall())
	h.relay.deliver(offerMsg())
	waitFor(t, "answer", func() bool { return h.relay.count(signaling.TypeAnswer) == 1 })

	select {
	case <-ended:
		t.Fatal("stray hang-up ended the waiting call")
	default:
	}
	if h.peer().closeCount() != 0 {
		t.Error("stray hang-up closed the peer connection")
	}
	if got := h.session.State(); got != negotiation.AnswerSent {
		t.Errorf("State = %s, want answer-sent", got)
	}
}

func TestHoldPausesAudioAndClock(t *testing.T) {
	h := newHarness(t, nil)
	connect(t, h)

	if err := h.session.Hold(); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if !h.session.OnHold() {
		t.Error("OnHold false after Hold")
	}
	if paused, _ := h.sink.state(); !paused {
		t.Error("remote audio not paused")
	}
	if _, muted := h.source.last().snapshot(); !muted {
		t.Error("local audio not muted")
	}
	if err := h.session.Hold(); err != nil {
		t.Errorf("second Hold: %v", err)
	}

	frozen := h.session.Duration()
	time.Sleep(20 * time.Millisecond)
	if got := h.session.Duration(); got != frozen {
		t.Errorf("Duration moved on hold: %s → %s", frozen, got)
	}

	if err := h.session.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if h.session.OnHold() {
		t.Error("OnHold true after Resume")
	}
	if paused, _ := h.sink.state(); paused {
		t.Error("remote audio still paused")
	}
	if _, muted := h.source.last().snapshot(); muted {
		t.Error("local audio still muted")
	}
	if got := h.session.Duration(); got >= frozen+20*time.Millisecond {
		t.Errorf("Duration %s counts the %s on hold", got, 20*time.Millisecond)
	}
	if !errors.Is(h.session.Resume(), ErrNotOnHold) {
		t.Error("Resume without hold accepted")
	}
}

func TestHoldKeepsMute(t *testing.T) {
	h := newHarness(t, nil)
	connect(t, h)

	h.session.SetMute(true)
	if err := h.session.Hold(); err != nil {
		t.Fatal(err)
	}
	h.session.SetMute(false)
	if _, muted := h.source.last().snapshot(); !muted {
		t.Error("unmute leaked audio while on hold")
	}

	h.session.SetMute(true)
	if err := h.session.Resume(); err != nil {
		t.Fatal(err)
	}
	if _, muted := h.source.last().snapshot(); !muted {
		t.Error("Resume dropped the mute")
	}
}

func TestHoldNeedsConnectedCall(t *testing.T) {
	h := newHarness(t, nil)
	if !errors.Is(h.session.Hold(), ErrNotConnected) {
		t.Error("Hold accepted with no call")
	}
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(h.session.Hold(), ErrNotConnected) {
		t.Error("Hold accepted while offering")
	}
	if !errors.Is(h.session.Resume(), ErrNotConnected) {
		t.Error("Resume accepted while offering")
	}
}

func TestHangUpReleasesHold(t *testing.T) {
	h := newHarness(t, nil)
	connect(t, h)
	if err := h.session.Hold(); err != nil {
		t.Fatal(err)
	}

	h.session.End()
	if h.session.OnHold() {
		t.Error("OnHold true after hang-up")
	}
	if paused, _ := h.sink.state(); paused {
		t.Error("remote audio left paused after hang-up")
	}
}

func TestRecording(t *testing.T) {
	h := newHarness(t, &config.Config{PeerID: "bob", RecordingDir: "calls"})

	if _, err := h.session.StartRecording(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartRecording before connect = %v, want ErrNotConnected", err)
	}

	connect(t, h)
	path, err := h.session.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if filepath.Dir(path) != "calls" {
		t.Errorf("recording path = %q, want one under calls", path)
	}
	if _, err := h.session.StartRecording(); !errors.Is(err, media.ErrAlreadyRecording) {
		t.Errorf("second StartRecording = %v, want ErrAlreadyRecording", err)
	}

	stopped, err := h.session.StopRecording()
	if err != nil || stopped != path {
		t.Errorf("StopRecording = %q, %v; want %q", stopped, err, path)
	}
	if _, err := h.session.StopRecording(); !errors.Is(err, media.ErrNotRecording) {
		t.Errorf("second StopRecording = %v, want ErrNotRecording", err)
	}
}

func TestHangUpStopsRecording(t *testing.T) {
	h := newHarness(t, nil)
	connect(t, h)
	if _, err := h.session.StartRecording(); err != nil {
		t.Fatal(err)
	}

	h.session.End()
	if _, recording := h.sink.state(); recording != "" {
		t.Errorf("still recording to %s after hang-up", recording)
	}
}

func TestPeerState(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.session.PeerState(); got != webrtc.PeerConnectionStateClosed {
		t.Errorf("PeerState with no call = %s, want closed", got)
	}

	if err := h.session.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.peer().fireState(webrtc.PeerConnectionStateConnecting)
	if got := h.session.PeerState(); got != webrtc.PeerConnectionStateConnecting {
		t.Errorf("PeerState = %s, want connecting", got)
	}

	h.session.End()
	if got := h.session.PeerState(); got != webrtc.PeerConnectionStateClosed {
		t.Errorf("PeerState after hang-up = %s, want closed", got)
	}
}
