package negotiation

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.call/internal/signaling"
	"github.com/1ureka/1ureka.net.call/internal/util"
)

// PeerConnection is the part of a WebRTC peer connection the machine
// drives. transport.Peer implements it.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	Close() error
}

// Outbound is the relay side of the machine. signaling.Client implements it.
type Outbound interface {
	Send(msg signaling.Message) error
	IsOpen() bool
}

// Driver owns a Snapshot and runs the commands Reduce emits. Dispatch is
// not safe for concurrent use; callers serialize it on one goroutine.
type Driver struct {
	snap      Snapshot
	peer      PeerConnection
	out       Outbound
	stopMedia func()

	onTransition func(from, to State)
}

// NewDriver creates a Driver in Idle addressing outbound messages to
// target. stopMedia may be nil.
func NewDriver(peer PeerConnection, out Outbound, target string, stopMedia func()) *Driver {
	return &Driver{
		snap:      Snapshot{Target: target},
		peer:      peer,
		out:       out,
		stopMedia: stopMedia,
	}
}

// OnTransition registers a callback invoked after every state change.
func (d *Driver) OnTransition(fn func(from, to State)) {
	d.onTransition = fn
}

// State returns the current state.
func (d *Driver) State() State {
	return d.snap.State
}

// Dispatch feeds ev to the machine and runs to completion: every command
// is executed, and every result event is reduced in turn, before Dispatch
// returns. The first error produced along the way is returned.
func (d *Driver) Dispatch(ev Event) error {
	var firstErr error
	queue := []Event{ev}

	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		from := d.snap.State
		next, cmds, err := Reduce(d.snap, ev)
		d.snap = next
		if err != nil && firstErr == nil {
			firstErr = err
		}

		if from != next.State {
			util.LogDebug("call state %s → %s", from, next.State)
			if d.onTransition != nil {
				d.onTransition(from, next.State)
			}
		}

		for _, cmd := range cmds {
			if result := d.execute(cmd); result != nil {
				queue = append(queue, result)
			}
		}
	}

	return firstErr
}

// execute runs one command. Commands that complete a negotiation step
// return the event describing the outcome.
func (d *Driver) execute(cmd Command) Event {
	switch c := cmd.(type) {
	case CreateOffer:
		offer, err := d.peer.CreateOffer()
		if err != nil {
			return NegotiationFailed{Step: StepCreateOffer, Err: err}
		}
		if err := d.peer.SetLocalDescription(offer); err != nil {
			return NegotiationFailed{Step: StepCreateOffer, Err: err}
		}
		return OfferCreated{Desc: offer}

	case CreateAnswer:
		answer, err := d.peer.CreateAnswer()
		if err != nil {
			return NegotiationFailed{Step: StepCreateAnswer, Err: err}
		}
		if err := d.peer.SetLocalDescription(answer); err != nil {
			return NegotiationFailed{Step: StepCreateAnswer, Err: err}
		}
		return AnswerCreated{Desc: answer}

	case SetRemoteDescription:
		step := StepApplyOffer
		if c.Desc.Type == webrtc.SDPTypeAnswer {
			step = StepApplyAnswer
			if state := d.peer.SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
				return NegotiationFailed{
					Step: step,
					Err:  fmt.Errorf("peer signaling state %s: %w", state, ErrOutOfOrder),
				}
			}
		}
		if err := d.peer.SetRemoteDescription(c.Desc); err != nil {
			return NegotiationFailed{Step: step, Err: err}
		}
		return RemoteDescriptionApplied{}

	case AddICECandidate:
		if err := d.peer.AddICECandidate(c.Candidate); err != nil {
			util.LogWarning("failed to add remote candidate: %v", err)
		}

	case Send:
		if !d.out.IsOpen() {
			util.LogDebug("relay closed, %s not sent", c.Msg.Type())
			return nil
		}
		// Send logs its own failures.
		_ = d.out.Send(c.Msg)

	case ClosePeer:
		if err := d.peer.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
			util.LogDebug("peer close: %v", err)
		}

	case StopMedia:
		if d.stopMedia != nil {
			d.stopMedia()
		}
	}

	return nil
}
