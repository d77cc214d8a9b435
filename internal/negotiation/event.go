package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.call/internal/signaling"
)

// Event is an input to the machine.
type Event interface {
	event()
}

// StartCall asks the machine to place an outbound call.
type StartCall struct {
	RelayOpen bool
	PeerReady bool
}

// OfferCreated carries the offer that was created and set locally.
type OfferCreated struct {
	Desc webrtc.SessionDescription
}

// RemoteMessage carries one parsed relay message.
type RemoteMessage struct {
	Msg signaling.Message
}

// RemoteDescriptionApplied reports that the pending remote description was
// set on the peer connection.
type RemoteDescriptionApplied struct{}

// AnswerCreated carries the answer that was created and set locally.
type AnswerCreated struct {
	Desc webrtc.SessionDescription
}

// NegotiationFailed reports that a step failed on the peer connection.
type NegotiationFailed struct {
	Step Step
	Err  error
}

// LocalCandidate carries an ICE candidate gathered by the peer connection.
type LocalCandidate struct {
	Candidate webrtc.ICECandidateInit
	RelayOpen bool
}

// PeerStateChanged reports a peer connection state transition.
type PeerStateChanged struct {
	State webrtc.PeerConnectionState
}

// OfferTimedOut fires when no answer arrived within the answer timeout.
type OfferTimedOut struct{}

// EndCall asks the machine to hang up.
type EndCall struct{}

func (StartCall) event()                {}
func (OfferCreated) event()             {}
func (RemoteMessage) event()            {}
func (RemoteDescriptionApplied) event() {}
func (AnswerCreated) event()            {}
func (NegotiationFailed) event()        {}
func (LocalCandidate) event()           {}
func (PeerStateChanged) event()         {}
func (OfferTimedOut) event()            {}
func (EndCall) event()                  {}

// Command is an effect the Driver performs on behalf of the machine.
type Command interface {
	command()
}

// CreateOffer creates an offer and sets it as the local description.
type CreateOffer struct{}

// CreateAnswer creates an answer and sets it as the local description.
type CreateAnswer struct{}

// SetRemoteDescription applies a remote offer or answer.
type SetRemoteDescription struct {
	Desc webrtc.SessionDescription
}

// AddICECandidate applies a remote candidate.
type AddICECandidate struct {
	Candidate webrtc.ICECandidateInit
}

// Send writes a message to the relay, best-effort.
type Send struct {
	Msg signaling.Message
}

// ClosePeer closes the peer connection.
type ClosePeer struct{}

// StopMedia releases local capture.
type StopMedia struct{}

func (CreateOffer) command()          {}
func (CreateAnswer) command()         {}
func (SetRemoteDescription) command() {}
func (AddICECandidate) command()      {}
func (Send) command()                 {}
func (ClosePeer) command()            {}
func (StopMedia) command()            {}
