// Package negotiation implements the offer/answer state machine of a call.
//
// The machine is a pure reducer: Reduce takes the current Snapshot and an
// Event and returns the next Snapshot plus the Commands to run. A Driver
// runs those commands against a peer connection and the relay and feeds
// their results back as events until the machine is quiet again.
package negotiation

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrNotReady is returned when a call is started without a peer
	// connection or without an open relay.
	ErrNotReady = errors.New("peer connection or relay not ready")

	// ErrOutOfOrder reports a message or event that is not legal in the
	// current state. The machine ignores it.
	ErrOutOfOrder = errors.New("out of order")

	// ErrEnded reports input received after the call ended.
	ErrEnded = errors.New("call ended")

	// ErrRemote wraps an error report forwarded by the relay.
	ErrRemote = errors.New("relay reported error")
)

// State is the negotiation state of one call.
type State int

const (
	Idle State = iota
	Offering
	Answered
	OfferReceived
	AnswerSent
	Connected
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case Answered:
		return "answered"
	case OfferReceived:
		return "offer-received"
	case AnswerSent:
		return "answer-sent"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Step names an asynchronous negotiation step whose outcome the machine is
// waiting for.
type Step int

const (
	StepNone Step = iota
	StepCreateOffer
	StepApplyOffer
	StepCreateAnswer
	StepApplyAnswer
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepCreateOffer:
		return "create offer"
	case StepApplyOffer:
		return "apply remote offer"
	case StepCreateAnswer:
		return "create answer"
	case StepApplyAnswer:
		return "apply remote answer"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// Snapshot is the complete machine state. It is a value; Reduce never
// mutates the snapshot it is given.
type Snapshot struct {
	State State

	// Target is the remote client id outbound messages are addressed to.
	// Empty leaves routing to the relay.
	Target string

	// Step is the step in flight; Prior is the state restored if it fails.
	Step  Step
	Prior State

	// RemoteSet reports whether a remote description has been applied.
	RemoteSet bool

	// Pending holds remote candidates received before the remote
	// description, in arrival order.
	Pending []webrtc.ICECandidateInit
}
