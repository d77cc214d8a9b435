package negotiation

import (
	"fmt"
	"slices"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.call/internal/signaling"
)

// Reduce computes the transition for ev. The returned error describes input
// the machine rejected or a step that failed; the returned snapshot is
// valid in either case.
func Reduce(s Snapshot, ev Event) (Snapshot, []Command, error) {
	switch e := ev.(type) {
	case StartCall:
		return startCall(s, e)
	case OfferCreated:
		return offerCreated(s, e)
	case RemoteMessage:
		return remoteMessage(s, e.Msg)
	case RemoteDescriptionApplied:
		return remoteApplied(s)
	case AnswerCreated:
		return answerCreated(s, e)
	case NegotiationFailed:
		return negotiationFailed(s, e)
	case LocalCandidate:
		return localCandidate(s, e)
	case PeerStateChanged:
		return peerStateChanged(s, e)
	case OfferTimedOut:
		if s.State != Offering {
			return s, nil, nil
		}
		next, cmds := hangUp(s, true)
		return next, cmds, fmt.Errorf("no answer received")
	case EndCall:
		if s.State == Ended {
			return s, nil, nil
		}
		next, cmds := hangUp(s, true)
		return next, cmds, nil
	default:
		return s, nil, fmt.Errorf("unknown event %T", ev)
	}
}

// ---------------------------------------------------------------------------
// Initiator
// ---------------------------------------------------------------------------

func startCall(s Snapshot, e StartCall) (Snapshot, []Command, error) {
	switch {
	case s.State == Ended:
		return s, nil, ErrEnded
	case s.State != Idle || s.Step != StepNone:
		return s, nil, fmt.Errorf("start call in state %s: %w", s.State, ErrOutOfOrder)
	case !e.PeerReady || !e.RelayOpen:
		return s, nil, ErrNotReady
	}

	s.Step = StepCreateOffer
	s.Prior = Idle
	return s, []Command{CreateOffer{}}, nil
}

func offerCreated(s Snapshot, e OfferCreated) (Snapshot, []Command, error) {
	if s.Step != StepCreateOffer {
		return s, nil, fmt.Errorf("offer created in state %s: %w", s.State, ErrOutOfOrder)
	}

	s.Step = StepNone
	s.State = Offering
	return s, []Command{Send{Msg: signaling.NewOffer(e.Desc, s.Target)}}, nil
}

// ---------------------------------------------------------------------------
// Relay input
// ---------------------------------------------------------------------------

func remoteMessage(s Snapshot, msg signaling.Message) (Snapshot, []Command, error) {
	if s.State == Ended {
		return s, nil, fmt.Errorf("%s after hang-up: %w", msg.Type(), ErrEnded)
	}

	switch m := msg.(type) {
	case *signaling.Offer:
		if s.State != Idle || s.Step != StepNone {
			return s, nil, fmt.Errorf("offer in state %s: %w", s.State, ErrOutOfOrder)
		}
		s.Prior = s.State
		s.State = OfferReceived
		s.Step = StepApplyOffer
		return s, []Command{SetRemoteDescription{Desc: m.Description}}, nil

	case *signaling.Answer:
		if s.State != Offering || s.Step != StepNone {
			return s, nil, fmt.Errorf("answer in state %s: %w", s.State, ErrOutOfOrder)
		}
		s.Prior = s.State
		s.State = Answered
		s.Step = StepApplyAnswer
		return s, []Command{SetRemoteDescription{Desc: m.Description}}, nil

	case *signaling.Candidate:
		if !s.RemoteSet {
			s.Pending = append(slices.Clone(s.Pending), m.Candidate)
			return s, nil, nil
		}
		return s, []Command{AddICECandidate{Candidate: m.Candidate}}, nil

	case *signaling.EndCall:
		if s.State == Idle {
			return s, nil, fmt.Errorf("hang-up with no call in progress: %w", ErrOutOfOrder)
		}
		next, cmds := hangUp(s, false)
		return next, cmds, nil

	case *signaling.Error:
		return s, nil, fmt.Errorf("%w: %s", ErrRemote, m.Detail)

	default:
		return s, nil, fmt.Errorf("unexpected %s message: %w", msg.Type(), ErrOutOfOrder)
	}
}

func remoteApplied(s Snapshot) (Snapshot, []Command, error) {
	var cmds []Command
	switch s.Step {
	case StepApplyOffer:
		s.Step = StepCreateAnswer
		cmds = append(flush(s.Pending), CreateAnswer{})
	case StepApplyAnswer:
		s.Step = StepNone
		s.State = Connected
		cmds = flush(s.Pending)
	default:
		return s, nil, fmt.Errorf("remote description applied in state %s: %w", s.State, ErrOutOfOrder)
	}

	s.RemoteSet = true
	s.Pending = nil
	return s, cmds, nil
}

func answerCreated(s Snapshot, e AnswerCreated) (Snapshot, []Command, error) {
	if s.Step != StepCreateAnswer {
		return s, nil, fmt.Errorf("answer created in state %s: %w", s.State, ErrOutOfOrder)
	}

	s.Step = StepNone
	s.State = AnswerSent
	return s, []Command{Send{Msg: signaling.NewAnswer(e.Desc, s.Target)}}, nil
}

// negotiationFailed puts the machine back where it was before the step
// started. Nothing is retried.
func negotiationFailed(s Snapshot, e NegotiationFailed) (Snapshot, []Command, error) {
	err := fmt.Errorf("%s: %w", e.Step, e.Err)
	if s.Step == StepNone || s.Step != e.Step {
		return s, nil, err
	}

	switch s.Step {
	case StepApplyOffer, StepApplyAnswer, StepCreateAnswer:
		s.RemoteSet = false
	}
	s.State = s.Prior
	s.Step = StepNone
	return s, nil, err
}

// ---------------------------------------------------------------------------
// Peer input
// ---------------------------------------------------------------------------

func localCandidate(s Snapshot, e LocalCandidate) (Snapshot, []Command, error) {
	if s.State == Ended {
		return s, nil, nil
	}
	if !e.RelayOpen {
		return s, nil, fmt.Errorf("local candidate dropped: %w", signaling.ErrNotOpen)
	}
	return s, []Command{Send{Msg: signaling.NewCandidate(e.Candidate, s.Target)}}, nil
}

func peerStateChanged(s Snapshot, e PeerStateChanged) (Snapshot, []Command, error) {
	switch e.State {
	case webrtc.PeerConnectionStateConnected:
		if s.State == AnswerSent {
			s.State = Connected
		}
		return s, nil, nil
	case webrtc.PeerConnectionStateFailed:
		if s.State == Ended {
			return s, nil, nil
		}
		next, cmds := hangUp(s, true)
		return next, cmds, fmt.Errorf("peer connection failed")
	default:
		return s, nil, nil
	}
}

// hangUp tears the call down. notify controls whether the remote side is
// told with an EndCall message.
func hangUp(s Snapshot, notify bool) (Snapshot, []Command) {
	cmds := []Command{ClosePeer{}, StopMedia{}}
	if notify {
		cmds = append(cmds, Send{Msg: signaling.NewEndCall()})
	}

	s.State = Ended
	s.Step = StepNone
	s.Pending = nil
	return s, cmds
}

func flush(pending []webrtc.ICECandidateInit) []Command {
	cmds := make([]Command, 0, len(pending)+1)
	for _, c := range pending {
		cmds = append(cmds, AddICECandidate{Candidate: c})
	}
	return cmds
}
