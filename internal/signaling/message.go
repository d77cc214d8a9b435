// Package signaling implements the relay side of call setup: the wire
// messages exchanged with the signaling relay and a WebSocket client that
// keeps one relay connection alive with exponential backoff.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	TypeRegister  MessageType = "register"
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeEndCall   MessageType = "end_call"
	TypeError     MessageType = "error"
)

var (
	// ErrMalformed is returned by Parse for payloads that are not a valid
	// message of a known type.
	ErrMalformed = errors.New("malformed signaling message")

	// ErrUnknownType is returned by Parse for well-formed payloads whose
	// type is not recognized.
	ErrUnknownType = errors.New("unknown signaling message type")
)

// Message is one of *Register, *Offer, *Answer, *Candidate, *EndCall or
// *Error.
type Message interface {
	Type() MessageType
	Time() time.Time
}

// Capabilities are the client feature flags announced on registration.
type Capabilities struct {
	PeerConnection bool `json:"peerConnection"`
	Audio          bool `json:"audio"`
}

// Register announces this client to the relay.
type Register struct {
	ClientID     string
	Capabilities Capabilities
	Timestamp    time.Time
}

// Offer carries the caller's session description.
type Offer struct {
	Description webrtc.SessionDescription
	Target      string
	Timestamp   time.Time
}

// Answer carries the callee's session description.
type Answer struct {
	Description webrtc.SessionDescription
	Target      string
	Timestamp   time.Time
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	Candidate webrtc.ICECandidateInit
	Target    string
	Timestamp time.Time
}

// EndCall notifies the other side that the call is over.
type EndCall struct {
	Timestamp time.Time
}

// Error is a relay-reported failure.
type Error struct {
	Detail    string
	Timestamp time.Time
}

func (*Register) Type() MessageType  { return TypeRegister }
func (*Offer) Type() MessageType     { return TypeOffer }
func (*Answer) Type() MessageType    { return TypeAnswer }
func (*Candidate) Type() MessageType { return TypeCandidate }
func (*EndCall) Type() MessageType   { return TypeEndCall }
func (*Error) Type() MessageType     { return TypeError }

func (m *Register) Time() time.Time  { return m.Timestamp }
func (m *Offer) Time() time.Time     { return m.Timestamp }
func (m *Answer) Time() time.Time    { return m.Timestamp }
func (m *Candidate) Time() time.Time { return m.Timestamp }
func (m *EndCall) Time() time.Time   { return m.Timestamp }
func (m *Error) Time() time.Time     { return m.Timestamp }

// NewOffer stamps an Offer for the given local description.
func NewOffer(desc webrtc.SessionDescription, target string) *Offer {
	return &Offer{Description: desc, Target: target, Timestamp: time.Now()}
}

// NewAnswer stamps an Answer for the given local description.
func NewAnswer(desc webrtc.SessionDescription, target string) *Answer {
	return &Answer{Description: desc, Target: target, Timestamp: time.Now()}
}

// NewCandidate stamps a Candidate message.
func NewCandidate(c webrtc.ICECandidateInit, target string) *Candidate {
	return &Candidate{Candidate: c, Target: target, Timestamp: time.Now()}
}

// NewEndCall stamps an EndCall message.
func NewEndCall() *EndCall {
	return &EndCall{Timestamp: time.Now()}
}

// envelope is the JSON structure exchanged over the WebSocket. Exactly the
// fields belonging to Type are populated.
type envelope struct {
	Type         MessageType                `json:"type"`
	ClientID     string                     `json:"clientId,omitempty"`
	Capabilities *Capabilities              `json:"capabilities,omitempty"`
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Target       string                     `json:"target,omitempty"`
	Timestamp    json.RawMessage            `json:"timestamp,omitempty"`
}

// localTimestamp is the offset-less ISO 8601 layout some peers send.
const localTimestamp = "2006-01-02T15:04:05.999999999"

// Encode serializes a message into a single text frame payload.
func Encode(msg Message) ([]byte, error) {
	env := envelope{Type: msg.Type()}
	if ts := msg.Time(); !ts.IsZero() {
		raw, err := json.Marshal(ts.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		env.Timestamp = raw
	}

	switch m := msg.(type) {
	case *Register:
		caps := m.Capabilities
		env.ClientID = m.ClientID
		env.Capabilities = &caps
	case *Offer:
		desc := m.Description
		env.Offer = &desc
		env.Target = m.Target
	case *Answer:
		desc := m.Description
		env.Answer = &desc
		env.Target = m.Target
	case *Candidate:
		c := m.Candidate
		env.Candidate = &c
		env.Target = m.Target
	case *EndCall:
	case *Error:
		env.Error = m.Detail
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}

	return json.Marshal(env)
}

// Parse validates a text frame payload and returns the message it carries.
// Errors wrap ErrMalformed or ErrUnknownType.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ts := parseTimestamp(env.Timestamp)

	switch env.Type {
	case TypeRegister:
		if env.ClientID == "" {
			return nil, fmt.Errorf("%w: register without clientId", ErrMalformed)
		}
		msg := &Register{ClientID: env.ClientID, Timestamp: ts}
		if env.Capabilities != nil {
			msg.Capabilities = *env.Capabilities
		}
		return msg, nil

	case TypeOffer:
		if err := checkDescription(env.Offer, webrtc.SDPTypeOffer); err != nil {
			return nil, err
		}
		return &Offer{Description: *env.Offer, Target: env.Target, Timestamp: ts}, nil

	case TypeAnswer:
		if err := checkDescription(env.Answer, webrtc.SDPTypeAnswer); err != nil {
			return nil, err
		}
		return &Answer{Description: *env.Answer, Target: env.Target, Timestamp: ts}, nil

	case TypeCandidate:
		if env.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate without payload", ErrMalformed)
		}
		return &Candidate{Candidate: *env.Candidate, Target: env.Target, Timestamp: ts}, nil

	case TypeEndCall:
		return &EndCall{Timestamp: ts}, nil

	case TypeError:
		return &Error{Detail: env.Error, Timestamp: ts}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// parseTimestamp accepts RFC 3339, offset-less ISO 8601 (read as UTC) and
// epoch milliseconds. Anything else yields the zero time.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return t
		}
		if t, err := time.ParseInLocation(localTimestamp, text, time.UTC); err == nil {
			return t
		}
		return time.Time{}
	}

	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}

func checkDescription(desc *webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc == nil {
		return fmt.Errorf("%w: %s without session description", ErrMalformed, want)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: %s carries %q description", ErrMalformed, want, desc.Type)
	}
	if desc.SDP == "" {
		return fmt.Errorf("%w: %s with empty sdp", ErrMalformed, want)
	}
	return nil
}
