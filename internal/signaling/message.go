// Package signaling implements the relay-side half of session setup: the
// JSON message codec and a persistent, reconnecting WebSocket link.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	TypeOffer       MessageType = "offer"
	TypeAnswer      MessageType = "answer"
	TypeCandidate   MessageType = "ice_candidate"
	TypeStartStream MessageType = "start_stream"
	TypeStopStream  MessageType = "stop_stream"
)

// ErrUnknownType is returned by Decode for messages whose type tag is not
// recognised. Callers log and drop them.
var ErrUnknownType = errors.New("unknown signaling message type")

// Message is one of Offer, Answer, Candidate, StartStream or StopStream.
type Message interface {
	Type() MessageType
}

// Offer carries the initiator's session description.
type Offer struct {
	SDP string
}

// Answer carries the responder's session description.
type Answer struct {
	SDP string
}

// Candidate is a single trickled ICE candidate. An empty Candidate string is
// the end-of-candidates marker.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex int
}

// StartStream asks the remote side to start streaming the given file.
type StartStream struct {
	FilePath string
}

// StopStream tears the session down on both sides.
type StopStream struct{}

func (Offer) Type() MessageType       { return TypeOffer }
func (Answer) Type() MessageType      { return TypeAnswer }
func (Candidate) Type() MessageType   { return TypeCandidate }
func (StartStream) Type() MessageType { return TypeStartStream }
func (StopStream) Type() MessageType  { return TypeStopStream }

// EndOfCandidates reports whether c is the end-of-candidates marker.
func (c Candidate) EndOfCandidates() bool {
	return c.Candidate == ""
}

// Envelope is an inbound message together with the sender's peer ID, if the
// sender stamped one.
type Envelope struct {
	From    string
	Message Message
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

// wireMessage is the superset of every field any message type may carry.
// Pointer fields distinguish "absent" from zero values on decode.
type wireMessage struct {
	Type          MessageType `json:"type"`
	From          string      `json:"from,omitempty"`
	SDP           *string     `json:"sdp,omitempty"`
	Candidate     *string     `json:"candidate,omitempty"`
	SDPMid        *string     `json:"sdpMid,omitempty"`
	SDPMLineIndex *int        `json:"sdpMLineIndex,omitempty"`
	FilePath      *string     `json:"file_path,omitempty"`
}

// Encode serializes msg as a single JSON object, stamping from when non-empty.
func Encode(from string, msg Message) ([]byte, error) {
	w := wireMessage{From: from}

	switch m := msg.(type) {
	case Offer:
		w.Type = TypeOffer
		w.SDP = &m.SDP
	case Answer:
		w.Type = TypeAnswer
		w.SDP = &m.SDP
	case Candidate:
		w.Type = TypeCandidate
		w.Candidate = &m.Candidate
		w.SDPMid = &m.SDPMid
		w.SDPMLineIndex = &m.SDPMLineIndex
	case StartStream:
		w.Type = TypeStartStream
		w.FilePath = &m.FilePath
	case StopStream:
		w.Type = TypeStopStream
	default:
		return nil, fmt.Errorf("cannot encode %T: %w", msg, ErrUnknownType)
	}

	return json.Marshal(w)
}

// Decode parses one JSON signaling message. Unknown type tags yield an error
// wrapping ErrUnknownType; missing required fields yield a plain error.
func Decode(data []byte) (Envelope, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("invalid signaling JSON: %w", err)
	}

	env := Envelope{From: w.From}

	switch w.Type {
	case TypeOffer, TypeAnswer:
		if w.SDP == nil {
			return Envelope{}, fmt.Errorf("%s without sdp", w.Type)
		}
		if w.Type == TypeOffer {
			env.Message = Offer{SDP: *w.SDP}
		} else {
			env.Message = Answer{SDP: *w.SDP}
		}

	case TypeCandidate:
		c := Candidate{}
		// Browsers send `"candidate": ""` (or omit it) for end-of-candidates.
		if w.Candidate != nil {
			c.Candidate = *w.Candidate
		}
		if w.SDPMid != nil {
			c.SDPMid = *w.SDPMid
		}
		if w.SDPMLineIndex != nil {
			if *w.SDPMLineIndex < 0 || *w.SDPMLineIndex > math.MaxUint16 {
				return Envelope{}, fmt.Errorf("sdpMLineIndex %d out of range", *w.SDPMLineIndex)
			}
			c.SDPMLineIndex = *w.SDPMLineIndex
		}
		env.Message = c

	case TypeStartStream:
		if w.FilePath == nil {
			return Envelope{}, fmt.Errorf("%s without file_path", w.Type)
		}
		env.Message = StartStream{FilePath: *w.FilePath}

	case TypeStopStream:
		env.Message = StopStream{}

	default:
		return Envelope{}, fmt.Errorf("%q: %w", w.Type, ErrUnknownType)
	}

	return env, nil
}
