package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/terabithia/internal/channel"
	"github.com/GriffinCanCode/terabithia/internal/shared/id"
)

// Kind classifies an envelope.
type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindInvocation   Kind = "invocation"
	KindResponse     Kind = "response"
)

// Envelope is the wire frame exchanged between domains.
type Envelope struct {
	BridgeID  BridgeID        `json:"bridgeId"`
	DomainTag Domain          `json:"domainTag"`
	MessageID id.MessageID    `json:"messageId,omitempty"`
	Kind      Kind            `json:"kind"`
	Command   string          `json:"command,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

func decodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := channel.Decode(frame, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// encodeValue converts a Go value to raw JSON. Raw JSON and forwarded
// responses pass through once they are checked to be valid.
func encodeValue(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return checkRaw(t)
	case Response:
		return checkRaw(json.RawMessage(t))
	}
	data, err := channel.Encode(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func checkRaw(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}
	return raw, nil
}

// Failure is the result an endpoint sends when an invocation cannot be
// served.
type Failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return f.Message
}

func failure(format string, args ...any) *Failure {
	return &Failure{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Response is the counterpart's answer to an invocation: the handler's
// value verbatim, or a Failure.
type Response json.RawMessage

// Decode unmarshals the response into v.
func (r Response) Decode(v any) error {
	if len(r) == 0 {
		return channel.Decode([]byte("null"), v)
	}
	return channel.Decode(r, v)
}

// Failure reports whether the response has the failure shape. A handler
// that returns {"success": false, "message": ...} itself is
// indistinguishable from a bridge-generated failure.
func (r Response) Failure() (*Failure, bool) {
	if len(r) == 0 || r[0] != '{' {
		return nil, false
	}
	var probe struct {
		Success *bool   `json:"success"`
		Message *string `json:"message"`
	}
	if err := channel.Decode(r, &probe); err != nil {
		return nil, false
	}
	if probe.Success == nil || *probe.Success || probe.Message == nil {
		return nil, false
	}
	return &Failure{Message: *probe.Message}, true
}

// Err returns the failure as an error, or nil.
func (r Response) Err() error {
	if f, ok := r.Failure(); ok {
		return f
	}
	return nil
}

func (r Response) String() string {
	if len(r) == 0 {
		return "null"
	}
	return string(r)
}
