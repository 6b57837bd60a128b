package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// Envelope is the JSON shape of every frame on the socket.
type Envelope struct {
	Op    Op              `json:"op"`
	ReqID string          `json:"reqid,omitempty"`
	Body  json.RawMessage `json:"body"`
}

// FrameKind discriminates decoded inbound frames.
type FrameKind int

const (
	// FrameResponse answers a request and carries its reqid.
	FrameResponse FrameKind = iota + 1
	// FramePush is an unsolicited server message without reqid.
	FramePush
)

// String returns the string representation of the kind.
func (k FrameKind) String() string {
	switch k {
	case FrameResponse:
		return "response"
	case FramePush:
		return "push"
	default:
		return "unknown"
	}
}

// Frame is a decoded inbound frame.
type Frame struct {
	Envelope
	Kind FrameKind
	// Raw holds the frame exactly as received, for the journal.
	Raw json.RawMessage
}

// Decode parses an inbound text frame. The returned error wraps
// domain.ErrMalformedFrame.
func Decode(data []byte) (*Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", domain.ErrMalformedFrame)
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if env.Op == "" {
		return nil, fmt.Errorf("%w: missing op", domain.ErrMalformedFrame)
	}
	if len(env.Body) == 0 {
		env.Body = json.RawMessage("null")
	}

	frame := &Frame{
		Envelope: env,
		Kind:     FramePush,
		Raw:      json.RawMessage(append([]byte(nil), trimmed...)),
	}
	if env.ReqID != "" {
		frame.Kind = FrameResponse
	}
	return frame, nil
}

// DecodeBody unmarshals the frame body into v.
func (f *Frame) DecodeBody(v any) error {
	if err := json.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("%w: %s body: %v", domain.ErrMalformedFrame, f.Op, err)
	}
	return nil
}

// StatusBody is the body of a response. For non-ok responses it names the
// original operation and a human readable reason.
type StatusBody struct {
	Op      Op     `json:"op"`
	Message string `json:"message"`
}

// Status decodes the frame body as a StatusBody. Bodies that do not have
// that shape yield a zero StatusBody.
func (f *Frame) Status() StatusBody {
	var body StatusBody
	_ = json.Unmarshal(f.Body, &body)
	return body
}

// IDBody is the body of single-record delete pushes and fetch requests.
type IDBody struct {
	ID string `json:"id"`
}

// IDsBody is the body of batch delete pushes.
type IDsBody struct {
	IDs []string `json:"ids"`
}

// Request is an outgoing operation with its correlation id.
type Request struct {
	Op    Op
	ReqID string
	Body  any
}

// NewRequest creates a request with a fresh random request id.
func NewRequest(op Op, body any) Request {
	return Request{
		Op:    op,
		ReqID: uuid.New().String(),
		Body:  body,
	}
}

// Encode serializes the request into a frame.
func (r Request) Encode() ([]byte, error) {
	body := []byte("{}")
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", r.Op, err)
		}
		body = b
	}

	data, err := json.Marshal(Envelope{
		Op:    r.Op,
		ReqID: r.ReqID,
		Body:  body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", r.Op, err)
	}
	return data, nil
}
