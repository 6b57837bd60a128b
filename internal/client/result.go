package client

import (
	"encoding/json"
	"fmt"

	"github.com/Secineralyr/Cotonestrum/internal/protocol"
)

// Result is the outcome of one correlated request.
type Result struct {
	ReqID string
	// Op is the operation that was sent.
	Op protocol.Op
	// Status is the response op: "ok", "denied", "internal_error", "error"
	// or anything else the server sends. Empty when no response arrived.
	Status protocol.Op
	Body   json.RawMessage
	// Err is nil for an ok response. Otherwise it is a domain.RequestError
	// or wraps domain.ErrDisconnected.
	Err error
}

// OK reports whether the server accepted the request.
func (r Result) OK() bool {
	return r.Err == nil
}

// Message returns the human readable message of the response body.
func (r Result) Message() string {
	var body protocol.StatusBody
	_ = json.Unmarshal(r.Body, &body)
	return body.Message
}

// Decode unmarshals the response body into v.
func (r Result) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.Op, err)
	}
	return nil
}
