// Package message defines the documents exchanged between client and service.
//
// A call goes out as one JSON object, and every reply comes back as one JSON object.
// The protocol package frames them on the wire with a NUL byte after each one.
//
//	call:    {"method":"org.example.ftl.Jump","parameters":{...},"one_way":true}
//	reply:   {"parameters":{...},"continues":true}
//	error:   {"error":"org.example.ftl.NotEnoughEnergy","parameters":{...}}
package message

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Flags are the optional call modifiers.
type Flags struct {
	Oneway  bool // No reply is expected
	More    bool // The caller expects a stream of replies, see Reply.Continues
	Upgrade bool // The connection switches protocol after the reply
}

// Call is an outgoing method call. It lives only for the duration of one send.
type Call struct {
	Method     string `json:"method"`     // Fully-qualified: "interface.method"
	Parameters any    `json:"parameters"` // Caller-supplied value, encoded as-is; never omitted
	Oneway     bool   `json:"one_way,omitempty"`
	More       bool   `json:"more,omitempty"`
	Upgrade    bool   `json:"upgrade,omitempty"`
}

// NewCall builds a Call for method with the given parameters and flags.
// Nil parameters are sent as an empty object.
func NewCall(method string, parameters any, flags Flags) Call {
	if parameters == nil {
		parameters = struct{}{}
	}
	return Call{
		Method:     method,
		Parameters: parameters,
		Oneway:     flags.Oneway,
		More:       flags.More,
		Upgrade:    flags.Upgrade,
	}
}

// ErrMissingParameters is returned when a reply document has no "parameters" field.
var ErrMissingParameters = errors.New("message: reply has no parameters field")

// Reply is a successful method call reply.
type Reply[P any] struct {
	Parameters P     `json:"parameters"`
	Continues  *bool `json:"continues,omitempty"` // nil when the service did not say
}

// More reports whether the service announced further replies for the same call.
func (r *Reply[P]) More() bool {
	return r.Continues != nil && *r.Continues
}

// MarshalJSON encodes the reply in its wire shape.
func (r Reply[P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Parameters P     `json:"parameters"`
		Continues  *bool `json:"continues,omitempty"`
	}{r.Parameters, r.Continues})
}

// UnmarshalJSON decodes a reply and rejects documents that carry no parameters field.
func (r *Reply[P]) UnmarshalJSON(data []byte) error {
	var raw struct {
		Parameters json.RawMessage `json:"parameters"`
		Continues  *bool           `json:"continues"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Parameters == nil {
		return ErrMissingParameters
	}
	var params P
	if err := json.Unmarshal(raw.Parameters, &params); err != nil {
		return errors.Wrap(err, "message: decode reply parameters")
	}
	r.Parameters = params
	r.Continues = raw.Continues
	return nil
}

// ErrNotAnError is returned when a document decoded as ErrorReply has no "error" field.
var ErrNotAnError = errors.New("message: document has no error field")

// ErrorReply is a generic error reply. Decoding only succeeds for documents that
// carry a non-empty "error" field, so it can be tried before a success reply.
//
// Services with a known error set usually declare their own type with the same
// property instead of using ErrorReply.
type ErrorReply struct {
	Name       string          `json:"error"`                // Fully-qualified error name
	Parameters json.RawMessage `json:"parameters,omitempty"` // Error-specific payload, undecoded
}

// Error implements the error interface.
func (e *ErrorReply) Error() string {
	if len(e.Parameters) == 0 || bytes.Equal(e.Parameters, []byte("{}")) {
		return e.Name
	}
	return e.Name + ": " + string(e.Parameters)
}

// MarshalJSON encodes the error reply in its wire shape.
func (e ErrorReply) MarshalJSON() ([]byte, error) {
	type wire ErrorReply
	return json.Marshal(wire(e))
}

// UnmarshalJSON decodes an error reply and fails for documents without an error name.
func (e *ErrorReply) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name       *string         `json:"error"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Name == nil || *raw.Name == "" {
		return ErrNotAnError
	}
	e.Name = *raw.Name
	e.Parameters = raw.Parameters
	return nil
}

// DecodeParameters decodes the error's parameters into v.
func (e *ErrorReply) DecodeParameters(v any) error {
	if len(e.Parameters) == 0 {
		return nil
	}
	return json.Unmarshal(e.Parameters, v)
}
