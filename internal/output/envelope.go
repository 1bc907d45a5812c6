package output

import (
	"encoding/json"
	"errors"
)

// Envelope is the uniform response for every message exchanged with the daemon.
// Exactly one of Data, Token/User or Error is meaningful, depending on the action.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Token     string          `json:"token,omitempty"`
	User      json.RawMessage `json:"user,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Hint      string          `json:"hint,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// EnvelopeOption modifies a success Envelope.
type EnvelopeOption func(*Envelope)

// Success builds a success envelope.
func Success(opts ...EnvelopeOption) *Envelope {
	env := &Envelope{Success: true}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// Failure builds a failed envelope from any error.
func Failure(err error) *Envelope {
	if err == nil {
		err = errors.New("unknown failure")
	}
	e := AsError(err)
	return &Envelope{
		Success: false,
		Error:   e.Message,
		Code:    e.Code,
		Hint:    e.Hint,
	}
}

// WithData attaches an already-encoded payload.
func WithData(raw json.RawMessage) EnvelopeOption {
	return func(e *Envelope) { e.Data = raw }
}

// WithToken attaches the bearer token (authenticate only).
func WithToken(token string) EnvelopeOption {
	return func(e *Envelope) { e.Token = token }
}

// WithUser attaches the user profile. A nil profile is encoded as an explicit null so
// callers can tell "logged out" from "field not applicable".
func WithUser(raw json.RawMessage) EnvelopeOption {
	return func(e *Envelope) {
		if len(raw) == 0 {
			e.User = json.RawMessage("null")
			return
		}
		e.User = raw
	}
}

// Err converts a failed envelope back into an *Error. Returns nil on success.
func (e *Envelope) Err() error {
	if e.Success {
		return nil
	}
	code := e.Code
	if code == "" {
		code = CodeInternal
	}
	return &Error{Code: code, Message: e.Error, Hint: e.Hint}
}

// HasUser reports whether the envelope carries a non-null user.
func (e *Envelope) HasUser() bool {
	return len(e.User) > 0 && string(e.User) != "null"
}
