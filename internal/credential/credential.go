// Package credential persists the bearer token and user profile as a single unit.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// UserProfile is the provider's identity record. Only Login is required; the raw
// document is kept so it can be handed back to callers unmodified.
type UserProfile struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Email     string `json:"email,omitempty"`

	raw json.RawMessage
}

// ParseProfile decodes a profile document returned by the identity endpoint.
func ParseProfile(raw []byte) (*UserProfile, error) {
	var p UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode user profile: %w", err)
	}
	if p.Login == "" {
		return nil, errors.New("user profile has no login")
	}
	return &p, nil
}

// UnmarshalJSON keeps a copy of the original document.
func (p *UserProfile) UnmarshalJSON(data []byte) error {
	type plain UserProfile
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = UserProfile(v)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original document when there is one.
func (p UserProfile) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	type plain UserProfile
	return json.Marshal(plain(p))
}

// Raw returns the profile as JSON.
func (p *UserProfile) Raw() json.RawMessage {
	if p == nil {
		return nil
	}
	b, err := p.MarshalJSON()
	if err != nil {
		return nil
	}
	return b
}

// Credential is the token and the profile it belongs to. They are saved and
// cleared together.
type Credential struct {
	Token string       `json:"token"`
	User  *UserProfile `json:"user"`
}

// Validate rejects partially populated credentials.
func (c Credential) Validate() error {
	if c.Token == "" {
		return errors.New("credential has no token")
	}
	if c.User == nil || c.User.Login == "" {
		return errors.New("credential has no user profile")
	}
	return nil
}

// Store provides persistent storage for the credential.
// Implementations can use the system keychain, a file, redis or memory.
type Store interface {
	// Load returns the stored credential, or nil when nothing is stored.
	Load(ctx context.Context) (*Credential, error)

	// Save replaces the stored credential.
	Save(ctx context.Context, cred Credential) error

	// Clear removes the stored credential. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// StoreError indicates a credential storage error.
type StoreError struct {
	Operation string // "load", "save", "clear"
	Backend   string
	Message   string
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " credential"
	if e.Backend != "" {
		msg += " (" + e.Backend + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func storeErr(op, backend string, cause error) error {
	return &StoreError{Operation: op, Backend: backend, Cause: cause}
}

func encode(cred Credential) ([]byte, error) {
	return json.Marshal(cred)
}

func decode(data []byte) (*Credential, error) {
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}
	if cred.Token == "" {
		return nil, nil
	}
	return &cred, nil
}
