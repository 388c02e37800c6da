package cardauth

import (
	"errors"

	"github.com/MrEthical07/cardauth/issuer"
	"github.com/MrEthical07/cardauth/session"
)

// Bundle is the credential bundle persisted by the [TokenStore].
type Bundle = session.Bundle

// Principal is the identity a bundle belongs to.
type Principal = session.Principal

// Credentials are the login inputs.
type Credentials = issuer.Credentials

// Phase is the lifecycle position of a session.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseAnonymous
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SessionState is the value observed by subscribers. Principal is nil unless Phase
// is PhaseAuthenticated.
type SessionState struct {
	Phase     Phase
	Principal *Principal
}

// Authenticated reports whether s carries a principal.
func (s SessionState) Authenticated() bool {
	return s.Phase == PhaseAuthenticated && s.Principal != nil
}

func (s SessionState) equal(o SessionState) bool {
	if s.Phase != o.Phase {
		return false
	}
	if s.Principal == nil || o.Principal == nil {
		return s.Principal == nil && o.Principal == nil
	}
	return *s.Principal == *o.Principal
}

// Listener observes session state. Returning an error, or panicking, unsubscribes it.
type Listener func(SessionState) error

// Registration is the sign-up form.
type Registration struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// RegisterResult reports the outcome of a successful registration. Authenticated is
// false when the backend requires confirmation before issuing a credential.
type RegisterResult struct {
	Principal     Principal
	Authenticated bool
}

// LogoutOutcome reports both steps of a logout. Clearing always runs; RevokeErr is
// informational.
type LogoutOutcome struct {
	RevokeErr error
	ClearErr  error
}

// Err joins both step errors.
func (o LogoutOutcome) Err() error {
	return errors.Join(o.RevokeErr, o.ClearErr)
}
