package cardauth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure surfaced to callers.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindUserNotFound       ErrorKind = "user_not_found"
	KindEmailTaken         ErrorKind = "email_taken"
	KindWeakPassword       ErrorKind = "weak_password"
	KindSessionExpired     ErrorKind = "session_expired"
	KindInvalidToken       ErrorKind = "invalid_token"
	KindTokenExpired       ErrorKind = "token_expired"
	KindNetwork            ErrorKind = "network"
	KindTimeout            ErrorKind = "timeout"
	KindServer             ErrorKind = "server"
	KindRateLimited        ErrorKind = "rate_limited"
)

var (
	// ErrValidation reports input rejected before any backend call.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials reports a login with a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound reports an operation on an unknown account.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken reports a registration for an address already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword reports a password rejected by the backend policy.
	ErrWeakPassword = errors.New("password too weak")
	// ErrSessionExpired reports a session that can no longer be used.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidToken reports a credential the backend explicitly rejected.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired reports an expired credential.
	ErrTokenExpired = errors.New("token expired")
	// ErrNetwork reports a transport failure reaching the backend.
	ErrNetwork = errors.New("network error")
	// ErrTimeout reports a backend call that exceeded its deadline.
	ErrTimeout = errors.New("backend call timed out")
	// ErrServer reports a backend failure outside the known taxonomy.
	ErrServer = errors.New("server error")
	// ErrRateLimited reports a request denied by a rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAuthExpired is the single result of an authorized request whose credential
	// could not be renewed.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrNoCredential reports that no bundle is stored.
	ErrNoCredential = errors.New("no credential stored")
	// ErrIncompleteBundle reports an attempt to persist a bundle with missing fields.
	ErrIncompleteBundle = errors.New("incomplete credential bundle")
	// ErrClosed reports use of a component after Close.
	ErrClosed = errors.New("cardauth: closed")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:         ErrValidation,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindUserNotFound:       ErrUserNotFound,
	KindEmailTaken:         ErrEmailTaken,
	KindWeakPassword:       ErrWeakPassword,
	KindSessionExpired:     ErrSessionExpired,
	KindInvalidToken:       ErrInvalidToken,
	KindTokenExpired:       ErrTokenExpired,
	KindNetwork:            ErrNetwork,
	KindTimeout:            ErrTimeout,
	KindServer:             ErrServer,
	KindRateLimited:        ErrRateLimited,
}

// Error is a classified failure. Message is localized for display; Detail keeps the
// backend's original text when there was one.
type Error struct {
	Kind    ErrorKind
	Message string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" && e.Detail != e.Message {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

// KindOf returns the kind of err, or "" when err is not an [*Error].
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
