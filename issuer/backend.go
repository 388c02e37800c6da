package issuer

import (
	"context"

	"github.com/MrEthical07/cardauth/session"
)

// Credentials identify an account by email and password.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResult is returned by [Backend.Register]. Bundle is nil when the backend
// requires a confirmation step before issuing a credential.
type RegisterResult struct {
	Principal session.Principal `json:"user"`
	Bundle    *session.Bundle   `json:"session,omitempty"`
}

// Backend is the credential-issuing collaborator.
type Backend interface {
	Login(ctx context.Context, creds Credentials) (session.Bundle, error)
	Register(ctx context.Context, creds Credentials) (RegisterResult, error)
	Refresh(ctx context.Context, refreshToken string) (session.Bundle, error)
	// Revoke records accessToken as revoked with reason until it would have expired.
	Revoke(ctx context.Context, accessToken, reason string) error
	Validate(ctx context.Context, accessToken string) (session.Principal, error)
	// SignOut ends the server-side session behind accessToken.
	SignOut(ctx context.Context, accessToken string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}
