package issuer

import "github.com/MrEthical07/cardauth/session"

// Paths of the JSON binding.
const (
	PathToken   = "/auth/v1/token"
	PathSignup  = "/auth/v1/signup"
	PathRevoke  = "/auth/v1/revoke"
	PathUser    = "/auth/v1/user"
	PathLogout  = "/auth/v1/logout"
	PathRecover = "/auth/v1/recover"
	PathReset   = "/auth/v1/reset"

	grantPassword = "password"
	grantRefresh  = "refresh_token"
)

type userBody struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenBody struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	User         userBody `json:"user"`
}

type signupBody struct {
	User    userBody   `json:"user"`
	Session *tokenBody `json:"session,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type recoverRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func toTokenBody(b session.Bundle) tokenBody {
	return tokenBody{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		ExpiresAt:    b.ExpiresAt,
		User:         userBody{ID: b.Principal.ID, Email: b.Principal.Email},
	}
}

func (t tokenBody) bundle() session.Bundle {
	return session.Bundle{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
		Principal:    session.Principal{ID: t.User.ID, Email: t.User.Email},
	}
}
