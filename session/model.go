package session

import "time"

// Principal is the authenticated identity attached to a credential.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// IsZero reports whether no identity is set.
func (p Principal) IsZero() bool {
	return p.ID == "" && p.Email == ""
}

// Bundle is the single persisted credential record. All four fields are written and
// cleared together.
type Bundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    int64     `json:"expires_at"`
	Principal    Principal `json:"principal"`
}

// Complete reports whether every field of the bundle is populated.
func (b Bundle) Complete() bool {
	return b.AccessToken != "" &&
		b.RefreshToken != "" &&
		b.ExpiresAt > 0 &&
		b.Principal.ID != ""
}

// Expiry returns ExpiresAt as a time value.
func (b Bundle) Expiry() time.Time {
	return time.Unix(b.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (b Bundle) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Before(b.Expiry().Add(-d))
}
