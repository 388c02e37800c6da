// Package jwt issues and verifies the short-lived access tokens carried as bearer
// credentials. Tokens are signed with Ed25519 or HS256 and carry the principal id,
// email and a unique token identifier used for revocation records.
package jwt
