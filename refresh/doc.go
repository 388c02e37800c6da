// Package refresh implements the opaque rotating tokens used as refresh tokens and
// password reset tokens by the local issuer.
//
// # Token format
//
// A token is base64url (no padding) over 48 bytes: a 16-byte family identifier
// followed by a 32-byte random secret. Rotation keeps the family and replaces the
// secret. Stores keep only [Token.Hash], never the plaintext.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Import cardauth, jwt or session.
//   - Implement rotation policy or replay detection.
package refresh
