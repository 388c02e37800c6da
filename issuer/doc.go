// Package issuer defines the credential-issuing backend consumed by the session core
// and ships three implementations of it.
//
// [Backend] is the contract: login, register, refresh, revoke, validate, sign out and
// the password reset pair. Failures reported by a backend are [*Error] values carrying
// an HTTP status, a stable code and a human message; anything else is a transport
// failure and is treated as transient.
//
// [Local] is an in-process backend (Argon2id password hashes, JWT access tokens,
// opaque rotating refresh tokens, revocation records). [Handler] exposes any Backend
// over JSON/HTTP and [HTTPClient] consumes that binding.
//
// # What this package must NOT do
//
//   - Import the cardauth root package or middleware.
//   - Map backend messages to user-facing text. That is the session controller's job.
package issuer
