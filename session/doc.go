// Package session provides persistence of the credential bundle (access token,
// refresh token, expiry, principal) and its compact binary encoding.
//
// # Binary encoding
//
// A bundle is stored as one versioned binary blob. Writing the whole blob in a single
// storage operation is what makes persist and clear atomic: readers observe either the
// previous bundle, the new bundle, or nothing, never a mix of fields.
//
// # Architecture boundaries
//
// This package owns the [Bundle] model and the [Storage] backends ([MemoryStorage],
// [RedisStorage]). It does NOT refresh tokens, talk to the issuing backend, or decide
// whether a bundle is still usable; that belongs to cardauth.TokenStore.
//
// # What this package must NOT do
//
//   - Import cardauth, issuer, or middleware (no upward imports).
//   - Expose partially written bundles.
//   - Log token material.
package session
