// Package revocation stores records of credentials that were invalidated before their
// natural expiry (logout, forced logout) and answers "is this credential revoked?"
// for the request gate.
//
// Records are keyed by the SHA-256 hash of the raw bearer token so the gate can check
// a credential without parsing it, and the store never holds usable token material.
// Records carry an expiry (24h by default) after which they may be purged.
//
// Backends: [Memory] (tests, single process), [Redis] (key TTL does the purging) and
// [Postgres] (shared table, explicit [Postgres.Purge]).
package revocation
