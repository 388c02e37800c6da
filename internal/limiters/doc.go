// Package limiters holds the Redis-backed counters the in-process issuer uses to
// throttle credential guessing and password reset mail.
//
// [Lockout] counts failed logins per identifier and reports when the threshold is
// reached. [Window] is a plain fixed-window counter. Both own their key
// namespace and wrap Redis failures in [ErrUnavailable]; callers decide whether
// to fail open.
//
// The request gate does not use this package. Its per-principal budgets live in
// internal/rate and are process-local.
package limiters
