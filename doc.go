// Package cardauth manages the bearer-credential session of a client application
// and authorizes the requests it makes.
//
// A session is built from four pieces:
//
//   - [TokenStore] persists one credential [Bundle] and refreshes it with retry.
//   - [SessionController] owns the Initializing, Anonymous and Authenticated states
//     and notifies subscribers of every change.
//   - [Client] attaches the credential to outgoing requests. Concurrent requests
//     share one refresh and replay in order after it.
//   - A broadcast channel keeps sibling tabs in step after a refresh or logout.
//
// [Builder] wires these against a configured storage, revocation store, broadcast
// transport and issuing backend and returns an [Engine]. Engine.OpenSession starts
// one tab. The server side lives in the middleware package, whose Gate classifies
// routes, validates bearer credentials, rejects revoked ones and applies rate limits.
//
// Errors returned to callers are [*Error] values. Match them with errors.Is against
// the kind sentinels such as [ErrInvalidCredentials] or [ErrSessionExpired].
package cardauth
