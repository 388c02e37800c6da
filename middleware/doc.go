// Package middleware authorizes inbound HTTP requests against cardauth
// credentials.
//
// A [Gate] runs one pipeline per request:
//
//  1. Classify the path with a [RouteTable]: public, guest-only, protected or default.
//  2. Resolve the bearer credential through a [Validator] and the revocation store.
//     A revoked credential resolves like a missing one. A failing revocation
//     check lets the request through and is logged.
//  3. Enforce the class. API routes get 401 or 403 JSON; page routes are
//     redirected to the login or home page.
//  4. Rate limit authenticated callers by route shape and method.
//  5. Attach the principal and a [Downstream] client to the request context.
//
// [Gate.Handler] serves net/http; [GinHandler] serves gin.
package middleware
