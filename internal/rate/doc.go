// Package rate provides the in-process sliding-window limiter used by the request
// gate, together with the fixed policy table that maps a route shape and method to
// a limit.
//
// # Window semantics
//
// Each key owns an ordered list of hit timestamps. Every access prunes hits older
// than now-window. A request is allowed while fewer than limit hits remain, and only
// allowed requests are recorded, so denied attempts never extend the window.
//
// # What this package must NOT do
//
//   - Share state across processes. Windows live in one process by construction.
//   - Know about principals or HTTP beyond the string key and route shape.
//   - Be imported outside the cardauth module.
package rate
