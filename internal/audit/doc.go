// Package audit buffers security events and hands them to a sink off the
// caller's goroutine.
//
// Callers decide which events to emit. This package only owns buffering,
// drop accounting and delivery to a [Sink].
package audit
