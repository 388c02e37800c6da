package internaldefs

import (
	"github.com/MrEthical07/cardauth"
)

// CounterDef names one counter for every exporter.
type CounterDef struct {
	ID   cardauth.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for every exporter.
type HistogramDef struct {
	ID   cardauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: cardauth.MetricLoginSuccess, Name: "cardauth_login_success_total", Help: "Successful logins."},
	{ID: cardauth.MetricLoginFailure, Name: "cardauth_login_failure_total", Help: "Failed logins."},
	{ID: cardauth.MetricRegisterSuccess, Name: "cardauth_register_success_total", Help: "Successful registrations."},
	{ID: cardauth.MetricRegisterFailure, Name: "cardauth_register_failure_total", Help: "Failed registrations."},
	{ID: cardauth.MetricRefreshSuccess, Name: "cardauth_refresh_success_total", Help: "Successful credential refreshes."},
	{ID: cardauth.MetricRefreshFailure, Name: "cardauth_refresh_failure_total", Help: "Refreshes that failed after exhausting retries."},
	{ID: cardauth.MetricRefreshRetry, Name: "cardauth_refresh_retry_total", Help: "Refresh retries after a transient failure."},
	{ID: cardauth.MetricRefreshRejected, Name: "cardauth_refresh_rejected_total", Help: "Refresh tokens rejected by the issuer."},
	{ID: cardauth.MetricLogout, Name: "cardauth_logout_total", Help: "User-initiated logouts."},
	{ID: cardauth.MetricForceLogout, Name: "cardauth_force_logout_total", Help: "Forced logouts."},
	{ID: cardauth.MetricRemoteLogout, Name: "cardauth_remote_logout_total", Help: "Logouts applied from another tab."},
	{ID: cardauth.MetricRevokeFailure, Name: "cardauth_revoke_failure_total", Help: "Best-effort revocations that failed."},
	{ID: cardauth.MetricPasswordResetRequest, Name: "cardauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: cardauth.MetricPasswordResetConfirm, Name: "cardauth_password_reset_confirm_total", Help: "Completed password resets."},
	{ID: cardauth.MetricRequestQueued, Name: "cardauth_request_queued_total", Help: "Requests parked behind an in-flight refresh."},
	{ID: cardauth.MetricRequestReplayed, Name: "cardauth_request_replayed_total", Help: "Requests replayed after a refresh."},
	{ID: cardauth.MetricAuthExpired, Name: "cardauth_auth_expired_total", Help: "Requests resolved as authentication expired."},
	{ID: cardauth.MetricProactiveRenewal, Name: "cardauth_proactive_renewal_total", Help: "Refreshes started by the renewal timer."},
	{ID: cardauth.MetricListenerRemoved, Name: "cardauth_listener_removed_total", Help: "Session listeners removed after failing."},
	{ID: cardauth.MetricBroadcastSent, Name: "cardauth_broadcast_sent_total", Help: "Cross-tab messages published."},
	{ID: cardauth.MetricBroadcastReceived, Name: "cardauth_broadcast_received_total", Help: "Cross-tab messages received."},
	{ID: cardauth.MetricGateAllowed, Name: "cardauth_gate_allowed_total", Help: "Requests allowed by the gate."},
	{ID: cardauth.MetricGateUnauthorized, Name: "cardauth_gate_unauthorized_total", Help: "Requests rejected for a missing credential."},
	{ID: cardauth.MetricGateForbidden, Name: "cardauth_gate_forbidden_total", Help: "Signed-in requests to guest-only routes."},
	{ID: cardauth.MetricGateRateLimited, Name: "cardauth_gate_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	{ID: cardauth.MetricGateRevokedPresented, Name: "cardauth_gate_revoked_presented_total", Help: "Revoked credentials presented to the gate."},
	{ID: cardauth.MetricRevocationCheckError, Name: "cardauth_revocation_check_error_total", Help: "Revocation lookups that failed open."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: cardauth.MetricRefreshLatency, Name: "cardauth_refresh_latency_seconds", Help: "Refresh latency including retries."},
	{ID: cardauth.MetricGateLatency, Name: "cardauth_gate_latency_seconds", Help: "Gate evaluation latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "cardauth_audit_dropped_total"

// HistogramBounds are the upper bounds in seconds of the first seven buckets.
// The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters without
// native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
