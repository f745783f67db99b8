package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/linkauth"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   linkauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   linkauth.MetricID
	Name string
	Help string
}

const AuditDroppedName = "linkauth_audit_dropped_total"
const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

var CounterDefs = []CounterDef{
	{ID: linkauth.MetricMagicLinkSent, Name: "linkauth_magic_link_sent_total", Help: "Magic links handed to the mailer."},
	{ID: linkauth.MetricMagicLinkFailure, Name: "linkauth_magic_link_failure_total", Help: "Magic link requests that failed."},
	{ID: linkauth.MetricRateLimitHit, Name: "linkauth_rate_limit_hit_total", Help: "Requests denied by a rate limit."},
	{ID: linkauth.MetricLinkVerifySuccess, Name: "linkauth_link_verify_success_total", Help: "Magic links redeemed."},
	{ID: linkauth.MetricLinkVerifyFailure, Name: "linkauth_link_verify_failure_total", Help: "Magic link redemptions rejected."},
	{ID: linkauth.MetricSessionCreated, Name: "linkauth_session_created_total", Help: "Sessions created."},
	{ID: linkauth.MetricRefreshSuccess, Name: "linkauth_refresh_success_total", Help: "Token refreshes."},
	{ID: linkauth.MetricRefreshFailure, Name: "linkauth_refresh_failure_total", Help: "Rejected token refreshes."},
	{ID: linkauth.MetricRefreshReuseDetected, Name: "linkauth_refresh_reuse_detected_total", Help: "Refresh token reuse detections."},
	{ID: linkauth.MetricValidateSuccess, Name: "linkauth_validate_success_total", Help: "Access tokens accepted."},
	{ID: linkauth.MetricValidateFailure, Name: "linkauth_validate_failure_total", Help: "Access tokens rejected."},
	{ID: linkauth.MetricUserUpdated, Name: "linkauth_user_updated_total", Help: "User metadata updates."},
	{ID: linkauth.MetricSignOut, Name: "linkauth_sign_out_total", Help: "Sessions signed out."},
}

var HistogramDefs = []HistogramDef{
	{ID: linkauth.MetricValidateLatency, Name: "linkauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the finite bucket upper bounds in seconds.
var HistogramBounds = func() []float64 {
	out := make([]float64, len(linkauth.LatencyBucketBounds))
	for i, d := range linkauth.LatencyBucketBounds {
		out[i] = d.Seconds()
	}
	return out
}()

// BucketSuffix returns the instrument suffix for bucket i; the last bucket
// is "inf".
func BucketSuffix(i int) string {
	if i >= len(linkauth.LatencyBucketBounds) {
		return "inf"
	}
	ms := linkauth.LatencyBucketBounds[i].Milliseconds()
	return strconv.FormatInt(ms, 10) + "ms"
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
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
