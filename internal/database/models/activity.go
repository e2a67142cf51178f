package models

import (
	"math"
	"time"
)

// Activity event kinds written by the webhook service.
const (
	EventTwilioRequest       = "twilio_request"
	EventSignatureInvalid    = "signature_invalid"
	EventAllowedCallersError = "allowed_callers_error"
	EventCallerBlocked       = "caller_blocked"
	EventCallerPrompted      = "caller_prompted"
	EventInvalidDigit        = "invalid_digit"
	EventUnlockSuccess       = "unlock_success"
	EventUnlockFailed        = "unlock_failed"
	EventDashboardDenied     = "dashboard_denied"
	EventDashboardView       = "dashboard_view"
)

// EventKinds lists every kind in call-flow order.
var EventKinds = []string{
	EventTwilioRequest,
	EventSignatureInvalid,
	EventAllowedCallersError,
	EventCallerBlocked,
	EventCallerPrompted,
	EventInvalidDigit,
	EventUnlockSuccess,
	EventUnlockFailed,
	EventDashboardDenied,
	EventDashboardView,
}

// ActivityEvent is one append-only ledger row. ID is assigned by the store
// and is the ordering key; Timestamp is seconds since the Unix epoch.
type ActivityEvent struct {
	ID        int64   `json:"id"`
	Timestamp float64 `json:"ts"`
	Kind      string  `json:"event_type"`
	Detail    string  `json:"detail"`
	Caller    string  `json:"caller"`
	CallSID   string  `json:"call_sid"`
}

// Time converts Timestamp to a time.Time.
func (e ActivityEvent) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// ActivitySnapshot is a consistent view of the ledger: exact per-kind
// totals and the most recent events, newest first.
type ActivitySnapshot struct {
	Counts map[string]int64
	Total  int64
	Recent []ActivityEvent
}

// Count returns the total for kind, zero when none were recorded.
func (s ActivitySnapshot) Count(kind string) int64 {
	return s.Counts[kind]
}

// UnixSeconds converts t to float seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
