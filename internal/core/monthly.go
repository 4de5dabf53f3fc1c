package core

import "time"

// StartOfMonth returns midnight on the first day of t's calendar month, in
// t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// NeedsMonthlyCredit reports whether a member is due for this month's credit
// grant: the last grant date is unset or falls before the start of the
// current calendar month. Mirrors the roster projection's derived flag, so
// the worker and the query surface agree on dueness.
func NeedsMonthlyCredit(lastGrant *time.Time, now time.Time) bool {
	if lastGrant == nil || lastGrant.IsZero() {
		return true
	}
	return lastGrant.Before(StartOfMonth(now))
}
