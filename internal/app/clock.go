package app

import "time"

// Day-boundary math. All components share one reference clock (an injected
// now func) and compute calendar days in UTC, so the fast counter's key TTL
// and the ledger's row date always agree about "today". Rollover happens by
// key/row identity change; there is no scheduled reset to miss.

// dayKey formats a timestamp as the UTC calendar day used in counter keys.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// dayStart returns UTC midnight of the timestamp's day.
func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// nextDayStart returns UTC midnight of the following day.
func nextDayStart(t time.Time) time.Time {
	return dayStart(t).AddDate(0, 0, 1)
}

// untilDayEnd returns the remaining duration until the next UTC day boundary,
// never less than one second so a freshly created counter key cannot expire
// immediately.
func untilDayEnd(t time.Time) time.Duration {
	d := nextDayStart(t).Sub(t)
	if d < time.Second {
		d = time.Second
	}
	return d
}
