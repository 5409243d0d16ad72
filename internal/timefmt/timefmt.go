// Package timefmt renders timestamps the way operators read them in chat
// replies, snapshot files and exports.
package timefmt

import "time"

// Layout is day/month/year with a 24h clock followed by the zone
// abbreviation, e.g. "19/10/2026 08:00:03 WIB".
const Layout = "02/01/2006 15:04:05 MST"

// Format renders t in loc. A nil location falls back to UTC.
func Format(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(Layout)
}

// FormatOr renders t, or fallback when t is the zero time.
func FormatOr(t time.Time, loc *time.Location, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return Format(t, loc)
}
