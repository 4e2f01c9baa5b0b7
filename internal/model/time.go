package model

import "time"

// isoLayout is Clawboard's one wire/storage timestamp format: always UTC,
// always exactly 3 fractional digits, always "Z" -- never the variable-width
// trailing-zero-trimmed output of time.RFC3339Nano, which drops the
// fractional part entirely when it is exactly zero and so does not sort
// lexicographically the same way a non-zero-fraction timestamp in the same
// second does. Grounded on original_source/backend/app/db.py's
// `isoformat(timespec="milliseconds").replace("+00:00", "Z")`.
const isoLayout = "2006-01-02T15:04:05.000Z"

// NowISO returns the current time formatted the one way every timestamp in
// Clawboard is written: millisecond precision, lexicographically sortable.
func NowISO() string {
	return time.Now().UTC().Format(isoLayout)
}

// FormatISO renders t in the same fixed-millisecond format as NowISO, for
// callers deriving a timestamp from something other than "now" (e.g.
// converting a gateway message's epoch millis).
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseISO parses a timestamp written by NowISO/FormatISO. time.RFC3339Nano
// also parses this format (Go's reference-time parser accepts any fractional
// width regardless of the layout's own digit count), but ParseISO keeps
// every read going through the same named format as every write.
func ParseISO(s string) (time.Time, error) {
	return time.Parse(isoLayout, s)
}
