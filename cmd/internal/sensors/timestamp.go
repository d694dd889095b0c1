package sensors

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// TimestampSource records where a stored timestamp came from.
type TimestampSource int

const (
	TimestampSupplied TimestampSource = iota
	// TimestampServer means the supplied value was absent, unparseable or an uptime sentinel.
	TimestampServer
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp resolves a raw JSON timestamp against now.
//
// ISO-8601 strings are accepted with or without a zone (zone-less values are UTC). A JSON number
// or a string starting with "uptime" is a device-uptime counter, not a wall clock, and like any
// absent or unparseable value resolves to now.
func ParseTimestamp(raw json.RawMessage, now time.Time) (time.Time, TimestampSource) {
	now = now.UTC()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return now, TimestampServer
	}
	if raw[0] != '"' {
		return now, TimestampServer
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return now, TimestampServer
	}
	return ParseTimestampString(s, now)
}

// ParseTimestampString is ParseTimestamp for form and query values.
func ParseTimestampString(s string, now time.Time) (time.Time, TimestampSource) {
	now = now.UTC()
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(strings.ToLower(s), "uptime") {
		return now, TimestampServer
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), TimestampSupplied
		}
	}
	return now, TimestampServer
}
