package timeparse

import (
	"strings"
	"time"
)

// DefaultZone is used when a tenant has no timezone configured.
const DefaultZone = "Asia/Tokyo"

// Supported zones resolve to fixed offsets. Daylight saving is not modelled.
var fixedOffsets = map[string]int{
	"Asia/Tokyo":          9 * 3600,
	"JST":                 9 * 3600,
	"Asia/Seoul":          9 * 3600,
	"Asia/Shanghai":       8 * 3600,
	"Asia/Taipei":         8 * 3600,
	"Asia/Hong_Kong":      8 * 3600,
	"Asia/Singapore":      8 * 3600,
	"Asia/Bangkok":        7 * 3600,
	"Asia/Ho_Chi_Minh":    7 * 3600,
	"Asia/Kolkata":        5*3600 + 1800,
	"UTC":                 0,
	"Etc/UTC":             0,
	"Europe/London":       0,
	"Europe/Paris":        1 * 3600,
	"Europe/Berlin":       1 * 3600,
	"America/New_York":    -5 * 3600,
	"America/Chicago":     -6 * 3600,
	"America/Denver":      -7 * 3600,
	"America/Los_Angeles": -8 * 3600,
	"Australia/Sydney":    10 * 3600,
}

// Location returns the fixed-offset zone for name, falling back to DefaultZone.
func Location(name string) *time.Location {
	name = strings.TrimSpace(name)
	offset, ok := fixedOffsets[name]
	if !ok {
		name = DefaultZone
		offset = fixedOffsets[DefaultZone]
	}
	return time.FixedZone(name, offset)
}

// IsSupportedZone reports whether name has a known fixed offset.
func IsSupportedZone(name string) bool {
	_, ok := fixedOffsets[strings.TrimSpace(name)]
	return ok
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59.999 local of the day containing t.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
}
