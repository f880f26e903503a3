// Package clock implements the timestamp conversions the TAXII/STIX wire
// formats require: a fixed microsecond-precision "taxii" form, a
// variable-precision "stix" form (trailing zeros trimmed down to at least
// milliseconds), and interconversion with epoch floats and time.Time.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	taxiiLayout       = "2006-01-02T15:04:05.000000Z"
	secondLayout      = "2006-01-02T15:04:05Z"
	microsecondLayout = "2006-01-02T15:04:05.999999Z"
)

// Now returns the current time, UTC, truncated to microsecond precision —
// the resolution every stored timestamp in this system is kept at.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ParseTimestamp parses a TAXII/STIX JSON timestamp string, accepting both
// the microsecond-precision and whole-second forms the wire format allows.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(microsecondLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(secondLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock: invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// TaxiiFormat renders t in the fixed microsecond-precision TAXII form.
// "Unlike the STIX timestamp type, the TAXII timestamp MUST have
// microsecond precision."
func TaxiiFormat(t time.Time) string {
	return t.UTC().Format(taxiiLayout)
}

// StixFormat renders t in STIX's variable-precision form: trailing zero
// fractional digits are trimmed, but never below millisecond precision.
func StixFormat(t time.Time) string {
	zoned := t.UTC()
	base := zoned.Format("2006-01-02T15:04:05")
	micros := zoned.Format("000000")
	trimmed := strings.TrimRight(micros, "0")
	if len(trimmed) < 3 {
		trimmed = micros[:3]
	}
	return base + "." + trimmed + "Z"
}

// ToEpochFloat converts t to epoch seconds as a float, preserving
// sub-second precision.
func ToEpochFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochFloat converts epoch seconds (as a float, possibly with a
// fractional part) back to a UTC time.Time.
func FromEpochFloat(epoch float64) time.Time {
	secs := int64(epoch)
	nanos := int64((epoch - float64(secs)) * float64(time.Second))
	return time.Unix(secs, nanos).UTC()
}

// AnyToTime coerces a value of unknown but plausible type (string, float64,
// int64, or time.Time — the shapes that arrive from JSON decoding or from
// already-typed call sites) to a time.Time.
func AnyToTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return ParseTimestamp(v)
	case float64:
		return FromEpochFloat(v), nil
	case int64:
		return FromEpochFloat(float64(v)), nil
	case int:
		return FromEpochFloat(float64(v)), nil
	default:
		return time.Time{}, fmt.Errorf("clock: cannot convert %T to a timestamp", value)
	}
}

// ParseEpochString parses a decimal epoch-seconds string.
func ParseEpochString(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
