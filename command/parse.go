package command

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// ParseTimestamp implements timestamp literal grammar for
// range endpoints: `-` (earliest: math.MinInt64), `+` (latest:
// math.MaxInt64), `*` (now, in ms), an integer ms literal, an RFC3339
// string, or a relative offset `-<duration>` resolved against now.
func ParseTimestamp(s string, nowMs int64) (int64, error) {
	switch s {
	case "-":
		return math.MinInt64, nil
	case "+":
		return math.MaxInt64, nil
	case "*":
		return nowMs, nil
	}
	if strings.HasPrefix(s, "-") {
		if d, err := ParseDurationMs(s[1:]); err == nil {
			return nowMs - d, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, newErr(KindParseError, "cannot parse %q as a timestamp", s)
}

// ParseDurationMs parses a duration literal (`<int>(ms|s|m|h|d|w|y)`)
// to milliseconds, falling back to prometheus/common/model.ParseDuration
// for the standard suffix grammar and adding millisecond-suffix support
// on top of it.
func ParseDurationMs(s string) (int64, error) {
	if strings.HasSuffix(s, "ms") {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "ms"), 10, 64)
		if err == nil {
			return n, nil
		}
	}
	if d, err := model.ParseDuration(s); err == nil {
		return time.Duration(d).Milliseconds(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f * 1000), nil
	}
	return 0, newErr(KindParseError, "cannot parse %q as a duration", s)
}

// valueUnitMultiplier maps the FILTER_BY_VALUE unit suffixes 
// allows (KiB, MiB, ...) to their multiplier.
var valueUnitMultiplier = map[string]float64{
	"KiB": 1024, "MiB": 1024 * 1024, "GiB": 1024 * 1024 * 1024,
	"KB": 1000, "MB": 1000 * 1000, "GB": 1000 * 1000 * 1000,
}

// ParseValue parses a FILTER_BY_VALUE bound, accepting an optional unit
// suffix
func ParseValue(s string) (float64, error) {
	for suffix, mult := range valueUnitMultiplier {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(s, suffix), 64)
			if err != nil {
				return 0, newErr(KindParseError, "cannot parse %q as a value", s)
			}
			return n * mult, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, newErr(KindParseError, "cannot parse %q as a value", s)
	}
	return f, nil
}
