package metricsql

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a parsed time span, stored in milliseconds to match the
// engine's timestamp unit.
type Duration int64

func (d Duration) String() string {
	return time.Duration(int64(d) * int64(time.Millisecond)).String()
}

// Milliseconds returns d as a plain int64 millisecond count.
func (d Duration) Milliseconds() int64 { return int64(d) }

// ParseDuration parses `<int>(ms|s|m|h|d|w|y)`
// Durations may chain multiple suffixed segments (`1h30m`), matching
// Prometheus's own duration grammar.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("metricsql: empty duration")
	}
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var total int64
	for len(s) > 0 {
		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("metricsql: invalid duration %q", orig)
		}
		numStr := s[:i]
		s = s[i:]

		unitLen := 1
		if len(s) >= 2 && s[:2] == "ms" {
			unitLen = 2
		}
		if unitLen > len(s) {
			return 0, fmt.Errorf("metricsql: invalid duration %q: missing unit", orig)
		}
		unit := s[:unitLen]
		s = s[unitLen:]

		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("metricsql: invalid duration %q: %w", orig, err)
		}

		var unitMs int64
		switch unit {
		case "ms":
			unitMs = 1
		case "s":
			unitMs = 1000
		case "m":
			unitMs = 60 * 1000
		case "h":
			unitMs = 60 * 60 * 1000
		case "d":
			unitMs = 24 * 60 * 60 * 1000
		case "w":
			unitMs = 7 * 24 * 60 * 60 * 1000
		case "y":
			unitMs = 365 * 24 * 60 * 60 * 1000
		default:
			return 0, fmt.Errorf("metricsql: invalid duration %q: unknown unit %q", orig, unit)
		}
		total += int64(n * float64(unitMs))
	}

	if neg {
		total = -total
	}
	return Duration(total), nil
}

// valueUnitMultiplier maps FILTER_BY_VALUE unit suffixes to their
// multiplier ("Numbers accept optional unit suffix for
// FILTER_BY_VALUE (KiB, MiB, …) when configured").
var valueUnitMultiplier = map[string]float64{
	"KiB": 1024,
	"MiB": 1024 * 1024,
	"GiB": 1024 * 1024 * 1024,
	"TiB": 1024 * 1024 * 1024 * 1024,
	"KB":  1000,
	"MB":  1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"TB":  1000 * 1000 * 1000 * 1000,
}

// ParseValueWithUnit parses a float, optionally suffixed with one of the
// byte-unit multipliers above.
func ParseValueWithUnit(s string) (float64, error) {
	for suffix, mult := range valueUnitMultiplier {
		if strings.HasSuffix(s, suffix) {
			numStr := strings.TrimSuffix(s, suffix)
			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("metricsql: invalid number %q: %w", s, err)
			}
			return n * mult, nil
		}
	}
	return strconv.ParseFloat(s, 64)
}
