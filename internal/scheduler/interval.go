package scheduler

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidInterval reports an interval string that does not match the
// accepted "<digits><unit>" form or does not fit in a duration. Callers
// must treat it as fatal for the cycle; silently defaulting would corrupt
// the scheduling cadence.
var ErrInvalidInterval = errors.New("invalid interval format")

var reInterval = regexp.MustCompile(`^(\d+)([smh])$`)

// ParseInterval converts an interval string like "30s", "5m" or "2h" into a
// duration. Only seconds, minutes and hours are accepted. Values whose
// nanosecond equivalent would overflow are rejected, never wrapped.
func ParseInterval(raw string) (time.Duration, error) {
	m := reInterval.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("%w: %q (use digits followed by s, m or h, e.g. \"5m\")", ErrInvalidInterval, raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: value out of range", ErrInvalidInterval, raw)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q: interval too large", ErrInvalidInterval, raw)
	}
	return time.Duration(n) * unit, nil
}
