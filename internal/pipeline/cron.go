package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is the set of values a field accepts, as a bitmask.
type cronField uint64

func (f cronField) matches(v int) bool {
	return f&(1<<uint(v)) != 0
}

// cronBounds are the inclusive value ranges of the five fields.
var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// parseCronField accepts "*", "n", "a-b", "*/s", "a-b/s" and comma lists
// of those.
func parseCronField(field string, lo, hi int) (cronField, error) {
	var out cronField
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", s)
			}
			step, part = n, base
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start %q: %w", a, err)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end %q: %w", b, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q: %w", part, err)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return 0, fmt.Errorf("value %q outside %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			out |= 1 << uint(v)
		}
	}
	return out, nil
}

// cronSchedule is a parsed 5-field expression:
// "minute hour day-of-month month day-of-week".
type cronSchedule [5]cronField

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var c cronSchedule
	for i, f := range fields {
		b := cronBounds[i]
		parsed, err := parseCronField(f, b.min, b.max)
		if err != nil {
			return cronSchedule{}, fmt.Errorf("parsing %s field: %w", b.name, err)
		}
		c[i] = parsed
	}
	return c, nil
}

func (c cronSchedule) matches(t time.Time) bool {
	return c[0].matches(t.Minute()) &&
		c[1].matches(t.Hour()) &&
		c[2].matches(t.Day()) &&
		c[3].matches(int(t.Month())) &&
		c[4].matches(int(t.Weekday()))
}

// next returns the first minute strictly after `after` that matches,
// searching at most one year ahead.
func (c cronSchedule) next(after time.Time) (time.Time, bool) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false
}

// nextCronTime parses expr and returns its next trigger after `after`.
func nextCronTime(expr string, after time.Time) (time.Time, error) {
	c, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	next, ok := c.next(after)
	if !ok {
		return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", expr)
	}
	return next, nil
}
