package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidExpression is returned for malformed or out-of-range
	// expressions.
	ErrInvalidExpression = errors.New("invalid cron expression")
	// ErrNoMatch is returned when no time within a year and a day satisfies
	// the schedule, such as "0 0 31 2 *".
	ErrNoMatch = errors.New("cron: no matching time found")
)

var shorthands = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
}

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// bitset holds the allowed values of one field; bit n set means n matches.
type bitset uint64

func (b bitset) has(n int) bool { return b&(1<<uint(n)) != 0 }

// Schedule is a parsed expression.
type Schedule struct {
	expr    string
	minutes bitset
	hours   bitset
	doms    bitset
	months  bitset
	dows    bitset
}

// String returns the expression the schedule was parsed from.
func (s *Schedule) String() string { return s.expr }

// Parse parses expr.
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)

	fields := strings.Fields(expr)
	if len(fields) == 1 {
		if expanded, ok := shorthands[strings.ToLower(fields[0])]; ok {
			fields = strings.Fields(expanded)
		}
	}

	if len(fields) != len(fieldBounds) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidExpression, len(fieldBounds), len(fields))
	}

	var sets [5]bitset

	for i, raw := range fields {
		set, err := parseField(raw, fieldBounds[i])
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", fieldBounds[i].name, err)
		}

		sets[i] = set
	}

	return &Schedule{
		expr:    expr,
		minutes: sets[0],
		hours:   sets[1],
		doms:    sets[2],
		months:  sets[3],
		dows:    sets[4],
	}, nil
}

// Next returns the first matching minute strictly after from, in UTC.
func (s *Schedule) Next(from time.Time) (time.Time, error) {
	t := from.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 1)

	for t.Before(limit) {
		switch {
		case !s.months.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !s.doms.has(t.Day()) || !s.dows.has(int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
		case !s.hours.has(t.Hour()):
			t = t.Truncate(time.Hour).Add(time.Hour)
		case !s.minutes.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t, nil
		}
	}

	return time.Time{}, ErrNoMatch
}

func parseField(field string, b bounds) (bitset, error) {
	var set bitset

	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parsePart(part, b)
		if err != nil {
			return 0, err
		}

		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}

	return set, nil
}

func parsePart(part string, b bounds) (lo, hi, step int, err error) {
	rangePart, stepPart, hasStep := strings.Cut(part, "/")

	step = 1

	if hasStep {
		step, err = strconv.Atoi(stepPart)
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("%w: invalid step %q", ErrInvalidExpression, stepPart)
		}
	}

	switch {
	case rangePart == "*":
		return b.min, b.max, step, nil
	case strings.Contains(rangePart, "-"):
		loRaw, hiRaw, _ := strings.Cut(rangePart, "-")

		if lo, err = strconv.Atoi(loRaw); err != nil {
			return 0, 0, 0, fmt.Errorf("%w: invalid range start %q", ErrInvalidExpression, loRaw)
		}

		if hi, err = strconv.Atoi(hiRaw); err != nil {
			return 0, 0, 0, fmt.Errorf("%w: invalid range end %q", ErrInvalidExpression, hiRaw)
		}

		if lo < b.min || hi > b.max || lo > hi {
			return 0, 0, 0, fmt.Errorf("%w: range %d-%d outside [%d, %d]", ErrInvalidExpression, lo, hi, b.min, b.max)
		}

		return lo, hi, step, nil
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: invalid value %q", ErrInvalidExpression, rangePart)
		}

		if v < b.min || v > b.max {
			return 0, 0, 0, fmt.Errorf("%w: value %d outside [%d, %d]", ErrInvalidExpression, v, b.min, b.max)
		}

		// "5/15" means every 15 starting at 5.
		if hasStep {
			return v, b.max, step, nil
		}

		return v, v, 1, nil
	}
}
