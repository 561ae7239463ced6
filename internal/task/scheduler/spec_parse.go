package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadSchedule wraps every ParseSchedule failure.
var ErrBadSchedule = errors.New("scheduler: bad schedule")

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule resolved to either a cron expression or a fixed
// interval.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

// ParseSchedule accepts:
//
//	cron:<expr>             forced cron
//	every:<d> interval:<d>  forced interval
//	@hourly, "0 9 * * 1"    cron (descriptor or anything with whitespace)
//	15m, 1h30m              Go duration
//	02:30                   HH:MM as an interval
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("%w: empty", ErrBadSchedule)
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		if rest == "" {
			return ParsedSpec{}, fmt.Errorf("%w: empty expression after cron:", ErrBadSchedule)
		}
		return ParsedSpec{Kind: SpecCron, Cron: rest}, nil
	}
	for _, p := range [...]string{"every:", "interval:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return intervalSpec(rest)
		}
	}

	if s[0] == '@' || strings.ContainsAny(s, " \t\r\n") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	ps, err := intervalSpec(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("%w %q: use cron ('*/15 * * * *'), HH:MM ('00:15') or a duration ('15m')", ErrBadSchedule, raw)
	}
	return ps, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	d, err := clockDuration(v)
	if errors.Is(err, errNotClock) {
		d, err = time.ParseDuration(v)
	}
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("%w: interval %q: %v", ErrBadSchedule, v, err)
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("%w: interval %q must be positive", ErrBadSchedule, v)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

var errNotClock = errors.New("not HH:MM")

// clockDuration reads "H:MM" through "HHH:MM" as hours and minutes.
func clockDuration(v string) (time.Duration, error) {
	h, m, ok := strings.Cut(v, ":")
	if !ok || len(h) == 0 || len(h) > 3 || len(m) != 2 || !allDigits(h) || !allDigits(m) {
		return 0, errNotClock
	}
	hours, _ := strconv.Atoi(h)
	mins, _ := strconv.Atoi(m)
	if mins > 59 {
		return 0, fmt.Errorf("minutes out of range")
	}
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
