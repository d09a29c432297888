// Package calendar implements the scheduling core: the daily-suggestion cron
// form, calendar-day matching for posts, and drag/drop conflict resolution
// (schedule anyway / swap / push).
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidTime = errors.New("time must be in HH:MM format with HH in 00-23 and MM in 00-59")
	ErrInvalidCron = errors.New("cron expression must be a 5-field daily schedule")
)

// BuildCron converts a wall-clock "HH:MM" time into the daily cron form
// "M H * * *". Malformed or out-of-range input is rejected.
func BuildCron(hhmm string) (string, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return "", ErrInvalidTime
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil {
		return "", ErrInvalidTime
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", ErrInvalidTime
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// ParseCron extracts the wall-clock time from a daily cron expression,
// zero-padding both fields. Only the 5-field "M H * * *" form is accepted;
// ParseCron(BuildCron(t)) round-trips for every valid t.
func ParseCron(expr string) (hour, minute string, err error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", "", ErrInvalidCron
	}
	m, merr := strconv.Atoi(fields[0])
	h, herr := strconv.Atoi(fields[1])
	if merr != nil || herr != nil || m < 0 || m > 59 || h < 0 || h > 23 {
		return "", "", ErrInvalidCron
	}
	return fmt.Sprintf("%02d", h), fmt.Sprintf("%02d", m), nil
}
