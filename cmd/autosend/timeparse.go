package main

import (
	"fmt"
	"strings"
	"time"
)

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

var clockLayouts = []string{"15:04:05", "15:04"}

// parseAt reads a send time in loc. A bare clock time means today; it is
// not rolled to tomorrow, so a time already past is reported as such by
// validation.
func parseAt(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	day := now.In(loc)
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot read time %q (use \"2006-01-02 15:04[:05]\" or \"15:04[:05]\")", s)
}

// unescapeMessage turns a literal \n into a line break so multi-line
// content fits on a command line.
func unescapeMessage(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
