// Package schedule holds the schedule data model: one-shot deadlines and
// weekly/monthly recurrences at a fixed time of day.
package schedule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	OneShot Kind = iota
	Recurring
)

func (k Kind) String() string {
	switch k {
	case OneShot:
		return "once"
	case Recurring:
		return "recurring"
	default:
		return "unknown"
	}
}

// Unit is the calendar unit recurrence selectors refer to.
type Unit int

const (
	Weekly Unit = iota
	Monthly
)

func (u Unit) String() string {
	switch u {
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return "unknown"
	}
}

func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly", "week", "w":
		return Weekly, nil
	case "monthly", "month", "m":
		return Monthly, nil
	default:
		return 0, fmt.Errorf("invalid unit %q (use weekly or monthly)", s)
	}
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour, Minute, Second int
}

var reTimeOfDay = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\s*$`)

// ParseTimeOfDay accepts HH:MM or HH:MM:SS.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := reTimeOfDay.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM or HH:MM:SS", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec := 0
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	if h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	if mi > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	if sec > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: mi, Second: sec}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the instant at t on day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

// WeekdayIndex numbers weekdays from Monday=0 to Sunday=6.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

var weekdayNames = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// WeekdayName returns the short name for a Monday-based index.
func WeekdayName(idx int) string {
	if idx < 0 || idx >= len(weekdayNames) {
		return strconv.Itoa(idx)
	}
	return weekdayNames[idx]
}

// ParseSelectors reads a comma-separated selector list. Weekly selectors
// accept Monday-based indices or names ("tue", "thursday"); monthly
// selectors are days of month. Range checks are left to validation.
func ParseSelectors(unit Unit, s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if unit == Weekly {
			if idx, ok := weekdayByName(p); ok {
				out = append(out, idx)
				continue
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s selector %q", unit, p)
		}
		out = append(out, n)
	}
	return normalize(out), nil
}

func weekdayByName(p string) (int, bool) {
	if len(p) < 3 {
		return 0, false
	}
	for i, n := range weekdayNames {
		if strings.HasPrefix(p, n) {
			return i, true
		}
	}
	return 0, false
}

func normalize(sel []int) []int {
	if len(sel) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(sel))
	out := make([]int, 0, len(sel))
	for _, v := range sel {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// Recurrence fires on each selected weekday or day of month at At.
type Recurrence struct {
	Unit      Unit
	Selectors []int
	At        TimeOfDay
}

func NewRecurrence(unit Unit, selectors []int, at TimeOfDay) Recurrence {
	return Recurrence{Unit: unit, Selectors: normalize(selectors), At: at}
}

// Matches reports whether day's calendar unit is selected.
func (r Recurrence) Matches(day time.Time) bool {
	v := day.Day()
	if r.Unit == Weekly {
		v = WeekdayIndex(day)
	}
	for _, s := range r.Selectors {
		if s == v {
			return true
		}
	}
	return false
}

// CronSpec renders r as a six-field (seconds first) cron expression.
func (r Recurrence) CronSpec() string {
	vals := make([]string, 0, len(r.Selectors))
	for _, s := range r.Selectors {
		if r.Unit == Weekly {
			// cron counts Sunday as 0
			s = (s + 1) % 7
		}
		vals = append(vals, strconv.Itoa(s))
	}
	list := strings.Join(vals, ",")
	dom, dow := "*", "*"
	if r.Unit == Weekly {
		dow = list
	} else {
		dom = list
	}
	return fmt.Sprintf("%d %d %d %s * %s", r.At.Second, r.At.Minute, r.At.Hour, dom, dow)
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Next returns the first occurrence strictly after t, in t's location.
func (r Recurrence) Next(t time.Time) (time.Time, error) {
	if len(r.Selectors) == 0 {
		return time.Time{}, ErrEmptySelectors
	}
	sched, err := cronParser.Parse(r.CronSpec())
	if err != nil {
		return time.Time{}, fmt.Errorf("recurrence %q: %w", r.CronSpec(), err)
	}
	next := sched.Next(t)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("recurrence %q has no upcoming occurrence", r.CronSpec())
	}
	return next, nil
}

func (r Recurrence) String() string {
	names := make([]string, 0, len(r.Selectors))
	for _, s := range r.Selectors {
		if r.Unit == Weekly {
			names = append(names, WeekdayName(s))
		} else {
			names = append(names, strconv.Itoa(s))
		}
	}
	return fmt.Sprintf("%s [%s] at %s", r.Unit, strings.Join(names, ","), r.At)
}

// Spec is one pending schedule: the chat target, the message, and when.
type Spec struct {
	Target  string
	Content string
	Kind    Kind

	FireAt     time.Time // OneShot
	Recurrence Recurrence
}

func (s Spec) String() string {
	if s.Kind == OneShot {
		return fmt.Sprintf("once to %q at %s", s.Target, s.FireAt.Format("2006-01-02 15:04:05"))
	}
	return fmt.Sprintf("recurring to %q %s", s.Target, s.Recurrence)
}
