package analytics

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// Calendar decides which calendar day a timestamp belongs to. Day keys,
// hour and weekday buckets and streak arithmetic all go through one Calendar,
// so they never disagree about timezones.
type Calendar struct {
	loc *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// CalendarFor loads the named IANA zone. Empty name means UTC.
func CalendarFor(tzName string) (Calendar, error) {
	if tzName == "" {
		return NewCalendar(time.UTC), nil
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Calendar{}, fmt.Errorf("load location %q: %w", tzName, err)
	}
	return NewCalendar(loc), nil
}

func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.Location())
}

// DayKey returns the YYYY-MM-DD key of t in the calendar's location.
func (c Calendar) DayKey(t time.Time) string {
	return c.In(t).Format(DayLayout)
}

// StartOfDay returns local midnight of the day key.
func (c Calendar) StartOfDay(day string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, day, c.Location())
}

// EndOfDay returns the last nanosecond of the day key.
func (c Calendar) EndOfDay(day string) (time.Time, error) {
	start, err := c.StartOfDay(day)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

// DaysBetween returns the number of calendar days from day a to day b.
// Computed on dates, so a 23h or 25h DST day still counts as one.
func DaysBetween(a, b string) (int, error) {
	ta, err := time.Parse(DayLayout, a)
	if err != nil {
		return 0, err
	}
	tb, err := time.Parse(DayLayout, b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// AddDays shifts a day key by n calendar days.
func AddDays(day string, n int) (string, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DayLayout), nil
}

func mustAddDays(day string, n int) string {
	shifted, err := AddDays(day, n)
	if err != nil {
		panic(err)
	}
	return shifted
}

// WeekStart returns the Monday of the week containing day.
func WeekStart(day string) (string, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return "", err
	}
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format(DayLayout), nil
}
