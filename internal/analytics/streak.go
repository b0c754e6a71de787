package analytics

import (
	"sort"
	"time"
)

type StreakStats struct {
	CurrentStreak  int    `json:"currentStreak"`
	LongestStreak  int    `json:"longestStreak"`
	LastActiveDate string `json:"lastActiveDate,omitempty"`
}

// CalculateStreak walks the active days in date order. Consecutive days extend
// the running streak, any gap closes it. The trailing run only counts as
// current if the last active day is today or yesterday, so a user who has
// not trained yet today keeps the streak until the day is over.
// Days after today are ignored.
func CalculateStreak(daily []DailyAggregate, cal Calendar, now time.Time) StreakStats {
	today := cal.DayKey(now)
	active := make([]string, 0, len(daily))
	for _, d := range daily {
		if d.Total <= 0 {
			continue
		}
		if _, err := time.Parse(DayLayout, d.Date); err != nil {
			continue
		}
		// day keys are zero padded, so they order as strings
		if d.Date > today {
			continue
		}
		active = append(active, d.Date)
	}
	if len(active) == 0 {
		return StreakStats{}
	}
	sort.Strings(active)

	longest, temp := 0, 1
	prev := active[0]
	for _, day := range active[1:] {
		gap, _ := DaysBetween(prev, day)
		switch {
		case gap == 0:
			continue
		case gap == 1:
			temp++
		default:
			longest = max(longest, temp)
			temp = 1
		}
		prev = day
	}
	longest = max(longest, temp)

	stats := StreakStats{
		LongestStreak:  longest,
		LastActiveDate: prev,
	}
	sinceLast, _ := DaysBetween(prev, today)
	if sinceLast == 0 || sinceLast == 1 {
		stats.CurrentStreak = temp
	}
	return stats
}
