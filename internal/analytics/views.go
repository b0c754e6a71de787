package analytics

import (
	"github.com/2beens/repcount/internal/workouts"
)

// WeeklyAggregate sums the daily aggregates of one Monday-based week.
type WeeklyAggregate struct {
	WeekStart  string `json:"weekStart"`
	Burpees    int    `json:"burpees"`
	Pushups    int    `json:"pushups"`
	Squats     int    `json:"squats"`
	Total      int    `json:"total"`
	ActiveDays int    `json:"activeDays"`
}

// AggregateWeekly folds sorted daily aggregates into weeks, oldest first.
func AggregateWeekly(daily []DailyAggregate) []WeeklyAggregate {
	weeks := make([]WeeklyAggregate, 0)
	index := make(map[string]int)
	for _, d := range daily {
		start, err := WeekStart(d.Date)
		if err != nil {
			continue
		}
		i, ok := index[start]
		if !ok {
			weeks = append(weeks, WeeklyAggregate{WeekStart: start})
			i = len(weeks) - 1
			index[start] = i
		}
		w := &weeks[i]
		w.Burpees += d.Burpees
		w.Pushups += d.Pushups
		w.Squats += d.Squats
		w.Total += d.Total
		if d.Total > 0 {
			w.ActiveDays++
		}
	}
	return weeks
}

type BestDay struct {
	Date  string `json:"date"`
	Total int    `json:"total"`
}

type LifetimeStats struct {
	Totals            map[workouts.ExerciseType]int `json:"totals"`
	TotalReps         int                           `json:"totalReps"`
	TotalWorkouts     int                           `json:"totalWorkouts"`
	ActiveDays        int                           `json:"activeDays"`
	FirstActiveDate   string                        `json:"firstActiveDate,omitempty"`
	LastActiveDate    string                        `json:"lastActiveDate,omitempty"`
	BestDay           *BestDay                      `json:"bestDay,omitempty"`
	AverageRepsPerDay float64                       `json:"averageRepsPerDay"`
}

// Lifetime summarizes the whole history. totalWorkouts is the number of
// valid events behind the aggregates.
func Lifetime(daily []DailyAggregate, totalWorkouts int) LifetimeStats {
	stats := LifetimeStats{
		Totals:        make(map[workouts.ExerciseType]int),
		TotalWorkouts: totalWorkouts,
	}
	for _, et := range workouts.ExerciseTypes() {
		stats.Totals[et] = 0
	}

	for _, d := range daily {
		if d.Total <= 0 {
			continue
		}
		for _, et := range workouts.ExerciseTypes() {
			stats.Totals[et] += d.Count(et)
		}
		stats.TotalReps += d.Total
		stats.ActiveDays++
		if stats.FirstActiveDate == "" || d.Date < stats.FirstActiveDate {
			stats.FirstActiveDate = d.Date
		}
		if d.Date > stats.LastActiveDate {
			stats.LastActiveDate = d.Date
		}
		// earliest day wins a tie
		if stats.BestDay == nil || d.Total > stats.BestDay.Total ||
			(d.Total == stats.BestDay.Total && d.Date < stats.BestDay.Date) {
			stats.BestDay = &BestDay{Date: d.Date, Total: d.Total}
		}
	}

	if stats.ActiveDays > 0 {
		stats.AverageRepsPerDay = float64(stats.TotalReps) / float64(stats.ActiveDays)
	}
	return stats
}
