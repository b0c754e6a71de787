package analytics

import (
	"sort"

	"github.com/2beens/repcount/internal/workouts"
)

// DailyAggregate holds the reps of one calendar day.
// Total is always Burpees + Pushups + Squats.
type DailyAggregate struct {
	Date    string `json:"date"`
	Burpees int    `json:"burpees"`
	Pushups int    `json:"pushups"`
	Squats  int    `json:"squats"`
	Total   int    `json:"total"`
}

func (d DailyAggregate) Count(et workouts.ExerciseType) int {
	switch et {
	case workouts.Burpees:
		return d.Burpees
	case workouts.Pushups:
		return d.Pushups
	case workouts.Squats:
		return d.Squats
	default:
		return 0
	}
}

func (d *DailyAggregate) add(et workouts.ExerciseType, count int) {
	switch et {
	case workouts.Burpees:
		d.Burpees += count
	case workouts.Pushups:
		d.Pushups += count
	case workouts.Squats:
		d.Squats += count
	default:
		return
	}
	d.Total += count
}

// DayBounds limits aggregation to an inclusive range of day keys.
// Empty From or To leaves that side open.
type DayBounds struct {
	From string
	To   string
}

func (b DayBounds) Contains(day string) bool {
	if b.From != "" && day < b.From {
		return false
	}
	if b.To != "" && day > b.To {
		return false
	}
	return true
}

// DailyStats maps day key to that day's aggregate. Days without reps are absent.
type DailyStats map[string]DailyAggregate

// AggregateDaily groups events by calendar day. Events with a zero date,
// an unknown type or a non-positive count are skipped.
func AggregateDaily(events []workouts.Event, cal Calendar, bounds DayBounds) DailyStats {
	stats := make(DailyStats)
	for _, e := range events {
		if !e.Valid() {
			continue
		}
		day := cal.DayKey(e.Date)
		if !bounds.Contains(day) {
			continue
		}
		agg := stats[day]
		agg.Date = day
		agg.add(e.ExerciseType, e.Count)
		stats[day] = agg
	}
	return stats
}

// Recompute rebuilds a single day from the given events, overwriting
// whatever was stored for it. Events of other days are ignored.
func (s DailyStats) Recompute(day string, events []workouts.Event, cal Calendar) {
	fresh := AggregateDaily(events, cal, DayBounds{From: day, To: day})
	if agg, ok := fresh[day]; ok {
		s[day] = agg
		return
	}
	delete(s, day)
}

// Sorted returns the aggregates ordered by date ascending.
func (s DailyStats) Sorted() []DailyAggregate {
	res := make([]DailyAggregate, 0, len(s))
	for _, agg := range s {
		res = append(res, agg)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Date < res[j].Date
	})
	return res
}

func (s DailyStats) TotalReps() int {
	total := 0
	for _, agg := range s {
		total += agg.Total
	}
	return total
}

// Equal reports whether both hold the same aggregates.
func (s DailyStats) Equal(other DailyStats) bool {
	if len(s) != len(other) {
		return false
	}
	for day, agg := range s {
		if other[day] != agg {
			return false
		}
	}
	return true
}
