package workouts

import (
	"fmt"
	"strings"
	"time"
)

// ExerciseType can be one of:
//   - burpees
//   - pushups
//   - squats
type ExerciseType string

const (
	Burpees ExerciseType = "burpees"
	Pushups ExerciseType = "pushups"
	Squats  ExerciseType = "squats"
)

// ExerciseTypes returns all known exercise types in their canonical order,
// which is also the column order used by exports.
func ExerciseTypes() []ExerciseType {
	return []ExerciseType{Burpees, Pushups, Squats}
}

func (et ExerciseType) String() string {
	return string(et)
}

func (et ExerciseType) IsValid() bool {
	switch et {
	case Burpees, Pushups, Squats:
		return true
	default:
		return false
	}
}

func ParseExerciseType(s string) (ExerciseType, error) {
	et := ExerciseType(strings.ToLower(strings.TrimSpace(s)))
	if !et.IsValid() {
		return "", fmt.Errorf("unknown exercise type: %q", s)
	}
	return et, nil
}

// Event is one logged workout: a number of reps of a single exercise type.
// Events are append-only, they are never updated in place.
type Event struct {
	ID           int          `json:"id"`
	UserID       int          `json:"userId"`
	Date         time.Time    `json:"date"`
	ExerciseType ExerciseType `json:"exerciseType"`
	Count        int          `json:"count"`
}

// Valid reports whether the event can take part in aggregation.
func (e Event) Valid() bool {
	return !e.Date.IsZero() && e.ExerciseType.IsValid() && e.Count > 0
}

func (e Event) Validate() error {
	if e.Date.IsZero() {
		return fmt.Errorf("event date missing")
	}
	if !e.ExerciseType.IsValid() {
		return fmt.Errorf("unknown exercise type: %q", e.ExerciseType)
	}
	if e.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", e.Count)
	}
	return nil
}
