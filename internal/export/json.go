package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2beens/repcount/internal/analytics"
	"github.com/2beens/repcount/internal/workouts"
	log "github.com/sirupsen/logrus"
)

const (
	EnvelopeVersion = "1.0"
	supportedMajor  = "1"
)

var ErrInvalidImport = errors.New("invalid import")

type WorkoutRecord struct {
	Date         string `json:"date"`
	ExerciseType string `json:"exerciseType"`
	Count        int    `json:"count"`
}

type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Metadata struct {
	TotalWorkouts int       `json:"totalWorkouts"`
	TotalDays     int       `json:"totalDays"`
	DateRange     DateRange `json:"dateRange"`
}

type EnvelopeData struct {
	Workouts   []WorkoutRecord            `json:"workouts"`
	DailyStats []analytics.DailyAggregate `json:"dailyStats"`
}

type Envelope struct {
	Version    string        `json:"version"`
	ExportDate string        `json:"exportDate"`
	Data       *EnvelopeData `json:"data"`
	Metadata   Metadata      `json:"metadata"`
}

func JSON(ds Dataset) ([]byte, error) {
	env := Envelope{
		Version:    EnvelopeVersion,
		ExportDate: ds.Calendar.In(ds.GeneratedAt).Format(time.RFC3339),
		Data: &EnvelopeData{
			Workouts:   make([]WorkoutRecord, 0, len(ds.Workouts)),
			DailyStats: make([]analytics.DailyAggregate, 0, len(ds.Daily)),
		},
	}
	for _, w := range ds.Workouts {
		env.Data.Workouts = append(env.Data.Workouts, WorkoutRecord{
			Date:         ds.Calendar.In(w.Date).Format(time.RFC3339),
			ExerciseType: w.ExerciseType.String(),
			Count:        w.Count,
		})
	}
	env.Data.DailyStats = append(env.Data.DailyStats, ds.Daily...)

	env.Metadata = Metadata{
		TotalWorkouts: len(env.Data.Workouts),
		TotalDays:     len(env.Data.DailyStats),
	}
	if n := len(ds.Daily); n > 0 {
		env.Metadata.DateRange = DateRange{
			Start: ds.Daily[0].Date,
			End:   ds.Daily[n-1].Date,
		}
	}

	return json.MarshalIndent(env, "", "  ")
}

// Import is a validated JSON envelope, ready to replace a user's events.
type Import struct {
	Version    string
	ExportDate time.Time
	Events     []workouts.Event
	// as found in the file, only used to cross check the recomputed stats
	DailyStats []analytics.DailyAggregate
}

// ParseJSON validates the whole envelope before returning anything. A single
// bad record rejects the import, partial imports are never produced.
func ParseJSON(data []byte) (*Import, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %w", ErrInvalidImport, err)
	}

	if env.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidImport)
	}
	if major, _, _ := strings.Cut(env.Version, "."); major != supportedMajor {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidImport, env.Version)
	}
	if env.ExportDate == "" {
		return nil, fmt.Errorf("%w: missing exportDate", ErrInvalidImport)
	}
	exportDate, err := time.Parse(time.RFC3339, env.ExportDate)
	if err != nil {
		return nil, fmt.Errorf("%w: bad exportDate: %w", ErrInvalidImport, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidImport)
	}
	if env.Data.Workouts == nil {
		return nil, fmt.Errorf("%w: missing data.workouts", ErrInvalidImport)
	}

	events := make([]workouts.Event, 0, len(env.Data.Workouts))
	for i, rec := range env.Data.Workouts {
		e, err := rec.toEvent()
		if err != nil {
			return nil, fmt.Errorf("%w: workout %d: %w", ErrInvalidImport, i, err)
		}
		events = append(events, e)
	}

	return &Import{
		Version:    env.Version,
		ExportDate: exportDate,
		Events:     events,
		DailyStats: env.Data.DailyStats,
	}, nil
}

func (r WorkoutRecord) toEvent() (workouts.Event, error) {
	if r.Date == "" {
		return workouts.Event{}, errors.New("missing date")
	}
	date, err := time.Parse(time.RFC3339, r.Date)
	if err != nil {
		return workouts.Event{}, fmt.Errorf("bad date: %w", err)
	}
	et, err := workouts.ParseExerciseType(r.ExerciseType)
	if err != nil {
		return workouts.Event{}, err
	}
	e := workouts.Event{
		Date:         date,
		ExerciseType: et,
		Count:        r.Count,
	}
	if err := e.Validate(); err != nil {
		return workouts.Event{}, err
	}
	return e, nil
}

// Daily recomputes the daily stats from the imported events. The stats found
// in the file are never trusted, a mismatch is only logged.
func (im *Import) Daily(cal analytics.Calendar) analytics.DailyStats {
	daily := analytics.AggregateDaily(im.Events, cal, analytics.DayBounds{})
	if im.DailyStats == nil {
		return daily
	}

	fromFile := make(analytics.DailyStats, len(im.DailyStats))
	for _, d := range im.DailyStats {
		fromFile[d.Date] = d
	}
	if !daily.Equal(fromFile) {
		log.Warnf("import: daily stats in file differ from recomputed ones (%d vs %d days), using recomputed", len(fromFile), len(daily))
	}
	return daily
}
