package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/repcount/internal/analytics"
	"github.com/2beens/repcount/internal/export"
	"github.com/2beens/repcount/internal/telemetry/metrics"
	"github.com/2beens/repcount/internal/telemetry/tracing"
	"github.com/2beens/repcount/internal/workouts"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var ErrInvalidRange = errors.New("invalid date range")

// User is whose history an operation works on. An empty or unknown Timezone
// falls back to the service default.
type User struct {
	ID       int
	Timezone string
}

type LogRequest struct {
	// zero means now
	Date         time.Time
	ExerciseType workouts.ExerciseType
	Count        int
}

type LogResult struct {
	Event      *workouts.Event `json:"event"`
	TodayTotal int             `json:"todayTotal"`
}

type ImportResult struct {
	Imported int `json:"imported"`
	Days     int `json:"days"`
}

type NewServiceParams struct {
	Store           workouts.Store
	Exporter        *export.Exporter
	GeneratorConfig analytics.GeneratorConfig
	MetricsManager  *metrics.Manager
	DefaultTimezone string
}

// Service runs the pipeline for one user at a time:
// events -> daily aggregates -> streak/insights -> exports.
type Service struct {
	store          workouts.Store
	exporter       *export.Exporter
	generator      *analytics.Generator
	metricsManager *metrics.Manager
	defaultCal     analytics.Calendar
	now            func() time.Time
}

func NewService(params NewServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, errors.New("workout store missing")
	}
	defaultCal, err := analytics.CalendarFor(params.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("default calendar: %w", err)
	}
	exporter := params.Exporter
	if exporter == nil {
		exporter = export.NewExporter(nil)
	}
	metricsManager := params.MetricsManager
	if metricsManager == nil {
		metricsManager = metrics.NewTestManager()
	}

	return &Service{
		store:          params.Store,
		exporter:       exporter,
		generator:      analytics.NewGenerator(params.GeneratorConfig),
		metricsManager: metricsManager,
		defaultCal:     defaultCal,
		now:            time.Now,
	}, nil
}

// Calendar returns the user's calendar, or the default one when the user's
// timezone is empty or cannot be loaded.
func (s *Service) Calendar(u User) analytics.Calendar {
	if u.Timezone == "" {
		return s.defaultCal
	}
	cal, err := analytics.CalendarFor(u.Timezone)
	if err != nil {
		log.Warnf("user %d: %s, using default calendar", u.ID, err)
		return s.defaultCal
	}
	return cal
}

// Log appends one event and returns it together with the user's total reps
// for the event's day.
func (s *Service) Log(ctx context.Context, u User, req LogRequest) (_ *LogResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.log")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.Int("user.id", u.ID))

	cal := s.Calendar(u)
	now := s.now()
	date := req.Date
	if date.IsZero() {
		date = now
	}
	endOfToday, err := cal.EndOfDay(cal.DayKey(now))
	if err != nil {
		return nil, fmt.Errorf("end of today: %w", err)
	}
	if date.After(endOfToday) {
		return nil, errors.Join(
			workouts.ErrInvalidEvent,
			fmt.Errorf("event day %s is after today %s", cal.DayKey(date), cal.DayKey(now)),
		)
	}
	event := workouts.Event{
		UserID:       u.ID,
		Date:         date,
		ExerciseType: req.ExerciseType,
		Count:        req.Count,
	}
	if err := event.Validate(); err != nil {
		return nil, errors.Join(workouts.ErrInvalidEvent, err)
	}

	added, err := s.store.Append(ctx, u.ID, event)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	s.metricsManager.CounterWorkoutsLogged.WithLabelValues(added.ExerciseType.String()).Inc()

	day := cal.DayKey(added.Date)
	dayEvents, err := s.query(ctx, u.ID, cal, day, day)
	if err != nil {
		return nil, fmt.Errorf("query day %s: %w", day, err)
	}
	daily := make(analytics.DailyStats)
	daily.Recompute(day, dayEvents, cal)

	return &LogResult{
		Event:      added,
		TodayTotal: daily[day].Total,
	}, nil
}

// List returns the user's events within the inclusive [from, to] day range.
// Empty bounds are open.
func (s *Service) List(ctx context.Context, u User, from, to string) (_ []workouts.Event, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.list")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	return s.query(ctx, u.ID, s.Calendar(u), from, to)
}

func (s *Service) Reset(ctx context.Context, u User) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.reset")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	if err := s.store.Reset(ctx, u.ID); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	log.Debugf("workouts of user %d reset", u.ID)
	return nil
}

func (s *Service) Daily(ctx context.Context, u User, from, to string) (_ []analytics.DailyAggregate, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.daily")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	cal := s.Calendar(u)
	events, err := s.query(ctx, u.ID, cal, from, to)
	if err != nil {
		return nil, err
	}
	return analytics.AggregateDaily(events, cal, analytics.DayBounds{From: from, To: to}).Sorted(), nil
}

func (s *Service) Weekly(ctx context.Context, u User) (_ []analytics.WeeklyAggregate, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.weekly")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	h, err := s.history(ctx, u)
	if err != nil {
		return nil, err
	}
	return analytics.AggregateWeekly(h.sorted), nil
}

func (s *Service) Lifetime(ctx context.Context, u User) (_ analytics.LifetimeStats, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.lifetime")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	h, err := s.history(ctx, u)
	if err != nil {
		return analytics.LifetimeStats{}, err
	}
	return h.lifetime(), nil
}

func (s *Service) Streak(ctx context.Context, u User) (_ analytics.StreakStats, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.streak")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	h, err := s.history(ctx, u)
	if err != nil {
		return analytics.StreakStats{}, err
	}
	return h.streak, nil
}

func (s *Service) Insights(ctx context.Context, u User) (_ analytics.Report, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.insights")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	h, err := s.history(ctx, u)
	if err != nil {
		return analytics.Report{}, err
	}
	report := s.report(h)
	span.SetAttributes(attribute.Int("report.size", report.Size()))
	return report, nil
}

// Export renders the user's full history in the given format. Identical
// requests within the cache TTL are served from the export cache.
func (s *Service) Export(ctx context.Context, u User, format export.Format, kind export.Kind) (_ export.Artifact, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.export")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(
		attribute.Int("user.id", u.ID),
		attribute.String("export.format", string(format)),
	)

	ds, err := s.Dataset(ctx, u)
	if err != nil {
		return export.Artifact{}, err
	}

	artifact, cached, err := s.exporter.Export(u.ID, format, kind, ds)
	if err != nil {
		return export.Artifact{}, fmt.Errorf("export %s: %w", format, err)
	}
	if cached {
		s.metricsManager.CounterExportCacheHits.Inc()
	}
	s.metricsManager.CounterExports.WithLabelValues(string(format)).Inc()
	span.SetAttributes(attribute.Bool("export.cached", cached))

	return artifact, nil
}

// Dataset collects everything an export renders.
func (s *Service) Dataset(ctx context.Context, u User) (export.Dataset, error) {
	h, err := s.history(ctx, u)
	if err != nil {
		return export.Dataset{}, err
	}
	return export.Dataset{
		Workouts:    h.events,
		Daily:       h.sorted,
		Streak:      h.streak,
		Lifetime:    h.lifetime(),
		Report:      s.report(h),
		Calendar:    h.cal,
		GeneratedAt: h.now,
	}, nil
}

// Import replaces all of the user's events with the ones in a JSON export.
// Nothing is written unless the whole document validates.
func (s *Service) Import(ctx context.Context, u User, data []byte) (_ *ImportResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.workouts.import")
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, export.ErrInvalidImport):
			result = "invalid"
		case err != nil:
			result = "error"
		}
		s.metricsManager.CounterImports.WithLabelValues(result).Inc()
		tracing.EndSpanWithErrCheck(span, err)
	}()

	im, err := export.ParseJSON(data)
	if err != nil {
		return nil, err
	}
	daily := im.Daily(s.Calendar(u))

	if err := s.store.BulkReplace(ctx, u.ID, im.Events); err != nil {
		return nil, fmt.Errorf("replace events: %w", err)
	}
	log.Debugf("user %d imported %d events over %d days", u.ID, len(im.Events), len(daily))

	return &ImportResult{
		Imported: len(im.Events),
		Days:     len(daily),
	}, nil
}

func (s *Service) query(ctx context.Context, userID int, cal analytics.Calendar, from, to string) ([]workouts.Event, error) {
	var fromTime, toTime *time.Time
	if from != "" {
		t, err := cal.StartOfDay(from)
		if err != nil {
			return nil, fmt.Errorf("%w: from %q", ErrInvalidRange, from)
		}
		fromTime = &t
	}
	if to != "" {
		t, err := cal.EndOfDay(to)
		if err != nil {
			return nil, fmt.Errorf("%w: to %q", ErrInvalidRange, to)
		}
		toTime = &t
	}
	if fromTime != nil && toTime != nil && fromTime.After(*toTime) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, from, to)
	}

	events, err := s.store.QueryByDateRange(ctx, userID, fromTime, toTime)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

// history is the user's full event log with everything derived from it,
// computed once per request.
type history struct {
	cal    analytics.Calendar
	now    time.Time
	events []workouts.Event
	daily  analytics.DailyStats
	sorted []analytics.DailyAggregate
	streak analytics.StreakStats
}

func (h history) lifetime() analytics.LifetimeStats {
	valid := 0
	for _, e := range h.events {
		if e.Valid() {
			valid++
		}
	}
	return analytics.Lifetime(h.sorted, valid)
}

func (s *Service) history(ctx context.Context, u User) (history, error) {
	cal := s.Calendar(u)
	events, err := s.query(ctx, u.ID, cal, "", "")
	if err != nil {
		return history{}, err
	}
	now := s.now()
	daily := analytics.AggregateDaily(events, cal, analytics.DayBounds{})
	sorted := daily.Sorted()
	return history{
		cal:    cal,
		now:    now,
		events: events,
		daily:  daily,
		sorted: sorted,
		streak: analytics.CalculateStreak(sorted, cal, now),
	}, nil
}

func (s *Service) report(h history) analytics.Report {
	report := s.generator.Generate(analytics.GenerateParams{
		Events:   h.events,
		Daily:    h.daily,
		Streak:   h.streak,
		Calendar: h.cal,
		Now:      h.now,
	})
	s.metricsManager.HistogramInsightsGenerated.Observe(float64(report.Size()))
	return report
}
