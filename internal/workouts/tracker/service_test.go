package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2beens/repcount/internal/analytics"
	"github.com/2beens/repcount/internal/export"
	"github.com/2beens/repcount/internal/telemetry/metrics"
	"github.com/2beens/repcount/internal/workouts"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *metrics.Manager) {
	t.Helper()
	store := workouts.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(store.Teardown)

	metricsManager := metrics.NewTestManager()
	s, err := NewService(NewServiceParams{
		Store:           store,
		Exporter:        export.NewExporter(export.NewCache(16<<20, 60)),
		GeneratorConfig: analytics.DefaultGeneratorConfig(),
		MetricsManager:  metricsManager,
		DefaultTimezone: "UTC",
	})
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	return s, metricsManager
}

func logAt(t *testing.T, s *Service, u User, date time.Time, et workouts.ExerciseType, count int) *LogResult {
	t.Helper()
	res, err := s.Log(context.Background(), u, LogRequest{Date: date, ExerciseType: et, Count: count})
	require.NoError(t, err)
	return res
}

// seed logs four workouts over 2024-05-06 (Monday) .. 2024-05-09, skipping 05-08.
func seed(t *testing.T, s *Service, u User) {
	t.Helper()
	logAt(t, s, u, time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC), workouts.Pushups, 20)
	logAt(t, s, u, time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC), workouts.Squats, 30)
	logAt(t, s, u, time.Date(2024, 5, 7, 18, 0, 0, 0, time.UTC), workouts.Burpees, 10)
	logAt(t, s, u, time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC), workouts.Pushups, 15)
}

func TestNewService(t *testing.T) {
	_, err := NewService(NewServiceParams{})
	assert.Error(t, err)

	_, err = NewService(NewServiceParams{
		Store:           workouts.NewMemoryStore(),
		DefaultTimezone: "Mars/Olympus_Mons",
	})
	assert.Error(t, err)
}

func TestService_Log(t *testing.T) {
	s, metricsManager := newTestService(t)
	u := User{ID: 1}

	res := logAt(t, s, u, time.Date(2024, 5, 9, 7, 0, 0, 0, time.UTC), workouts.Pushups, 10)
	assert.Equal(t, 10, res.TodayTotal)
	assert.Equal(t, 1, res.Event.UserID)
	assert.NotZero(t, res.Event.ID)

	res = logAt(t, s, u, time.Date(2024, 5, 9, 9, 0, 0, 0, time.UTC), workouts.Squats, 25)
	assert.Equal(t, 35, res.TodayTotal)

	// another day and another user do not count
	res = logAt(t, s, u, time.Date(2024, 5, 8, 9, 0, 0, 0, time.UTC), workouts.Squats, 5)
	assert.Equal(t, 5, res.TodayTotal)
	res = logAt(t, s, User{ID: 2}, time.Date(2024, 5, 9, 9, 0, 0, 0, time.UTC), workouts.Squats, 1)
	assert.Equal(t, 1, res.TodayTotal)

	// zero date means now
	res, err := s.Log(context.Background(), u, LogRequest{ExerciseType: workouts.Burpees, Count: 5})
	require.NoError(t, err)
	assert.Equal(t, testNow, res.Event.Date)
	assert.Equal(t, 40, res.TodayTotal)

	_, err = s.Log(context.Background(), u, LogRequest{ExerciseType: workouts.Burpees, Count: 0})
	assert.True(t, errors.Is(err, workouts.ErrInvalidEvent))
	_, err = s.Log(context.Background(), u, LogRequest{ExerciseType: "lunges", Count: 3})
	assert.True(t, errors.Is(err, workouts.ErrInvalidEvent))

	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterWorkoutsLogged.WithLabelValues("pushups")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metricsManager.CounterWorkoutsLogged.WithLabelValues("squats")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterWorkoutsLogged.WithLabelValues("burpees")))
}

func TestService_FutureDates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	u := User{ID: 1, Timezone: "Europe/Belgrade"}

	logAt(t, s, u, testNow.Add(-24*time.Hour), workouts.Pushups, 10)
	logAt(t, s, u, testNow, workouts.Pushups, 10)
	// 23:00 UTC is already the 10th in Belgrade
	_, err := s.Log(ctx, u, LogRequest{Date: time.Date(2024, 5, 9, 23, 0, 0, 0, time.UTC), ExerciseType: workouts.Squats, Count: 5})
	assert.ErrorIs(t, err, workouts.ErrInvalidEvent)
	_, err = s.Log(ctx, u, LogRequest{Date: testNow.Add(48 * time.Hour), ExerciseType: workouts.Squats, Count: 5})
	assert.ErrorIs(t, err, workouts.ErrInvalidEvent)

	// the last minute of today is still fine
	logAt(t, s, u, time.Date(2024, 5, 9, 21, 59, 0, 0, time.UTC), workouts.Squats, 5)

	// imports may carry days ahead of the user's clock, streaks skip them
	_, err = s.Import(ctx, u, []byte(`{
		"version": "1.0",
		"exportDate": "2024-05-09T10:00:00Z",
		"data": {"workouts": [
			{"date": "2024-05-08T12:00:00Z", "exerciseType": "pushups", "count": 10},
			{"date": "2024-05-09T12:00:00Z", "exerciseType": "pushups", "count": 10},
			{"date": "2024-05-11T12:00:00Z", "exerciseType": "squats", "count": 30}
		]}
	}`))
	require.NoError(t, err)

	streak, err := s.Streak(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, analytics.StreakStats{
		CurrentStreak:  2,
		LongestStreak:  2,
		LastActiveDate: "2024-05-09",
	}, streak)

	report, err := s.Insights(ctx, u)
	require.NoError(t, err)
	for _, r := range report.Recommendations {
		assert.NotContains(t, r.Message, "2024-05-11")
	}
}

func TestService_ListAndDaily(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	u := User{ID: 1}
	seed(t, s, u)

	events, err := s.List(ctx, u, "", "")
	require.NoError(t, err)
	assert.Len(t, events, 4)

	events, err = s.List(ctx, u, "2024-05-07", "2024-05-07")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, workouts.Squats, events[0].ExerciseType)

	daily, err := s.Daily(ctx, u, "", "")
	require.NoError(t, err)
	assert.Equal(t, []analytics.DailyAggregate{
		{Date: "2024-05-06", Pushups: 20, Total: 20},
		{Date: "2024-05-07", Burpees: 10, Squats: 30, Total: 40},
		{Date: "2024-05-09", Pushups: 15, Total: 15},
	}, daily)

	daily, err = s.Daily(ctx, u, "2024-05-07", "")
	require.NoError(t, err)
	assert.Len(t, daily, 2)

	for _, r := range [][2]string{{"yesterday", ""}, {"", "2024-13-01"}, {"2024-05-09", "2024-05-01"}} {
		_, err = s.Daily(ctx, u, r[0], r[1])
		assert.True(t, errors.Is(err, ErrInvalidRange), "range %v", r)
	}
}

func TestService_UsesUserTimezone(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	// 23:30 UTC on the 6th is already the 7th in Belgrade (UTC+2 in May)
	belgrade := User{ID: 1, Timezone: "Europe/Belgrade"}
	res := logAt(t, s, belgrade, time.Date(2024, 5, 6, 23, 30, 0, 0, time.UTC), workouts.Squats, 10)
	assert.Equal(t, 10, res.TodayTotal)

	daily, err := s.Daily(ctx, belgrade, "", "")
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "2024-05-07", daily[0].Date)

	// unknown zone falls back to the default calendar
	broken := User{ID: 1, Timezone: "Nowhere/Atlantis"}
	daily, err = s.Daily(ctx, broken, "", "")
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "2024-05-06", daily[0].Date)
}

func TestService_Views(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	u := User{ID: 1}
	seed(t, s, u)

	streak, err := s.Streak(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, analytics.StreakStats{
		CurrentStreak:  1,
		LongestStreak:  2,
		LastActiveDate: "2024-05-09",
	}, streak)

	lifetime, err := s.Lifetime(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 75, lifetime.TotalReps)
	assert.Equal(t, 4, lifetime.TotalWorkouts)
	assert.Equal(t, 3, lifetime.ActiveDays)
	assert.Equal(t, 35, lifetime.Totals[workouts.Pushups])
	assert.Equal(t, "2024-05-06", lifetime.FirstActiveDate)
	assert.Equal(t, "2024-05-09", lifetime.LastActiveDate)
	require.NotNil(t, lifetime.BestDay)
	assert.Equal(t, analytics.BestDay{Date: "2024-05-07", Total: 40}, *lifetime.BestDay)
	assert.Equal(t, 25.0, lifetime.AverageRepsPerDay)

	weekly, err := s.Weekly(ctx, u)
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, "2024-05-06", weekly[0].WeekStart)
	assert.Equal(t, 75, weekly[0].Total)
	assert.Equal(t, 3, weekly[0].ActiveDays)

	// no history at all
	empty, err := s.Streak(ctx, User{ID: 99})
	require.NoError(t, err)
	assert.Equal(t, analytics.StreakStats{}, empty)
}

func TestService_Insights(t *testing.T) {
	s, metricsManager := newTestService(t)
	u := User{ID: 1}
	seed(t, s, u)

	report, err := s.Insights(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, testNow, report.GeneratedAt)
	assert.Equal(t, 90, report.WindowDays)
	assert.NotEmpty(t, report.Insights)
	assert.Equal(t, 1, testutil.CollectAndCount(metricsManager.HistogramInsightsGenerated))

	empty, err := s.Insights(context.Background(), User{ID: 42})
	require.NoError(t, err)
	assert.Empty(t, empty.Insights)
	assert.Empty(t, empty.Recommendations)
	assert.Empty(t, empty.Predictions)
}

func TestService_ExportUsesCache(t *testing.T) {
	ctx := context.Background()
	s, metricsManager := newTestService(t)
	u := User{ID: 1}
	seed(t, s, u)

	first, err := s.Export(ctx, u, export.FormatCSV, export.KindDaily)
	require.NoError(t, err)
	assert.Equal(t, "workouts-export-2024-05-09.csv", first.Filename)
	assert.Equal(t, export.FormatCSV.MIMEType(), first.MIMEType)
	assert.Contains(t, string(first.Data), `"2024-05-07","10","0","30","40"`)

	second, err := s.Export(ctx, u, export.FormatCSV, export.KindDaily)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterExportCacheHits))

	// a new workout changes the data, so the cached artifact is not reused
	logAt(t, s, u, time.Date(2024, 5, 9, 10, 0, 0, 0, time.UTC), workouts.Squats, 5)
	third, err := s.Export(ctx, u, export.FormatCSV, export.KindDaily)
	require.NoError(t, err)
	assert.Contains(t, string(third.Data), `"2024-05-09","0","15","5","20"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterExportCacheHits))
	assert.Equal(t, float64(3), testutil.ToFloat64(metricsManager.CounterExports.WithLabelValues("csv")))

	pdf, err := s.Export(ctx, u, export.FormatPDF, "")
	require.NoError(t, err)
	assert.Equal(t, "workouts-export-2024-05-09.pdf", pdf.Filename)
	assert.True(t, len(pdf.Data) > 4 && string(pdf.Data[:4]) == "%PDF")
}

func TestService_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, metricsManager := newTestService(t)
	owner := User{ID: 1}
	seed(t, s, owner)

	artifact, err := s.Export(ctx, owner, export.FormatJSON, "")
	require.NoError(t, err)
	assert.Equal(t, "workouts-export-2024-05-09.json", artifact.Filename)

	other := User{ID: 2}
	logAt(t, s, other, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), workouts.Burpees, 99)

	res, err := s.Import(ctx, other, artifact.Data)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Imported: 4, Days: 3}, res)

	ownerDaily, err := s.Daily(ctx, owner, "", "")
	require.NoError(t, err)
	otherDaily, err := s.Daily(ctx, other, "", "")
	require.NoError(t, err)
	assert.Equal(t, ownerDaily, otherDaily)

	events, err := s.List(ctx, other, "", "")
	require.NoError(t, err)
	for _, e := range events {
		assert.Equal(t, 2, e.UserID)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterImports.WithLabelValues("ok")))
}

func TestService_InvalidImportKeepsEvents(t *testing.T) {
	ctx := context.Background()
	s, metricsManager := newTestService(t)
	u := User{ID: 1}
	seed(t, s, u)

	for _, data := range []string{
		`not json`,
		`{"version":"2.0","exportDate":"2024-05-09T12:00:00Z","data":{"workouts":[]}}`,
		`{"version":"1.0","exportDate":"2024-05-09T12:00:00Z","data":{"workouts":[{"date":"2024-05-01T10:00:00Z","exerciseType":"pushups","count":-1}]}}`,
	} {
		_, err := s.Import(ctx, u, []byte(data))
		assert.True(t, errors.Is(err, export.ErrInvalidImport), data)
	}

	events, err := s.List(ctx, u, "", "")
	require.NoError(t, err)
	assert.Len(t, events, 4)
	assert.Equal(t, float64(3), testutil.ToFloat64(metricsManager.CounterImports.WithLabelValues("invalid")))
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	seed(t, s, User{ID: 1})
	seed(t, s, User{ID: 2})

	require.NoError(t, s.Reset(ctx, User{ID: 1}))

	events, err := s.List(ctx, User{ID: 1}, "", "")
	require.NoError(t, err)
	assert.Empty(t, events)
	events, err = s.List(ctx, User{ID: 2}, "", "")
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestService_StorageErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	s.store.Teardown()

	_, err := s.Log(ctx, User{ID: 1}, LogRequest{ExerciseType: workouts.Squats, Count: 1})
	var storageErr *workouts.StorageError
	assert.True(t, errors.As(err, &storageErr))

	_, err = s.Insights(ctx, User{ID: 1})
	assert.True(t, errors.As(err, &storageErr))
}
