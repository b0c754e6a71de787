//go:build integration_test || all_tests

package test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/repcount/internal/analytics"
	"github.com/2beens/repcount/internal/workouts"
	"github.com/2beens/repcount/internal/workouts/tracker"

	"github.com/brianvoe/gofakeit/v6"
)

type logRequest struct {
	Date         *time.Time `json:"date,omitempty"`
	ExerciseType string     `json:"exerciseType"`
	Count        int        `json:"count"`
}

func (s *IntegrationTestSuite) TestWorkouts_LogAndStats() {
	ctx := context.Background()
	s.deleteAllEvents()
	token := s.doLogin(ctx)
	defer s.doLogout(ctx, token)

	s.doJSON(ctx, http.MethodGet, "/workouts", "", nil, http.StatusUnauthorized, nil)

	// noon keeps the Belgrade calendar day equal to the UTC one
	today := time.Now().UTC().Truncate(24 * time.Hour).Add(12 * time.Hour)
	totalReps := 0
	for day := 2; day >= 0; day-- {
		date := today.AddDate(0, 0, -day)
		count := gofakeit.Number(5, 50)
		totalReps += count
		var res tracker.LogResult
		s.doJSON(ctx, http.MethodPost, "/workouts", token, logRequest{
			Date:         &date,
			ExerciseType: "pushups",
			Count:        count,
		}, http.StatusCreated, &res)
		s.Equal(count, res.TodayTotal)
		s.Equal(s.testUser.ID, res.Event.UserID)
	}

	s.doJSON(ctx, http.MethodPost, "/workouts", token, logRequest{
		ExerciseType: "lunges",
		Count:        3,
	}, http.StatusBadRequest, nil)
	s.doJSON(ctx, http.MethodPost, "/workouts", token, logRequest{
		ExerciseType: "squats",
		Count:        0,
	}, http.StatusBadRequest, nil)

	var events []workouts.Event
	s.doJSON(ctx, http.MethodGet, "/workouts", token, nil, http.StatusOK, &events)
	s.Len(events, 3)

	var daily []analytics.DailyAggregate
	s.doJSON(ctx, http.MethodGet, "/workouts/stats/daily", token, nil, http.StatusOK, &daily)
	s.Require().Len(daily, 3)
	for _, d := range daily {
		s.Equal(d.Burpees+d.Pushups+d.Squats, d.Total)
	}

	var lifetime analytics.LifetimeStats
	s.doJSON(ctx, http.MethodGet, "/workouts/stats/lifetime", token, nil, http.StatusOK, &lifetime)
	s.Equal(totalReps, lifetime.TotalReps)
	s.Equal(3, lifetime.TotalWorkouts)

	var streak analytics.StreakStats
	s.doJSON(ctx, http.MethodGet, "/workouts/stats/streak", token, nil, http.StatusOK, &streak)
	s.Equal(3, streak.CurrentStreak)
	s.Equal(3, streak.LongestStreak)

	var report analytics.Report
	s.doJSON(ctx, http.MethodGet, "/workouts/insights", token, nil, http.StatusOK, &report)
	s.Equal(90, report.WindowDays)

	s.doJSON(ctx, http.MethodGet, "/workouts/stats/daily?from=bad", token, nil, http.StatusBadRequest, nil)

	s.doJSON(ctx, http.MethodDelete, "/workouts", token, nil, http.StatusOK, nil)
	s.doJSON(ctx, http.MethodGet, "/workouts", token, nil, http.StatusOK, &events)
	s.Empty(events)
}

func (s *IntegrationTestSuite) TestWorkouts_ExportImport() {
	ctx := context.Background()
	s.deleteAllEvents()
	token := s.doLogin(ctx)
	defer s.doLogout(ctx, token)

	for _, et := range []string{"burpees", "pushups", "squats"} {
		s.doJSON(ctx, http.MethodPost, "/workouts", token, logRequest{
			ExerciseType: et,
			Count:        gofakeit.Number(1, 30),
		}, http.StatusCreated, nil)
	}

	for _, format := range []string{"csv", "pdf", "json"} {
		resp, err := s.do(ctx, http.MethodGet, "/workouts/export/"+format, token, nil)
		s.Require().NoError(err)
		data, err := io.ReadAll(resp.Body)
		s.Require().NoError(err)
		s.Require().NoError(resp.Body.Close())
		s.Require().Equal(http.StatusOK, resp.StatusCode, string(data))
		s.True(strings.HasPrefix(resp.Header.Get("Content-Disposition"), `attachment; filename="workouts-export-`))
		s.NotEmpty(data)
	}

	resp, err := s.do(ctx, http.MethodGet, "/workouts/export/json", token, nil)
	s.Require().NoError(err)
	exported, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Require().NoError(resp.Body.Close())

	var lifetimeBefore analytics.LifetimeStats
	s.doJSON(ctx, http.MethodGet, "/workouts/stats/lifetime", token, nil, http.StatusOK, &lifetimeBefore)

	s.doJSON(ctx, http.MethodDelete, "/workouts", token, nil, http.StatusOK, nil)

	// broken imports leave the event log alone
	resp, err = s.do(ctx, http.MethodPost, "/workouts/import", token, strings.NewReader(`{"version":"9.0"}`))
	s.Require().NoError(err)
	s.Require().NoError(resp.Body.Close())
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, err = s.do(ctx, http.MethodPost, "/workouts/import", token, bytes.NewReader(exported))
	s.Require().NoError(err)
	s.Require().NoError(resp.Body.Close())
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var lifetimeAfter analytics.LifetimeStats
	s.doJSON(ctx, http.MethodGet, "/workouts/stats/lifetime", token, nil, http.StatusOK, &lifetimeAfter)
	s.Equal(lifetimeBefore.TotalReps, lifetimeAfter.TotalReps)
	s.Equal(lifetimeBefore.TotalWorkouts, lifetimeAfter.TotalWorkouts)
	s.Equal(lifetimeBefore.ActiveDays, lifetimeAfter.ActiveDays)
}
