package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/2beens/repcount/internal/workouts"
)

// Level is the qualitative score carried by insights (impact),
// recommendations (priority) and predictions (confidence).
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

type InsightType string

const (
	InsightTypePattern     InsightType = "pattern"
	InsightTypeProgress    InsightType = "progress"
	InsightTypeWarning     InsightType = "warning"
	InsightTypeAchievement InsightType = "achievement"
)

type RecommendationType string

const (
	RecommendationTypeBalance   RecommendationType = "balance"
	RecommendationTypeFrequency RecommendationType = "frequency"
	RecommendationTypeStreak    RecommendationType = "streak"
)

type PredictionType string

const (
	PredictionTypeDailyAverage PredictionType = "daily_average"
)

type Insight struct {
	Type    InsightType `json:"type"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Impact  Level       `json:"impact"`
	Value   float64     `json:"value,omitempty"`
}

type Recommendation struct {
	Type         RecommendationType    `json:"type"`
	Message      string                `json:"message"`
	Priority     Level                 `json:"priority"`
	ExerciseType workouts.ExerciseType `json:"exerciseType,omitempty"`
}

type Prediction struct {
	Type         PredictionType        `json:"type"`
	ExerciseType workouts.ExerciseType `json:"exerciseType,omitempty"`
	Message      string                `json:"message"`
	Current      float64               `json:"current"`
	Predicted    float64               `json:"predicted"`
	HorizonDays  int                   `json:"horizonDays"`
	Confidence   Level                 `json:"confidence"`
}

type Report struct {
	Insights        []Insight        `json:"insights"`
	Recommendations []Recommendation `json:"recommendations"`
	Predictions     []Prediction     `json:"predictions"`
	WindowDays      int              `json:"windowDays"`
	GeneratedAt     time.Time        `json:"generatedAt"`
}

func (r Report) Size() int {
	return len(r.Insights) + len(r.Recommendations) + len(r.Predictions)
}

type GeneratorConfig struct {
	WindowDays int
	TrendDays  int
	// percent, e.g. 10 means +/-10%
	TrendThresholdPct       float64
	ConsistencyThresholdPct float64
	BalanceThresholdPct     float64
	MinWorkoutsPerWeek      float64
	StreakMilestone         int
	PredictionMinDays       int
	PredictionMediumDays    int
	PredictionHorizonDays   int
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		WindowDays:              90,
		TrendDays:               7,
		TrendThresholdPct:       10,
		ConsistencyThresholdPct: 80,
		BalanceThresholdPct:     20,
		MinWorkoutsPerWeek:      3,
		StreakMilestone:         7,
		PredictionMinDays:       14,
		PredictionMediumDays:    28,
		PredictionHorizonDays:   30,
	}
}

type GenerateParams struct {
	Events   []workouts.Event
	Daily    DailyStats
	Streak   StreakStats
	Calendar Calendar
	Now      time.Time
}

// Generator turns aggregates into rule based findings. It never fails,
// missing data just yields empty lists.
type Generator struct {
	cfg GeneratorConfig
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	def := DefaultGeneratorConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.TrendDays <= 0 {
		cfg.TrendDays = def.TrendDays
	}
	if cfg.PredictionHorizonDays <= 0 {
		cfg.PredictionHorizonDays = def.PredictionHorizonDays
	}
	return &Generator{cfg: cfg}
}

// window is the slice of history the rules look at.
type window struct {
	today      string
	start      string
	events     []workouts.Event
	daily      DailyStats
	activeDays int
	// days from the first active day in the window up to today, inclusive
	spanDays int
}

func (g *Generator) newWindow(params GenerateParams) window {
	cal := params.Calendar
	w := window{
		today: cal.DayKey(params.Now),
		daily: make(DailyStats),
	}
	w.start = mustAddDays(w.today, -(g.cfg.WindowDays - 1))
	bounds := DayBounds{From: w.start, To: w.today}

	for _, e := range params.Events {
		if e.Valid() && bounds.Contains(cal.DayKey(e.Date)) {
			w.events = append(w.events, e)
		}
	}

	firstActive := ""
	for day, agg := range params.Daily {
		if agg.Total <= 0 || !bounds.Contains(day) {
			continue
		}
		if _, err := time.Parse(DayLayout, day); err != nil {
			continue
		}
		w.daily[day] = agg
		w.activeDays++
		if firstActive == "" || day < firstActive {
			firstActive = day
		}
	}
	if firstActive != "" {
		span, _ := DaysBetween(firstActive, w.today)
		w.spanDays = span + 1
	}
	return w
}

// meanOver is the mean of value(day) over n days ending at end, missing days count as 0.
func (w window) meanOver(end string, n int, value func(DailyAggregate) int) float64 {
	sum := 0
	for i := 0; i < n; i++ {
		sum += value(w.daily[mustAddDays(end, -i)])
	}
	return float64(sum) / float64(n)
}

func (g *Generator) Generate(params GenerateParams) Report {
	w := g.newWindow(params)
	report := Report{
		Insights:        make([]Insight, 0),
		Recommendations: make([]Recommendation, 0),
		Predictions:     make([]Prediction, 0),
		WindowDays:      g.cfg.WindowDays,
		GeneratedAt:     params.Now,
	}

	if ins, ok := g.bestHour(w, params.Calendar); ok {
		report.Insights = append(report.Insights, ins)
	}
	if ins, ok := g.bestWeekday(w, params.Calendar); ok {
		report.Insights = append(report.Insights, ins)
	}
	if ins, ok := g.trend(w); ok {
		report.Insights = append(report.Insights, ins)
	}
	if ins, ok := g.consistency(w); ok {
		report.Insights = append(report.Insights, ins)
	}
	if params.Streak.CurrentStreak >= g.cfg.StreakMilestone && g.cfg.StreakMilestone > 0 {
		report.Insights = append(report.Insights, Insight{
			Type:    InsightTypeAchievement,
			Title:   "Streak",
			Message: fmt.Sprintf("You are on a %d-day streak, keep it going!", params.Streak.CurrentStreak),
			Impact:  LevelMedium,
			Value:   float64(params.Streak.CurrentStreak),
		})
	}

	report.Recommendations = append(report.Recommendations, g.balance(w)...)
	if rec, ok := g.frequency(w); ok {
		report.Recommendations = append(report.Recommendations, rec)
	}
	if params.Streak.CurrentStreak == 0 && params.Streak.LastActiveDate != "" {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Type:     RecommendationTypeStreak,
			Message:  fmt.Sprintf("Your last workout was on %s. A short session today starts a new streak.", params.Streak.LastActiveDate),
			Priority: LevelLow,
		})
	}

	report.Predictions = append(report.Predictions, g.predictions(w)...)

	return report
}

type bucket struct {
	key   int
	count int
}

// topBucket returns the bucket with the highest count. Buckets are scanned in
// key order and only a strictly higher count replaces the leader, so ties
// go to the lowest key.
func topBucket(buckets []bucket) (bucket, bool) {
	best := bucket{key: -1}
	for _, b := range buckets {
		if b.count > best.count {
			best = b
		}
	}
	return best, best.key >= 0
}

func (g *Generator) bestHour(w window, cal Calendar) (Insight, bool) {
	buckets := make([]bucket, 24)
	for h := range buckets {
		buckets[h].key = h
	}
	for _, e := range w.events {
		buckets[cal.In(e.Date).Hour()].count++
	}
	best, ok := topBucket(buckets)
	if !ok {
		return Insight{}, false
	}
	return Insight{
		Type:    InsightTypePattern,
		Title:   "Best time of day",
		Message: fmt.Sprintf("You work out most often around %s (%d of %d workouts).", formatHour(best.key), best.count, len(w.events)),
		Impact:  LevelLow,
		Value:   float64(best.key),
	}, true
}

func (g *Generator) bestWeekday(w window, cal Calendar) (Insight, bool) {
	buckets := make([]bucket, 7)
	for d := range buckets {
		buckets[d].key = d
	}
	for _, e := range w.events {
		buckets[cal.In(e.Date).Weekday()].count++
	}
	best, ok := topBucket(buckets)
	if !ok {
		return Insight{}, false
	}
	return Insight{
		Type:    InsightTypePattern,
		Title:   "Best day of week",
		Message: fmt.Sprintf("%s is your most active day (%d of %d workouts).", time.Weekday(best.key), best.count, len(w.events)),
		Impact:  LevelLow,
		Value:   float64(best.key),
	}, true
}

// percentChange is the relative change from older to recent in percent.
// Zero when older is zero, there is no baseline to compare against.
func percentChange(older, recent float64) float64 {
	if older == 0 {
		return 0
	}
	return finite((recent - older) / older * 100)
}

func dailyTotal(d DailyAggregate) int {
	return d.Total
}

func (g *Generator) trend(w window) (Insight, bool) {
	n := g.cfg.TrendDays
	recent := w.meanOver(w.today, n, dailyTotal)
	older := w.meanOver(mustAddDays(w.today, -n), n, dailyTotal)
	change := percentChange(older, recent)

	switch {
	case change > g.cfg.TrendThresholdPct:
		return Insight{
			Type:    InsightTypeProgress,
			Title:   "Trending up",
			Message: fmt.Sprintf("Your daily average is up %.0f%% compared to the previous %d days.", change, n),
			Impact:  LevelHigh,
			Value:   change,
		}, true
	case change < -g.cfg.TrendThresholdPct:
		return Insight{
			Type:    InsightTypeWarning,
			Title:   "Trending down",
			Message: fmt.Sprintf("Your daily average is down %.0f%% compared to the previous %d days.", math.Abs(change), n),
			Impact:  LevelHigh,
			Value:   change,
		}, true
	default:
		return Insight{}, false
	}
}

func (g *Generator) consistency(w window) (Insight, bool) {
	// a handful of days says nothing about consistency
	if w.spanDays < g.cfg.TrendDays {
		return Insight{}, false
	}
	pct := finite(float64(w.activeDays) / float64(w.spanDays) * 100)
	if pct <= g.cfg.ConsistencyThresholdPct {
		return Insight{}, false
	}
	return Insight{
		Type:    InsightTypeAchievement,
		Title:   "Consistency",
		Message: fmt.Sprintf("You trained on %d of the last %d days (%.0f%%).", w.activeDays, w.spanDays, pct),
		Impact:  LevelMedium,
		Value:   pct,
	}, true
}

func (g *Generator) balance(w window) []Recommendation {
	totals := make(map[workouts.ExerciseType]int)
	total := 0
	for _, e := range w.events {
		totals[e.ExerciseType] += e.Count
		total += e.Count
	}
	recs := make([]Recommendation, 0)
	if total <= 0 {
		return recs
	}

	for _, et := range workouts.ExerciseTypes() {
		n := totals[et]
		// integer-valued floats, so exactly on the threshold is never flagged
		if float64(n)*100 >= g.cfg.BalanceThresholdPct*float64(total) {
			continue
		}
		share := float64(n) / float64(total) * 100
		recs = append(recs, Recommendation{
			Type:         RecommendationTypeBalance,
			Message:      fmt.Sprintf("Only %.0f%% of your reps are %s. Add a few sets to balance your training.", share, et),
			Priority:     LevelMedium,
			ExerciseType: et,
		})
	}
	return recs
}

func (g *Generator) frequency(w window) (Recommendation, bool) {
	if w.spanDays == 0 {
		return Recommendation{}, false
	}
	weeks := max(float64(w.spanDays)/7, 1)
	perWeek := finite(float64(len(w.events)) / weeks)
	if perWeek >= g.cfg.MinWorkoutsPerWeek {
		return Recommendation{}, false
	}
	return Recommendation{
		Type:     RecommendationTypeFrequency,
		Message:  fmt.Sprintf("You average %.1f workouts per week. Aim for at least %.0f.", perWeek, g.cfg.MinWorkoutsPerWeek),
		Priority: LevelHigh,
	}, true
}

func (g *Generator) predictions(w window) []Prediction {
	preds := make([]Prediction, 0)
	if w.spanDays < g.cfg.PredictionMinDays {
		return preds
	}
	confidence := LevelLow
	if w.spanDays >= g.cfg.PredictionMediumDays {
		confidence = LevelMedium
	}

	if p, ok := g.extrapolate(w, "", dailyTotal); ok {
		p.Confidence = confidence
		preds = append(preds, p)
	}
	for _, et := range workouts.ExerciseTypes() {
		p, ok := g.extrapolate(w, et, func(d DailyAggregate) int {
			return d.Count(et)
		})
		if ok {
			p.Confidence = confidence
			preds = append(preds, p)
		}
	}
	return preds
}

// extrapolate projects the recent mean along the slope between the two most
// recent trend windows. Only rising trends are reported.
func (g *Generator) extrapolate(w window, et workouts.ExerciseType, value func(DailyAggregate) int) (Prediction, bool) {
	n := g.cfg.TrendDays
	recent := w.meanOver(w.today, n, value)
	previous := w.meanOver(mustAddDays(w.today, -n), n, value)
	slope := finite((recent - previous) / float64(n))
	if slope <= 0 {
		return Prediction{}, false
	}

	horizon := g.cfg.PredictionHorizonDays
	predicted := finite(recent + slope*float64(horizon))
	subject := "reps"
	if et != "" {
		subject = et.String()
	}
	return Prediction{
		Type:         PredictionTypeDailyAverage,
		ExerciseType: et,
		Message:      fmt.Sprintf("At this pace you will average %.0f %s per day in %d days (now %.0f).", predicted, subject, horizon, recent),
		Current:      recent,
		Predicted:    predicted,
		HorizonDays:  horizon,
	}, true
}

func formatHour(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
