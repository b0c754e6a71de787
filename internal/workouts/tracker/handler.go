package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/repcount/internal/auth"
	"github.com/2beens/repcount/internal/export"
	"github.com/2beens/repcount/internal/middleware"
	"github.com/2beens/repcount/internal/telemetry/metrics"
	"github.com/2beens/repcount/internal/telemetry/tracing"
	"github.com/2beens/repcount/internal/workouts"
	"github.com/2beens/repcount/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const maxImportBytes = 10 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) SetupRoutes(
	mainRouter *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	metricsManager *metrics.Manager,
	exportRateLimitPerMin int,
) {
	exportRouter := mainRouter.PathPrefix("/workouts/export").Subrouter()
	exportRouter.HandleFunc("/{format}", h.HandleExport).Methods("GET").Name("workouts-export")
	if rateLimiter != nil {
		exportRouter.Use(middleware.RateLimit(rateLimiter, "export", exportRateLimitPerMin, metricsManager))
	}

	workoutsRouter := mainRouter.PathPrefix("/workouts").Subrouter()
	workoutsRouter.HandleFunc("", h.HandleLog).Methods("POST").Name("workouts-log")
	workoutsRouter.HandleFunc("", h.HandleList).Methods("GET").Name("workouts-list")
	workoutsRouter.HandleFunc("", h.HandleReset).Methods("DELETE").Name("workouts-reset")
	workoutsRouter.HandleFunc("/stats/daily", h.HandleDaily).Methods("GET").Name("workouts-daily")
	workoutsRouter.HandleFunc("/stats/weekly", h.HandleWeekly).Methods("GET").Name("workouts-weekly")
	workoutsRouter.HandleFunc("/stats/lifetime", h.HandleLifetime).Methods("GET").Name("workouts-lifetime")
	workoutsRouter.HandleFunc("/stats/streak", h.HandleStreak).Methods("GET").Name("workouts-streak")
	workoutsRouter.HandleFunc("/insights", h.HandleInsights).Methods("GET").Name("workouts-insights")
	workoutsRouter.HandleFunc("/import", h.HandleImport).Methods("POST").Name("workouts-import")
}

func userFromRequest(w http.ResponseWriter, r *http.Request) (User, bool) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, "no can do", http.StatusUnauthorized)
		return User{}, false
	}
	return User{ID: session.UserID, Timezone: session.Timezone}, true
}

type logRequest struct {
	Date         *time.Time `json:"date,omitempty"`
	ExerciseType string     `json:"exerciseType"`
	Count        int        `json:"count"`
}

func (h *Handler) HandleLog(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.log")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("log workout, unmarshal json params: %s", err)
		http.Error(w, "log workout failed", http.StatusBadRequest)
		return
	}
	exerciseType, err := workouts.ParseExerciseType(req.ExerciseType)
	if err != nil {
		http.Error(w, fmt.Sprintf("error, %s", err), http.StatusBadRequest)
		return
	}
	logReq := LogRequest{
		ExerciseType: exerciseType,
		Count:        req.Count,
	}
	if req.Date != nil {
		logReq.Date = *req.Date
	}
	span.SetAttributes(
		attribute.String("exercise.type", exerciseType.String()),
		attribute.Int("exercise.count", req.Count),
	)

	res, err := h.service.Log(ctx, u, logReq)
	if err != nil {
		if errors.Is(err, workouts.ErrInvalidEvent) {
			http.Error(w, fmt.Sprintf("error, %s", err), http.StatusBadRequest)
			return
		}
		log.Errorf("failed to log workout for user %d: %s", u.ID, err)
		http.Error(w, "error, failed to log workout", http.StatusInternalServerError)
		return
	}

	writeJSON(w, res, http.StatusCreated)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.list")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	events, err := h.service.List(ctx, u, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(w, "list workouts", u, err)
		return
	}
	writeJSON(w, events, http.StatusOK)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.reset")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Reset(ctx, u); err != nil {
		writeServiceError(w, "reset workouts", u, err)
		return
	}
	log.Infof("workouts of user %d reset", u.ID)
	pkg.WriteTextResponseOK(w, "reset")
}

func (h *Handler) HandleDaily(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.daily")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	daily, err := h.service.Daily(ctx, u, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(w, "daily stats", u, err)
		return
	}
	writeJSON(w, daily, http.StatusOK)
}

func (h *Handler) HandleWeekly(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.weekly")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	weekly, err := h.service.Weekly(ctx, u)
	if err != nil {
		writeServiceError(w, "weekly stats", u, err)
		return
	}
	writeJSON(w, weekly, http.StatusOK)
}

func (h *Handler) HandleLifetime(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.lifetime")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	lifetime, err := h.service.Lifetime(ctx, u)
	if err != nil {
		writeServiceError(w, "lifetime stats", u, err)
		return
	}
	writeJSON(w, lifetime, http.StatusOK)
}

func (h *Handler) HandleStreak(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.streak")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	streak, err := h.service.Streak(ctx, u)
	if err != nil {
		writeServiceError(w, "streak", u, err)
		return
	}
	writeJSON(w, streak, http.StatusOK)
}

func (h *Handler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.insights")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	report, err := h.service.Insights(ctx, u)
	if err != nil {
		writeServiceError(w, "insights", u, err)
		return
	}
	writeJSON(w, report, http.StatusOK)
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.export")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		http.Error(w, fmt.Sprintf("error, %s", err), http.StatusBadRequest)
		return
	}
	kind, err := export.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, fmt.Sprintf("error, %s", err), http.StatusBadRequest)
		return
	}

	artifact, err := h.service.Export(ctx, u, format, kind)
	if err != nil {
		writeServiceError(w, "export", u, err)
		return
	}
	pkg.WriteAttachment(w, artifact.MIMEType, artifact.Filename, artifact.Data)
}

// HandleImport accepts the JSON export either as the raw request body or as
// the "file" field of a multipart form.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.workouts.import")
	defer span.End()

	u, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	data, err := readImportBody(r)
	if err != nil {
		log.Errorf("import for user %d, read body: %s", u.ID, err)
		http.Error(w, "error, cannot read import file", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("import.bytes", len(data)))

	res, err := h.service.Import(ctx, u, data)
	if err != nil {
		if errors.Is(err, export.ErrInvalidImport) {
			log.Debugf("rejected import for user %d: %s", u.ID, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeServiceError(w, "import", u, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func readImportBody(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("form file: %w", err)
		}
		defer func() {
			if err := file.Close(); err != nil {
				log.Warnf("close import file: %s", err)
			}
		}()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func writeServiceError(w http.ResponseWriter, op string, u User, err error) {
	if errors.Is(err, ErrInvalidRange) {
		http.Error(w, fmt.Sprintf("error, %s", err), http.StatusBadRequest)
		return
	}
	log.Errorf("%s for user %d: %s", op, u.ID, err)
	http.Error(w, fmt.Sprintf("error, %s failed", op), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any, statusCode int) {
	resp, err := json.Marshal(v)
	if err != nil {
		log.Errorf("marshal response: %s", err)
		http.Error(w, "error, failed to marshal response", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, resp, statusCode)
}
