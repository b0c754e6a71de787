package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

type requestIDCtxKey struct{}

// RequestID returns the id LogRequest attached to the context, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			entry := log.WithFields(log.Fields{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"user_agent": r.Header.Get("User-Agent"),
			})
			entry.Trace(" ====> request")

			resp := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			begin := time.Now()
			next.ServeHTTP(resp, r.WithContext(context.WithValue(r.Context(), requestIDCtxKey{}, reqID)))

			entry.WithFields(log.Fields{
				"status":   resp.statusCode,
				"duration": time.Since(begin).String(),
			}).Debug(" <==== response")
		})
	}
}
