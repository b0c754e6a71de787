package middleware

import (
	"io"
	"net/http"
)

// maxDrainBytes caps how much of an unread body (e.g. a rejected import) is
// drained before the connection is given back for reuse.
const maxDrainBytes = 4 << 20

func DrainAndCloseRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body != nil {
				_, _ = io.CopyN(io.Discard, r.Body, maxDrainBytes)
				_ = r.Body.Close()
			}
		})
	}
}
