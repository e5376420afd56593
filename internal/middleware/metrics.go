package middleware

import (
	"net/http"
	"time"

	"github.com/sakif/college-resources/internal/metrics"
)

// Metrics records a request count and latency observation per route.
// The route label is the chi pattern, read after the handler ran since chi
// fills it in while routing.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next.ServeHTTP(wrapped, r)

		metrics.RecordHTTPRequest(r.Method, routePattern(r), wrapped.statusCode, time.Since(start))
	})
}
