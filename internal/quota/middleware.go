package quota

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/coffre/coffre/internal/metrics"
	"github.com/coffre/coffre/internal/protocol"
)

// SubjectFunc extracts the rate-limit key from an authenticated request.
// Returning false skips limiting for that request.
type SubjectFunc func(r *http.Request) (string, bool)

// Middleware returns HTTP middleware that applies the per-user token bucket.
// rpm=0 disables limiting entirely.
func Middleware(rl *RateLimiter, rpm int, subject SubjectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rpm == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, ok := subject(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow(sub, rpm) {
				metrics.RecordRateLimitHit()
				w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(sub, rpm)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(protocol.ErrorResponse{
					Error: "rate limit exceeded",
					Code:  http.StatusTooManyRequests,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
