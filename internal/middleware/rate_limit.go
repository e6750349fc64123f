package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"oauth-service/internal/cache"
	"oauth-service/pkg/oautherr"
)

// IPRateLimitMiddleware limits requests per remote IP over a coarse fixed
// window. It guards the user-facing device verification endpoint against
// user-code guessing; it is an availability control, not part of the state
// machine's correctness contract.
func IPRateLimitMiddleware(cache cache.Cache, logger *zap.Logger, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			exceeded, err := cache.CheckRateLimit(r.Context(), "ip:"+ip, limit, window)
			if err != nil {
				logger.Error("Rate limit check failed", zap.Error(err))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			if exceeded {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				w.WriteHeader(oautherr.ErrRateLimited.Status)
				w.Write([]byte(`{"error":"` + oautherr.ErrRateLimited.Code + `","error_description":"` + oautherr.ErrRateLimited.Description + `"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
