package middleware

import (
	"log/slog"
	"net/http"

	"github.com/routewatch/routewatch/pkg/config"
)

type RiderConnectionCounter func(riderID string) (int, error)
type RiderConnectionCycler func(riderID string)

// NewConnectionLimiter bounds how many concurrent connections a single rider
// may hold. Useful against feeds and clients that reconnect in a loop.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter RiderConnectionCounter,
	cycler RiderConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerRider <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if reqMeta.RiderID == "" {
				logger.Warn("Connection limiter could not determine riderID from metadata; blocking request for safety.")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			count, err := counter(reqMeta.RiderID)
			if err != nil {
				logger.Error("Connection limiter failed to get connection count", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if count < cfg.MaxPerRider {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Rider connection limit reached", slog.String("riderID", reqMeta.RiderID), slog.Int("count", count))
			switch cfg.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case "cycle":
				cycler(reqMeta.RiderID)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
