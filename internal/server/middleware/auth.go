package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/routewatch/routewatch/pkg/auth"
)

// NewAuthMiddleware rejects any upgrade request without a valid identity
// token. The token rides in the `token` query parameter (the websocket
// equivalent of a connect-time auth payload) or an Authorization bearer
// header. Rejection closes the connection before the upgrade; this is the
// only error ever surfaced to a client.
func NewAuthMiddleware(logger *slog.Logger, verifier auth.TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
					tokenString = strings.TrimPrefix(header, "Bearer ")
				}
			}
			if tokenString == "" {
				logger.Warn("Connection attempt without token", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			identity, err := verifier.VerifyToken(tokenString)
			if err != nil {
				logger.Warn("Invalid token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.RiderID = identity.RiderID
			next.ServeHTTP(w, r)
		})
	}
}
