package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

// GatewayConfig carries the request-gate settings.
type GatewayConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

type claimsKey struct{}

// ClaimsFrom returns the verified claims attached by the gateway, if
// any.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// openPath reports whether the path is reachable without a token: the
// auth endpoints themselves, health probes, metrics, and the websocket
// entry point (the session actor authenticates the first frame).
func openPath(path string) bool {
	switch {
	case strings.HasPrefix(path, "/v1/auth/"):
		return true
	case path == "/healthz" || path == "/readyz" || path == "/metrics":
		return true
	case strings.HasPrefix(path, "/ws/"):
		return true
	}
	return false
}

// GatewayMiddleware logs every request, answers CORS preflights,
// enforces per-client rate limits, and verifies bearer tokens on the
// protected paths. Verified claims ride the request context.
func GatewayMiddleware(cfg GatewayConfig, verifier *Verifier) func(http.Handler) http.Handler {
	// rate limiters keyed by user id or remote ip
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if openPath(r.URL.Path) {
				if !limiters.Allow(clientIP(r)) {
					utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
					logger.Warn("rate_limited", "path", r.URL.Path, "remote", r.RemoteAddr)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(bearerToken(r))
			if err != nil {
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr, "err", err)
				return
			}

			// rate limit per authenticated user
			if !limiters.Allow(claims.Subject) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "user_id", claims.Subject, "path", r.URL.Path)
				return
			}

			logger.Debug("request_allowed", "method", r.Method, "path", r.URL.Path, "user_id", claims.Subject)
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken pulls the token from the Authorization header, falling
// back to the token query parameter for clients that cannot set
// headers.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return r.URL.Query().Get("token")
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
