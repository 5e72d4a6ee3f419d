package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/auth"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
)

type requestIDKey struct{}

// RequestID injects an X-Request-ID into every request context and
// response header, reusing the client's when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Logging records one line per request.
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// publicPaths do not require authentication.
var publicPaths = map[string]bool{
	"/api/v1/health": true,
}

// Authenticate resolves the bearer credential to a principal. Secrets
// with the cov_ prefix authenticate as API keys against the store; other
// bearer values are treated as service tokens when a signer is
// configured. Fails closed.
func Authenticate(st store.Store, signer *auth.TokenSigner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				WriteUnauthorized(w, r, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <credential>')")
				return
			}
			credential := parts[1]

			var principal *auth.Principal
			var err error
			switch {
			case strings.HasPrefix(credential, auth.SecretPrefix):
				principal, err = auth.AuthenticateKey(r.Context(), st, time.Now().UTC(), credential)
			case signer != nil:
				principal, err = signer.Validate(credential)
			default:
				WriteUnauthorized(w, r, "Unrecognised credential")
				return
			}
			if err != nil {
				WriteUnauthorized(w, r, "Invalid or revoked credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RateLimit enforces a per-principal request budget. A nil limiter
// disables limiting; limiter failures fail open so a broken backend never
// blocks all traffic.
func RateLimit(limiter auth.Limiter, retryAfterSecs int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			actor := r.RemoteAddr
			if p := auth.GetPrincipal(r.Context()); p != nil {
				actor = p.TeamID.String()
			}
			allowed, err := limiter.Allow(r.Context(), actor)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				WriteTooManyRequests(w, r, retryAfterSecs)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireScope fetches the principal and checks its scope, writing the
// error response itself on failure.
func requireScope(w http.ResponseWriter, r *http.Request, required model.KeyScope) *auth.Principal {
	p := auth.GetPrincipal(r.Context())
	if p == nil {
		WriteUnauthorized(w, r, "")
		return nil
	}
	if !p.Allows(required) {
		WriteForbidden(w, r, "This operation requires "+string(required)+" scope")
		return nil
	}
	return p
}
