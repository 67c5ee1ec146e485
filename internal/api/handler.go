package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/duckmesh/sqlchat/internal/chat"
	"github.com/duckmesh/sqlchat/internal/config"
	"github.com/duckmesh/sqlchat/internal/observability"
	"github.com/duckmesh/sqlchat/internal/query"
	"github.com/duckmesh/sqlchat/internal/transcript"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Sessions          *chat.Registry
	Schema            query.Schema
	// Transcript is optional; the transcript route answers 501 without it.
	Transcript transcript.Store
	// ChatLimiter throttles message posts across all sessions. Nil disables it.
	ChatLimiter *rate.Limiter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	deps.Logger = observability.LoggerOrDiscard(deps.Logger)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := map[string]http.HandlerFunc{
		"GET /v1/schema": func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		},
		"POST /v1/sessions": func(w http.ResponseWriter, r *http.Request) {
			handleCreateSession(deps, w, r)
		},
		"GET /v1/sessions/{id}": func(w http.ResponseWriter, r *http.Request) {
			handleGetSession(deps, w, r)
		},
		"DELETE /v1/sessions/{id}": func(w http.ResponseWriter, r *http.Request) {
			handleDeleteSession(deps, w, r)
		},
		"POST /v1/sessions/{id}/messages": func(w http.ResponseWriter, r *http.Request) {
			handlePostMessage(deps, w, r)
		},
		"GET /v1/sessions/{id}/transcript": func(w http.ResponseWriter, r *http.Request) {
			handleTranscript(deps, w, r)
		},
	}

	for pattern, handler := range routes {
		var protected http.Handler = handler
		if cfg.Auth.Required {
			if deps.AuthMiddleware == nil {
				deps.Logger.Error("auth required but auth middleware missing")
				protected = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			} else {
				protected = deps.AuthMiddleware(protected)
			}
		}
		mux.Handle(pattern, protected)
	}

	return chain(mux,
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
		observability.LoggingMiddleware(deps.Logger),
	)
}

// HealthChecker is satisfied by the query source and the transcript store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func CheckHealth(checker HealthChecker) ReadinessCheck {
	if checker == nil {
		return nil
	}
	return checker.HealthCheck
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
