package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workpilot/config"
	"workpilot/mcp"
	"workpilot/observability"
)

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *APIHandler, mcpServer *mcp.Server, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(cfg.Agent.TimeoutSeconds+30) * time.Second))
	r.Use(corsMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(metricsMiddleware)

	// Public routes
	r.Get("/", h.handleIndex)
	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// OAuth flow
	r.Get("/auth/google", h.handleGoogleLogin)
	r.Get("/auth/google/callback", h.handleGoogleCallback)
	r.Get("/auth/logout", h.handleLogout)
	r.Post("/auth/logout", h.handleLogout)

	// Tool protocol surface; it authenticates its own bearer tokens
	r.Handle("/mcp", mcpServer)

	// Authenticated API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.app.resolver.Middleware)

		r.Get("/me", h.handleMe)
		r.Delete("/me", h.handleDisconnect)
		r.Get("/health/agent", h.handleAgentHealth)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/chat-spaces", h.handleChatSpaces)

			// Only workflow invocations count against the daily
			// allowance, matching the tool protocol surface.
			r.Group(func(r chi.Router) {
				r.Use(h.app.resolver.MeterMiddleware)
				r.Post("/run-all", h.handleRunAll)
				r.Post("/{name}", h.handleRunWorkflow)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.handleGetSettings)
			r.Put("/agent-key", h.handleSetAgentKey)
			r.Put("/workflows", h.handleSetToggles)
			r.Put("/automation", h.handleSetAutomation)
		})

		r.Route("/api-keys", func(r chi.Router) {
			r.Post("/", h.handleMintAPIKey)
			r.Get("/", h.handleListAPIKeys)
			r.Delete("/{id}", h.handleRevokeAPIKey)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/lists", h.handleTaskLists)
			r.Get("/lists/{id}/tasks", h.handleListTasks)
			r.Post("/", h.handleCreateTask)
		})
	})

	return r
}

// corsMiddleware returns CORS middleware with the specified allowed origins
func corsMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := strings.Split(allowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// metricsMiddleware records per-route request counts and latency. Labels use
// the chi route pattern, not the raw path, to keep cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		observability.GetMetrics().RecordHTTPRequest(
			r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
