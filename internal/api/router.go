package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog)
	r.Use(cors(corsSettings{
		origins: s.cfg.CORS.AllowedOrigins,
		methods: s.cfg.CORS.AllowedMethods,
		headers: s.cfg.CORS.AllowedHeaders,
	}))
	r.Use(limitBody)

	r.Route("/api/v1", func(r chi.Router) {
		// unauthenticated
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Post("/query", s.handleQuery)
			r.Post("/command", s.handleCommand)
			r.Get("/schema", s.handleDescribeSchema)

			r.Route("/tables", func(r chi.Router) {
				r.Get("/", s.handleListTables)

				r.Route("/{table}", func(r chi.Router) {
					r.Get("/", s.handleDescribeTable)
					r.Post("/rows", s.handleInsertRow)
					r.Patch("/rows", s.handleUpdateRows)
					r.Delete("/rows", s.handleDeleteRows)
					r.Post("/columns", s.handleAddColumn)
				})
			})

			r.Get(wsRoute(s.hub.cfg.Path), s.handleWebSocket)
		})
	})

	return r
}

// wsRoute normalises the configured WebSocket path under /api/v1.
func wsRoute(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// handleHealth reports liveness and whether the default store opens.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if err := s.checkDefaultStore(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store_error"] = err.Error()
	}

	writeJSON(w, status, body)
}
