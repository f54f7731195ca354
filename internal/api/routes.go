package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailagent/internal/auth"
)

// SetupRoutes builds the router. The inbound webhook authenticates with its
// API key inside the handler; the account routes require a bearer token.
func SetupRoutes(h *Handlers, verifier *auth.Verifier) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Post("/process-email", h.ProcessEmail)
	r.Get("/verify", h.Verify)

	r.Group(func(r chi.Router) {
		if verifier != nil {
			r.Use(verifier.Middleware)
		}
		r.Post("/suggestions", h.Suggestions)
		r.Get("/user", h.User)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	return r
}
