package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/context-retrieval/app"
	"github.com/upb/context-retrieval/handlers"
	"github.com/upb/context-retrieval/middleware"
	"github.com/upb/context-retrieval/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(deps.Config.Server.RequestTimeout))
	r.Use(middleware.Metrics(deps.Metrics))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.UserIDHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.HealthChecks(), deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Registry != nil {
		r.Handle(deps.Config.Observability.MetricsPath, promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	ctxHandler := handlers.NewContextHandler(deps.ContextService, deps.ContextService.RerankerEnabled(), deps.Logger)

	r.Route("/api/v1/conversations/{"+middleware.ConversationIDParam+"}", func(r chi.Router) {
		r.Use(middleware.ExtractScope(deps.Logger))
		r.Post("/messages", ctxHandler.HandleStoreMessage)
		r.Post("/messages/batch", ctxHandler.HandleStoreBatch)
		r.Post("/context", ctxHandler.HandleGetContext)
		r.Delete("/messages/{messageID}", ctxHandler.HandleDeleteMessage)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{Error: "method_not_allowed", Message: "method not allowed"})
	})

	return r
}
