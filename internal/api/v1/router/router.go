package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"lessonforge/internal/api/v1/handler"
	"lessonforge/internal/app"
	"lessonforge/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// New builds the HTTP handler for the API server.
func New(a *app.App) http.Handler {
	logger := a.Logger
	logger.Info().Str("environment", a.Config.Environment).Msg("Router initialized")

	validate := validator.New(validator.WithRequiredStructEnabled())

	usageHandler := handler.NewUsageHandler(a.Ledger, logger)
	generationHandler := handler.NewGenerationHandler(a.Orchestrator, a.Writer, validate, logger)
	jobHandler := handler.NewJobHandler(a.Jobs, validate, logger)
	artifactHandler := handler.NewArtifactHandler(a.Ratings, validate, logger)
	billingHandler := handler.NewBillingHandler(a.Billing, logger)

	authMiddleware := middleware.AuthMiddleware(a.Config.JWTSecret, logger)

	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	usageHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	generationHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	jobHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	artifactHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	billingHandler.RegisterRoutes(apiV1Mux)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready(ctx); err != nil {
			logger.Warn().Err(err).Msg("Health check failed")
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux))
}
