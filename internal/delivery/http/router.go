package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"vaccinealert/internal/delivery/http/controllers"
	"vaccinealert/internal/delivery/http/middleware"
	"vaccinealert/internal/domain"
)

// RouterConfig holds the controllers and collaborators the router wires.
type RouterConfig struct {
	Logger         *slog.Logger
	Ops            *controllers.OpsController
	Auth           *controllers.AuthController
	Subscription   *controllers.SubscriptionController
	Verifier       domain.TokenVerifier
	AllowedOrigins []string
}

// NewRouter initializes the HTTP router with all application routes
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Public
	r.Get("/health", cfg.Ops.Health)
	r.Post("/auth/token", cfg.Auth.IssueToken)
	r.Get("/alerts/unsubscribe", cfg.Subscription.Unsubscribe)

	// Ops
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Verifier, domain.AudienceOps, cfg.Logger))
		r.Post("/cycles", cfg.Ops.RunCycle)
		r.Get("/cycles", cfg.Ops.ListCycles)
		r.Get("/cycles/latest", cfg.Ops.LatestCycle)
	})

	// Swagger
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	return r
}
