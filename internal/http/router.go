package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/redmonkez12/go-auth-api/internal/auth"
	"github.com/redmonkez12/go-auth-api/internal/config"
	"github.com/redmonkez12/go-auth-api/internal/httputil"
	"github.com/redmonkez12/go-auth-api/internal/logging"
)

// Routes are the handlers mounted by NewRouter. Metrics and Frontend are
// optional.
type Routes struct {
	Auth           *auth.Handler
	AuthMiddleware *auth.Middleware
	Metrics        http.Handler
	// Frontend serves the web app, already wrapped in the route guard.
	Frontend http.Handler
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, routes Routes, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	r.Use(SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Compress(5))

	r.Get("/health", handleHealth)

	if routes.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", routes.Metrics)
	}

	// Swagger UI - only in development
	if cfg.Server.IsDevelopment() {
		logger.Info("swagger UI enabled", "path", "/swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", routes.Auth.Register)
		r.Post("/login", routes.Auth.Login)
		r.Post("/logout", routes.Auth.Logout)
		r.Post("/password-reset/forgot", routes.Auth.ForgotPassword)
		r.Post("/password-reset/reset", routes.Auth.ResetPassword)
		r.Post("/verify-email/send", routes.Auth.SendVerification)
		r.Post("/verify-email/verify", routes.Auth.VerifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(routes.AuthMiddleware.RequireAuth)
			r.Get("/me", routes.Auth.Me)
		})
	})

	if routes.Frontend != nil {
		r.NotFound(routes.Frontend.ServeHTTP)
	}

	return r
}

// handleHealth is a simple health check endpoint
// @Summary      Health check
// @Description  Check if the API is running
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "api is running"}, http.StatusOK)
}
