package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/scamphub/scamp-backend/internal/api"
	"github.com/scamphub/scamp-backend/internal/api/account"
	"github.com/scamphub/scamp-backend/internal/api/servers"
	"github.com/scamphub/scamp-backend/internal/api/stats"
)

// Config contains dependencies needed for the router setup.
type Config struct {
	AccountHandler *account.AccountHandler
	ServersHandler *servers.ServersHandler
	StatsHandler   *stats.StatsHandler

	AuthenticateMiddleware func(http.Handler) http.Handler
	RequireVerifiedEmail   func(http.Handler) http.Handler
	RequireAdminMiddleware func(http.Handler) http.Handler
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are expected to be
// applied before mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		api.WriteTextResponse(w, http.StatusOK, "pong")
	})

	// Legacy game clients use the unversioned prefix; newer ones /api/v1.
	// Both serve the same routes.
	r.Route("/api", func(r chi.Router) {
		registerRoutes(r, cfg)
		r.Route("/v1", func(r chi.Router) {
			registerRoutes(r, cfg)
		})
	})

	return r
}

func registerRoutes(r chi.Router, cfg *Config) {
	// --- Public routes ---
	r.Group(func(r chi.Router) {
		r.Get("/hello", func(w http.ResponseWriter, r *http.Request) {
			api.WriteTextResponse(w, http.StatusOK, "HELLO WORLD")
		})

		r.Post("/users", cfg.AccountHandler.CreateUser)
		r.Post("/users/login", cfg.AccountHandler.Login)
		r.Post("/users/{id}/verify", cfg.AccountHandler.Verify)
		r.Post("/users/{id}/reset-password", cfg.AccountHandler.ResetPassword)
		r.Post("/users/{id}/reset-pin", cfg.AccountHandler.ResetPin)
		r.Get("/enduser-verify/{email}/{pin}", cfg.AccountHandler.VerifyByLink)

		r.Get("/servers", cfg.ServersHandler.GetServers)
		r.Post("/servers/{address}", cfg.ServersHandler.ReportServer)
		r.Get("/servers/{address}/sessions/{session}", cfg.AccountHandler.GetSessionUser)

		r.Get("/stats", cfg.StatsHandler.GetStats)
	})

	// --- Protected routes (valid token + verified email) ---
	r.Group(func(r chi.Router) {
		r.Use(cfg.AuthenticateMiddleware)
		r.Use(cfg.RequireVerifiedEmail)

		r.Get("/users/{id}", cfg.AccountHandler.GetProfile)
		r.Post("/users/{id}/play/{serverAddress}", cfg.AccountHandler.Play)
	})

	// --- Admin routes ---
	r.Group(func(r chi.Router) {
		r.Use(cfg.AuthenticateMiddleware)
		r.Use(cfg.RequireAdminMiddleware)

		r.Get("/secure/admin", func(w http.ResponseWriter, r *http.Request) {
			api.WriteTextResponse(w, http.StatusOK, "SECURE ROUTE")
		})
	})
}
