package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"secure.mail/config"
	"secure.mail/internal/security"
)

type Deps struct {
	Manager *security.Manager
	Mailbox Mailbox
	Wallets Wallets
	// Events streams destruction events; nil disables the endpoint.
	Events http.Handler
}

func SetupRouter(d Deps, cfg *config.Config, log *zerolog.Logger) *chi.Mux {
	h := NewHandler(d.Manager, d.Mailbox, d.Wallets, cfg, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(h.log))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: []string{cfg.Server.BaseURL},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Long-lived websocket, kept out of the request timeout.
		if d.Events != nil {
			r.Handle("/events", d.Events)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			read := func(next http.Handler) http.Handler { return next }
			if cfg.RateLimit.Enabled {
				apiLimiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
				readLimiter := NewRateLimiter(cfg.RateLimit.ReadPerMin, time.Minute)
				r.Use(apiLimiter.Middleware)
				read = readLimiter.Middleware
			}
			r.Use(JSONOnly)

			r.Get("/presets", h.Presets)
			r.Post("/wallets", h.CreateWallet)

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", h.ComposeMessage)
				r.Get("/{id}", h.GetMessage)
				r.With(read).Post("/{id}/read", h.ReadMessage)
				r.Get("/{id}/report", h.GetReport)
				r.Get("/{id}/status", h.GetStatus)
				r.Delete("/{id}", h.DestroyMessage)
				r.Get("/{id}/vault", h.OpenVault)
			})

			r.Get("/mailbox/{address}/inbox", h.Inbox)
			r.Get("/mailbox/{address}/outbox", h.Outbox)
		})
	})

	return r
}
