package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relay/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/relay/internal/httpserver/mw"
)

func init() { Register("stream", registerStream) }

func registerStream(r chi.Router, d deps.Deps) {
	r.Route("/api/stream", func(r chi.Router) {
		r.Use(
			mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
			mw.EnforceHost(d.AllowedHosts, d.Logger),
			mw.RequireToken(d.APIToken, d.TrustProxy, d.Logger),
		)

		r.Get("/status", handlers.StreamStatus(d))
		r.Get("/config", handlers.GetStreamConfig(d))

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(mw.RateLimitConfig{
				Burst:             10,
				RefillPerIPPerMin: 20,
				MaxEntries:        1024,
				IdleTTL:           15 * time.Minute,
				TrustProxy:        d.TrustProxy,
			}))
			r.Post("/start", handlers.StreamStart(d))
			r.Post("/stop", handlers.StreamStop(d))
			r.Put("/config", handlers.PutStreamConfig(d))
		})
	})
}
