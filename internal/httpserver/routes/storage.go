package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relay/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/relay/internal/httpserver/mw"
)

func init() { Register("storage", registerStorage) }

func registerStorage(r chi.Router, d deps.Deps) {
	if d.Media == nil {
		return
	}
	r.Route("/api/storage", func(r chi.Router) {
		r.Use(
			mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
			mw.EnforceHost(d.AllowedHosts, d.Logger),
			mw.RequireToken(d.APIToken, d.TrustProxy, d.Logger),
		)

		r.Get("/files", handlers.StorageFiles(d))
		r.With(mw.RateLimit(mw.RateLimitConfig{
			Burst:             5,
			RefillPerIPPerMin: 10,
			MaxEntries:        1024,
			IdleTTL:           15 * time.Minute,
			TrustProxy:        d.TrustProxy,
		})).Post("/files", handlers.StorageUpload(d))
	})
}
