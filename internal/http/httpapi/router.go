package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"phrasebridge/internal/http/handlers"
	"phrasebridge/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthToken(app.Config.APIAuthToken))
		r.Post("/v1/actions", app.Actions)
		r.Get("/v1/staleness", app.StalenessReport)
	})

	// Webhook auth is a deployment concern (vendor-side signing); the rate
	// limit keeps a misbehaving sender from monopolizing the reconciler.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(120, time.Minute))
		r.Post("/v1/webhooks/phrase", app.Webhook)
	})

	return r
}
