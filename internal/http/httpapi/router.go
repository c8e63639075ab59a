package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"recipes/internal/http/handlers"
	"recipes/internal/infra"
	"recipes/internal/middleware"
)

// Deps are the handlers and settings the public router is assembled from.
// Static and Metrics are optional.
type Deps struct {
	App             *handlers.App
	WebSocket       http.Handler
	Static          http.Handler
	Metrics         http.Handler
	Logger          infra.Logger
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	AllowedOrigins  []string
	RateLimitPerMin int
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(d.Logger),
		middleware.CORS(d.AllowedOrigins),
	)

	r.Get("/v1/healthz", d.App.Health)

	r.With(
		middleware.RateLimit(d.RateLimitPerMin, time.Minute),
		middleware.I18N(d.DefaultLocale, d.CountryLookup),
	).Get("/ws", d.WebSocket.ServeHTTP)

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static", d.Static))
	}

	return r
}
