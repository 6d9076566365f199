package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"projector/internal/auth"
	"projector/internal/config"
	"projector/internal/entity"
	"projector/internal/http/handler"
	mw "projector/internal/http/middleware"
)

// Deps are the collaborators of the router. Users and Projections are only
// available on the Postgres backend; their routes are not mounted when nil.
type Deps struct {
	Config      config.Config
	Service     *entity.Service
	JWT         *auth.JWT
	Users       handler.UserStore
	Projections handler.ProjectionLister
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if d.Logger != nil {
		r.Use(mw.Logger(d.Logger))
	}
	r.Use(chimw.Recoverer)

	if len(d.Config.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(d.Config.CORSAllowedOrigins, d.Config.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	if d.Users != nil {
		ah := &handler.AuthHandler{Users: d.Users, JWT: d.JWT}
		r.Post("/auth/register", ah.Register)
		r.Post("/auth/login", ah.Login)
	}

	eh := &handler.EntityHandler{Svc: d.Service}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", eh.List)
			r.Get("/{type}", eh.List)
			r.Post("/{type}", eh.Create)
			r.Put("/{type}/{id}", eh.Save)
			r.Delete("/{type}/{id}", eh.Drop)
			r.Get("/{type}/{id}/timeline", eh.Timeline)
		})

		r.Get("/games", eh.Games)

		if d.Projections != nil {
			ph := &handler.ProjectionHandler{Store: d.Projections}
			r.Get("/projections/{type}", ph.List)
		}
	})

	return r
}
