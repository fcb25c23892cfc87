package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts every route with request ids, panic recovery, compression, CORS and access logs.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(h.log))
	r.Use(middleware.Recoverer)
	r.Use(compress)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/banners/{bannerID}/pulls", h.Pull)
		r.Post("/banners/{bannerID}/simulations", h.Simulate)
		r.Get("/players/{playerID}/banners/{bannerID}/pity", h.Pity)
		r.Get("/players/{playerID}/banners/{bannerID}/history", h.History)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/banners", h.CreateBanner)
			r.Get("/banners/{bannerID}", h.GetBanner)
			r.Put("/banners/{bannerID}", h.UpdateBanner)
			r.Delete("/players/{playerID}/banners/{bannerID}/pity", h.ResetPity)
		})
	})
	return r
}
