package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// GetRouter initialises a new http router and applies all routes
func GetRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	return applyRoutes(r, &handler{svc: svc})
}

func applyRoutes(r chi.Router, h *handler) chi.Router {
	r.Get("/", h.getIndex)
	r.Get("/health", h.getHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/datasets", h.getDatasets)
		r.Get("/datasets/{dataset}/template", h.getTemplate)
		r.Post("/datasets/{dataset}/uploads", h.postUpload)
		r.Get("/uploads/{id}", h.getUpload)
		r.Post("/uploads/{id}/submit", h.postSubmit)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}
