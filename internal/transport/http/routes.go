package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "whisper-api"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", h.Info)
		r.Get("/models", h.ListModels)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.SubmitJob)
			r.Get("/", h.ListJobs)
			r.Get("/{id}", h.GetJob)
			r.Get("/{id}/result", h.GetJobResult)
			r.Delete("/{id}", h.CancelJob)
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
