package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clipmill/internal/httpapi/handlers"
	"clipmill/internal/httpkit"
	"clipmill/internal/pkg/logger"
	"clipmill/internal/pkg/middleware"
)

type Deps struct {
	Handlers       handlers.Deps
	Log            *logger.Logger
	AllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	d.Handlers.Log = log

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	allowedOrigins := d.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:8081", "http://localhost:5173"}
	}
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH ----
	r.With(middleware.Timeout(15*time.Second)).Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		// ---- UPLOADS ----
		r.Post("/uploads", wrap(h.PostUpload))

		// ---- BATCHES ----
		r.Post("/batches", wrap(h.PostBatch))
		r.Post("/batches/async", wrap(h.PostBatchAsync))
		r.Get("/batches", wrap(h.ListBatches))
		r.Get("/batches/{jobId}", wrap(h.GetBatch))
		r.Get("/batches/{jobId}/manifests/{variant}", wrap(h.GetManifest))
	})

	return r
}
