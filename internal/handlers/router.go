package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/batches"
	"github.com/tendant/cutimage-pipeline/internal/metrics"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Service *batches.Service
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// NewRouter builds the HTTP routes of the pipeline
func NewRouter(cfg RouterConfig) http.Handler {
	async := NewAsyncHandler(cfg.Service)
	batch := NewBatchHandler(cfg.Service)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/process", async.HandleProcessAsync)
		r.Get("/runs/{runID}", async.HandleStatus)

		r.Post("/batches", batch.HandleUpload)
		r.Route("/batches/{batchID}", func(r chi.Router) {
			r.Get("/", batch.HandleStatus)
			r.Post("/process", async.HandleProcess)
			r.Post("/reprocess", async.HandleReprocess)
			r.Get("/result", batch.HandleResult)
		})
	})
	r.Get("/processed/{batchID}/{name}", batch.HandleAsset)

	return r
}

// requestLogger attaches a request-scoped logger to the context and logs
// each completed request
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}
