package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"visionapi/internal/images"
)

// Options carries the listen address and timeouts.
type Options struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// NewRouter wires the routes and middleware.
func NewRouter(handler images.Handler, logger zerolog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(AccessLog(logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", handler.Health)
	router.Post("/upload", handler.Upload)
	router.Post("/analyze", handler.Analyze)
	router.Post("/generate", handler.Generate)

	return router
}

// New constructs the HTTP server with routes and middleware.
func New(opts Options, handler images.Handler, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           NewRouter(handler, logger),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server ready")
	return srv
}
