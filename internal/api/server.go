// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/drift"
	"driftwatch/internal/logfiles"
	"driftwatch/internal/store"
)

// maxBodyBytes is the request-body ceiling; oversize requests fail before
// parsing.
const maxBodyBytes = 10 << 20

// testDataPattern identifies pipeline names that look like test data; in
// production such runs are rejected before analysis.
var testDataPattern = regexp.MustCompile(`(?i)test|sample|mock|dummy`)

// Server is the HTTP API server.
type Server struct {
	cfg        *config.AppConfig
	store      *store.Store
	models     *baseline.Manager
	detector   *drift.Detector
	catalog    *logfiles.Catalog
	version    string
	startTime  time.Time
	httpServer *http.Server
}

// NewServer wires the core components into an HTTP surface.
func NewServer(cfg *config.AppConfig, st *store.Store, models *baseline.Manager, detector *drift.Detector, catalog *logfiles.Catalog, version string) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		models:    models,
		detector:  detector,
		catalog:   catalog,
		version:   version,
		startTime: time.Now(),
	}
}

// Router builds the chi router with CORS and the body-size ceiling applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.cfg.FrontendURL},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(metricsMiddleware)
	r.Use(limitBody)

	r.Post("/analyze", s.handleAnalyze)
	r.Get("/history", s.handleHistory)
	r.Post("/train", s.handleTrain)
	r.Get("/pipelines/{name}", s.handlePipelineDiff)
	r.Get("/pipeline-logs", s.handleListLogs)
	r.Get("/pipeline-logs/{filename}", s.handleGetLog)
	r.Post("/pipeline-logs/{filename}/process", s.handleProcessLog)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Start begins listening on the configured port. Blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Port),
		Handler:     s.Router(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	log.Info().Int("port", s.cfg.Port).Str("env", s.cfg.Env).Msg("API server starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds 10 MiB")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform error envelope: a stable machine code plus a
// human message.
func writeError(w http.ResponseWriter, code int, tag, msg string) {
	writeJSON(w, code, map[string]string{"code": tag, "error": msg})
}
