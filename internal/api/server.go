package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"eeg-io-engine/internal/pipeline"
)

type Server struct {
	dataset  *pipeline.Dataset
	gatherer prometheus.Gatherer
	logger   log.FieldLogger

	server       *http.Server
	shutdownOnce sync.Once
}

// NewServer serves ds read-only. gatherer may be nil, in which case /metrics
// is not mounted.
func NewServer(ds *pipeline.Dataset, gatherer prometheus.Gatherer, logger log.FieldLogger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{dataset: ds, gatherer: gatherer, logger: logger}
}

// RecordResponse is one (signal, label) pair.
type RecordResponse struct {
	Index  int     `json:"index"`
	ClipID string  `json:"clip_id"`
	Shape  []int   `json:"shape"`
	Data   []Float `json:"data"`
	Label  any     `json:"label"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{"/health", "/stats", "/records/{index}"}
	if s.gatherer != nil {
		endpoints = append(endpoints, "/metrics")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "eeg-io-engine",
		"ok":         true,
		"time_utc":   time.Now().UTC().Format(time.RFC3339),
		"endpoints":  endpoints,
		"api_schema": 1,
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"time_utc": time.Now().UTC().Format(time.RFC3339),
		"records":  s.dataset.Len(),
	})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dataset.Describe())
}

func (s *Server) HandleRecord(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	signal, label, err := s.dataset.Get(index)
	switch {
	case errors.Is(err, pipeline.ErrIndex):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.WithError(err).WithField("index", index).Error("record read failed")
		writeError(w, http.StatusInternalServerError, "record read failed")
		return
	}

	row, err := s.dataset.Row(index)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "record read failed")
		return
	}

	writeJSON(w, http.StatusOK, NewRecordResponse(index, row.ClipID(), signal, label))
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.HandleRoot)
	r.Get("/health", s.HandleHealth)
	r.Get("/stats", s.HandleStats)
	r.Get("/records/{index}", s.HandleRecord)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
		}).Debug("request completed")
	})
}

// Start serves on addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("API server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return errors.Wrap(err, "API server failed")
	}
}

// Stop is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.server == nil {
			return
		}
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "API server shutdown")
			return
		}
		s.logger.Info("API server stopped")
	})
	return shutdownErr
}
