// Package api exposes the scorer, prediction history, and model lifecycle
// over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/monitoring"
	"github.com/sells-group/dropout-risk/internal/scorer"
	"github.com/sells-group/dropout-risk/internal/store"
)

// Deps holds the collaborators a Server routes requests to.
type Deps struct {
	Scorer    *scorer.Scorer
	Store     store.Store
	Collector *monitoring.Collector
	Gatherer  prometheus.Gatherer
	Server    config.ServerConfig
	Train     config.TrainConfig
	ModelPath string
}

// Server handles HTTP requests.
type Server struct {
	scorer    *scorer.Scorer
	store     store.Store
	collector *monitoring.Collector
	gatherer  prometheus.Gatherer
	cfg       config.ServerConfig
	train     config.TrainConfig
	modelPath string
	limiter   *rate.Limiter
}

// New creates a Server. A nil Store records nothing and a nil Gatherer
// serves the default Prometheus registry.
func New(d Deps) *Server {
	s := &Server{
		scorer:    d.Scorer,
		store:     d.Store,
		collector: d.Collector,
		gatherer:  d.Gatherer,
		cfg:       d.Server,
		train:     d.Train,
		modelPath: d.ModelPath,
	}
	if s.store == nil {
		s.store = store.Noop{}
	}
	if s.collector == nil {
		s.collector = monitoring.NewCollector(s.store, s.activeVersion)
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if d.Server.RateLimit > 0 {
		burst := d.Server.RateBurst
		if burst <= 0 {
			burst = int(d.Server.RateLimit)
		}
		s.limiter = rate.NewLimiter(rate.Limit(d.Server.RateLimit), max(burst, 1))
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/predict", s.handlePredict)
		r.Post("/predict/batch", s.handlePredictBatch)
	})

	r.Post("/model/reload", s.handleReload)
	r.Post("/model/retrain", s.handleRetrain)
	r.Get("/predictions", s.handlePredictions)
	r.Get("/stats", s.handleStats)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no such route"})
	})
	return r
}

func (s *Server) activeVersion() (string, bool) {
	mv, ok := s.scorer.Active()
	return mv.Version, ok
}

// rateLimit rejects scoring requests beyond the configured rate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many scoring requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError renders err as {"error": kind, "message": ...}. Errors without
// a kind are internal.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	name := string(kind)
	if kind == "" {
		name = "internal_error"
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("kind", name), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: name, Message: apperr.Message(err)})
}
