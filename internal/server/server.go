// Package server is the HTTP boundary. Handlers never touch the
// template store or the catalogue directly: each request is turned
// into a command with a reply channel and enqueued for the
// dispatcher, then the handler waits (bounded) for the reply.
package server

import (
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"provisionr/internal/command"
	"provisionr/internal/config"
	"provisionr/internal/logging"
	"provisionr/internal/metrics"
	"provisionr/internal/openapi"
	"provisionr/internal/ratelimit"
	"provisionr/internal/store"
)

// replyTimeout bounds how long a handler waits for the dispatcher.
const replyTimeout = 5 * time.Second

type Server struct {
	httpServer *http.Server
	config     *config.Config
	queue      chan<- command.Command
	catalogue  *store.Catalogue
	limiter    *ratelimit.Limiter
	createdAt  time.Time

	dbHealthy     atomic.Bool
	healthChecker context.CancelFunc
}

func New(cfg *config.Config, queue chan<- command.Command, catalogue *store.Catalogue) *Server {
	s := &Server{
		config:    cfg,
		queue:     queue,
		catalogue: catalogue,
		createdAt: time.Now(),
	}
	s.dbHealthy.Store(true)

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		metrics.SetRateLimitSnapshotProvider(func() any { return s.limiter.Snapshot() })
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	s.healthChecker = healthCancel
	go s.runHealthChecker(healthCtx)

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	// Middleware chain: recovery -> gzip -> routes
	handler := s.recoveryMiddleware(s.gzipMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the middleware-wrapped handler for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// DBHealthy reports the last background catalogue ping result.
func (s *Server) DBHealthy() bool {
	return s.dbHealthy.Load()
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.HandleFunc("/openapi.json", s.openAPIHandler)
	mux.HandleFunc("/config/loglevel", s.logLevelHandler)

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.apiMiddleware(h))
	}

	api("POST /api/v1/template/{name}", s.postTemplateHandler)
	api("GET /api/v1/template/{name}", s.renderHandler)
	api("DELETE /api/v1/template/{name}", s.deleteTemplateHandler)
	api("PUT /api/v1/template/{name}/values", s.putValuesHandler)
	api("GET /api/v1/config/{name}", s.getConfigHandler)
	api("PUT /api/v1/config/{name}", s.putConfigHandler)
	api("GET /api/v1/rendered/{name}", s.listRenderedHandler)
	api("GET /api/v1/rendered/{name}/{id_value}", s.getRenderedHandler)
}

// runHealthChecker periodically pings the catalogue
func (s *Server) runHealthChecker(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.catalogue.Ping(pingCtx)
			cancel()

			if err != nil {
				consecutiveFailures++
				s.dbHealthy.Store(false)
				logging.Warn("health_check_failed", map[string]any{
					"error":                err.Error(),
					"consecutive_failures": consecutiveFailures,
				})
				continue
			}

			if consecutiveFailures > 0 {
				logging.Info("health_restored", map[string]any{
					"after_failures": consecutiveFailures,
				})
			}
			consecutiveFailures = 0
			s.dbHealthy.Store(true)
		}
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	httpStatus := http.StatusOK
	dbStatus := "connected"

	if !s.dbHealthy.Load() {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		dbStatus = "disconnected"
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"catalogue": dbStatus,
		"uptime":    time.Since(s.createdAt).String(),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snap := metrics.GetSnapshot()
	if snap == nil {
		json.NewEncoder(w).Encode(map[string]string{
			"error": "metrics not enabled",
		})
		return
	}

	json.NewEncoder(w).Encode(snap)
}

func (s *Server) openAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*") // Allow Swagger UI from anywhere

	json.NewEncoder(w).Encode(openapi.Spec())
}

func (s *Server) logLevelHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		level := r.URL.Query().Get("level")
		switch level {
		case "debug", "info", "warn", "error":
		default:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "level parameter required (debug, info, warn, error)",
			})
			return
		}

		logging.SetLevel(level)
		logging.Info("log_level_changed", map[string]any{
			"new_level": level,
		})

		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"level":  level,
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"current_level": logging.Level(),
		"usage":         "POST /config/loglevel?level=debug|info|warn|error",
	})
}

// statusRecorder captures the response code for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a short unique ID for request tracing
func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// getOrGenerateRequestID uses caller's request ID if provided, otherwise generates one
func getOrGenerateRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return generateRequestID()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// apiMiddleware applies rate limiting, request IDs, and per-endpoint
// metrics to the API routes.
func (s *Server) apiMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		endpoint := r.Method + " " + r.Pattern

		if s.limiter != nil {
			allowed, retryAfter := s.limiter.Allow(clientIP(r))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				metrics.Record(metrics.RequestMetrics{
					Endpoint:      endpoint,
					TotalDuration: time.Since(startTime),
					StatusCode:    http.StatusTooManyRequests,
					Error:         "rate limit exceeded",
				})
				return
			}
		}

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		m := metrics.RequestMetrics{
			Endpoint:      endpoint,
			Template:      r.PathValue("name"),
			TotalDuration: time.Since(startTime),
			StatusCode:    sr.status,
		}
		if sr.status >= 400 {
			m.Error = http.StatusText(sr.status)
		}
		metrics.Record(m)

		logFields := map[string]any{
			"request_id":  requestID,
			"endpoint":    endpoint,
			"template":    r.PathValue("name"),
			"remote_addr": r.RemoteAddr,
			"status_code": sr.status,
			"duration_ms": m.TotalDuration.Milliseconds(),
		}
		switch {
		case sr.status >= 500:
			logging.Error("request_failed", logFields)
		case sr.status >= 400:
			logging.Warn("request_rejected", logFields)
		default:
			logging.Info("request_completed", logFields)
		}
	})
}

// recoveryMiddleware catches panics and logs them
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.Error("panic_recovered", map[string]any{
					"error":  fmt.Sprintf("%v", err),
					"path":   r.URL.Path,
					"method": r.Method,
				})
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// gzipResponseWriter wraps http.ResponseWriter with gzip compression
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (grw *gzipResponseWriter) Write(b []byte) (int, error) {
	return grw.Writer.Write(b)
}

// gzip writer pool to reduce allocations
var gzipWriterPool = sync.Pool{
	New: func() any {
		return gzip.NewWriter(io.Discard)
	},
}

// gzipMiddleware compresses responses for clients that accept gzip
func (s *Server) gzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			gz.Close()
			gzipWriterPool.Put(gz)
		}()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length") // Length changes with compression

		grw := &gzipResponseWriter{Writer: gz, ResponseWriter: w}
		next.ServeHTTP(grw, r)
	})
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	logging.Info("server_starting", map[string]any{
		"addr": s.httpServer.Addr,
	})
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("server_shutting_down", nil)

	if s.healthChecker != nil {
		s.healthChecker()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Error("http_shutdown_error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	logging.Info("server_stopped", nil)
	return nil
}
