// Package http is the riverboat gateway: it accepts Party Boxes over
// REST, runs them through the pipeline, and exposes the delivery log
// and process metrics.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/campfirevalley/riverboat/internal/envelope"
	"github.com/campfirevalley/riverboat/internal/pipeline"
	"github.com/campfirevalley/riverboat/internal/store"
	"github.com/campfirevalley/riverboat/internal/telemetry"
)

// Inbound bodies may carry the full attachment budget plus envelope
// overhead.
const maxRequestBodyBytes = 12 << 20

// Config wires a Server. Store may be nil; AuthSecret empty disables
// bearer verification.
type Config struct {
	Addr       string
	Dispatcher *pipeline.Dispatcher
	Store      *store.Store
	AuthSecret string
	Version    string
	Logger     *slog.Logger
}

type Server struct {
	dispatcher *pipeline.Dispatcher
	store      *store.Store
	authSecret string
	version    string
	srv        *http.Server
	logger     *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		authSecret: cfg.AuthSecret,
		version:    cfg.Version,
		logger:     cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /metricsz", s.handleMetrics)
	mux.HandleFunc("POST /api/v1/partybox", s.withAuth(s.handleProcessBox))
	mux.HandleFunc("GET /api/v1/partybox/{boxID}", s.withAuth(s.handleGetBox))
	mux.HandleFunc("GET /api/v1/deliveries", s.withAuth(s.handleListDeliveries))

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      withLogging(cfg.Logger, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the configured handler chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server starting", "addr", s.srv.Addr)
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	io.WriteString(w, telemetry.RenderPrometheus())
}

// handleProcessBox hands the raw body to the pipeline. Parsing lives
// there so that malformed payloads get the coded PARSE_ERROR shape
// rather than a generic 400.
func (s *Server) handleProcessBox(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrResponse(w, envelope.NewError(envelope.CodeValidation,
			"request body too large or unreadable", false))
		return
	}

	boxed, errResp := s.dispatcher.Process(r.Context(), raw)
	if errResp != nil {
		writeErrResponse(w, errResp)
		return
	}
	writeJSON(w, http.StatusOK, boxed)
}

func (s *Server) handleGetBox(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeErrResponse(w, envelope.NewError(envelope.CodePipeline,
			"delivery log is not configured", false))
		return
	}
	boxID := r.PathValue("boxID")

	delivery, err := s.store.GetDelivery(r.Context(), boxID)
	if err != nil {
		writeErrResponse(w, envelope.NewError(envelope.CodePipeline, err.Error(), true))
		return
	}
	if delivery == nil {
		writeErr(w, http.StatusNotFound, "delivery not found")
		return
	}

	reports, err := s.store.ListReportsByBox(r.Context(), boxID)
	if err != nil {
		writeErrResponse(w, envelope.NewError(envelope.CodePipeline, err.Error(), true))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"delivery": delivery,
		"reports":  reports,
	})
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeErrResponse(w, envelope.NewError(envelope.CodePipeline,
			"delivery log is not configured", false))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeErr(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	deliveries, err := s.store.ListDeliveries(r.Context(), limit)
	if err != nil {
		writeErrResponse(w, envelope.NewError(envelope.CodePipeline, err.Error(), true))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// withAuth verifies the HS256 bearer token when a secret is
// configured. Health, version, and metrics stay open.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.authSecret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeErrResponse(w, envelope.NewError(envelope.CodeAuth,
				"missing bearer token", false))
			return
		}

		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.authSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			writeErrResponse(w, envelope.NewError(envelope.CodeAuth,
				"invalid bearer token", false))
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErrResponse serializes a coded error with its mapped HTTP
// status, so clients can reconcile the body without looking at the
// status line.
func writeErrResponse(w http.ResponseWriter, errResp *envelope.ErrorResponse) {
	writeJSON(w, envelope.HTTPStatus(errResp.Code), errResp)
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
