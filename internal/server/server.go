package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/cache"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/paginator"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/queue"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/refresh"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/rules"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/storage"
)

const (
	requestTimeout = 10 * time.Second
	healthTimeout  = 2 * time.Second
	adminHeader    = "X-Admin-Token"
	maxBodyBytes   = 1 << 20
	tracerName     = "github.com/ogulcanaydogan/ops-sentinel/internal/server"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

// AlertReader serves paginated alerts.
type AlertReader interface {
	Get(ctx context.Context, q paginator.Query) (*paginator.Page, error)
	Count(ctx context.Context, tenantID string, f paginator.Filters) (model.AlertsCount, error)
}

// AlertCache is the write side of the alerts cache.
type AlertCache interface {
	Push(tenantID string, alert model.Alert) error
	Invalidate(tenantID string)
	InvalidateAll() int
	Stats() cache.Stats
}

// NotificationQueue accepts and tracks outbound notifications.
type NotificationQueue interface {
	Enqueue(req model.NotificationRequest) (string, error)
	Cancel(id string) bool
	Get(id string) (model.NotificationRequest, bool)
	ListByStatus(status string, limit int) ([]model.NotificationRequest, error)
	Stats() queue.Stats
}

// RefreshRunner triggers refresh runs.
type RefreshRunner interface {
	Execute(ctx context.Context, tenantID string) (*refresh.Summary, error)
	Last() *refresh.Summary
}

// Services groups the components behind the API.
type Services struct {
	Alerts        AlertReader
	Cache         AlertCache
	Notifications NotificationQueue
	Refresh       RefreshRunner
}

// Server exposes alerts, cache, notification and refresh endpoints.
type Server struct {
	svc        Services
	mux        *http.ServeMux
	logger     *slog.Logger
	adminToken string
	metrics    http.Handler
	health     Pinger
	tracer     trace.Tracer
}

// Option configures a Server.
type Option func(*Server)

// WithAdminToken sets the token required to flush the whole cache. With no
// token configured the route is refused.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck makes /healthz report 503 while p cannot be reached.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// NewServer creates an API server.
func NewServer(svc Services, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		mux:    http.NewServeMux(),
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/tenants/{tenant}/alerts", s.handleAlerts)
	s.mux.HandleFunc("POST /api/v1/tenants/{tenant}/alerts", s.handlePushAlert)

	s.mux.HandleFunc("GET /api/v1/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("DELETE /api/v1/cache/{tenant}", s.handleInvalidate)
	s.mux.HandleFunc("DELETE /api/v1/cache", s.handleInvalidateAll)

	s.mux.HandleFunc("POST /api/v1/notifications", s.handleEnqueue)
	s.mux.HandleFunc("GET /api/v1/notifications", s.handleListNotifications)
	s.mux.HandleFunc("GET /api/v1/notifications/stats", s.handleQueueStats)
	s.mux.HandleFunc("GET /api/v1/notifications/{id}", s.handleGetNotification)
	s.mux.HandleFunc("DELETE /api/v1/notifications/{id}", s.handleCancel)

	s.mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/v1/refresh", s.handleLastRefresh)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the HTTP handler for this server. Every request runs in
// its own span named after the matched route.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveTraced)
}

func (s *Server) serveTraced(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		))
	defer span.End()

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	s.mux.ServeHTTP(sw, r)

	if r.Pattern != "" {
		span.SetName(r.Pattern)
		span.SetAttributes(attribute.String("http.route", r.Pattern))
	}
	span.SetAttributes(attribute.Int("http.response.status_code", sw.status))
	if sw.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(sw.status))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context(), healthTimeout); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tenantID := r.PathValue("tenant")
	q := r.URL.Query()
	filters := paginator.Filters{
		Severity: q.Get("severity"),
		Category: q.Get("category"),
		OSID:     q.Get("os_id"),
	}

	if countOnly, _ := strconv.ParseBool(q.Get("count_only")); countOnly {
		counts, err := s.svc.Alerts.Count(ctx, tenantID, filters)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
		return
	}

	page, err := intParam(q.Get("page"), 1, "page")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size, err := intParam(q.Get("page_size"), paginator.DefaultPageSize, "page_size")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.svc.Alerts.Get(ctx, paginator.Query{
		TenantID: tenantID,
		Page:     page,
		PageSize: size,
		Filters:  filters,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// pushRequest is either an informational event (kind set) or a complete
// alert.
type pushRequest struct {
	Kind           string       `json:"kind"`
	OperationID    string       `json:"operation_id"`
	OperationTitle string       `json:"operation_title"`
	Detail         string       `json:"detail"`
	At             time.Time    `json:"at"`
	Alert          *model.Alert `json:"alert"`
}

func (s *Server) handlePushAlert(w http.ResponseWriter, r *http.Request) {
	var body pushRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var alert model.Alert
	switch {
	case body.Kind != "":
		op := model.Operation{ID: body.OperationID, Title: body.OperationTitle}
		a, err := rules.Informational(rules.Kind(body.Kind), op, body.Detail, body.At)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		alert = a
	case body.Alert != nil:
		alert = *body.Alert
	default:
		s.writeError(w, r, &model.ValidationError{Field: "body", Reason: "kind or alert is required"})
		return
	}

	if err := s.svc.Cache.Push(r.PathValue("tenant"), alert); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": alert.ID})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Cache.Stats())
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	s.svc.Cache.Invalidate(tenantID)
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": tenantID})
}

func (s *Server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "admin token required"})
		return
	}
	n := s.svc.Cache.InvalidateAll()
	s.logger.Info("cache flushed via api", "entries", n, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	got := r.Header.Get(adminHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) == 1
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req model.NotificationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.svc.Notifications.Enqueue(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status == "" {
		status = string(model.StatusPending)
	}
	limit, err := intParam(q.Get("limit"), queue.DefaultListLimit, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.svc.Notifications.ListByStatus(status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Notifications.Stats())
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	req, ok := s.svc.Notifications.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "notification not found"})
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.svc.Notifications.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "notification not found"})
		return
	}
	if !s.svc.Notifications.Cancel(id) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "notification can no longer be cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Refresh.Execute(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleLastRefresh(w http.ResponseWriter, _ *http.Request) {
	last := s.svc.Refresh.Last()
	if last == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no refresh has run yet"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps validation failures to 400 and unknown tenants to 404.
// Anything else is logged and reported as an internal error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case model.IsValidation(err):
		var ve *model.ValidationError
		errors.As(err, &ve)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error()})
	case storage.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "tenant not found"})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func intParam(raw string, def int, field string) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &model.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return n, nil
}
