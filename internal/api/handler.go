// Package api exposes briefing operations over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/scheduler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// BriefingRunner runs one user's pipeline on demand.
type BriefingRunner interface {
	RunForUser(ctx context.Context, userID string) (domain.DeliveryResult, error)
}

type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]domain.DeliveryRecord, error)
}

type Ticker interface {
	Tick(ctx context.Context, now time.Time) (scheduler.TickResult, error)
}

// HealthChecker provides database health for /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	runner  BriefingRunner
	history HistoryReader
	ticker  Ticker
	db      HealthChecker
	logger  *zap.Logger
	clock   func() time.Time

	metricsPath    string
	metricsHandler http.Handler
}

func NewHandler(runner BriefingRunner, history HistoryReader, ticker Ticker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runner:  runner,
		history: history,
		ticker:  ticker,
		logger:  logger,
		clock:   time.Now,
	}
}

// WithHealthChecker sets the database checked by /health.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithMetrics mounts a metrics handler on the router.
func (h *Handler) WithMetrics(path string, handler http.Handler) *Handler {
	h.metricsPath = path
	h.metricsHandler = handler
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.health)
	if h.metricsHandler != nil {
		r.Handle(h.metricsPath, h.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users/{userID}/briefings", h.runBriefing)
		r.Get("/users/{userID}/deliveries", h.listDeliveries)
		r.Post("/tick", h.tick)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Components: map[string]string{"database": "healthy"}}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// runBriefing runs the pipeline now, outside the delivery window. The
// ledger still applies: a second call on the same day reports skipped.
func (h *Handler) runBriefing(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := validateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.runner.RunForUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownUser) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("api: run briefing error", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to run briefing")
		return
	}

	writeJSON(w, http.StatusOK, ToResultResponse(res))
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := validateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.history.History(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("api: list deliveries error", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	resp := ListDeliveriesResponse{UserID: userID, Deliveries: make([]DeliveryRecordResponse, len(records))}
	for i, rec := range records {
		resp.Deliveries[i] = ToRecordResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var req TickRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: now must be RFC3339")
			return
		}
	}

	now := h.clock()
	if req.Now != nil {
		now = *req.Now
	}

	res, err := h.ticker.Tick(r.Context(), now)
	if err != nil {
		h.logger.Error("api: tick error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}

	writeJSON(w, http.StatusOK, TickResponse{
		Now:       formatTime(now),
		Processed: res.Processed,
		Delivered: res.Delivered,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		NotDue:    res.NotDue,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
