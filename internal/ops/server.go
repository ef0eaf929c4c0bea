// Package ops serves the operator surface: failure inspection and manual
// reprocessing, the processed-record catalogs, health and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/integration-relay/internal/failures"
	"github.com/example/integration-relay/internal/metrics"
	"github.com/example/integration-relay/internal/models"
	"github.com/example/integration-relay/internal/store"
)

// defaultListLimit caps the failure listing when no limit query parameter is
// supplied.
const defaultListLimit = 100

// ReadyFunc reports whether one upstream collaborator is ready.
type ReadyFunc func() bool

// Dependencies collects the collaborators the server exposes.
type Dependencies struct {
	Registry *failures.Registry
	Orders   *store.Orders
	Invoices *store.Invoices
	Logger   zerolog.Logger
	// Ready funcs are aggregated by /healthz; all must report true.
	Ready map[string]ReadyFunc
}

// Server is the operator HTTP server.
type Server struct {
	deps   Dependencies
	logger zerolog.Logger
	server *http.Server
}

// NewServer wires the routes and binds the listener address.
func NewServer(port int, deps Dependencies) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.New("ops: failure registry dependency is required")
	}
	if deps.Orders == nil || deps.Invoices == nil {
		return nil, errors.New("ops: order and invoice stores are required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "ops_server").Logger()

	s := &Server{deps: deps, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/failures", s.handleListFailures)
	mux.HandleFunc("GET /api/failures/{id}", s.handleGetFailure)
	mux.HandleFunc("POST /api/failures/{id}/reprocess", s.handleReprocess)
	mux.HandleFunc("POST /api/failures/{id}/discard", s.handleDiscard)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/invoices", s.handleListInvoices)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Start blocks serving requests until the listener is closed.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("ops server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	kind := models.EventKind(r.URL.Query().Get("kind"))

	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.FailureStatusPending
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records := s.deps.Registry.List(kind, status, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    s.deps.Registry.Len(),
		"returned": len(records),
		"failures": records,
	})
}

func (s *Server) handleGetFailure(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeFailureError(w, r.PathValue("id"), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.deps.Registry.Reprocess(r.Context(), id)
	if err != nil {
		metrics.ReprocessRequests.WithLabelValues("error").Inc()
		s.writeFailureError(w, id, err)
		return
	}
	metrics.ReprocessRequests.WithLabelValues("accepted").Inc()
	s.logger.Info().Str("failure_id", id).Str("status", record.Status).Msg("failure reprocess requested")
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.deps.Registry.Discard(id)
	if err != nil {
		s.writeFailureError(w, id, err)
		return
	}
	s.logger.Info().Str("failure_id", id).Msg("failure discarded")
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if number := r.URL.Query().Get("number"); number != "" {
		order, ok := s.deps.Orders.FindByNumber(number)
		if !ok {
			writeError(w, http.StatusNotFound, "order not found: "+number)
			return
		}
		writeJSON(w, http.StatusOK, order)
		return
	}
	orders := s.deps.Orders.List()
	writeJSON(w, http.StatusOK, map[string]any{"total": len(orders), "orders": orders})
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	if number := r.URL.Query().Get("number"); number != "" {
		invoice, ok := s.deps.Invoices.FindByNumber(number)
		if !ok {
			writeError(w, http.StatusNotFound, "invoice not found: "+number)
			return
		}
		writeJSON(w, http.StatusOK, invoice)
		return
	}
	invoices := s.deps.Invoices.List()
	writeJSON(w, http.StatusOK, map[string]any{"total": len(invoices), "invoices": invoices})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	components := make(map[string]bool, len(s.deps.Ready))
	healthy := true
	for name, ready := range s.deps.Ready {
		ok := ready != nil && ready()
		components[name] = ok
		if !ok {
			healthy = false
		}
	}

	status := http.StatusOK
	state := "up"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "down"
	}
	writeJSON(w, status, map[string]any{"status": state, "components": components})
}

// writeFailureError maps registry errors onto HTTP status codes.
func (s *Server) writeFailureError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, failures.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, failures.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, failures.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, failures.ErrMissingPayload):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error().Err(err).Str("failure_id", id).Msg("failure operation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
