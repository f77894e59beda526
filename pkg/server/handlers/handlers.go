package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"leadlove-hq/meter/pkg/limits"
	"leadlove-hq/meter/pkg/limits/credits"
	"leadlove-hq/meter/pkg/limits/pricing"
	"leadlove-hq/meter/pkg/limits/storage"
	"leadlove-hq/meter/pkg/server/middleware"
	"leadlove-hq/meter/pkg/telemetry/logging"
	"leadlove-hq/meter/pkg/telemetry/tracing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

const (
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 64 << 10

	// DefaultHistoryLimit is the page size of the transactions endpoint.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps the limit query parameter.
	MaxHistoryLimit = 1000
)

// Handler serves the meter API on top of a gateway.
type Handler struct {
	gateway          *limits.Gateway
	unavailableRetry time.Duration
	logger           *slog.Logger
}

// New creates a handler. unavailableRetry is the retry hint returned when
// storage is down; zero defaults to 30 seconds.
func New(gateway *limits.Gateway, unavailableRetry time.Duration) *Handler {
	if unavailableRetry <= 0 {
		unavailableRetry = 30 * time.Second
	}
	return &Handler{
		gateway:          gateway,
		unavailableRetry: unavailableRetry,
		logger:           slog.Default().With("component", "server.handlers"),
	}
}

// Authorize handles POST /v1/authorize. Admitted requests answer 200;
// denials answer 429, 402 or 503 with the decision as body and the rate
// limit headers set.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := logging.WithPrincipal(r.Context(), req.Principal)
	tracing.SetRequestAttributes(trace.SpanFromContext(ctx), logging.GetRequestID(ctx), req.Principal, req.Endpoint)

	decision, err := h.gateway.Authorize(ctx, limits.Request{
		Principal:       req.Principal,
		Endpoint:        req.Endpoint,
		Cost:            req.Cost,
		Operation:       req.Operation,
		Params:          req.Params,
		ClientReference: req.ReferenceID,
		Metadata:        req.Metadata,
	})
	if decision == nil {
		h.serviceError(w, r, err)
		return
	}
	tracing.SetDecisionAttributes(trace.SpanFromContext(ctx), string(decision.Reason), decision.ReferenceID, decision.Cost)

	middleware.SetDecisionHeaders(w, decision)
	resp := AuthorizeResponse{AuthDecision: decision, RetryAfter: decision.RetryAfterSeconds()}
	if decision.Allowed {
		middleware.WriteJSON(w, http.StatusOK, resp)
		return
	}
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(resp.RetryAfter, 10))
	}
	middleware.WriteJSON(w, middleware.DenialStatus(decision.Reason), resp)
}

// Settle handles POST /v1/settle, the operation outcome event.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := logging.WithReferenceID(logging.WithPrincipal(r.Context(), req.Principal), req.ReferenceID)
	state, err := h.gateway.Settle(ctx, limits.Settlement{
		ReferenceID: req.ReferenceID,
		Principal:   req.Principal,
		Cost:        req.Cost,
		Outcome:     req.Outcome,
	})
	if err != nil {
		h.serviceError(w, r.WithContext(ctx), err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, SettleResponse{ReferenceID: req.ReferenceID, State: state})
}

// CreditEvent handles POST /v1/credits/events from the billing provider.
func (h *Handler) CreditEvent(w http.ResponseWriter, r *http.Request) {
	var event CreditEvent
	if !h.decode(w, r, &event) {
		return
	}
	if event.ReferenceID == "" {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest,
			"reference_id is required", 0)
		return
	}

	ctx := logging.WithPrincipal(r.Context(), event.Principal)
	res, err := h.gateway.Ledger().Credit(ctx, event.Principal, event.Amount, event.Type, event.ReferenceID, event.Description)
	if err != nil {
		h.serviceError(w, r.WithContext(ctx), err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, CreditEventResponse{Balance: res.Balance, Duplicate: res.Duplicate})
}

// Balance handles GET /v1/credits/{principal}.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	bal, err := h.gateway.Ledger().Account(r.Context(), principal)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, bal)
}

// Transactions handles GET /v1/credits/{principal}/transactions?limit=N.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest,
				fmt.Sprintf("limit must be a positive integer, got %q", raw), 0)
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	txs, err := h.gateway.Ledger().History(r.Context(), principal, limit)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []storage.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, TransactionsResponse{Principal: principal, Transactions: txs})
}

// Reconcile handles GET /v1/credits/{principal}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.gateway.Ledger().Reconcile(r.Context(), chi.URLParam(r, "principal"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// LimitStatus handles GET /v1/limits/{principal}?endpoint=/path. It
// reports the window without consuming a request.
func (h *Handler) LimitStatus(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = "/"
	}

	status, err := h.gateway.Limiter().Status(r.Context(), chi.URLParam(r, "principal"), endpoint)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, status)
}

// Quote handles GET /v1/quote/{operation}?maxResults=N. Every query
// parameter is passed to the price table.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string, len(r.URL.Query()))
	for key := range r.URL.Query() {
		params[key] = r.URL.Query().Get(key)
	}

	quote, err := h.gateway.Quote(chi.URLParam(r, "operation"), params)
	switch {
	case errors.Is(err, pricing.ErrUnknownOperation):
		middleware.WriteError(w, http.StatusNotFound, middleware.CodeNotFound, err.Error(), 0)
		return
	case err != nil:
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest, err.Error(), 0)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, quote)
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, http.StatusNotFound, middleware.CodeNotFound,
		"The requested resource was not found.", 0)
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, middleware.CodeInvalidRequest,
		"The requested method is not allowed for this resource.", 0)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest,
			"Invalid JSON body: "+err.Error(), 0)
		return false
	}
	return true
}

// serviceError maps an error to a response. Validation errors are shown to
// the caller; infrastructure errors are logged and answered generically.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isValidationError(err):
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest, err.Error(), 0)

	case errors.Is(err, storage.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "storage unavailable", "path", r.URL.Path, "error", err)
		middleware.WriteError(w, http.StatusServiceUnavailable, middleware.CodeUnavailable,
			"The service is temporarily unavailable. Please retry shortly.",
			int64(h.unavailableRetry/time.Second))

	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.CodeInternal,
			"An internal error occurred. Please try again later.", 0)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, limits.ErrInvalidRequest) ||
		errors.Is(err, credits.ErrInvalidAmount) ||
		errors.Is(err, credits.ErrInvalidPrincipal) ||
		errors.Is(err, credits.ErrInvalidType) ||
		errors.Is(err, credits.ErrNoUsage)
}
