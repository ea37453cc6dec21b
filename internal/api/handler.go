package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/engine"
)

// maxRequestBodySize is the maximum allowed request body size (64KB).
// Calculate requests are tiny; anything larger is hostile.
const maxRequestBodySize = 64 << 10

// Evaluator runs one eligibility evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req domain.EligibilityRequest) (domain.EligibilityResult, error)
}

// HealthChecker reports a dependency's health for the verbose /health mode.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	evaluator Evaluator
	version   string
	checkers  map[string]HealthChecker
}

func NewHandler(evaluator Evaluator, version string) *Handler {
	return &Handler{
		evaluator: evaluator,
		version:   version,
		checkers:  make(map[string]HealthChecker),
	}
}

// WithHealthChecker registers a named dependency for verbose /health
// responses.
func (h *Handler) WithHealthChecker(name string, checker HealthChecker) *Handler {
	h.checkers[name] = checker
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Responses are consumed by storefront pages on another origin.
	w.Header().Set("Access-Control-Allow-Origin", "*")

	path := r.URL.Path

	switch {
	case path == "/api/calculate" && r.Method == http.MethodPost:
		h.calculate(w, r)

	case path == "/api/calculate" && r.Method == http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)

	case path == "/api/calculate":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")

	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/" && r.Method == http.MethodGet:
		h.index(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.CartTotal == nil {
		writeError(w, http.StatusBadRequest, "cartTotal is required")
		return
	}

	evalReq := domain.EligibilityRequest{
		CartTotal:  decimal.NewFromFloat(*req.CartTotal),
		RemoteAddr: clientAddr(r),
	}
	if req.CustomerID != nil {
		evalReq.CustomerID = *req.CustomerID
	}
	if req.SessionID != nil {
		evalReq.SessionID = *req.SessionID
	}

	result, err := h.evaluator.Evaluate(r.Context(), evalReq)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toCalculateResponse(result))

	case isValidationError(err):
		// Detail goes to the log; the response message is uniform.
		log.Printf("api: calculate validation error: %v", err)
		writeError(w, http.StatusBadRequest, "invalid request")

	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, toCalculateResponse(result))

	default:
		log.Printf("api: calculate error: %v", err)
		writeJSON(w, http.StatusInternalServerError, toCalculateResponse(result))
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checkers) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, checker := range h.checkers {
		if err := checker.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IndexResponse{
		Message: "Lifetime Value Discounts API",
		Version: h.version,
		Endpoints: map[string]string{
			"calculate": "/api/calculate",
			"health":    "/health",
		},
	})
}

func isValidationError(err error) bool {
	var verr *engine.ValidationError
	return errors.As(err, &verr)
}

// clientAddr extracts the originating address: first hop of X-Forwarded-For
// when present, else the connection's host. Forwarded headers are
// client-controllable; this key bounds volume, it does not authenticate.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
