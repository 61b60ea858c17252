package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/logger"
	"varejo/backend/internal/service"
)

const maxBodyBytes = 1 << 20

var errTooManyLogins = errors.New("too many login attempts")

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	validate      *validator.Validate
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		validate:      newValidator(),
		logger:        log,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it fits in the window.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, "admin"))
	mux.HandleFunc("GET /api/v1/products/low-stock", a.requireAuth(a.handleLowStock, "admin"))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, "admin"))

	mux.HandleFunc("POST /api/v1/cart/quote", a.requireAuth(a.handleQuote, "cashier", "admin"))

	mux.HandleFunc("POST /api/v1/orders", a.requireAuth(a.handleCheckout, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/orders", a.requireAuth(a.handleListOrders, "admin"))
	mux.HandleFunc("GET /api/v1/orders/{id}", a.requireAuth(a.handleGetOrder, "admin"))
	mux.HandleFunc("GET /api/v1/orders/{id}/receipt", a.requireAuth(a.handleReceipt, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", a.requireAuth(a.handleCancelOrder, "admin"))
	mux.HandleFunc("DELETE /api/v1/orders/{id}", a.requireAuth(a.handleRemoveOrder, "admin"))
	mux.HandleFunc("POST /api/v1/orders/{id}/returns", a.requireAuth(a.handleReturn, "admin"))

	mux.HandleFunc("POST /api/v1/inventory/movements", a.requireAuth(a.handleRecordMovement, "admin"))
	mux.HandleFunc("GET /api/v1/inventory/movements", a.requireAuth(a.handleListMovements, "admin"))
	mux.HandleFunc("GET /api/v1/inventory/check/{product_id}", a.requireAuth(a.handleCheckStock, "admin"))

	mux.HandleFunc("POST /api/v1/purchase-receipts", a.requireAuth(a.handleReceivePurchase, "admin"))
	mux.HandleFunc("GET /api/v1/purchase-receipts", a.requireAuth(a.handleListPurchaseReceipts, "admin"))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		reqLog := logger.FromContext(ctx, a.logger).With(
			zap.String("tenant_id", actor.TenantID),
			zap.String("actor", actor.Username),
		)
		next(w, r.WithContext(logger.WithContext(ctx, reqLog)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// checkManagerPIN applies the PIN limiter and the PIN itself. It writes the
// response and returns false when the request must stop here.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		}

		reqLog := a.logger.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context(), reqLog)))
		reqLog.Info("request",
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// decode reads a JSON body into dest and runs the struct's validate tags.
func (a *API) decode(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	if err := a.validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.Validationf("field %s failed %s", fe.Namespace(), describeTag(fe))
		}
		return domain.Validationf("%v", err)
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps the domain error taxonomy to HTTP. Stock and validation are
// checked first because a failed commit can still carry the business cause.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOverRefund):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientPayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCommitFailed), errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a service error with the details a client needs to
// act on it.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}

	var payErr *domain.InsufficientPaymentError
	if errors.As(err, &payErr) {
		body["total"] = payErr.Total.StringFixed(2)
		body["received"] = payErr.Received.StringFixed(2)
		body["shortfall"] = payErr.Shortfall.StringFixed(2)
	}
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
	}

	if status >= 500 {
		logger.FromContext(r.Context(), a.logger).Error("request failed", zap.Int("status", status), zap.Error(err))
		body["error"] = "internal server error"
		if status == http.StatusServiceUnavailable {
			body["error"] = "service temporarily unavailable"
			var commitErr *domain.CommitError
			if errors.As(err, &commitErr) {
				body["error"] = "order commit failed"
				body["stock"] = string(commitErr.Stock)
			}
		}
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
