package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/metrics"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/service"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

const maxJSONBody = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       *metrics.Metrics
	log           *slog.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	wipeLimiter   *attemptLimiter
	csrfSecret    []byte
}

type Options struct {
	AllowedOrigin string
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		panic(fmt.Sprintf("httpapi: read csrf secret: %v", err))
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       opts.Metrics,
		log:           log.With("component", "http"),
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		wipeLimiter:   newAttemptLimiter(3, 10*time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
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
	r := chi.NewRouter()
	r.Use(a.securityHeaders, a.metrics.Middleware, a.requestLog, a.checkCSRF)

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/logout", a.handleLogout)
		r.Get("/auth/csrf-token", a.handleCSRFToken)
		r.Get("/setup", a.handleSetupStatus)
		r.Post("/setup", a.handleSetup)

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)

			r.Get("/session", a.handleSession)
			r.Get("/dashboard", a.handleDashboard)

			r.Get("/categories", a.handleListCategories)
			r.Post("/categories", a.handleCreateCategory)
			r.Put("/categories/{id}", a.handleUpdateCategory)
			r.Delete("/categories/{id}", a.handleDeleteCategory)

			r.Get("/units", a.handleListUnits)
			r.Post("/units", a.handleCreateUnit)
			r.Put("/units/{id}", a.handleUpdateUnit)
			r.Delete("/units/{id}", a.handleDeleteUnit)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Get("/products/export", a.handleExportProducts)
			r.Post("/products/import", a.handleImportProducts)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Put("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)
			r.Get("/products/{id}/movements", a.handleProductMovements)

			r.Get("/stock/adjustments", a.handleListAdjustments)
			r.Post("/stock/adjustments", a.handleCreateAdjustment)

			r.Get("/customers", a.handleListCustomers)
			r.Post("/customers", a.handleCreateCustomer)
			r.Get("/customers/{id}", a.handleGetCustomer)
			r.Put("/customers/{id}", a.handleUpdateCustomer)
			r.Delete("/customers/{id}", a.handleDeleteCustomer)
			r.Get("/customers/{id}/payments", a.handleListCustomerPayments)
			r.Post("/customers/{id}/payments", a.handleCreateCustomerPayment)

			r.Get("/suppliers", a.handleListSuppliers)
			r.Post("/suppliers", a.handleCreateSupplier)
			r.Put("/suppliers/{id}", a.handleUpdateSupplier)
			r.Delete("/suppliers/{id}", a.handleDeleteSupplier)

			r.Get("/purchases", a.handleListPurchases)
			r.Post("/purchases", a.handleCreatePurchase)
			r.Get("/purchases/{id}", a.handleGetPurchase)
			r.Post("/purchases/{id}/receive", a.handleReceivePurchase)
			r.Post("/purchases/{id}/cancel", a.handleCancelPurchase)

			r.Get("/sales", a.handleListSales)
			r.Get("/sales/export", a.handleExportSales)
			r.Post("/sales", a.handleCheckout)
			r.Get("/sales/{id}", a.handleGetSale)
			r.Post("/sales/{id}/void", a.handleVoidSale)
			r.Get("/sales/{id}/returns", a.handleListSaleReturns)
			r.Post("/sales/{id}/returns", a.handleReturnSale)

			r.Get("/carts/held", a.handleListHeldCarts)
			r.Post("/carts/held", a.handleHoldCart)
			r.Post("/carts/held/{id}/resume", a.handleResumeHeldCart)
			r.Delete("/carts/held/{id}", a.handleDiscardHeldCart)

			r.Get("/roles", a.handleListRoles)
			r.Post("/roles", a.handleCreateRole)
			r.Put("/roles/{id}", a.handleUpdateRole)
			r.Delete("/roles/{id}", a.handleDeleteRole)

			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
			r.Patch("/users/{id}", a.handleUpdateUser)
			r.Delete("/users/{id}", a.handleDeleteUser)

			r.Get("/settings", a.handleGetSettings)
			r.Put("/settings", a.handleUpdateSettings)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/reports/sales", a.handleSalesReport)
			r.Get("/reports/sales/export", a.handleExportSalesReport)
			r.Post("/admin/wipe", a.handleWipe)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	return r
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if isMutating(r.Method) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(startedAt))
	})
}

// csrfExemptPaths are called before the client can hold a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/setup",
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) {
			exempt := false
			for _, path := range csrfExemptPaths {
				if r.URL.Path == path {
					exempt = true
					break
				}
			}
			if !exempt && !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
				writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession resolves the caller from storage on every request, so role
// edits and deactivation apply to sessions that are already open.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.auth.tokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, service.ErrUnauthenticated)
			return
		}
		claims, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		actor, err := a.service.ResolveActor(r.Context(), claims.Subject)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, err := a.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	token, expiresAt, err := a.auth.Issue(actor)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	session, err := a.service.Session(service.WithActor(r.Context(), actor))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.auth.SetCookie(w, token, expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"session":      session,
		"access_token": token,
		"expires_at":   expiresAt.Format(time.RFC3339),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, _ *http.Request) {
	a.auth.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Session(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// writeServiceError maps the service and store sentinels to status codes.
// 5xx detail is logged and never sent to the client.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrSerialization):
		status = http.StatusConflict
	}
	if status >= 500 {
		a.log.Error("request failed", "status", status, "error", err)
	}
	writeError(w, status, err)
}

// writeDeleted reports which delete policy was applied to the entity.
func writeDeleted(w http.ResponseWriter, entity string, id string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"policy": domain.DeletePolicies[entity],
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
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

func parseFlag(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
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
