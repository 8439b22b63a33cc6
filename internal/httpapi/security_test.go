package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/service"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

func TestSecurityHeadersAreSet(t *testing.T) {
	env := newTestAPI(t)

	res := doJSON(t, env.handler, http.MethodGet, "/healthz", nil, nil, "")

	for header, want := range map[string]string{
		"X-Content-Type-Options":           "nosniff",
		"X-Frame-Options":                  "DENY",
		"Access-Control-Allow-Origin":      "*",
		"Access-Control-Allow-Credentials": "true",
	} {
		if got := res.Header().Get(header); got != want {
			t.Fatalf("%s: expected %q, got %q", header, want, got)
		}
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	env := newTestAPI(t)

	res := doJSON(t, env.handler, http.MethodOptions, "/api/v1/sales", nil, nil, "")
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	env := newTestAPI(t)
	bad := domain.LoginRequest{Username: "owner", Password: "wrong-pass"}

	for i := 0; i < 5; i++ {
		res := doJSON(t, env.handler, http.MethodPost, "/api/v1/auth/login", bad, nil, "")
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, res.Code)
		}
	}
	res := doJSON(t, env.handler, http.MethodPost, "/api/v1/auth/login", bad, nil, "")
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", res.Code)
	}
}

func TestAttemptLimiterWindowSlides(t *testing.T) {
	limiter := newAttemptLimiter(2, 50*time.Millisecond)

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected the first two attempts to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third attempt inside the window to be refused")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected other keys to be unaffected")
	}
	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("a") {
		t.Fatalf("expected attempts to be allowed again after the window")
	}
}

func TestOversizedJSONBodyIsRejected(t *testing.T) {
	env := newTestAPI(t)
	padding := strings.Repeat("x", maxJSONBody+1)
	body := fmt.Sprintf(`{"username":"owner","password":%q}`, padding)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	env.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUnknownJSONFieldsAreRejected(t *testing.T) {
	env := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"owner","password":"x","role":"admin"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	env.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestMutationsNeedCSRFToken(t *testing.T) {
	env := newTestAPI(t)
	owner := login(t, env.handler, "owner", ownerPassword)

	res := doJSON(t, env.handler, http.MethodPost, "/api/v1/categories", domain.CategoryInput{Name: "Drinks"}, owner.cookie, "")
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", res.Code)
	}
	res = doJSON(t, env.handler, http.MethodPost, "/api/v1/categories", domain.CategoryInput{Name: "Drinks"}, owner.cookie, "forged")
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with forged token, got %d", res.Code)
	}
	res = doJSON(t, env.handler, http.MethodPost, "/api/v1/categories", domain.CategoryInput{Name: "Drinks"}, owner.cookie, fetchCSRFToken(t, env.handler))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d: %s", res.Code, res.Body.String())
	}
}

func TestCSRFTokenAcceptsPreviousHour(t *testing.T) {
	env := newTestAPI(t)
	previous := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour).Unix()
	stale := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour).Unix()

	if !env.api.validateCSRFToken(env.api.csrfTokenForHour(previous)) {
		t.Fatalf("expected previous hour token to validate")
	}
	if env.api.validateCSRFToken(env.api.csrfTokenForHour(stale)) {
		t.Fatalf("expected token from two hours ago to be refused")
	}
}

func TestWipeNeedsPasswordAndIsRateLimited(t *testing.T) {
	env := newTestAPI(t)
	owner := login(t, env.handler, "owner", ownerPassword)
	csrf := fetchCSRFToken(t, env.handler)

	for i := 0; i < 3; i++ {
		res := doJSON(t, env.handler, http.MethodPost, "/api/v1/admin/wipe", domain.WipeRequest{Password: "wrong-pass"}, owner.cookie, csrf)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("attempt %d: expected 400, got %d", i+1, res.Code)
		}
	}
	res := doJSON(t, env.handler, http.MethodPost, "/api/v1/admin/wipe", domain.WipeRequest{Password: ownerPassword}, owner.cookie, csrf)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", res.Code)
	}
}

func TestServiceErrorStatusMapping(t *testing.T) {
	env := newTestAPI(t)
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: name is required", store.ErrInvalidInput), http.StatusBadRequest},
		{service.ErrUnauthenticated, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: product", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: Kopi", store.ErrInsufficientStock), http.StatusConflict},
		{store.ErrConflict, http.StatusConflict},
		{store.ErrSerialization, http.StatusConflict},
	}
	for _, tc := range cases {
		res := httptest.NewRecorder()
		env.api.writeServiceError(res, tc.err)
		if res.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, res.Code)
		}
	}
}

func TestInternalErrorsHideDetail(t *testing.T) {
	env := newTestAPI(t)
	res := httptest.NewRecorder()

	env.api.writeServiceError(res, errors.New(`pq: relation "sales_secret" does not exist`))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Fatalf("expected generic message, got %q", body["error"])
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	if got := clientKey(req); got != "10.0.0.7" {
		t.Fatalf("expected host only, got %q", got)
	}
	req.RemoteAddr = "[::1]:8080"
	if got := clientKey(req); got != "::1" {
		t.Fatalf("expected ipv6 host, got %q", got)
	}
}
