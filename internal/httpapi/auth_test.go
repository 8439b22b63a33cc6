package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
)

func testActor() domain.Actor {
	return domain.Actor{
		UserID:      "user-1",
		Username:    "kasir",
		RoleID:      "role-1",
		RoleName:    permission.CashierRole,
		Permissions: permission.CashierDefaults(),
	}
}

func TestAuthManagerIssuesAndParsesToken(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "", false)

	token, expiresAt, err := auth.Issue(testActor())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour+time.Minute {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.RoleID != "role-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.Permissions.Can(permission.ModulePOS, permission.ActionAccess) {
		t.Fatalf("expected the permission snapshot to survive the round trip")
	}
}

func TestAuthManagerRejectsForeignTokens(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "", false)
	other := NewAuthManager("another-secret-that-is-long-enough!!", time.Hour, "", false)

	foreign, _, err := other.Issue(testActor())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to fail")
	}

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{
		Subject: "user-1",
		Issuer:  tokenIssuer,
	})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := auth.ParseToken(raw); err == nil {
		t.Fatalf("expected alg=none token to fail")
	}

	if _, err := auth.ParseToken("not-a-token"); err != errInvalidSession {
		t.Fatalf("expected errInvalidSession, got %v", err)
	}
}

func TestAuthManagerRejectsExpiredToken(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "", false)
	issuedAt := time.Now().UTC().Add(-2 * time.Hour)
	auth.now = func() time.Time { return issuedAt }

	token, _, err := auth.Issue(testActor())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.ParseToken(token); err != nil {
		t.Fatalf("expected token to be valid at issue time: %v", err)
	}

	auth.now = func() time.Time { return time.Now().UTC() }
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestTokenFromRequestPrefersCookie(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "pos_session", false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	if got := auth.tokenFromRequest(req); got != "header-token" {
		t.Fatalf("expected bearer fallback, got %q", got)
	}

	req.AddCookie(&http.Cookie{Name: "pos_session", Value: "cookie-token"})
	if got := auth.tokenFromRequest(req); got != "cookie-token" {
		t.Fatalf("expected cookie to win, got %q", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.Header.Set("Authorization", "Basic abc")
	if got := auth.tokenFromRequest(bare); got != "" {
		t.Fatalf("expected no token from basic auth, got %q", got)
	}
}

func TestLoginSetsHTTPOnlyCookie(t *testing.T) {
	env := newTestAPI(t)

	res := doJSON(t, env.handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "owner", Password: ownerPassword}, nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var session *http.Cookie
	for _, c := range res.Result().Cookies() {
		if c.Name == "cidpos_session" {
			session = c
		}
	}
	if session == nil {
		t.Fatalf("expected session cookie")
	}
	if !session.HttpOnly || session.SameSite != http.SameSiteLaxMode || session.Path != "/" {
		t.Fatalf("unexpected cookie attributes %+v", session)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := newTestAPI(t)

	unknown := doJSON(t, env.handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "ghost", Password: "whatever"}, nil, "")
	wrong := doJSON(t, env.handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "owner", Password: "wrong-pass"}, nil, "")

	if unknown.Code != http.StatusUnauthorized || wrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both, got %d and %d", unknown.Code, wrong.Code)
	}
	if errorMessage(t, unknown) != errorMessage(t, wrong) {
		t.Fatalf("expected identical failure messages")
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestAPI(t)
	owner := login(t, env.handler, "owner", ownerPassword)

	res := doJSON(t, env.handler, http.MethodPost, "/api/v1/auth/logout", nil, owner.cookie, fetchCSRFToken(t, env.handler))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	cleared := false
	for _, c := range res.Result().Cookies() {
		if c.Name == "cidpos_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected logout to expire the session cookie")
	}
}
