package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
)

const tokenIssuer = "cidpos"

var errInvalidSession = errors.New("invalid or expired session")

// AuthManager signs and reads session tokens. The permission snapshot in a
// token is informational; every request re-resolves the actor from storage.
type AuthManager struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	RoleID      string            `json:"rid"`
	Permissions permission.Matrix `json:"perms"`
}

func NewAuthManager(secret string, ttl time.Duration, cookieName string, secure bool) *AuthManager {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	cookieName = strings.TrimSpace(cookieName)
	if cookieName == "" {
		cookieName = "cidpos_session"
	}
	return &AuthManager{
		secret:     []byte(secret),
		ttl:        ttl,
		cookieName: cookieName,
		secure:     secure,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs a token for actor and returns it with its expiry.
func (a *AuthManager) Issue(actor domain.Actor) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		RoleID:      actor.RoleID,
		Permissions: actor.Permissions,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken verifies the signature and expiry and returns the claims.
func (a *AuthManager) ParseToken(tokenStr string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, errInvalidSession
	}
	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return nil, errInvalidSession
	}
	return claims, nil
}

func (a *AuthManager) SetCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// tokenFromRequest prefers the session cookie and falls back to a bearer
// header for non-browser clients.
func (a *AuthManager) tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authorization) > len("bearer ") && strings.EqualFold(authorization[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authorization[len("bearer "):])
	}
	return ""
}
