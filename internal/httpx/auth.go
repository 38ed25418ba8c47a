package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ventittlas/storefront/internal/sales"
)

type ctxKey struct{}

// Claims are the session claims the storefront issues. The buyer id is the
// standard subject; older tokens carry it as user_id.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) buyerID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// Authenticator resolves Bearer tokens into a sales.AuthContext.
type Authenticator struct {
	Secret []byte
}

func (a *Authenticator) Parse(token string) (sales.AuthContext, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return sales.AuthContext{}, err
	}
	if c.buyerID() == "" {
		return sales.AuthContext{}, errors.New("token has no subject")
	}
	return sales.AuthContext{BuyerID: c.buyerID(), Role: c.Role}, nil
}

// Sign issues a token for auth; used by tooling and tests.
func (a *Authenticator) Sign(auth sales.AuthContext, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = auth.BuyerID
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: auth.Role, RegisteredClaims: claims})
	s, err := t.SignedString(a.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Middleware rejects requests without a valid Bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeKind(w, sales.KindUnauthenticated, "missing bearer token")
			return
		}
		auth, err := a.Parse(raw)
		if err != nil {
			writeKind(w, sales.KindUnauthenticated, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), auth)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !AuthFrom(r.Context()).IsAdmin() {
			writeJSON(w, http.StatusForbidden, errorBody{ErrorKind: "Forbidden", Message: "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithAuth(ctx context.Context, a sales.AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// AuthFrom returns the identity on ctx, or the zero (unauthenticated) one.
func AuthFrom(ctx context.Context) sales.AuthContext {
	a, _ := ctx.Value(ctxKey{}).(sales.AuthContext)
	return a
}
