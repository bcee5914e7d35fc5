// Package middleware provides HTTP middleware for the stream ledger API.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerKey contextKey = "caller"

// Claims carries the authenticated identity inside a JWT.
type Claims struct {
	Caller string `json:"caller"`
	jwt.RegisteredClaims
}

// Caller returns the identity attached by the auth middleware, empty when
// the request was not authenticated.
func Caller(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey).(string); ok {
		return v
	}
	return ""
}

// WithCaller attaches an identity to the context, used by tests and by
// trusted in-process callers.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// Authenticator validates bearer tokens and attaches the caller identity to
// the request context. With no secret configured it trusts the X-Caller
// header, which is only acceptable behind a gateway that sets it.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator. An empty secret disables JWT
// validation and falls back to the X-Caller header.
func NewAuthenticator(secret string) *Authenticator {
	secret = strings.TrimSpace(secret)
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Authenticator{secret: key}
}

// IssueToken signs a token for an identity, valid for ttl.
func (a *Authenticator) IssueToken(caller string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("no signing secret configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := &Claims{
		Caller: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "stream-layer",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Handler returns the authentication middleware.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			caller := strings.TrimSpace(r.Header.Get("X-Caller"))
			if caller == "" {
				jsonError(w, "missing X-Caller header", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			jsonError(w, "missing authorization", http.StatusUnauthorized)
			return
		}

		caller, err := a.validate(authHeader[7:])
		if err != nil {
			jsonError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (a *Authenticator) validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Caller != "" {
		return claims.Caller, nil
	}
	return "", fmt.Errorf("invalid token")
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
