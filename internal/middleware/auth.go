package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const userIDKey ctxKey = iota

// clockSkew tolerated on exp/nbf between the token issuer and this service.
const clockSkew = 30 * time.Second

// Claims carries the subscriber identity. Tokens from issuers that only set
// the registered sub claim are accepted too.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (c *Claims) owner() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

type authFailure struct {
	msg  string
	code string
}

var (
	errNoCredentials = authFailure{"missing authorization header", "auth_required"}
	errBadScheme     = authFailure{"invalid authorization scheme", "auth_invalid_scheme"}
	errBadToken      = authFailure{"invalid token", "auth_invalid"}
)

// RequireAuth admits requests carrying an HS256 token signed with secret.
// The token is read from the Authorization header, or from the token query
// parameter on websocket handshakes where browsers cannot set headers.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) { return key, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, failure := tokenFrom(r)
			if failure != nil {
				failure.write(w)
				return
			}

			claims := &Claims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil || claims.owner() == "" {
				errBadToken.write(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, claims.owner())))
		})
	}
}

func tokenFrom(r *http.Request) (string, *authFailure) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
		return "", &errNoCredentials
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", &errBadScheme
	}
	return raw, nil
}

func (f authFailure) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": f.msg, "code": f.code})
}

// GetUserID returns the authenticated owner set by RequireAuth.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
