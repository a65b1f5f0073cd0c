package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const callerIDKey ctxKey = iota

// CallerID returns the authenticated caller id placed by NewAuthenticator.
func CallerID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(callerIDKey).(int64)
	return id, ok
}

// WithCallerID injects a caller id directly; used by tests that bypass tokens.
func WithCallerID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, callerIDKey, id)
}

// NewAuthenticator verifies the bearer token with the HMAC key and puts the
// numeric subject into the request context. Requests without a valid identity
// are rejected before any handler runs.
func NewAuthenticator(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				unauthorized(w, "invalid token")
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil {
				unauthorized(w, "invalid token subject")
				return
			}
			callerID, err := strconv.ParseInt(subject, 10, 64)
			if err != nil {
				unauthorized(w, "invalid token subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCallerID(r.Context(), callerID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
