package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errForbidden = errors.New("token does not match userId")

type subjectKey struct{}

// JWTAuth verifies HS256 bearer tokens signed with secret and stores the
// token subject on the request context. An empty secret disables the check.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			sub, err := verifyToken(auth[len(prefix):], secret)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "invalid token: %v", err)
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyToken(raw, secret string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// authorize checks that the authenticated subject, if any, is userID.
func authorize(r *http.Request, userID string) error {
	sub, ok := r.Context().Value(subjectKey{}).(string)
	if !ok {
		return nil
	}
	if sub != userID {
		return errForbidden
	}
	return nil
}
