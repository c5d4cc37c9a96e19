package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyEmail
)

var errUnauthorized = errors.New("требуется авторизация")

// AuthMiddleware проверяет bearer-токен провайдера аутентификации (HS256)
// и кладёт идентификатор и email пользователя в контекст запроса.
// Токен считается доверенным: ядро не перепроверяет личность пользователя.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				WriteError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("неожиданный метод подписи")
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				WriteError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				WriteError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			email, _ := claims["email"].(string)
			ctx := context.WithValue(r.Context(), ctxKeyUserID, sub)
			ctx = context.WithValue(ctx, ctxKeyEmail, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID возвращает идентификатор пользователя из контекста запроса.
func UserID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

// UserEmail возвращает email пользователя из контекста запроса.
func UserEmail(r *http.Request) string {
	email, _ := r.Context().Value(ctxKeyEmail).(string)
	return email
}
