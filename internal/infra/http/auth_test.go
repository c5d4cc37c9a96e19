package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-auth"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("не удалось подписать токен: %v", err)
	}
	return signed
}

func authRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthMiddleware(t *testing.T) {
	var gotUser, gotEmail string
	handler := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r)
		gotEmail = UserEmail(r)
	}))

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "user-42",
		"email": "resident@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authRequest(token))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if gotUser != "user-42" || gotEmail != "resident@example.com" {
		t.Fatalf("контекст заполнен неверно: %q %q", gotUser, gotEmail)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	handler := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("обработчик не должен вызываться")
	}))

	cases := map[string]string{
		"без заголовка":  "",
		"чужой секрет":   signToken(t, "another-secret-entirely", jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()}),
		"истёкший токен": signToken(t, testSecret, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}),
		"без субъекта":   signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
	}
	for name, token := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authRequest(token))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: ожидали 401, получили %d", name, rec.Code)
		}
	}
}
