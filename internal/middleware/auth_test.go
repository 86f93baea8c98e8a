package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/clickwallet/backend/internal/telegram"
)

const (
	testBotToken  = "7000000001:AAtestbottokenfortestsonly"
	testJWTSecret = "unit-test-secret"
)

func authTestHandler(t *testing.T, wantUserID int64) http.Handler {
	return AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := r.Context().Value("userID").(int64)
		assert.True(t, ok)
		assert.Equal(t, wantUserID, userID)
		w.WriteHeader(http.StatusOK)
	}))
}

func signedToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	assert.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("bot.token", testBotToken)
	viper.Set("jwt.secret_key", testJWTSecret)

	t.Run("accepts verified init data", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/get_balance", nil)
		req.Header.Set("X-Telegram-Init-Data", telegram.SignInitData(map[string]string{
			"auth_date": "1756600000",
			"user":      `{"id":42,"first_name":"Alice"}`,
		}, testBotToken))
		w := httptest.NewRecorder()

		authTestHandler(t, 42).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects forged init data", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/get_balance", nil)
		req.Header.Set("X-Telegram-Init-Data", telegram.SignInitData(map[string]string{
			"auth_date": "1756600000",
			"user":      `{"id":42,"first_name":"Alice"}`,
		}, "another-bot-token"))
		w := httptest.NewRecorder()

		authTestHandler(t, 42).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepts a valid session token", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}, testJWTSecret)

		req := httptest.NewRequest("POST", "/api/get_balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		authTestHandler(t, 42).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(-time.Hour).Unix(),
		}, testJWTSecret)

		req := httptest.NewRequest("POST", "/api/get_balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		authTestHandler(t, 42).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a token signed with the wrong key", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}, "wrong-secret")

		req := httptest.NewRequest("POST", "/api/get_balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		authTestHandler(t, 42).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/get_balance", nil)
		w := httptest.NewRecorder()

		authTestHandler(t, 42).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a malformed bearer header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/get_balance", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()

		authTestHandler(t, 42).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
