package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"github.com/clickwallet/backend/internal/telegram"
)

// AuthMiddleware authenticates wallet API requests. Two credentials are
// accepted: raw Telegram WebApp init data in X-Telegram-Init-Data (verified
// against the bot token on every request), or a session JWT previously issued
// by /api/auth/session. Either way the resolved Telegram user id lands in the
// request context under "userID".
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-Telegram-Init-Data"); raw != "" {
			initData, err := telegram.VerifyInitData(raw, viper.GetString("bot.token"))
			if err != nil {
				http.Error(w, "Invalid init data", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), "userID", initData.User.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		userID, err := validateToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "userID", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, jwt.ErrTokenUnverifiable
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, jwt.ErrTokenInvalidClaims
	}

	// MapClaims decode numbers as float64.
	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 {
		return 0, jwt.ErrTokenInvalidClaims
	}
	return int64(id), nil
}
