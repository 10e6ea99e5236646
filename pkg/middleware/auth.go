package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"team-collab-backend/pkg/models"
	"team-collab-backend/pkg/utils"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	UserContextKey ContextKey = "user"
)

// AuthMiddleware JWT认证中间件
//
// The access token comes from "Authorization: Bearer <token>". Browsers cannot set
// headers on a websocket handshake, so upgrade requests may pass it as ?token= instead.
func AuthMiddleware(jwtService *utils.JWTService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := extractToken(r)
			if err != nil {
				logger.Debug("auth rejected", "path", r.URL.Path, "reason", err.Error())
				utils.WriteUnauthorizedResponse(w, err.Error())
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenString)
			if err != nil {
				logger.Debug("auth rejected", "path", r.URL.Path, "reason", err.Error())
				utils.WriteUnauthorizedResponse(w, "Invalid token")
				return
			}

			// 将用户信息添加到请求context中
			user := &models.User{ID: claims.UserID, Email: claims.Email}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		// 检查Bearer前缀
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			return "", fmt.Errorf("Invalid authorization header format")
		}
		return tokenString, nil
	}
	if isWebSocketUpgrade(r) {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("Missing authorization header")
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// WithUser 将用户放入context
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserFromContext 从context中获取用户信息
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// RequireUser 要求用户必须已认证的辅助函数
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not authenticated")
	}
	return user, nil
}
