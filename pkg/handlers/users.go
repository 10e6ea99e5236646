package handlers

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/config"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/middleware"
	"team-collab-backend/pkg/models"
	"team-collab-backend/pkg/utils"
)

const (
	serviceName    = "team-collab-backend"
	serviceVersion = "1.0.0"
)

// UserHandler 用户与令牌处理器
type UserHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	jwt    *utils.JWTService
	logger *slog.Logger
}

// NewUserHandler 创建用户处理器
func NewUserHandler(cfg *config.Config, db database.DatabaseInterface, jwt *utils.JWTService, logger *slog.Logger) *UserHandler {
	return &UserHandler{config: cfg, db: db, jwt: jwt, logger: logger}
}

// CreateUser 创建用户并签发令牌对
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.UserCreateRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		utils.WriteValidationErrorResponse(w, "email is required", "")
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		utils.WriteValidationErrorResponse(w, "email is invalid", err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.Split(email, "@")[0]
	}

	user := &models.User{Email: email, Name: name, TimeSessions: []models.TimeSession{}}
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		utils.WriteAppError(w, database.Classify(err, apperr.CodeUserNotFound, "user"))
		return
	}

	accessToken, refreshToken, expiresIn, err := h.jwt.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		h.logger.Error("token generation failed", "user_id", user.ID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to generate tokens")
		return
	}

	h.logger.Info("user created", "user_id", user.ID)
	utils.WriteCreatedResponse(w, models.UserTokenResponse{
		User:         *user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	})
}

// RefreshToken 刷新访问令牌
// POST /api/auth/refresh
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteBadRequestResponse(w, "refresh_token is required")
		return
	}

	accessToken, expiresIn, err := h.jwt.RefreshAccessToken(strings.TrimSpace(req.RefreshToken))
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
	})
}

// Me 当前用户（含时间会话）
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	user, err := h.db.GetUserByID(r.Context(), actor.ID)
	if err != nil {
		utils.WriteAppError(w, database.Classify(err, apperr.CodeUserNotFound, "user"))
		return
	}
	utils.WriteSuccessResponse(w, user)
}

// HealthCheck 健康检查
// GET /
func (h *UserHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "healthy"
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("health check: store unhealthy", "error", err)
		dbStatus = "unhealthy: " + err.Error()
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     serviceName,
		"version":     serviceVersion,
		"environment": h.config.Environment,
		"database":    h.config.StoreDriver,
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}

// requireActor 获取已认证用户，未认证时写入401
func requireActor(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	return user, true
}
