// Package api assembles the HTTP surface: one chi router carrying every REST
// endpoint plus the chat websocket.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"team-collab-backend/pkg/chat"
	"team-collab-backend/pkg/config"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/handlers"
	customMiddleware "team-collab-backend/pkg/middleware"
	"team-collab-backend/pkg/tasks"
	"team-collab-backend/pkg/timesession"
	"team-collab-backend/pkg/utils"
	"team-collab-backend/pkg/workspaces"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	requestTimeout = 25 * time.Second
	maxBodyBytes   = 1 << 20
)

// Dependencies 路由所需的服务
type Dependencies struct {
	DB         database.DatabaseInterface
	JWT        *utils.JWTService
	Workspaces *workspaces.Service
	Tasks      *tasks.Manager
	Sessions   *timesession.Tracker
	Chat       *chat.Service
	Notifier   handlers.Notifier
	Logger     *slog.Logger
}

// NewRouter 创建Chi路由器
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	router := chi.NewRouter()

	// 设置全局中间件
	setupMiddleware(router, cfg, deps.Logger)

	// 设置路由
	setupRoutes(router, cfg, deps)

	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and auth values before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(cfg, logger))
	router.Use(customMiddleware.Recovery(cfg, logger))

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, deps Dependencies) {
	// 创建处理器
	userHandler := handlers.NewUserHandler(cfg, deps.DB, deps.JWT, deps.Logger)
	workspaceHandler := handlers.NewWorkspaceHandler(deps.Workspaces, deps.Notifier, deps.Logger)
	taskHandler := handlers.NewTaskHandler(deps.Tasks, deps.Notifier, deps.Logger)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	chatHandler := handlers.NewChatHandler(deps.Chat)
	wsHandler := handlers.NewWebSocketHandler(deps.Chat, cfg.AllowedOrigins, cfg.WSSendBuffer, deps.Logger)

	// 健康检查端点
	router.Get("/", userHandler.HealthCheck)

	router.Route("/api", func(r chi.Router) {
		// WebSocket: long-lived, so no timeout/compression/body limits
		r.With(customMiddleware.AuthMiddleware(deps.JWT, deps.Logger)).Get("/ws", wsHandler.Serve)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(middleware.Compress(5))
			r.Use(customMiddleware.MaxBodySize(maxBodyBytes))
			r.Use(customMiddleware.ContentTypeJSON)

			// 公开路由（不需要认证）
			r.Post("/users", userHandler.CreateUser)
			r.Post("/auth/refresh", userHandler.RefreshToken)

			// 需要认证的路由
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.AuthMiddleware(deps.JWT, deps.Logger))

				r.Get("/users/me", userHandler.Me)

				r.Route("/workspaces", func(r chi.Router) {
					r.Get("/", workspaceHandler.ListMyWorkspaces)
					r.Post("/", workspaceHandler.CreateWorkspace)
					r.Route("/{workspaceID}", func(r chi.Router) {
						r.Get("/", workspaceHandler.GetWorkspace)
						r.Delete("/", workspaceHandler.DeleteWorkspace)
						r.Post("/members", workspaceHandler.AddMember)
						r.Delete("/members/{userID}", workspaceHandler.RemoveMember)
						r.Put("/teamlead", workspaceHandler.SetTeamLead)
						r.Get("/chats", chatHandler.ListHistory)
						r.Post("/chats", chatHandler.SendMessage)
					})
				})

				r.Route("/tasks", func(r chi.Router) {
					r.Post("/", taskHandler.CreateTask)
					r.Get("/workspace/{workspaceID}", taskHandler.ListWorkspaceTasks)
					r.Get("/workspace/{workspaceID}/status/{status}", taskHandler.ListWorkspaceTasks)
					r.Get("/user/{userID}", taskHandler.ListUserTasks)
					r.Route("/{taskID}", func(r chi.Router) {
						r.Get("/", taskHandler.GetTask)
						r.Put("/", taskHandler.UpdateTask)
						r.Delete("/", taskHandler.DeleteTask)
						r.Put("/assign", taskHandler.AssignUsers)
						r.Delete("/users/{userID}", taskHandler.RemoveUser)
						r.Put("/status", taskHandler.ChangeStatus)
						r.Put("/start", taskHandler.StartTimer)
						r.Put("/stop", taskHandler.StopTimer)
					})
				})

				r.Route("/sessions", func(r chi.Router) {
					r.Get("/", sessionHandler.ListSessions)
					r.Post("/start", sessionHandler.StartSession)
					r.Post("/stop", sessionHandler.StopSession)
				})

				r.Put("/chats/{chatID}/read", chatHandler.MarkRead)
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
