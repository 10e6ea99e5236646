package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"team-collab-backend/pkg/models"
)

var (
	// ErrNotFound is returned when an id does not resolve to a document
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a compare-and-swap update loses the race
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyExists is returned on unique key violations (user email)
	ErrAlreadyExists = errors.New("already exists")
)

// DatabaseInterface 定义数据库访问接口
//
// Every document is updated atomically. Task and User updates are compare-and-swap on
// the Version field: the caller passes the version it read, the store rejects the write
// with ErrVersionConflict if another writer got there first, and bumps Version on success.
type DatabaseInterface interface {
	// 用户管理
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	// UpdateUserSessions replaces user.TimeSessions if user.Version matches the stored version.
	UpdateUserSessions(ctx context.Context, user *models.User) error

	// 工作区
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *models.Workspace) error
	// DeleteWorkspace removes the workspace together with its tasks and chats.
	DeleteWorkspace(ctx context.Context, id string) error

	// 任务
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// UpdateTask writes every mutable field if task.Version matches the stored version.
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	// ListTasksByWorkspace returns tasks oldest first; an empty status means all statuses.
	ListTasksByWorkspace(ctx context.Context, workspaceID string, status models.TaskStatus) ([]models.Task, error)
	ListTasksByAssignee(ctx context.Context, userID string) ([]models.Task, error)

	// 聊天
	CreateChat(ctx context.Context, chat *models.ChatMessage) error
	GetChat(ctx context.Context, id string) (*models.ChatMessage, error)
	// AddChatReader adds userID to ReadBy atomically. added is false when it was already present.
	AddChatReader(ctx context.Context, chatID, userID string) (chat *models.ChatMessage, added bool, err error)
	// ListChatsByWorkspace returns messages ordered by CreatedAt ascending.
	ListChatsByWorkspace(ctx context.Context, workspaceID string) ([]models.ChatMessage, error)

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver        string // "local", "postgres", "mongo"
	DataDir       string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
	Debug         bool
}

// NewDatabase 根据配置选择数据库实现
func NewDatabase(ctx context.Context, config DatabaseConfig, logger *slog.Logger) (DatabaseInterface, error) {
	switch config.Driver {
	case "postgres":
		if config.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver selected but POSTGRES_DSN is empty")
		}
		logger.Info("using PostgreSQL database")
		db, err := NewPostgresDatabase(ctx, config.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "mongo":
		if config.MongoURI == "" {
			return nil, fmt.Errorf("mongo driver selected but MONGO_URI is empty")
		}
		logger.Info("using MongoDB database", "database", config.MongoDatabase)
		db, err := NewMongoDatabase(ctx, config.MongoURI, config.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "local", "":
		logger.Info("using local database", "data_dir", config.DataDir)
		db, err := NewLocalDatabase(config.DataDir)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", config.Driver)
}
