package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"team-collab-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresDatabase, error) {
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		dsn, // 最后尝试原始DSN
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			logger.Warn("postgres open failed", "strategy", i+1, "error", err)
			lastErr = err
			continue
		}

		// 设置连接池参数
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(1 * time.Minute)

		// 测试连接
		if err = db.PingContext(ctx); err != nil {
			logger.Warn("postgres ping failed", "strategy", i+1, "error", err)
			db.Close()
			lastErr = err
			continue
		}

		logger.Info("postgres connection established", "strategy", i+1)
		return &PostgresDatabase{db: db}, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", lastErr)
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	// key=value DSNs take space separated parameters
	if !strings.Contains(dsn, "://") {
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// isUniqueViolation 判断是否为唯一约束冲突
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ================= Users =================

const userColumns = `id, email, COALESCE(name,''), time_sessions, version, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	var sessions []byte
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &sessions, &u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		if err := json.Unmarshal(sessions, &u.TimeSessions); err != nil {
			return nil, fmt.Errorf("failed to decode time sessions: %w", err)
		}
	}
	return &u, nil
}

// CreateUser 创建用户
func (db *PostgresDatabase) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	sessions, err := json.Marshal(emptySessions(user.TimeSessions))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO users (id, email, name, time_sessions, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		RETURNING version, created_at, updated_at
	`
	err = db.db.QueryRowContext(ctx, query, user.ID, user.Email, user.Name, sessions).
		Scan(&user.Version, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID 根据ID获取用户
func (db *PostgresDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail 根据邮箱获取用户
func (db *PostgresDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// ListUsersByIDs 批量获取用户
func (db *PostgresDatabase) ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	rows, err := db.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUserSessions 更新用户的时间会话（版本号比较）
func (db *PostgresDatabase) UpdateUserSessions(ctx context.Context, user *models.User) error {
	sessions, err := json.Marshal(emptySessions(user.TimeSessions))
	if err != nil {
		return err
	}
	query := `
		UPDATE users SET time_sessions = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING version, updated_at
	`
	err = db.db.QueryRowContext(ctx, query, sessions, user.ID, user.Version).Scan(&user.Version, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return db.casMiss(ctx, "users", user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update user sessions: %w", err)
	}
	return nil
}

func emptySessions(s []models.TimeSession) []models.TimeSession {
	if s == nil {
		return []models.TimeSession{}
	}
	return s
}

// casMiss tells a lost compare-and-swap apart from a missing row
func (db *PostgresDatabase) casMiss(ctx context.Context, table, id string) error {
	var exists bool
	err := db.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", table, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrVersionConflict)
}

// ================= Workspaces =================

const workspaceColumns = `id, name, COALESCE(description,''), admin_id, COALESCE(team_lead_id,''), member_ids, created_at`

func scanWorkspace(row interface{ Scan(...interface{}) error }) (*models.Workspace, error) {
	var ws models.Workspace
	if err := row.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.AdminID, &ws.TeamLeadID, pq.Array(&ws.MemberIDs), &ws.CreatedAt); err != nil {
		return nil, err
	}
	return &ws, nil
}

// CreateWorkspace 创建工作区
func (db *PostgresDatabase) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}
	query := `
		INSERT INTO workspaces (id, name, description, admin_id, team_lead_id, member_ids, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, NOW())
		RETURNING created_at
	`
	err := db.db.QueryRowContext(ctx, query, ws.ID, ws.Name, ws.Description, ws.AdminID, ws.TeamLeadID, pq.Array(nonNil(ws.MemberIDs))).
		Scan(&ws.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// GetWorkspace 获取工作区
func (db *PostgresDatabase) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id)
	ws, err := scanWorkspace(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

// ListUserWorkspaces 列出用户所在的工作区
func (db *PostgresDatabase) ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces
		WHERE admin_id = $1 OR team_lead_id = $1 OR $1 = ANY(member_ids)
		ORDER BY created_at DESC`
	rows, err := db.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var list []models.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *ws)
	}
	return list, rows.Err()
}

// UpdateWorkspace 更新工作区
func (db *PostgresDatabase) UpdateWorkspace(ctx context.Context, ws *models.Workspace) error {
	query := `
		UPDATE workspaces SET name = $2, description = $3, team_lead_id = NULLIF($4,''), member_ids = $5
		WHERE id = $1
	`
	res, err := db.db.ExecContext(ctx, query, ws.ID, ws.Name, ws.Description, ws.TeamLeadID, pq.Array(nonNil(ws.MemberIDs)))
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %s: %w", ws.ID, ErrNotFound)
	}
	return nil
}

// DeleteWorkspace 删除工作区（任务和聊天由外键级联删除）
func (db *PostgresDatabase) DeleteWorkspace(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// ================= Tasks =================

const taskColumns = `id, workspace_id, title, COALESCE(description,''), status, deadline, assigned_to,
	start_time, end_time, time_spent, version, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var t models.Task
	var deadline, start, end sql.NullTime
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Description, &t.Status, &deadline, pq.Array(&t.AssignedTo),
		&start, &end, &t.TimeSpent, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Deadline = nullTimePtr(deadline)
	t.StartTime = nullTimePtr(start)
	t.EndTime = nullTimePtr(end)
	return &t, nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// CreateTask 创建任务
func (db *PostgresDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = task.CreatedAt
	task.Version = 1
	query := `
		INSERT INTO tasks (id, workspace_id, title, description, status, deadline, assigned_to,
			start_time, end_time, time_spent, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $11)
	`
	_, err := db.db.ExecContext(ctx, query, task.ID, task.WorkspaceID, task.Title, task.Description, task.Status,
		task.Deadline, pq.Array(nonNil(task.AssignedTo)), task.StartTime, task.EndTime, task.TimeSpent, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask 获取任务
func (db *PostgresDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// UpdateTask 更新任务（版本号比较）
func (db *PostgresDatabase) UpdateTask(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks SET title = $3, description = $4, status = $5, deadline = $6, assigned_to = $7,
			start_time = $8, end_time = $9, time_spent = $10, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err := db.db.QueryRowContext(ctx, query, task.ID, task.Version, task.Title, task.Description, task.Status,
		task.Deadline, pq.Array(nonNil(task.AssignedTo)), task.StartTime, task.EndTime, task.TimeSpent).
		Scan(&task.Version, &task.UpdatedAt)
	if err == sql.ErrNoRows {
		return db.casMiss(ctx, "tasks", task.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// DeleteTask 删除任务
func (db *PostgresDatabase) DeleteTask(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTasksByWorkspace 列出工作区任务
func (db *PostgresDatabase) ListTasksByWorkspace(ctx context.Context, workspaceID string, status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE workspace_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC, id ASC`
	return db.queryTasks(ctx, query, workspaceID, string(status))
}

// ListTasksByAssignee 列出分配给用户的任务
func (db *PostgresDatabase) ListTasksByAssignee(ctx context.Context, userID string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE $1 = ANY(assigned_to) ORDER BY created_at ASC, id ASC`
	return db.queryTasks(ctx, query, userID)
}

func (db *PostgresDatabase) queryTasks(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ================= Chats =================

const chatColumns = `id, workspace_id, sender_id, message, read_by, created_at`

func scanChat(row interface{ Scan(...interface{}) error }) (*models.ChatMessage, error) {
	var c models.ChatMessage
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.SenderID, &c.Message, pq.Array(&c.ReadBy), &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChat 保存聊天消息
func (db *PostgresDatabase) CreateChat(ctx context.Context, chat *models.ChatMessage) error {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO chats (id, workspace_id, sender_id, message, read_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.db.ExecContext(ctx, query, chat.ID, chat.WorkspaceID, chat.SenderID, chat.Message,
		pq.Array(nonNil(chat.ReadBy)), chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// GetChat 获取聊天消息
func (db *PostgresDatabase) GetChat(ctx context.Context, id string) (*models.ChatMessage, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	c, err := scanChat(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return c, nil
}

// AddChatReader 标记已读
func (db *PostgresDatabase) AddChatReader(ctx context.Context, chatID, userID string) (*models.ChatMessage, bool, error) {
	query := `
		UPDATE chats SET read_by = array_append(read_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(read_by))
		RETURNING ` + chatColumns
	c, err := scanChat(db.db.QueryRowContext(ctx, query, chatID, userID))
	if err == nil {
		return c, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to mark chat read: %w", err)
	}
	// either missing or already read
	c, err = db.GetChat(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

// ListChatsByWorkspace 获取工作区的全部聊天消息（按时间升序）
func (db *PostgresDatabase) ListChatsByWorkspace(ctx context.Context, workspaceID string) ([]models.ChatMessage, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE workspace_id = $1 ORDER BY created_at ASC, seq ASC`
	rows, err := db.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []models.ChatMessage{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
