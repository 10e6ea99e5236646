package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"team-collab-backend/pkg/models"

	"github.com/google/uuid"
)

// LocalDatabase 本地文件数据库实现
//
// All collections live in memory behind one mutex, which makes every method an atomic
// document operation. When dataDir is set each mutation rewrites the touched collection
// as a JSON file; an empty dataDir keeps everything in memory (tests, throwaway runs).
// A mutation whose file write fails is rolled back in memory before returning.
type LocalDatabase struct {
	dataDir string

	mu         sync.Mutex
	users      map[string]models.User
	workspaces map[string]models.Workspace
	tasks      map[string]models.Task
	chats      map[string]models.ChatMessage
	chatSeq    map[string]int64
	nextSeq    int64
}

// localChat 是 chats.json 中的记录格式（保留插入顺序）
type localChat struct {
	models.ChatMessage
	Seq int64 `json:"seq"`
}

// NewLocalDatabase 创建本地数据库实例
func NewLocalDatabase(dataDir string) (*LocalDatabase, error) {
	db := &LocalDatabase{
		dataDir:    strings.TrimSpace(dataDir),
		users:      make(map[string]models.User),
		workspaces: make(map[string]models.Workspace),
		tasks:      make(map[string]models.Task),
		chats:      make(map[string]models.ChatMessage),
		chatSeq:    make(map[string]int64),
	}
	if db.dataDir == "" {
		return db, nil
	}

	if err := os.MkdirAll(db.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

// ================= Users =================

// CreateUser 创建用户
func (db *LocalDatabase) CreateUser(ctx context.Context, user *models.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range db.users {
		if strings.ToLower(u.Email) == email {
			return fmt.Errorf("user %s: %w", user.Email, ErrAlreadyExists)
		}
	}
	u := cloneUser(*user)
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Version = 1
	if err := commit(db.users, u.ID, u, db.saveUsers); err != nil {
		return err
	}
	user.ID, user.CreatedAt, user.UpdatedAt, user.Version = u.ID, u.CreatedAt, u.UpdatedAt, u.Version
	return nil
}

// GetUserByID 根据ID获取用户
func (db *LocalDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	c := cloneUser(u)
	return &c, nil
}

// GetUserByEmail 根据邮箱获取用户
func (db *LocalDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range db.users {
		if strings.ToLower(u.Email) == email {
			c := cloneUser(u)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

// ListUsersByIDs 批量获取用户（忽略不存在的ID）
func (db *LocalDatabase) ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]models.User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := db.users[id]; ok {
			result = append(result, cloneUser(u))
		}
	}
	return result, nil
}

// UpdateUserSessions 更新用户的时间会话（版本号比较）
func (db *LocalDatabase) UpdateUserSessions(ctx context.Context, user *models.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored, ok := db.users[user.ID]
	if !ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	if stored.Version != user.Version {
		return fmt.Errorf("user %s: %w", user.ID, ErrVersionConflict)
	}
	stored.TimeSessions = cloneSessions(user.TimeSessions)
	stored.Version++
	stored.UpdatedAt = time.Now()
	if err := commit(db.users, user.ID, stored, db.saveUsers); err != nil {
		return err
	}

	user.Version = stored.Version
	user.UpdatedAt = stored.UpdatedAt
	return nil
}

// ================= Workspaces =================

// CreateWorkspace 创建工作区
func (db *LocalDatabase) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	w := cloneWorkspace(*ws)
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	w.CreatedAt = time.Now()
	if err := commit(db.workspaces, w.ID, w, db.saveWorkspaces); err != nil {
		return err
	}
	ws.ID, ws.CreatedAt = w.ID, w.CreatedAt
	return nil
}

// GetWorkspace 获取工作区
func (db *LocalDatabase) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ws, ok := db.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	c := cloneWorkspace(ws)
	return &c, nil
}

// ListUserWorkspaces 列出用户所在的工作区
func (db *LocalDatabase) ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Workspace
	for _, ws := range db.workspaces {
		if _, ok := ws.RoleOf(userID); ok {
			result = append(result, cloneWorkspace(ws))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateWorkspace 更新工作区
func (db *LocalDatabase) UpdateWorkspace(ctx context.Context, ws *models.Workspace) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored, ok := db.workspaces[ws.ID]
	if !ok {
		return fmt.Errorf("workspace %s: %w", ws.ID, ErrNotFound)
	}
	stored.Name = ws.Name
	stored.Description = ws.Description
	stored.TeamLeadID = ws.TeamLeadID
	stored.MemberIDs = append([]string(nil), ws.MemberIDs...)
	return commit(db.workspaces, ws.ID, stored, db.saveWorkspaces)
}

// DeleteWorkspace 删除工作区及其任务和聊天
func (db *LocalDatabase) DeleteWorkspace(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ws, ok := db.workspaces[id]
	if !ok {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	tasks := make(map[string]models.Task)
	for tid, t := range db.tasks {
		if t.WorkspaceID == id {
			tasks[tid] = t
		}
	}
	chats := make(map[string]models.ChatMessage)
	for cid, c := range db.chats {
		if c.WorkspaceID == id {
			chats[cid] = c
		}
	}

	delete(db.workspaces, id)
	for tid := range tasks {
		delete(db.tasks, tid)
	}
	for cid := range chats {
		delete(db.chats, cid)
	}
	err := db.saveWorkspaces()
	if err == nil {
		err = db.saveTasks()
	}
	if err == nil {
		err = db.saveChats()
	}
	if err == nil {
		for cid := range chats {
			delete(db.chatSeq, cid)
		}
		return nil
	}

	db.workspaces[id] = ws
	for tid, t := range tasks {
		db.tasks[tid] = t
	}
	for cid, c := range chats {
		db.chats[cid] = c
	}
	// files written before the failure get the restored state back, best effort
	_ = db.saveWorkspaces()
	_ = db.saveTasks()
	_ = db.saveChats()
	return err
}

// ================= Tasks =================

// CreateTask 创建任务
func (db *LocalDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t := task.Clone()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = t.CreatedAt
	t.Version = 1
	if err := commit(db.tasks, t.ID, *t, db.saveTasks); err != nil {
		return err
	}
	task.ID, task.CreatedAt, task.UpdatedAt, task.Version = t.ID, t.CreatedAt, t.UpdatedAt, t.Version
	return nil
}

// GetTask 获取任务
func (db *LocalDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// UpdateTask 更新任务（版本号比较）
func (db *LocalDatabase) UpdateTask(ctx context.Context, task *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored, ok := db.tasks[task.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
	}
	if stored.Version != task.Version {
		return fmt.Errorf("task %s: %w", task.ID, ErrVersionConflict)
	}
	next := task.Clone()
	// workspace and creation time are immutable
	next.WorkspaceID = stored.WorkspaceID
	next.CreatedAt = stored.CreatedAt
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now()
	if err := commit(db.tasks, task.ID, *next, db.saveTasks); err != nil {
		return err
	}

	task.Version = next.Version
	task.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteTask 删除任务
func (db *LocalDatabase) DeleteTask(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return remove(db.tasks, id, db.saveTasks)
}

// ListTasksByWorkspace 列出工作区任务
func (db *LocalDatabase) ListTasksByWorkspace(ctx context.Context, workspaceID string, status models.TaskStatus) ([]models.Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Task
	for _, t := range db.tasks {
		if t.WorkspaceID != workspaceID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		result = append(result, *t.Clone())
	}
	sortTasks(result)
	return result, nil
}

// ListTasksByAssignee 列出分配给用户的任务
func (db *LocalDatabase) ListTasksByAssignee(ctx context.Context, userID string) ([]models.Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Task
	for _, t := range db.tasks {
		if t.IsAssigned(userID) {
			result = append(result, *t.Clone())
		}
	}
	sortTasks(result)
	return result, nil
}

// ================= Chats =================

// CreateChat 保存聊天消息
func (db *LocalDatabase) CreateChat(ctx context.Context, chat *models.ChatMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	c := cloneChat(*chat)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	prevSeq, hadSeq := db.chatSeq[c.ID]
	db.nextSeq++
	db.chatSeq[c.ID] = db.nextSeq
	if err := commit(db.chats, c.ID, c, db.saveChats); err != nil {
		db.nextSeq--
		if hadSeq {
			db.chatSeq[c.ID] = prevSeq
		} else {
			delete(db.chatSeq, c.ID)
		}
		return err
	}
	chat.ID, chat.CreatedAt = c.ID, c.CreatedAt
	return nil
}

// GetChat 获取聊天消息
func (db *LocalDatabase) GetChat(ctx context.Context, id string) (*models.ChatMessage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	cc := cloneChat(c)
	return &cc, nil
}

// AddChatReader 标记已读
func (db *LocalDatabase) AddChatReader(ctx context.Context, chatID, userID string) (*models.ChatMessage, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.chats[chatID]
	if !ok {
		return nil, false, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if c.HasReader(userID) {
		cc := cloneChat(c)
		return &cc, false, nil
	}
	c.ReadBy = append(append([]string(nil), c.ReadBy...), userID)
	if err := commit(db.chats, chatID, c, db.saveChats); err != nil {
		return nil, false, err
	}
	cc := cloneChat(c)
	return &cc, true, nil
}

// ListChatsByWorkspace 获取工作区的全部聊天消息（按时间升序）
func (db *LocalDatabase) ListChatsByWorkspace(ctx context.Context, workspaceID string) ([]models.ChatMessage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := []models.ChatMessage{}
	for _, c := range db.chats {
		if c.WorkspaceID == workspaceID {
			result = append(result, cloneChat(c))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return db.chatSeq[result[i].ID] < db.chatSeq[result[j].ID]
	})
	return result, nil
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck(ctx context.Context) error {
	if db.dataDir == "" {
		return nil
	}
	// 检查数据目录是否可访问
	if _, err := os.Stat(db.dataDir); os.IsNotExist(err) {
		return fmt.Errorf("data directory does not exist: %s", db.dataDir)
	}
	return nil
}

// Close 关闭连接（本地数据库无需关闭）
func (db *LocalDatabase) Close() error {
	return nil
}

// 私有辅助方法

// commit stores v under key, then persists with save. A failed save puts the
// previous entry back.
func commit[V any](m map[string]V, key string, v V, save func() error) error {
	prev, existed := m[key]
	m[key] = v
	if err := save(); err != nil {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
		return err
	}
	return nil
}

// remove deletes key, then persists with save. A failed save restores the entry.
func remove[V any](m map[string]V, key string, save func() error) error {
	prev, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	if err := save(); err != nil {
		m[key] = prev
		return err
	}
	return nil
}

func sortTasks(tasks []models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func cloneUser(u models.User) models.User {
	u.TimeSessions = cloneSessions(u.TimeSessions)
	return u
}

func cloneSessions(sessions []models.TimeSession) []models.TimeSession {
	if sessions == nil {
		return nil
	}
	out := make([]models.TimeSession, len(sessions))
	for i, s := range sessions {
		if s.EndTime != nil {
			e := *s.EndTime
			s.EndTime = &e
		}
		out[i] = s
	}
	return out
}

func cloneWorkspace(ws models.Workspace) models.Workspace {
	ws.MemberIDs = append([]string(nil), ws.MemberIDs...)
	return ws
}

func cloneChat(c models.ChatMessage) models.ChatMessage {
	c.ReadBy = append([]string(nil), c.ReadBy...)
	return c
}

func (db *LocalDatabase) filePath(name string) string {
	return filepath.Join(db.dataDir, name+".json")
}

func (db *LocalDatabase) load() error {
	var users []models.User
	if err := db.readFile("users", &users); err != nil {
		return err
	}
	for _, u := range users {
		db.users[u.ID] = u
	}

	var workspaces []models.Workspace
	if err := db.readFile("workspaces", &workspaces); err != nil {
		return err
	}
	for _, ws := range workspaces {
		db.workspaces[ws.ID] = ws
	}

	var tasks []models.Task
	if err := db.readFile("tasks", &tasks); err != nil {
		return err
	}
	for _, t := range tasks {
		db.tasks[t.ID] = t
	}

	var chats []localChat
	if err := db.readFile("chats", &chats); err != nil {
		return err
	}
	for _, c := range chats {
		db.chats[c.ID] = c.ChatMessage
		db.chatSeq[c.ID] = c.Seq
		if c.Seq > db.nextSeq {
			db.nextSeq = c.Seq
		}
	}
	return nil
}

func (db *LocalDatabase) readFile(name string, v interface{}) error {
	data, err := os.ReadFile(db.filePath(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (db *LocalDatabase) writeFile(name string, v interface{}) error {
	if db.dataDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	// write-then-rename so a crash never leaves a truncated collection
	tmp := db.filePath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return os.Rename(tmp, db.filePath(name))
}

func (db *LocalDatabase) saveUsers() error {
	if db.dataDir == "" {
		return nil
	}
	list := make([]models.User, 0, len(db.users))
	for _, u := range db.users {
		list = append(list, u)
	}
	return db.writeFile("users", list)
}

func (db *LocalDatabase) saveWorkspaces() error {
	if db.dataDir == "" {
		return nil
	}
	list := make([]models.Workspace, 0, len(db.workspaces))
	for _, ws := range db.workspaces {
		list = append(list, ws)
	}
	return db.writeFile("workspaces", list)
}

func (db *LocalDatabase) saveTasks() error {
	if db.dataDir == "" {
		return nil
	}
	list := make([]models.Task, 0, len(db.tasks))
	for _, t := range db.tasks {
		list = append(list, t)
	}
	return db.writeFile("tasks", list)
}

func (db *LocalDatabase) saveChats() error {
	if db.dataDir == "" {
		return nil
	}
	list := make([]localChat, 0, len(db.chats))
	for id, c := range db.chats {
		list = append(list, localChat{ChatMessage: c, Seq: db.chatSeq[id]})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return db.writeFile("chats", list)
}
