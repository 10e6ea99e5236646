package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"team-collab-backend/pkg/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection      = "users"
	workspacesCollection = "workspaces"
	tasksCollection      = "tasks"
	chatsCollection      = "chats"
)

// MongoDatabase MongoDB数据库实现
type MongoDatabase struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoDatabase 创建MongoDB数据库实例
func NewMongoDatabase(ctx context.Context, uri, database string) (*MongoDatabase, error) {
	if database == "" {
		database = "team_collab"
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(strings.TrimSpace(uri)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m := &MongoDatabase{client: client, db: client.Database(database)}
	if err := m.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *MongoDatabase) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		tasksCollection: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "assigned_to", Value: 1}}},
		},
		chatsCollection: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
	for coll, idx := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// ================= Users =================

// CreateUser 创建用户
func (m *MongoDatabase) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Version = 1
	if user.TimeSessions == nil {
		user.TimeSessions = []models.TimeSession{}
	}
	if _, err := m.db.Collection(usersCollection).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user %s: %w", user.Email, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID 根据ID获取用户
func (m *MongoDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := m.findOne(ctx, usersCollection, bson.M{"_id": id}, &u); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &u, nil
}

// GetUserByEmail 根据邮箱获取用户
func (m *MongoDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := m.findOne(ctx, usersCollection, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}, &u); err != nil {
		return nil, fmt.Errorf("user %s: %w", email, err)
	}
	return &u, nil
}

// ListUsersByIDs 批量获取用户
func (m *MongoDatabase) ListUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}
	if err := m.findAll(ctx, usersCollection, bson.M{"_id": bson.M{"$in": ids}}, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUserSessions 更新用户的时间会话（版本号比较）
func (m *MongoDatabase) UpdateUserSessions(ctx context.Context, user *models.User) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	update := bson.M{
		"$set": bson.M{"time_sessions": user.TimeSessions, "updated_at": now},
		"$inc": bson.M{"version": 1},
	}
	res, err := m.db.Collection(usersCollection).UpdateOne(ctx, bson.M{"_id": user.ID, "version": user.Version}, update)
	if err != nil {
		return fmt.Errorf("failed to update user sessions: %w", err)
	}
	if res.MatchedCount == 0 {
		return m.casMiss(ctx, usersCollection, user.ID)
	}
	user.Version++
	user.UpdatedAt = now
	return nil
}

// ================= Workspaces =================

// CreateWorkspace 创建工作区
func (m *MongoDatabase) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}
	ws.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	if ws.MemberIDs == nil {
		ws.MemberIDs = []string{}
	}
	if _, err := m.db.Collection(workspacesCollection).InsertOne(ctx, ws); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// GetWorkspace 获取工作区
func (m *MongoDatabase) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := m.findOne(ctx, workspacesCollection, bson.M{"_id": id}, &ws); err != nil {
		return nil, fmt.Errorf("workspace %s: %w", id, err)
	}
	return &ws, nil
}

// ListUserWorkspaces 列出用户所在的工作区
func (m *MongoDatabase) ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"admin_id": userID},
		bson.M{"team_lead_id": userID},
		bson.M{"member_ids": userID},
	}}
	var list []models.Workspace
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if err := m.findAll(ctx, workspacesCollection, filter, opts, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateWorkspace 更新工作区
func (m *MongoDatabase) UpdateWorkspace(ctx context.Context, ws *models.Workspace) error {
	update := bson.M{"$set": bson.M{
		"name":         ws.Name,
		"description":  ws.Description,
		"team_lead_id": ws.TeamLeadID,
		"member_ids":   nonNil(ws.MemberIDs),
	}}
	res, err := m.db.Collection(workspacesCollection).UpdateOne(ctx, bson.M{"_id": ws.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("workspace %s: %w", ws.ID, ErrNotFound)
	}
	return nil
}

// DeleteWorkspace 删除工作区及其任务和聊天
func (m *MongoDatabase) DeleteWorkspace(ctx context.Context, id string) error {
	res, err := m.db.Collection(workspacesCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	for _, coll := range []string{tasksCollection, chatsCollection} {
		if _, err := m.db.Collection(coll).DeleteMany(ctx, bson.M{"workspace_id": id}); err != nil {
			return fmt.Errorf("failed to delete workspace %s: %w", coll, err)
		}
	}
	return nil
}

// ================= Tasks =================

// CreateTask 创建任务
func (m *MongoDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.CreatedAt = task.CreatedAt.UTC().Truncate(time.Millisecond)
	task.UpdatedAt = task.CreatedAt
	task.Version = 1
	task.AssignedTo = nonNil(task.AssignedTo)
	if _, err := m.db.Collection(tasksCollection).InsertOne(ctx, task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask 获取任务
func (m *MongoDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := m.findOne(ctx, tasksCollection, bson.M{"_id": id}, &t); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return &t, nil
}

// UpdateTask 更新任务（版本号比较）
func (m *MongoDatabase) UpdateTask(ctx context.Context, task *models.Task) error {
	next := task.Clone()
	next.Version = task.Version + 1
	next.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	next.AssignedTo = nonNil(next.AssignedTo)

	res, err := m.db.Collection(tasksCollection).ReplaceOne(ctx, bson.M{"_id": task.ID, "version": task.Version}, next)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return m.casMiss(ctx, tasksCollection, task.ID)
	}
	task.Version = next.Version
	task.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteTask 删除任务
func (m *MongoDatabase) DeleteTask(ctx context.Context, id string) error {
	res, err := m.db.Collection(tasksCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTasksByWorkspace 列出工作区任务
func (m *MongoDatabase) ListTasksByWorkspace(ctx context.Context, workspaceID string, status models.TaskStatus) ([]models.Task, error) {
	filter := bson.M{"workspace_id": workspaceID}
	if status != "" {
		filter["status"] = status
	}
	var tasks []models.Task
	if err := m.findAll(ctx, tasksCollection, filter, taskOrder(), &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListTasksByAssignee 列出分配给用户的任务
func (m *MongoDatabase) ListTasksByAssignee(ctx context.Context, userID string) ([]models.Task, error) {
	var tasks []models.Task
	if err := m.findAll(ctx, tasksCollection, bson.M{"assigned_to": userID}, taskOrder(), &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func taskOrder() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
}

// ================= Chats =================

// CreateChat 保存聊天消息
func (m *MongoDatabase) CreateChat(ctx context.Context, chat *models.ChatMessage) error {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	chat.ReadBy = nonNil(chat.ReadBy)
	if _, err := m.db.Collection(chatsCollection).InsertOne(ctx, chat); err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// GetChat 获取聊天消息
func (m *MongoDatabase) GetChat(ctx context.Context, id string) (*models.ChatMessage, error) {
	var c models.ChatMessage
	if err := m.findOne(ctx, chatsCollection, bson.M{"_id": id}, &c); err != nil {
		return nil, fmt.Errorf("chat %s: %w", id, err)
	}
	return &c, nil
}

// AddChatReader 标记已读
func (m *MongoDatabase) AddChatReader(ctx context.Context, chatID, userID string) (*models.ChatMessage, bool, error) {
	filter := bson.M{"_id": chatID, "read_by": bson.M{"$ne": userID}}
	update := bson.M{"$push": bson.M{"read_by": userID}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var c models.ChatMessage
	err := m.db.Collection(chatsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&c)
	if err == nil {
		return &c, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to mark chat read: %w", err)
	}
	// either missing or already read
	existing, err := m.GetChat(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ListChatsByWorkspace 获取工作区的全部聊天消息（按时间升序）
func (m *MongoDatabase) ListChatsByWorkspace(ctx context.Context, workspaceID string) ([]models.ChatMessage, error) {
	chats := []models.ChatMessage{}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if err := m.findAll(ctx, chatsCollection, bson.M{"workspace_id": workspaceID}, opts, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// HealthCheck 健康检查
func (m *MongoDatabase) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close 关闭连接
func (m *MongoDatabase) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// 私有辅助方法

func (m *MongoDatabase) findOne(ctx context.Context, coll string, filter bson.M, out interface{}) error {
	err := m.db.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", coll, err)
	}
	return nil
}

func (m *MongoDatabase) findAll(ctx context.Context, coll string, filter bson.M, opts *options.FindOptions, out interface{}) error {
	var findOpts []*options.FindOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}
	cur, err := m.db.Collection(coll).Find(ctx, filter, findOpts...)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", coll, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", coll, err)
	}
	return nil
}

// casMiss tells a lost compare-and-swap apart from a missing document
func (m *MongoDatabase) casMiss(ctx context.Context, coll, id string) error {
	n, err := m.db.Collection(coll).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", coll, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", coll, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", coll, id, ErrVersionConflict)
}
