// Package tasks implements the task lifecycle: CRUD around a three-state status
// machine, assignment, and per-task start/stop timing.
//
// Every mutation is a read-modify-write on one task document guarded by the
// document's Version. A lost race is retried from a fresh read; validation and
// authorization failures are never retried and never touch the stored task.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/clock"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/models"
)

const maxAttempts = 3

// Members resolves a user's role inside a workspace
type Members interface {
	Role(ctx context.Context, workspaceID, userID string) (*models.Workspace, models.WorkspaceRole, error)
}

type Manager struct {
	db      database.DatabaseInterface
	members Members
	clock   clock.Clock
	logger  *slog.Logger
}

func NewManager(db database.DatabaseInterface, members Members, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{db: db, members: members, clock: clk, logger: logger}
}

// errUnchanged aborts a mutation without writing and without failing
var errUnchanged = errors.New("unchanged")

// Create 创建任务（管理员或组长）
func (m *Manager) Create(ctx context.Context, actorID string, req models.TaskCreateRequest) (*models.Task, []models.NotificationIntent, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, nil, apperr.Invalid(apperr.CodeValidation, "title is required")
	}
	ws, err := m.requireManager(ctx, req.WorkspaceID, actorID)
	if err != nil {
		return nil, nil, err
	}
	assignees, users, err := m.resolveAssignees(ctx, ws, req.AssignedTo)
	if err != nil {
		return nil, nil, err
	}

	task := &models.Task{
		WorkspaceID: ws.ID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Status:      models.StatusPending,
		Deadline:    req.Deadline,
		AssignedTo:  assignees,
		CreatedAt:   m.clock.Now(),
	}
	if err := m.db.CreateTask(ctx, task); err != nil {
		return nil, nil, database.Classify(err, apperr.CodeTaskNotFound, "task")
	}
	m.logger.Info("task created", "task_id", task.ID, "workspace_id", ws.ID, "actor_id", actorID)
	return task, assignmentIntents(task, users), nil
}

// Get 获取任务（工作区成员可见）
func (m *Manager) Get(ctx context.Context, actorID, taskID string) (*models.Task, error) {
	task, err := m.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, _, err := m.members.Role(ctx, task.WorkspaceID, actorID); err != nil {
		return nil, err
	}
	return task, nil
}

// Edit 编辑标题、描述、截止日期
func (m *Manager) Edit(ctx context.Context, actorID, taskID string, req models.TaskUpdateRequest) (*models.Task, error) {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, apperr.Invalid(apperr.CodeValidation, "title cannot be empty")
	}
	return m.mutate(ctx, taskID, func(t *models.Task) error {
		if _, err := m.requireManager(ctx, t.WorkspaceID, actorID); err != nil {
			return err
		}
		if req.Title != nil {
			t.Title = strings.TrimSpace(*req.Title)
		}
		if req.Description != nil {
			t.Description = strings.TrimSpace(*req.Description)
		}
		if req.Deadline != nil {
			d := *req.Deadline
			t.Deadline = &d
		}
		return nil
	})
}

// Delete 删除任务
func (m *Manager) Delete(ctx context.Context, actorID, taskID string) error {
	task, err := m.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := m.requireManager(ctx, task.WorkspaceID, actorID); err != nil {
		return err
	}
	if err := m.db.DeleteTask(ctx, taskID); err != nil {
		return database.Classify(err, apperr.CodeTaskNotFound, "task")
	}
	m.logger.Info("task deleted", "task_id", taskID, "actor_id", actorID)
	return nil
}

// ListByWorkspace lists a workspace's tasks oldest first. An empty status lists all.
func (m *Manager) ListByWorkspace(ctx context.Context, actorID, workspaceID, status string) ([]models.Task, error) {
	var filter models.TaskStatus
	if strings.TrimSpace(status) != "" {
		parsed, ok := models.ParseTaskStatus(status)
		if !ok {
			return nil, invalidStatus(status)
		}
		filter = parsed
	}
	if _, _, err := m.members.Role(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	tasks, err := m.db.ListTasksByWorkspace(ctx, workspaceID, filter)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeTaskNotFound, "task")
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// ListForUser groups userID's tasks by status, limited to workspaces the actor belongs to
func (m *Manager) ListForUser(ctx context.Context, actorID, userID string) (*models.TasksByStatus, error) {
	tasks, err := m.db.ListTasksByAssignee(ctx, userID)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeTaskNotFound, "task")
	}

	visible := make(map[string]bool)
	grouped := &models.TasksByStatus{
		Pending:    []models.Task{},
		InProgress: []models.Task{},
		Completed:  []models.Task{},
	}
	for _, t := range tasks {
		ok, seen := visible[t.WorkspaceID]
		if !seen {
			_, _, err := m.members.Role(ctx, t.WorkspaceID, actorID)
			ok = err == nil
			if err != nil && apperr.KindOf(err) == apperr.KindTransient {
				return nil, err
			}
			visible[t.WorkspaceID] = ok
		}
		if !ok {
			continue
		}
		switch t.Status {
		case models.StatusInProgress:
			grouped.InProgress = append(grouped.InProgress, t)
		case models.StatusCompleted:
			grouped.Completed = append(grouped.Completed, t)
		default:
			grouped.Pending = append(grouped.Pending, t)
		}
	}
	return grouped, nil
}

// Assign adds users to the task. Only users not already assigned produce a notification.
func (m *Manager) Assign(ctx context.Context, actorID, taskID string, userIDs []string) (*models.Task, []models.NotificationIntent, error) {
	if len(userIDs) == 0 {
		return nil, nil, apperr.Invalid(apperr.CodeValidation, "user_ids is required")
	}
	var added []models.User
	task, err := m.mutate(ctx, taskID, func(t *models.Task) error {
		ws, err := m.requireManager(ctx, t.WorkspaceID, actorID)
		if err != nil {
			return err
		}
		ids, users, err := m.resolveAssignees(ctx, ws, userIDs)
		if err != nil {
			return err
		}
		added = added[:0]
		for i, id := range ids {
			if !t.IsAssigned(id) {
				t.AssignedTo = append(t.AssignedTo, id)
				added = append(added, users[i])
			}
		}
		if len(added) == 0 {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(added) > 0 {
		m.logger.Info("task assigned", "task_id", task.ID, "added", len(added), "actor_id", actorID)
	}
	return task, assignmentIntents(task, added), nil
}

// RemoveUser 从任务中移除用户（幂等）
func (m *Manager) RemoveUser(ctx context.Context, actorID, taskID, userID string) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) error {
		if _, err := m.requireManager(ctx, t.WorkspaceID, actorID); err != nil {
			return err
		}
		if !t.IsAssigned(userID) {
			return errUnchanged
		}
		kept := make([]string, 0, len(t.AssignedTo))
		for _, id := range t.AssignedTo {
			if id != userID {
				kept = append(kept, id)
			}
		}
		t.AssignedTo = kept
		return nil
	})
}

// ChangeStatus overwrites the status. The timer is not touched.
func (m *Manager) ChangeStatus(ctx context.Context, taskID, actorID, newStatus string) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) error {
		if !t.IsAssigned(actorID) {
			return notAssigned()
		}
		status, ok := models.ParseTaskStatus(newStatus)
		if !ok {
			return invalidStatus(newStatus)
		}
		if t.Status == status {
			return errUnchanged
		}
		t.Status = status
		return nil
	})
}

// StartTimer opens a timing interval at now. Starting a running timer is a Conflict.
func (m *Manager) StartTimer(ctx context.Context, taskID, actorID string) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) error {
		if !t.IsAssigned(actorID) {
			return notAssigned()
		}
		if t.TimerRunning() {
			return apperr.Conflict(apperr.CodeTimerAlreadyRunning, "timer is already running")
		}
		now := m.clock.Now()
		t.StartTime = &now
		t.EndTime = nil
		return nil
	})
}

// StopTimer closes the running interval and adds its whole seconds to TimeSpent.
// Stopping a timer that is not running changes nothing.
func (m *Manager) StopTimer(ctx context.Context, taskID, actorID string) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) error {
		if !t.IsAssigned(actorID) {
			return notAssigned()
		}
		if !t.TimerRunning() {
			return errUnchanged
		}
		now := m.clock.Now()
		t.TimeSpent += ElapsedSeconds(*t.StartTime, now)
		t.EndTime = &now
		return nil
	})
}

// ElapsedSeconds is floor((end-start)/1s), never negative
func ElapsedSeconds(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// mutate applies fn to a fresh copy of the task and writes it back with a version check.
// fn returning errUnchanged ends the operation successfully without a write.
func (m *Manager) mutate(ctx context.Context, taskID string, fn func(t *models.Task) error) (*models.Task, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		task, err := m.getTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if err := fn(task); err != nil {
			if errors.Is(err, errUnchanged) {
				return task, nil
			}
			return nil, err
		}
		err = m.db.UpdateTask(ctx, task)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, database.ErrVersionConflict) {
			return nil, database.Classify(err, apperr.CodeTaskNotFound, "task")
		}
		m.logger.Debug("task version conflict, retrying", "task_id", taskID, "attempt", attempt)
	}
	return nil, apperr.Conflict(apperr.CodeVersionConflict, "task was modified concurrently, try again")
}

func (m *Manager) getTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := m.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeTaskNotFound, "task")
	}
	return task, nil
}

func (m *Manager) requireManager(ctx context.Context, workspaceID, actorID string) (*models.Workspace, error) {
	ws, role, err := m.members.Role(ctx, workspaceID, actorID)
	if err != nil {
		return nil, err
	}
	if !role.CanManageTasks() {
		return nil, apperr.Forbidden(apperr.CodeInsufficientRole, "admin or team lead role required")
	}
	return ws, nil
}

// resolveAssignees dedups ids and checks each one is a workspace member.
// users[i] is the user for ids[i].
func (m *Manager) resolveAssignees(ctx context.Context, ws *models.Workspace, userIDs []string) ([]string, []models.User, error) {
	ids := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := ws.RoleOf(id); !ok {
			return nil, nil, apperr.Invalid(apperr.CodeValidation, fmt.Sprintf("user %s is not a member of the workspace", id))
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []string{}, nil, nil
	}

	found, err := m.db.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, nil, database.Classify(err, apperr.CodeUserNotFound, "user")
	}
	byID := make(map[string]models.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	users := make([]models.User, len(ids))
	for i, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, nil, apperr.NotFound(apperr.CodeUserNotFound, fmt.Sprintf("user %s not found", id))
		}
		users[i] = u
	}
	return ids, users, nil
}

func assignmentIntents(task *models.Task, users []models.User) []models.NotificationIntent {
	if len(users) == 0 {
		return nil
	}
	deadline := "No deadline specified"
	if task.Deadline != nil {
		deadline = task.Deadline.Format("2006-01-02 15:04")
	}
	intents := make([]models.NotificationIntent, 0, len(users))
	for _, u := range users {
		intents = append(intents, models.NotificationIntent{
			Kind:      models.NotificationTaskAssigned,
			UserID:    u.ID,
			ToAddress: u.Email,
			ToName:    u.Name,
			Subject:   fmt.Sprintf("New Task Assigned: %s", task.Title),
			Body: fmt.Sprintf("Hi %s,\n\nYou have been assigned a new task: %q.\nDescription: %s\nDeadline: %s\n\nPlease log in to view more details.\n",
				u.Name, task.Title, task.Description, deadline),
			TaskID: task.ID,
		})
	}
	return intents
}

func notAssigned() error {
	return apperr.Forbidden(apperr.CodeNotAssigned, "you are not assigned to this task")
}

func invalidStatus(s string) error {
	return apperr.Invalid(apperr.CodeInvalidStatus, fmt.Sprintf("invalid status %q", s))
}
