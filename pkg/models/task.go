package models

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "Pending"
	StatusInProgress TaskStatus = "In Progress"
	StatusCompleted  TaskStatus = "Completed"
)

// TaskStatuses lists the closed set of statuses in board order
var TaskStatuses = []TaskStatus{StatusPending, StatusInProgress, StatusCompleted}

// ParseTaskStatus validates s against the closed status set.
// "InProgress" is accepted as a spelling of "In Progress".
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch strings.TrimSpace(s) {
	case string(StatusPending):
		return StatusPending, true
	case string(StatusInProgress), "InProgress":
		return StatusInProgress, true
	case string(StatusCompleted):
		return StatusCompleted, true
	}
	return "", false
}

// Task is a unit of work inside a workspace
type Task struct {
	ID          string     `json:"id" bson:"_id" db:"id"`
	WorkspaceID string     `json:"workspace_id" bson:"workspace_id" db:"workspace_id"`
	Title       string     `json:"title" bson:"title" db:"title"`
	Description string     `json:"description,omitempty" bson:"description" db:"description"`
	Status      TaskStatus `json:"status" bson:"status" db:"status"`
	Deadline    *time.Time `json:"deadline,omitempty" bson:"deadline,omitempty" db:"deadline"`
	AssignedTo  []string   `json:"assigned_to" bson:"assigned_to" db:"assigned_to"`
	StartTime   *time.Time `json:"start_time,omitempty" bson:"start_time,omitempty" db:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty" bson:"end_time,omitempty" db:"end_time"`
	TimeSpent   int64      `json:"time_spent" bson:"time_spent" db:"time_spent"` // seconds
	Version     int64      `json:"version" bson:"version" db:"version"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// IsAssigned reports whether userID is in AssignedTo
func (t *Task) IsAssigned(userID string) bool {
	for _, id := range t.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// TimerRunning reports whether a started interval has not been stopped yet.
// Starting clears EndTime, so an open interval is StartTime set and EndTime nil.
func (t *Task) TimerRunning() bool {
	return t.StartTime != nil && t.EndTime == nil
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (t *Task) Clone() *Task {
	c := *t
	c.AssignedTo = append([]string(nil), t.AssignedTo...)
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.StartTime != nil {
		s := *t.StartTime
		c.StartTime = &s
	}
	if t.EndTime != nil {
		e := *t.EndTime
		c.EndTime = &e
	}
	return &c
}

// TaskCreateRequest represents the request payload for task creation
type TaskCreateRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	AssignedTo  []string   `json:"assigned_to"`
	WorkspaceID string     `json:"workspace_id"`
}

// TaskUpdateRequest carries the editable task fields; nil means unchanged
type TaskUpdateRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// TasksByStatus groups a user's tasks for the board view
type TasksByStatus struct {
	Pending    []Task `json:"pendingTasks"`
	InProgress []Task `json:"inProgressTasks"`
	Completed  []Task `json:"completedTasks"`
}
