package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"team-collab-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDatabase_UserEmailUnique(t *testing.T) {
	ctx := context.Background()
	db, err := NewLocalDatabase("")
	require.NoError(t, err)

	require.NoError(t, db.CreateUser(ctx, &models.User{Email: "a@example.com", Name: "A"}))
	err = db.CreateUser(ctx, &models.User{Email: "A@example.com", Name: "Other"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	u, err := db.GetUserByEmail(ctx, "a@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "A", u.Name)
	assert.Equal(t, int64(1), u.Version)
}

func TestLocalDatabase_UpdateTaskCAS(t *testing.T) {
	ctx := context.Background()
	db, err := NewLocalDatabase("")
	require.NoError(t, err)

	task := &models.Task{WorkspaceID: "w1", Title: "T", Status: models.StatusPending}
	require.NoError(t, db.CreateTask(ctx, task))

	first, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	second, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)

	first.Title = "first"
	require.NoError(t, db.UpdateTask(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Title = "second"
	err = db.UpdateTask(ctx, second)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Title)

	err = db.UpdateTask(ctx, &models.Task{ID: "missing", Version: 1})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalDatabase_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	db, err := NewLocalDatabase("")
	require.NoError(t, err)

	task := &models.Task{WorkspaceID: "w1", Title: "T", AssignedTo: []string{"u1"}}
	require.NoError(t, db.CreateTask(ctx, task))

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	got.AssignedTo[0] = "mutated"

	again, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, again.AssignedTo)
}

func TestLocalDatabase_ListTasksByWorkspace(t *testing.T) {
	ctx := context.Background()
	db, err := NewLocalDatabase("")
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateTask(ctx, &models.Task{WorkspaceID: "w1", Title: "second", Status: models.StatusPending, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, db.CreateTask(ctx, &models.Task{WorkspaceID: "w1", Title: "first", Status: models.StatusCompleted, CreatedAt: base}))
	require.NoError(t, db.CreateTask(ctx, &models.Task{WorkspaceID: "w2", Title: "other", Status: models.StatusPending, CreatedAt: base}))

	all, err := db.ListTasksByWorkspace(ctx, "w1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Title)
	assert.Equal(t, "second", all[1].Title)

	pending, err := db.ListTasksByWorkspace(ctx, "w1", models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "second", pending[0].Title)
}

func TestLocalDatabase_AddChatReader(t *testing.T) {
	ctx := context.Background()
	db, err := NewLocalDatabase("")
	require.NoError(t, err)

	chat := &models.ChatMessage{WorkspaceID: "w1", SenderID: "u1", Message: "hi", ReadBy: []string{}}
	require.NoError(t, db.CreateChat(ctx, chat))

	got, added, err := db.AddChatReader(ctx, chat.ID, "u2")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"u2"}, got.ReadBy)

	got, added, err = db.AddChatReader(ctx, chat.ID, "u2")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"u2"}, got.ReadBy)

	_, _, err = db.AddChatReader(ctx, "missing", "u2")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalDatabase_ChatOrderTieBreak(t *testing.T) {
	ctx := context.Background()
	db, err := NewLocalDatabase("")
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, db.CreateChat(ctx, &models.ChatMessage{WorkspaceID: "w1", Message: text, CreatedAt: at}))
	}

	history, err := db.ListChatsByWorkspace(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Message)
	assert.Equal(t, "two", history[1].Message)
	assert.Equal(t, "three", history[2].Message)
}

func TestLocalDatabase_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := NewLocalDatabase(dir)
	require.NoError(t, err)
	user := &models.User{Email: "p@example.com", Name: "P"}
	require.NoError(t, db.CreateUser(ctx, user))
	ws := &models.Workspace{Name: "W", AdminID: user.ID, MemberIDs: []string{}}
	require.NoError(t, db.CreateWorkspace(ctx, ws))
	chat := &models.ChatMessage{WorkspaceID: ws.ID, SenderID: user.ID, Message: "persist me"}
	require.NoError(t, db.CreateChat(ctx, chat))
	require.NoError(t, db.Close())

	reopened, err := NewLocalDatabase(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.HealthCheck(ctx))

	got, err := reopened.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "P", got.Name)

	list, err := reopened.ListUserWorkspaces(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	history, err := reopened.ListChatsByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "persist me", history[0].Message)
}

func TestLocalDatabase_DeleteWorkspaceCascades(t *testing.T) {
	ctx := context.Background()
	db, err := NewLocalDatabase("")
	require.NoError(t, err)

	ws := &models.Workspace{Name: "W", AdminID: "u1", MemberIDs: []string{}}
	keep := &models.Workspace{Name: "K", AdminID: "u1", MemberIDs: []string{}}
	require.NoError(t, db.CreateWorkspace(ctx, ws))
	require.NoError(t, db.CreateWorkspace(ctx, keep))
	require.NoError(t, db.CreateTask(ctx, &models.Task{WorkspaceID: ws.ID, Title: "gone", AssignedTo: []string{"u1"}}))
	require.NoError(t, db.CreateTask(ctx, &models.Task{WorkspaceID: keep.ID, Title: "kept", AssignedTo: []string{"u1"}}))
	require.NoError(t, db.CreateChat(ctx, &models.ChatMessage{WorkspaceID: ws.ID, SenderID: "u1", Message: "gone"}))

	require.NoError(t, db.DeleteWorkspace(ctx, ws.ID))

	_, err = db.GetWorkspace(ctx, ws.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	tasks, err := db.ListTasksByAssignee(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "kept", tasks[0].Title)
	history, err := db.ListChatsByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	err = db.DeleteWorkspace(ctx, ws.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalDatabase_FailedWriteLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")

	db, err := NewLocalDatabase(dir)
	require.NoError(t, err)
	ws := &models.Workspace{Name: "W", AdminID: "u1", MemberIDs: []string{}}
	require.NoError(t, db.CreateWorkspace(ctx, ws))
	task := &models.Task{WorkspaceID: ws.ID, Title: "T", Status: models.StatusPending}
	require.NoError(t, db.CreateTask(ctx, task))
	chat := &models.ChatMessage{WorkspaceID: ws.ID, SenderID: "u1", Message: "first", ReadBy: []string{"u1"}}
	require.NoError(t, db.CreateChat(ctx, chat))

	// every write fails while the data directory is gone
	require.NoError(t, os.RemoveAll(dir))

	lost := &models.ChatMessage{WorkspaceID: ws.ID, SenderID: "u1", Message: "lost"}
	assert.Error(t, db.CreateChat(ctx, lost))
	assert.Empty(t, lost.ID)
	history, err := db.ListChatsByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, _, err = db.AddChatReader(ctx, chat.ID, "u2")
	assert.Error(t, err)
	stored, err := db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, stored.ReadBy)

	task.Title = "changed"
	assert.Error(t, db.UpdateTask(ctx, task))
	assert.Equal(t, int64(1), task.Version)
	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "T", got.Title)
	assert.Equal(t, int64(1), got.Version)

	assert.Error(t, db.DeleteTask(ctx, task.ID))
	_, err = db.GetTask(ctx, task.ID)
	assert.NoError(t, err)

	assert.Error(t, db.CreateUser(ctx, &models.User{Email: "x@example.com"}))
	_, err = db.GetUserByEmail(ctx, "x@example.com")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, db.DeleteWorkspace(ctx, ws.ID))
	_, err = db.GetWorkspace(ctx, ws.ID)
	assert.NoError(t, err)
	tasks, err := db.ListTasksByWorkspace(ctx, ws.ID, "")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	// writes resume once the directory is back, and ordering is intact
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, db.CreateChat(ctx, &models.ChatMessage{WorkspaceID: ws.ID, SenderID: "u1", Message: "second", CreatedAt: chat.CreatedAt}))
	history, err = db.ListChatsByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Message)
	assert.Equal(t, "second", history[1].Message)
}
