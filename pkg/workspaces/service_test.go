package workspaces

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, database.DatabaseInterface, map[string]*models.User) {
	t.Helper()
	db, err := database.NewLocalDatabase("")
	require.NoError(t, err)

	users := map[string]*models.User{}
	for _, name := range []string{"admin", "alice", "bob", "carol"} {
		u := &models.User{Email: name + "@example.com", Name: name}
		require.NoError(t, db.CreateUser(context.Background(), u))
		users[name] = u
	}
	return NewService(db, slog.New(slog.NewTextHandler(io.Discard, nil))), db, users
}

func TestCreateMakesCallerAdmin(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()

	ws, err := svc.Create(ctx, users["admin"].ID, CreateRequest{Name: "  Team  "})
	require.NoError(t, err)
	assert.Equal(t, "Team", ws.Name)

	_, role, err := svc.Role(ctx, ws.ID, users["admin"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)

	_, err = svc.Create(ctx, users["admin"].ID, CreateRequest{Name: " "})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestRoleErrors(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()
	ws, err := svc.Create(ctx, users["admin"].ID, CreateRequest{Name: "Team"})
	require.NoError(t, err)

	_, _, err = svc.Role(ctx, "missing", users["admin"].ID)
	assert.Equal(t, apperr.CodeWorkspaceNotFound, apperr.CodeOf(err))

	_, _, err = svc.Role(ctx, ws.ID, users["alice"].ID)
	assert.Equal(t, apperr.CodeNotWorkspaceMember, apperr.CodeOf(err))
}

func TestMembershipManagement(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()
	admin := users["admin"].ID
	ws, err := svc.Create(ctx, admin, CreateRequest{Name: "Team"})
	require.NoError(t, err)

	_, _, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{UserID: users["alice"].ID})
	require.NoError(t, err)
	_, _, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{Email: "BOB@example.com"})
	require.NoError(t, err)
	// idempotent
	ws, _, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{UserID: users["alice"].ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{users["alice"].ID, users["bob"].ID}, ws.MemberIDs)

	// members cannot manage membership
	_, _, err = svc.AddMember(ctx, users["alice"].ID, ws.ID, MemberRequest{UserID: users["carol"].ID})
	assert.Equal(t, apperr.CodeInsufficientRole, apperr.CodeOf(err))

	_, _, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{Email: "nobody@example.com"})
	assert.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))

	ws, err = svc.RemoveMember(ctx, admin, ws.ID, users["bob"].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{users["alice"].ID}, ws.MemberIDs)

	_, err = svc.RemoveMember(ctx, admin, ws.ID, admin)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestSetTeamLeadDemotesPrevious(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()
	admin := users["admin"].ID
	ws, err := svc.Create(ctx, admin, CreateRequest{Name: "Team"})
	require.NoError(t, err)
	for _, name := range []string{"alice", "bob"} {
		_, _, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{UserID: users[name].ID})
		require.NoError(t, err)
	}

	ws, err = svc.SetTeamLead(ctx, admin, ws.ID, MemberRequest{UserID: users["alice"].ID})
	require.NoError(t, err)
	assert.Equal(t, users["alice"].ID, ws.TeamLeadID)
	assert.NotContains(t, ws.MemberIDs, users["alice"].ID)

	ws, err = svc.SetTeamLead(ctx, admin, ws.ID, MemberRequest{UserID: users["bob"].ID})
	require.NoError(t, err)
	assert.Equal(t, users["bob"].ID, ws.TeamLeadID)
	assert.Contains(t, ws.MemberIDs, users["alice"].ID)

	_, role, err := svc.Role(ctx, ws.ID, users["alice"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeamMember, role)

	_, err = svc.SetTeamLead(ctx, admin, ws.ID, MemberRequest{UserID: admin})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestDetailResolvesPeople(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()
	admin := users["admin"].ID
	ws, err := svc.Create(ctx, admin, CreateRequest{Name: "Team"})
	require.NoError(t, err)
	_, _, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{UserID: users["alice"].ID})
	require.NoError(t, err)
	_, err = svc.SetTeamLead(ctx, admin, ws.ID, MemberRequest{UserID: users["bob"].ID})
	require.NoError(t, err)

	detail, err := svc.Detail(ctx, users["alice"].ID, ws.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Admin)
	require.NotNil(t, detail.TeamLead)
	assert.Equal(t, "admin", detail.Admin.Name)
	assert.Equal(t, "bob", detail.TeamLead.Name)
	require.Len(t, detail.Members, 1)
	assert.Equal(t, "alice", detail.Members[0].Name)

	list, err := svc.List(ctx, users["bob"].ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = svc.List(ctx, users["carol"].ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAddMemberProducesNotification(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()
	admin := users["admin"].ID
	ws, err := svc.Create(ctx, admin, CreateRequest{Name: "Team"})
	require.NoError(t, err)

	_, intents, err := svc.AddMember(ctx, admin, ws.ID, MemberRequest{Email: "alice@example.com"})
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, models.NotificationMemberAdded, intents[0].Kind)
	assert.Equal(t, users["alice"].ID, intents[0].UserID)
	assert.Equal(t, "alice@example.com", intents[0].ToAddress)
	assert.Contains(t, intents[0].Subject, "Team")

	_, intents, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{UserID: users["alice"].ID})
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestRemovalHooks(t *testing.T) {
	svc, db, users := newTestService(t)
	ctx := context.Background()
	admin := users["admin"].ID

	type removal struct{ workspaceID, userID string }
	var got []removal
	svc.OnMemberRemoved(func(workspaceID, userID string) {
		got = append(got, removal{workspaceID, userID})
	})

	ws, err := svc.Create(ctx, admin, CreateRequest{Name: "Team"})
	require.NoError(t, err)
	for _, name := range []string{"alice", "bob"} {
		_, _, err = svc.AddMember(ctx, admin, ws.ID, MemberRequest{UserID: users[name].ID})
		require.NoError(t, err)
	}

	_, err = svc.RemoveMember(ctx, admin, ws.ID, users["bob"].ID)
	require.NoError(t, err)
	assert.Equal(t, []removal{{ws.ID, users["bob"].ID}}, got)

	// a rejected removal fires nothing
	_, err = svc.RemoveMember(ctx, admin, ws.ID, admin)
	require.Error(t, err)
	assert.Len(t, got, 1)

	got = nil
	assert.Equal(t, apperr.CodeInsufficientRole, apperr.CodeOf(svc.Delete(ctx, users["alice"].ID, ws.ID)))
	assert.Empty(t, got)

	require.NoError(t, svc.Delete(ctx, admin, ws.ID))
	assert.ElementsMatch(t, []removal{{ws.ID, admin}, {ws.ID, users["alice"].ID}}, got)

	_, err = db.GetWorkspace(ctx, ws.ID)
	assert.Error(t, err)
	assert.Equal(t, apperr.CodeWorkspaceNotFound, apperr.CodeOf(svc.Delete(ctx, admin, ws.ID)))
}
