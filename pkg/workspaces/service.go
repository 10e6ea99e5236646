// Package workspaces owns workspace creation, membership and role resolution.
// Task and chat services ask it who may act inside a workspace.
package workspaces

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/models"
)

// MemberRemovedFunc runs after userID lost access to workspaceID
type MemberRemovedFunc func(workspaceID, userID string)

type Service struct {
	db        database.DatabaseInterface
	logger    *slog.Logger
	onRemoved []MemberRemovedFunc
}

func NewService(db database.DatabaseInterface, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// OnMemberRemoved registers fn to run whenever a user leaves a workspace, either by
// removal or because the workspace was deleted. Register before serving requests.
func (s *Service) OnMemberRemoved(fn MemberRemovedFunc) {
	s.onRemoved = append(s.onRemoved, fn)
}

// CreateRequest represents the request payload for workspace creation
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MemberRequest names a user by id or by email
type MemberRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Role resolves the role userID holds in workspaceID.
// NotFound when the workspace is missing, Forbidden when the user is not a member.
func (s *Service) Role(ctx context.Context, workspaceID, userID string) (*models.Workspace, models.WorkspaceRole, error) {
	ws, err := s.db.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, "", database.Classify(err, apperr.CodeWorkspaceNotFound, "workspace")
	}
	role, ok := ws.RoleOf(userID)
	if !ok {
		return nil, "", apperr.Forbidden(apperr.CodeNotWorkspaceMember, "not a member of this workspace")
	}
	return ws, role, nil
}

// Create 创建工作区（调用者成为管理员）
func (s *Service) Create(ctx context.Context, actorID string, req CreateRequest) (*models.Workspace, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Invalid(apperr.CodeValidation, "name is required")
	}
	ws := &models.Workspace{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		AdminID:     actorID,
		MemberIDs:   []string{},
	}
	if err := s.db.CreateWorkspace(ctx, ws); err != nil {
		return nil, database.Classify(err, apperr.CodeWorkspaceNotFound, "workspace")
	}
	s.logger.Info("workspace created", "workspace_id", ws.ID, "admin_id", actorID)
	return ws, nil
}

// List 列出用户所在的工作区
func (s *Service) List(ctx context.Context, actorID string) ([]models.Workspace, error) {
	list, err := s.db.ListUserWorkspaces(ctx, actorID)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeWorkspaceNotFound, "workspace")
	}
	if list == nil {
		list = []models.Workspace{}
	}
	return list, nil
}

// Detail returns the workspace with admin, lead and members resolved
func (s *Service) Detail(ctx context.Context, actorID, workspaceID string) (*models.WorkspaceDetail, error) {
	ws, _, err := s.Role(ctx, workspaceID, actorID)
	if err != nil {
		return nil, err
	}

	ids := append([]string{ws.AdminID}, ws.MemberIDs...)
	if ws.TeamLeadID != "" {
		ids = append(ids, ws.TeamLeadID)
	}
	users, err := s.db.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeUserNotFound, "user")
	}
	byID := make(map[string]models.UserSummary, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Summary()
	}

	detail := &models.WorkspaceDetail{Workspace: *ws, Members: []models.UserSummary{}}
	if u, ok := byID[ws.AdminID]; ok {
		detail.Admin = &u
	}
	if u, ok := byID[ws.TeamLeadID]; ok {
		detail.TeamLead = &u
	}
	for _, id := range ws.MemberIDs {
		if u, ok := byID[id]; ok {
			detail.Members = append(detail.Members, u)
		}
	}
	return detail, nil
}

// AddMember 管理员添加成员（幂等）
// A newly added user gets a notification intent; re-adding returns none.
func (s *Service) AddMember(ctx context.Context, actorID, workspaceID string, req MemberRequest) (*models.Workspace, []models.NotificationIntent, error) {
	ws, err := s.requireAdmin(ctx, workspaceID, actorID)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.resolveUser(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := ws.RoleOf(user.ID); ok {
		return ws, nil, nil
	}
	ws.MemberIDs = append(ws.MemberIDs, user.ID)
	if err := s.db.UpdateWorkspace(ctx, ws); err != nil {
		return nil, nil, database.Classify(err, apperr.CodeWorkspaceNotFound, "workspace")
	}
	s.logger.Info("workspace member added", "workspace_id", ws.ID, "user_id", user.ID)
	return ws, []models.NotificationIntent{memberAddedIntent(ws, user)}, nil
}

// RemoveMember 管理员移除成员或组长
func (s *Service) RemoveMember(ctx context.Context, actorID, workspaceID, userID string) (*models.Workspace, error) {
	ws, err := s.requireAdmin(ctx, workspaceID, actorID)
	if err != nil {
		return nil, err
	}
	if userID == ws.AdminID {
		return nil, apperr.Invalid(apperr.CodeValidation, "the admin cannot be removed")
	}
	if ws.TeamLeadID == userID {
		ws.TeamLeadID = ""
	}
	ws.MemberIDs = without(ws.MemberIDs, userID)
	if err := s.db.UpdateWorkspace(ctx, ws); err != nil {
		return nil, database.Classify(err, apperr.CodeWorkspaceNotFound, "workspace")
	}
	s.logger.Info("workspace member removed", "workspace_id", ws.ID, "user_id", userID)
	s.memberRemoved(ws.ID, userID)
	return ws, nil
}

// Delete 管理员删除工作区，连同其任务和聊天记录
func (s *Service) Delete(ctx context.Context, actorID, workspaceID string) error {
	ws, err := s.requireAdmin(ctx, workspaceID, actorID)
	if err != nil {
		return err
	}
	if err := s.db.DeleteWorkspace(ctx, ws.ID); err != nil {
		return database.Classify(err, apperr.CodeWorkspaceNotFound, "workspace")
	}
	s.logger.Info("workspace deleted", "workspace_id", ws.ID, "admin_id", actorID)

	s.memberRemoved(ws.ID, ws.AdminID)
	if ws.TeamLeadID != "" {
		s.memberRemoved(ws.ID, ws.TeamLeadID)
	}
	for _, id := range ws.MemberIDs {
		s.memberRemoved(ws.ID, id)
	}
	return nil
}

// SetTeamLead 设置组长；原组长降为普通成员
func (s *Service) SetTeamLead(ctx context.Context, actorID, workspaceID string, req MemberRequest) (*models.Workspace, error) {
	ws, err := s.requireAdmin(ctx, workspaceID, actorID)
	if err != nil {
		return nil, err
	}
	user, err := s.resolveUser(ctx, req)
	if err != nil {
		return nil, err
	}
	if user.ID == ws.AdminID {
		return nil, apperr.Invalid(apperr.CodeValidation, "the admin cannot also be team lead")
	}
	if ws.TeamLeadID == user.ID {
		return ws, nil
	}
	if ws.TeamLeadID != "" {
		ws.MemberIDs = append(ws.MemberIDs, ws.TeamLeadID)
	}
	ws.TeamLeadID = user.ID
	ws.MemberIDs = without(ws.MemberIDs, user.ID)
	if err := s.db.UpdateWorkspace(ctx, ws); err != nil {
		return nil, database.Classify(err, apperr.CodeWorkspaceNotFound, "workspace")
	}
	s.logger.Info("team lead set", "workspace_id", ws.ID, "user_id", user.ID)
	return ws, nil
}

func (s *Service) requireAdmin(ctx context.Context, workspaceID, actorID string) (*models.Workspace, error) {
	ws, role, err := s.Role(ctx, workspaceID, actorID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin {
		return nil, apperr.Forbidden(apperr.CodeInsufficientRole, "admin privileges required")
	}
	return ws, nil
}

func (s *Service) resolveUser(ctx context.Context, req MemberRequest) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	switch {
	case strings.TrimSpace(req.UserID) != "":
		user, err = s.db.GetUserByID(ctx, strings.TrimSpace(req.UserID))
	case strings.TrimSpace(req.Email) != "":
		user, err = s.db.GetUserByEmail(ctx, req.Email)
	default:
		return nil, apperr.Invalid(apperr.CodeValidation, "user_id or email is required")
	}
	if err != nil {
		return nil, database.Classify(err, apperr.CodeUserNotFound, "user")
	}
	return user, nil
}

func (s *Service) memberRemoved(workspaceID, userID string) {
	for _, fn := range s.onRemoved {
		fn(workspaceID, userID)
	}
}

func memberAddedIntent(ws *models.Workspace, user *models.User) models.NotificationIntent {
	return models.NotificationIntent{
		Kind:      models.NotificationMemberAdded,
		UserID:    user.ID,
		ToAddress: user.Email,
		ToName:    user.Name,
		Subject:   fmt.Sprintf("You have been added to workspace: %s", ws.Name),
		Body: fmt.Sprintf("Hi %s,\n\nYou are now a member of the workspace %q.\n\nLog in to see its tasks and chat.\n",
			user.Name, ws.Name),
	}
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
