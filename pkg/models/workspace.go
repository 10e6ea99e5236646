package models

import "time"

// Workspace represents a collaboration space (one admin, at most one team lead, members)
type Workspace struct {
	ID          string    `json:"id" bson:"_id" db:"id"`
	Name        string    `json:"name" bson:"name" db:"name"`
	Description string    `json:"description,omitempty" bson:"description" db:"description"`
	AdminID     string    `json:"admin_id" bson:"admin_id" db:"admin_id"`
	TeamLeadID  string    `json:"team_lead_id,omitempty" bson:"team_lead_id" db:"team_lead_id"`
	MemberIDs   []string  `json:"member_ids" bson:"member_ids" db:"member_ids"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

type WorkspaceRole string

const (
	RoleAdmin      WorkspaceRole = "admin"
	RoleTeamLead   WorkspaceRole = "teamLead"
	RoleTeamMember WorkspaceRole = "teamMember"
)

// RoleOf returns the role userID holds in the workspace, or false if not a member
func (w *Workspace) RoleOf(userID string) (WorkspaceRole, bool) {
	if userID == "" {
		return "", false
	}
	switch {
	case w.AdminID == userID:
		return RoleAdmin, true
	case w.TeamLeadID == userID:
		return RoleTeamLead, true
	}
	for _, id := range w.MemberIDs {
		if id == userID {
			return RoleTeamMember, true
		}
	}
	return "", false
}

// CanManageTasks reports whether the role may create, edit, assign and delete tasks
func (r WorkspaceRole) CanManageTasks() bool {
	return r == RoleAdmin || r == RoleTeamLead
}

// WorkspaceDetail is a workspace with its people resolved for display
type WorkspaceDetail struct {
	Workspace
	Admin    *UserSummary  `json:"admin,omitempty"`
	TeamLead *UserSummary  `json:"team_lead,omitempty"`
	Members  []UserSummary `json:"members"`
}
