package handlers

import (
	"log/slog"
	"net/http"

	"team-collab-backend/pkg/utils"
	"team-collab-backend/pkg/workspaces"

	chiRoute "github.com/go-chi/chi/v5"
)

type WorkspaceHandler struct {
	workspaces *workspaces.Service
	notifier   Notifier
	logger     *slog.Logger
}

func NewWorkspaceHandler(svc *workspaces.Service, notifier Notifier, logger *slog.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{workspaces: svc, notifier: notifier, logger: logger}
}

// POST /api/workspaces
func (h *WorkspaceHandler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req workspaces.CreateRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	ws, err := h.workspaces.Create(r.Context(), user.ID, req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, ws)
}

// GET /api/workspaces
func (h *WorkspaceHandler) ListMyWorkspaces(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	list, err := h.workspaces.List(r.Context(), user.ID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, list)
}

// GET /api/workspaces/{workspaceID}
func (h *WorkspaceHandler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	detail, err := h.workspaces.Detail(r.Context(), user.ID, chiRoute.URLParam(r, "workspaceID"))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, detail)
}

// POST /api/workspaces/{workspaceID}/members
func (h *WorkspaceHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req workspaces.MemberRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	ws, intents, err := h.workspaces.AddMember(r.Context(), user.ID, chiRoute.URLParam(r, "workspaceID"), req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	notify(h.notifier, h.logger, intents)
	utils.WriteSuccessResponse(w, ws)
}

// DELETE /api/workspaces/{workspaceID}
func (h *WorkspaceHandler) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	workspaceID := chiRoute.URLParam(r, "workspaceID")
	if err := h.workspaces.Delete(r.Context(), user.ID, workspaceID); err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": workspaceID})
}

// DELETE /api/workspaces/{workspaceID}/members/{userID}
func (h *WorkspaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ws, err := h.workspaces.RemoveMember(r.Context(), user.ID, chiRoute.URLParam(r, "workspaceID"), chiRoute.URLParam(r, "userID"))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, ws)
}

// PUT /api/workspaces/{workspaceID}/teamlead
func (h *WorkspaceHandler) SetTeamLead(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req workspaces.MemberRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	ws, err := h.workspaces.SetTeamLead(r.Context(), user.ID, chiRoute.URLParam(r, "workspaceID"), req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, ws)
}
