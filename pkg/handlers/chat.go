package handlers

import (
	"net/http"

	"team-collab-backend/pkg/chat"
	"team-collab-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// ChatHandler 聊天的HTTP入口，与WebSocket共用同一个聊天服务
type ChatHandler struct {
	chat *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{chat: svc}
}

// GET /api/workspaces/{workspaceID}/chats
func (h *ChatHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	history, err := h.chat.ListHistory(r.Context(), user.ID, chiRoute.URLParam(r, "workspaceID"))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, history)
}

// POST /api/workspaces/{workspaceID}/chats
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	msg, err := h.chat.Send(r.Context(), chiRoute.URLParam(r, "workspaceID"), user.ID, req.Message)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, msg)
}

// PUT /api/chats/{chatID}/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	msg, err := h.chat.MarkRead(r.Context(), chiRoute.URLParam(r, "chatID"), user.ID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, msg)
}
