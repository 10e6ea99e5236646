package handlers

import (
	"net/http"

	"team-collab-backend/pkg/timesession"
	"team-collab-backend/pkg/utils"
)

// SessionHandler 每日工作会话处理器
type SessionHandler struct {
	tracker *timesession.Tracker
}

func NewSessionHandler(tracker *timesession.Tracker) *SessionHandler {
	return &SessionHandler{tracker: tracker}
}

// POST /api/sessions/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	session, err := h.tracker.Start(r.Context(), user.ID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, session)
}

// POST /api/sessions/stop
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	session, err := h.tracker.Stop(r.Context(), user.ID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, session)
}

// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	summary, err := h.tracker.List(r.Context(), user.ID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, summary)
}
