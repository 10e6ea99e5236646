package handlers

import (
	"log/slog"
	"net/http"

	"team-collab-backend/pkg/models"
	"team-collab-backend/pkg/tasks"
	"team-collab-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// Notifier accepts notification intents for asynchronous delivery
type Notifier interface {
	Enqueue(intents ...models.NotificationIntent) int
}

// TaskHandler 任务处理器
type TaskHandler struct {
	tasks    *tasks.Manager
	notifier Notifier
	logger   *slog.Logger
}

func NewTaskHandler(manager *tasks.Manager, notifier Notifier, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: manager, notifier: notifier, logger: logger}
}

// POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req models.TaskCreateRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	task, intents, err := h.tasks.Create(r.Context(), user.ID, req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	h.notify(intents)
	utils.WriteCreatedResponse(w, task)
}

// GET /api/tasks/{taskID}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.Get(r.Context(), user.ID, chiRoute.URLParam(r, "taskID"))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PUT /api/tasks/{taskID}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req models.TaskUpdateRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	task, err := h.tasks.Edit(r.Context(), user.ID, chiRoute.URLParam(r, "taskID"), req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// DELETE /api/tasks/{taskID}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	taskID := chiRoute.URLParam(r, "taskID")
	if err := h.tasks.Delete(r.Context(), user.ID, taskID); err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": taskID})
}

// GET /api/tasks/workspace/{workspaceID}?status=
// GET /api/tasks/workspace/{workspaceID}/status/{status}
func (h *TaskHandler) ListWorkspaceTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	status := chiRoute.URLParam(r, "status")
	if status == "" {
		status = utils.GetQueryParam(r, "status", "")
	}
	list, err := h.tasks.ListByWorkspace(r.Context(), user.ID, chiRoute.URLParam(r, "workspaceID"), status)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, list)
}

// GET /api/tasks/user/{userID}
func (h *TaskHandler) ListUserTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID := chiRoute.URLParam(r, "userID")
	if userID == "me" {
		userID = user.ID
	}
	grouped, err := h.tasks.ListForUser(r.Context(), user.ID, userID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, grouped)
}

// PUT /api/tasks/{taskID}/assign
func (h *TaskHandler) AssignUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	task, intents, err := h.tasks.Assign(r.Context(), user.ID, chiRoute.URLParam(r, "taskID"), req.UserIDs)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	h.notify(intents)
	utils.WriteSuccessResponse(w, task)
}

// DELETE /api/tasks/{taskID}/users/{userID}
func (h *TaskHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.RemoveUser(r.Context(), user.ID, chiRoute.URLParam(r, "taskID"), chiRoute.URLParam(r, "userID"))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PUT /api/tasks/{taskID}/status
func (h *TaskHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	task, err := h.tasks.ChangeStatus(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID, req.Status)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PUT /api/tasks/{taskID}/start
func (h *TaskHandler) StartTimer(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.StartTimer(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PUT /api/tasks/{taskID}/stop
func (h *TaskHandler) StopTimer(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.StopTimer(r.Context(), chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

func (h *TaskHandler) notify(intents []models.NotificationIntent) {
	notify(h.notifier, h.logger, intents)
}

// notify hands intents to the dispatcher; delivery failures never reach the caller
func notify(notifier Notifier, logger *slog.Logger, intents []models.NotificationIntent) {
	if len(intents) == 0 || notifier == nil {
		return
	}
	if n := notifier.Enqueue(intents...); n < len(intents) {
		logger.Warn("notifications dropped", "queued", n, "total", len(intents))
	}
}
