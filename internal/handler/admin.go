package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/college-resources/internal/auth"
	"github.com/sakif/college-resources/internal/model"
)

// UserManager is the slice of service.UserService the admin endpoints use.
type UserManager interface {
	ListStudents(ctx context.Context) ([]model.User, error)
	ChangeRole(ctx context.Context, id string, role model.Role) (*model.User, error)
	ChangeStatus(ctx context.Context, id string, status model.Status) (*model.User, error)
}

// Dashboards is the slice of service.StatsService behind the two dashboards.
type Dashboards interface {
	Admin(ctx context.Context) (*model.AdminStats, error)
	Student(ctx context.Context, userID string) (*model.StudentStats, error)
}

// AdminHandler serves account management and the dashboard statistics.
// Resource deletion lives on ResourceHandler; the router mounts it under
// /api/admin as well.
type AdminHandler struct {
	users     UserManager
	stats     Dashboards
	resources Resources
	logger    *slog.Logger
}

func NewAdminHandler(users UserManager, stats Dashboards, resources Resources, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		users:     users,
		stats:     stats,
		resources: resources,
		logger:    logger,
	}
}

type roleRequest struct {
	Role model.Role `json:"role" validate:"required,oneof=student admin"`
}

type statusRequest struct {
	Status model.Status `json:"status" validate:"required,oneof=active inactive"`
}

// HandleListUsers returns every non-admin account, newest first.
//
// HTTP: GET /api/admin/users
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListStudents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleChangeRole promotes or demotes an account.
//
// HTTP: PUT /api/admin/users/{id}/role
// REQUEST BODY: {"role": "admin"}
func (h *AdminHandler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.ChangeRole(r.Context(), r.PathValue("id"), req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logAction(r, "role changed", user.ID, string(user.Role))
	writeJSON(w, http.StatusOK, user)
}

// HandleChangeStatus activates or deactivates an account. Admin accounts
// can't be changed this way.
//
// HTTP: PUT /api/admin/users/{id}/status
// REQUEST BODY: {"status": "inactive"}
func (h *AdminHandler) HandleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.ChangeStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logAction(r, "status changed", user.ID, string(user.Status))
	writeJSON(w, http.StatusOK, user)
}

// HandleStats returns the admin dashboard.
//
// HTTP: GET /api/admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Admin(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleResources returns every resource with its uploader, newest first.
//
// HTTP: GET /api/admin/resources
func (h *AdminHandler) HandleResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.resources.List(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// HandleStudentStats returns the caller's dashboard. Any signed-in user may
// call it.
//
// HTTP: GET /api/admin/student-stats
func (h *AdminHandler) HandleStudentStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	stats, err := h.stats.Student(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) logAction(r *http.Request, msg, targetID, value string) {
	adminID, _ := auth.UserIDFromContext(r.Context())
	h.logger.Info(msg,
		slog.String("admin", adminID),
		slog.String("user", targetID),
		slog.String("value", value),
	)
}
