// Package adminhttp exposes the back-office API. Every route is admitted by
// the admin gate before it touches a service.
package adminhttp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/venturedeck/venturedeck/internal/admin"
	"github.com/venturedeck/venturedeck/internal/permaudit"
	"github.com/venturedeck/venturedeck/internal/platform/httpx"
	"github.com/venturedeck/venturedeck/internal/rbac"
	"github.com/venturedeck/venturedeck/internal/session"
	"github.com/venturedeck/venturedeck/internal/shared"
	"github.com/venturedeck/venturedeck/internal/users"
)

// RoleService is the RBAC surface used by the handlers. *rbac.Service
// implements it.
type RoleService interface {
	ListRoles(ctx context.Context) ([]rbac.RoleWithPermissions, error)
	UserRoles(ctx context.Context, userID string) ([]string, error)
	UserPermissions(ctx context.Context, userID string) ([]rbac.Permission, error)
	Assignments(ctx context.Context, userID string) ([]rbac.UserRole, error)
	HasPermission(ctx context.Context, userID string, perm rbac.Permission) (bool, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	AssignRoleByName(ctx context.Context, userID, roleName, assignedBy string) (rbac.Role, error)
	SetUserPrimaryRoleByName(ctx context.Context, userID, roleName, assignedBy string) error
	RemoveRoleByName(ctx context.Context, userID, roleName string) (bool, error)
}

// UserDirectory reads and moderates directory accounts. *users.Service
// implements it.
type UserDirectory interface {
	Get(ctx context.Context, id string) (users.User, error)
	SetStatus(ctx context.Context, id string, status users.Status) error
}

// AuditTrail appends and lists audit entries. *shared.AuditLogger implements it.
type AuditTrail interface {
	Record(ctx context.Context, log shared.AuditLog) error
	List(ctx context.Context, filter shared.AuditFilter) ([]shared.AuditLog, error)
}

// ReportGenerator produces permission audit reports. *permaudit.Engine
// implements it.
type ReportGenerator interface {
	GenerateReport(ctx context.Context) (permaudit.Report, error)
}

// Impersonator switches the acting user of a session. *session.Manager
// implements it.
type Impersonator interface {
	Impersonate(ctx context.Context, id string, target session.User) (*session.Session, error)
	StopImpersonating(ctx context.Context, id string) (*session.Session, error)
}

// Config collects Handler dependencies. Sessions and AuditToken are optional.
type Config struct {
	Logger     *slog.Logger
	Gate       *admin.Gate
	Roles      RoleService
	Users      UserDirectory
	Audit      AuditTrail
	Reports    ReportGenerator
	Sessions   Impersonator
	AuditToken string
}

// Handler serves the admin API.
type Handler struct {
	logger     *slog.Logger
	gate       *admin.Gate
	roles      RoleService
	users      UserDirectory
	audit      AuditTrail
	reports    ReportGenerator
	sessions   Impersonator
	auditToken string
	validate   *validator.Validate
	now        func() time.Time
}

// NewHandler constructs the admin API handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		gate:       cfg.Gate,
		roles:      cfg.Roles,
		users:      cfg.Users,
		audit:      cfg.Audit,
		reports:    cfg.Reports,
		sessions:   cfg.Sessions,
		auditToken: strings.TrimSpace(cfg.AuditToken),
		validate:   newValidator(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	access, err := h.gate.Require(r.Context(), r.Header, "")
	if errors.Is(err, admin.ErrUnauthorized) {
		httpx.JSON(w, http.StatusOK, sessionResponse{})
		return
	}
	if err != nil {
		h.fail(w, "admin session", err)
		return
	}
	isAdmin, err := h.roles.IsAdmin(r.Context(), access.User.ID)
	if err != nil {
		h.fail(w, "admin session", err)
		return
	}
	resp := sessionResponse{
		Authenticated: true,
		IsAdmin:       isAdmin,
		Impersonating: access.Session.Impersonating(),
		User:          access.User,
	}
	if resp.Impersonating {
		resp.ImpersonatedBy = access.Session.ImpersonatedBy.ID
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")
	roles, err := h.roles.UserRoles(ctx, userID)
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	assignments, err := h.roles.Assignments(ctx, userID)
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	perms, err := h.roles.UserPermissions(ctx, userID)
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	if assignments == nil {
		assignments = []rbac.UserRole{}
	}
	httpx.JSON(w, http.StatusOK, userRolesResponse{
		UserID:      userID,
		Roles:       roles,
		Assignments: assignments,
		Permissions: perms,
	})
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	access := admin.AccessFromContext(r.Context())
	var req roleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	target, err := h.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	role, err := h.roles.AssignRoleByName(r.Context(), target.ID, req.Role, access.User.ID)
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	if err := h.record(r.Context(), access, shared.AuditLog{
		TargetUserID: target.ID,
		Action:       shared.ActionRoleAssigned,
		Resource:     "user_role",
		ResourceID:   role.Name,
		Details:      map[string]any{"event": "assign_role", "role": role.Name},
	}); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": target.ID, "role": role.Name})
}

func (h *Handler) handleSetPrimaryRole(w http.ResponseWriter, r *http.Request) {
	access := admin.AccessFromContext(r.Context())
	var req roleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	target, err := h.target(r, access)
	if err != nil {
		h.fail(w, "set primary role", err)
		return
	}
	previous, err := h.roles.UserRoles(r.Context(), target.ID)
	if err != nil {
		h.fail(w, "set primary role", err)
		return
	}
	if err := h.roles.SetUserPrimaryRoleByName(r.Context(), target.ID, req.Role, access.User.ID); err != nil {
		h.fail(w, "set primary role", err)
		return
	}
	if err := h.record(r.Context(), access, shared.AuditLog{
		TargetUserID: target.ID,
		Action:       shared.ActionRoleAssigned,
		Resource:     "user_role",
		ResourceID:   req.Role,
		Details:      map[string]any{"event": "set_primary_role", "role": req.Role, "previousRoles": previous},
	}); err != nil {
		h.fail(w, "set primary role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": target.ID, "role": req.Role})
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	access := admin.AccessFromContext(r.Context())
	target, err := h.target(r, access)
	if err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	roleName := chi.URLParam(r, "role")
	removed, err := h.roles.RemoveRoleByName(r.Context(), target.ID, roleName)
	if err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	if !removed {
		httpx.RespondError(w, fmt.Errorf("%w: user does not hold role %s", httpx.ErrNotFound, roleName))
		return
	}
	if err := h.record(r.Context(), access, shared.AuditLog{
		TargetUserID: target.ID,
		Action:       shared.ActionRoleAssigned,
		Resource:     "user_role",
		ResourceID:   roleName,
		Details:      map[string]any{"event": "revoke_role", "role": roleName},
	}); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	access := admin.AccessFromContext(r.Context())
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := users.Status(req.Status)
	perm, action := rbac.PermUsersSuspend, shared.ActionUserSuspended
	if status == users.StatusBanned {
		perm, action = rbac.PermUsersBan, shared.ActionUserBanned
	}
	allowed, err := h.roles.HasPermission(r.Context(), access.User.ID, perm)
	if err != nil {
		h.fail(w, "set status", err)
		return
	}
	if !allowed {
		httpx.RespondError(w, admin.ErrForbidden)
		return
	}
	target, err := h.target(r, access)
	if err != nil {
		h.fail(w, "set status", err)
		return
	}
	if err := h.users.SetStatus(r.Context(), target.ID, status); err != nil {
		h.fail(w, "set status", err)
		return
	}
	details := map[string]any{"from": string(target.Status), "to": string(status)}
	if req.Reason != "" {
		details["reason"] = req.Reason
	}
	if err := h.record(r.Context(), access, shared.AuditLog{
		TargetUserID: target.ID,
		Action:       action,
		Resource:     "user",
		ResourceID:   target.ID,
		Details:      details,
	}); err != nil {
		h.fail(w, "set status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": target.ID, "status": status})
}

func (h *Handler) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	access := admin.AccessFromContext(r.Context())
	if h.sessions == nil {
		httpx.RespondError(w, fmt.Errorf("%w: impersonation disabled", httpx.ErrServiceUnavailable))
		return
	}
	if access.Session.Impersonating() {
		httpx.RespondError(w, fmt.Errorf("%w: already impersonating", httpx.ErrBadRequest))
		return
	}
	target, err := h.target(r, access)
	if err != nil {
		h.fail(w, "impersonate", err)
		return
	}
	sess, err := h.sessions.Impersonate(r.Context(), access.Session.ID, session.User{
		ID:    target.ID,
		Email: target.Email,
		Name:  target.Name,
	})
	if err != nil {
		h.fail(w, "impersonate", err)
		return
	}
	if err := h.record(r.Context(), access, shared.AuditLog{
		TargetUserID: target.ID,
		Action:       shared.ActionRoleAssigned,
		Resource:     "session",
		ResourceID:   sess.ID,
		Details:      map[string]any{"event": "impersonate_user"},
	}); err != nil {
		h.fail(w, "impersonate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": sess.User, "impersonatedBy": access.User.ID})
}

func (h *Handler) handleStopImpersonating(w http.ResponseWriter, r *http.Request) {
	access := admin.AccessFromContext(r.Context())
	if h.sessions == nil {
		httpx.RespondError(w, fmt.Errorf("%w: impersonation disabled", httpx.ErrServiceUnavailable))
		return
	}
	if !access.Session.Impersonating() {
		httpx.RespondError(w, fmt.Errorf("%w: not impersonating", httpx.ErrBadRequest))
		return
	}
	actor := *access.Session.ImpersonatedBy
	sess, err := h.sessions.StopImpersonating(r.Context(), access.Session.ID)
	if err != nil {
		h.fail(w, "stop impersonating", err)
		return
	}
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:      actor.ID,
		TargetUserID: access.User.ID,
		Action:       shared.ActionRoleAssigned,
		Resource:     "session",
		ResourceID:   sess.ID,
		Details:      map[string]any{"event": "stop_impersonating"},
		IPAddress:    access.Metadata.IPAddress,
		UserAgent:    access.Metadata.UserAgent,
	}); err != nil {
		h.fail(w, "stop impersonating", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": sess.User})
}

func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.PaginationFromQuery(q)
	filter := shared.AuditFilter{
		ActorID:      strings.TrimSpace(q.Get("user_id")),
		TargetUserID: strings.TrimSpace(q.Get("target_user_id")),
		Action:       shared.AuditAction(strings.TrimSpace(q.Get("action"))),
		Limit:        page.PerPage,
		Offset:       page.Offset(),
	}
	if filter.Action != "" && !filter.Action.Valid() {
		httpx.RespondError(w, fmt.Errorf("%w: unknown action %q", httpx.ErrValidation, filter.Action))
		return
	}
	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "audit logs", err)
		return
	}
	if entries == nil {
		entries = []shared.AuditLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "pagination": page})
}

func (h *Handler) handlePermissionAudit(w http.ResponseWriter, r *http.Request) {
	access := admin.AccessFromContext(r.Context())
	report, err := h.reports.GenerateReport(r.Context())
	if err != nil {
		h.fail(w, "permission audit", err)
		return
	}
	if err := h.record(r.Context(), access, shared.AuditLog{
		Action:   shared.ActionRoleAssigned,
		Resource: "permission_audit",
		Details: map[string]any{
			"usersWithDrift": report.Summary.UsersWithDrift,
			"rolesWithDrift": report.Summary.RolesWithDrift,
		},
	}); err != nil {
		h.fail(w, "permission audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleMachineAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditToken == "" {
		httpx.RespondError(w, fmt.Errorf("%w: audit token not configured", httpx.ErrServiceUnavailable))
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.auditToken)) != 1 {
		httpx.RespondError(w, admin.ErrUnauthorized)
		return
	}
	report, err := h.reports.GenerateReport(r.Context())
	if err != nil {
		h.fail(w, "machine permission audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, machineAuditResponse{OK: true, Report: report})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validate.Struct(target); err != nil {
		return validationError(err)
	}
	return nil
}

// target loads the user named in the path and rejects self-targeting.
func (h *Handler) target(r *http.Request, access *admin.Access) (users.User, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == access.User.ID {
		return users.User{}, fmt.Errorf("%w: cannot target your own account", httpx.ErrBadRequest)
	}
	return h.users.Get(r.Context(), id)
}

func (h *Handler) record(ctx context.Context, access *admin.Access, entry shared.AuditLog) error {
	entry.ActorID = access.User.ID
	entry.IPAddress = access.Metadata.IPAddress
	entry.UserAgent = access.Metadata.UserAgent
	entry.At = h.now()
	return h.audit.Record(ctx, entry)
}

// fail maps service errors onto problem responses. Unexpected errors are logged.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: user not found", httpx.ErrNotFound))
	case errors.Is(err, rbac.ErrProtectedRole):
		httpx.RespondError(w, fmt.Errorf("%w: role is managed outside RBAC", httpx.ErrBadRequest))
	case errors.Is(err, httpx.ErrBadRequest), errors.Is(err, httpx.ErrValidation),
		errors.Is(err, httpx.ErrUnauthorized), errors.Is(err, httpx.ErrForbidden),
		errors.Is(err, httpx.ErrRateLimited):
		httpx.RespondError(w, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
