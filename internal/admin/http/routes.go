package adminhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/venturedeck/venturedeck/internal/platform/httpx"
	"github.com/venturedeck/venturedeck/internal/rbac"
)

const machineRateLimit = 10
const machineRateWindow = time.Minute

// MountRoutes registers the admin API under /admin and the token-authenticated
// audit endpoint under /api/admin.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/admin", func(ar chi.Router) {
		ar.Get("/session", h.handleSession)
		ar.With(h.gate.Middleware("")).Delete("/impersonation", h.handleStopImpersonating)

		ar.With(h.gate.Middleware(rbac.PermRolesView)).Get("/roles", h.handleListRoles)
		ar.Route("/users/{id}", func(ur chi.Router) {
			ur.With(h.gate.Middleware(rbac.PermRolesView)).Get("/roles", h.handleUserRoles)
			ur.With(h.gate.Middleware(rbac.PermRolesAssign)).Post("/roles", h.handleAssignRole)
			ur.With(h.gate.Middleware(rbac.PermRolesAssign)).Put("/primary-role", h.handleSetPrimaryRole)
			ur.With(h.gate.Middleware(rbac.PermRolesRevoke)).Delete("/roles/{role}", h.handleRevokeRole)
			// The required permission depends on the requested status.
			ur.With(h.gate.Middleware("")).Post("/status", h.handleSetStatus)
			ur.With(h.gate.Middleware(rbac.PermUsersUpdate)).Post("/impersonate", h.handleImpersonate)
		})

		ar.With(h.gate.Middleware(rbac.PermAuditLogsView)).Get("/audit-logs", h.handleAuditLogs)
		ar.With(h.gate.Middleware(rbac.PermAuditLogsView)).Get("/permission-audit", h.handlePermissionAudit)
	})

	limiter := httprate.Limit(machineRateLimit, machineRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.RespondError(w, httpx.ErrRateLimited)
		}),
	)
	r.With(limiter).Get("/api/admin/permission-audit", h.handleMachineAudit)
}
