package rbac

import (
	"slices"
	"strings"
)

// Permission is a capability identifier of the form "<resource>.<action>".
// The set of valid values is closed; persisted strings are re-validated with
// ParsePermission.
type Permission string

const (
	PermUsersView       Permission = "users.view"
	PermUsersCreate     Permission = "users.create"
	PermUsersUpdate     Permission = "users.update"
	PermUsersDelete     Permission = "users.delete"
	PermUsersSuspend    Permission = "users.suspend"
	PermUsersBan        Permission = "users.ban"
	PermInvestorsVerify Permission = "investors.verify"
	PermInvestorsReject Permission = "investors.reject"
	PermReportsView     Permission = "reports.view"
	PermReportsReview   Permission = "reports.review"
	PermReportsResolve  Permission = "reports.resolve"
	PermAnalyticsView   Permission = "analytics.view"
	PermAnalyticsExport Permission = "analytics.export"
	PermRolesView       Permission = "roles.view"
	PermRolesAssign     Permission = "roles.assign"
	PermRolesRevoke     Permission = "roles.revoke"
	PermSystemSettings  Permission = "system.settings"
	PermAuditLogsView   Permission = "audit_logs.view"
)

// Catalog role names.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleModerator  = "moderator"
	RoleFounder    = "founder"
	RoleInvestor   = "investor"
	RoleTalent     = "talent"
)

// RoleOwner is the organization owner role managed by the membership API. It is
// never assignable through RBAC.
const RoleOwner = "owner"

var catalogPermissions = []Permission{
	PermUsersView,
	PermUsersCreate,
	PermUsersUpdate,
	PermUsersDelete,
	PermUsersSuspend,
	PermUsersBan,
	PermInvestorsVerify,
	PermInvestorsReject,
	PermReportsView,
	PermReportsReview,
	PermReportsResolve,
	PermAnalyticsView,
	PermAnalyticsExport,
	PermRolesView,
	PermRolesAssign,
	PermRolesRevoke,
	PermSystemSettings,
	PermAuditLogsView,
}

var catalogRoles = []string{RoleSuperAdmin, RoleAdmin, RoleModerator, RoleFounder, RoleInvestor, RoleTalent}

var rolePermissions = map[string][]Permission{
	RoleSuperAdmin: catalogPermissions,
	RoleAdmin: {
		PermUsersView,
		PermUsersUpdate,
		PermUsersSuspend,
		PermInvestorsVerify,
		PermInvestorsReject,
		PermReportsView,
		PermReportsReview,
		PermReportsResolve,
		PermAnalyticsView,
		PermAuditLogsView,
	},
	RoleModerator: {
		PermUsersView,
		PermReportsView,
		PermReportsReview,
		PermReportsResolve,
	},
	RoleFounder:  {},
	RoleInvestor: {},
	RoleTalent:   {},
}

var permissionIndex = func() map[string]Permission {
	idx := make(map[string]Permission, len(catalogPermissions))
	for _, p := range catalogPermissions {
		idx[string(p)] = p
	}
	return idx
}()

// AllPermissions returns every declared permission, sorted.
func AllPermissions() []Permission {
	out := slices.Clone(catalogPermissions)
	slices.Sort(out)
	return out
}

// Roles returns the catalog role names in declaration order.
func Roles() []string {
	return slices.Clone(catalogRoles)
}

// IsKnownRole reports whether role is declared in the catalog.
func IsKnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// DeclaredPermissions returns the policy-expected permissions for role, sorted.
// Unknown roles and roles without permissions both yield an empty slice; use
// IsKnownRole to tell them apart.
func DeclaredPermissions(role string) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	slices.Sort(out)
	return out
}

// ParsePermission validates a persisted permission string.
func ParsePermission(raw string) (Permission, bool) {
	p, ok := permissionIndex[raw]
	return p, ok
}

// Valid reports whether p is part of the catalog.
func (p Permission) Valid() bool {
	_, ok := permissionIndex[string(p)]
	return ok
}

// Resource returns the part before the first dot.
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(string(p), ".")
	return resource
}

// Action returns the part after the first dot.
func (p Permission) Action() string {
	_, action, _ := strings.Cut(string(p), ".")
	return action
}

func (p Permission) String() string {
	return string(p)
}

// PermissionStrings converts permissions to their string form.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
