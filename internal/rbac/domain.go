package rbac

import "time"

// Role represents a persisted permission grouping.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoleWithPermissions pairs a persisted role with the permissions linked to it
// in storage and the set the catalog declares for it.
type RoleWithPermissions struct {
	Role
	Permissions []string     `json:"permissions"`
	Declared    []Permission `json:"declaredPermissions"`
	Known       bool         `json:"known"`
}

// PermissionRecord is a persisted permission row.
type PermissionRecord struct {
	ID          int64
	Name        string
	Resource    string
	Action      string
	Description string
}

// UserRole links a user to a role.
type UserRole struct {
	UserID     string    `json:"userId"`
	RoleID     int64     `json:"roleId"`
	RoleName   string    `json:"role,omitempty"`
	AssignedAt time.Time `json:"assignedAt"`
	AssignedBy string    `json:"assignedBy,omitempty"`
}

// UserRoleRow is one (user, role) assignment joined with the user's email.
type UserRoleRow struct {
	UserID   string
	Email    string
	RoleName string
}

// UserPermissionRow is one permission reachable by a user through any role.
type UserPermissionRow struct {
	UserID     string
	Permission string
}

// RolePermissionLink is one persisted role-permission edge. Permission is
// empty for a role with no links.
type RolePermissionLink struct {
	RoleName   string
	Permission string
}
