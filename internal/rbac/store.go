package rbac

import "context"

// Store is the persistence surface the resolver reads and writes.
type Store interface {
	UserRoleNames(ctx context.Context, userID string) ([]string, error)
	UserPermissionNames(ctx context.Context, userID string) ([]string, error)
	UserAssignments(ctx context.Context, userID string) ([]UserRole, error)
	HasUserRole(ctx context.Context, userID string, roleID int64) (bool, error)
	InsertUserRole(ctx context.Context, assignment UserRole) error
	DeleteUserRole(ctx context.Context, userID string, roleID int64) (bool, error)
	// ReplaceUserRoles deletes every role of assignment.UserID and inserts
	// assignment in one transaction.
	ReplaceUserRoles(ctx context.Context, assignment UserRole) error
	RoleByName(ctx context.Context, name string) (Role, error)
	RoleByID(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	RolePermissionLinks(ctx context.Context) ([]RolePermissionLink, error)
}

// SeedStore is the write surface used to load the catalog into storage.
type SeedStore interface {
	UpsertPermission(ctx context.Context, perm PermissionRecord) (int64, error)
	UpsertRole(ctx context.Context, name, description string) (int64, error)
	LinkRolePermission(ctx context.Context, roleID, permissionID int64) error
}
