package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/venturedeck/venturedeck/internal/platform/db"
)

// Repository implements Store, SeedStore and the audit read model on top of
// database/sql. The same queries run against Postgres and SQLite.
type Repository struct {
	conn    *sql.DB
	dialect db.Dialect
}

// NewRepository constructs a Repository.
func NewRepository(conn *sql.DB, dialect db.Dialect) *Repository {
	return &Repository{conn: conn, dialect: dialect}
}

const insertUserRoleSQL = `INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by) VALUES ($1, $2, $3, $4)`

// UserRoleNames returns the names of every role assigned to the user.
func (r *Repository) UserRoleNames(ctx context.Context, userID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT r.name FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
}

// UserPermissionNames returns the distinct permission names linked to any role
// the user holds.
func (r *Repository) UserPermissionNames(ctx context.Context, userID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT DISTINCT p.name FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.name`, userID)
}

// UserAssignments returns the user's role edges with attribution.
func (r *Repository) UserAssignments(ctx context.Context, userID string) ([]UserRole, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT ur.user_id, ur.role_id, r.name, ur.assigned_at, ur.assigned_by
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRole
	for rows.Next() {
		var ur UserRole
		var assignedBy sql.NullString
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.RoleName, &ur.AssignedAt, &assignedBy); err != nil {
			return nil, err
		}
		ur.AssignedBy = assignedBy.String
		out = append(out, ur)
	}
	return out, rows.Err()
}

// HasUserRole reports whether the (user, role) edge exists.
func (r *Repository) HasUserRole(ctx context.Context, userID string, roleID int64) (bool, error) {
	var one int
	err := r.conn.QueryRowContext(ctx, `SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2 LIMIT 1`, userID, roleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertUserRole inserts a single edge. A duplicate edge yields ErrConflict.
func (r *Repository) InsertUserRole(ctx context.Context, a UserRole) error {
	_, err := r.conn.ExecContext(ctx, insertUserRoleSQL, a.UserID, a.RoleID, a.AssignedAt, nullString(a.AssignedBy))
	if err != nil {
		return fmt.Errorf("rbac: insert user role: %w", mapWriteError(err))
	}
	return nil
}

// DeleteUserRole removes one edge and reports whether it existed.
func (r *Repository) DeleteUserRole(ctx context.Context, userID string, roleID int64) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReplaceUserRoles swaps all of the user's roles for a single assignment.
func (r *Repository) ReplaceUserRoles(ctx context.Context, a UserRole) error {
	return db.WithTx(ctx, r.conn, r.dialect.TxOptions(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, a.UserID); err != nil {
			return fmt.Errorf("rbac: clear user roles: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertUserRoleSQL, a.UserID, a.RoleID, a.AssignedAt, nullString(a.AssignedBy)); err != nil {
			return fmt.Errorf("rbac: insert user role: %w", mapWriteError(err))
		}
		return nil
	})
}

// RoleByName fetches a role. Returns ErrNotFound when absent.
func (r *Repository) RoleByName(ctx context.Context, name string) (Role, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT id, name, description, created_at FROM roles WHERE name = $1`, name)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	return role, err
}

// RoleByID looks up a role by primary key.
func (r *Repository) RoleByID(ctx context.Context, id int64) (Role, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT id, name, description, created_at FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	return role, err
}

// ListRoles returns all persisted roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT id, name, description, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// RolePermissionLinks returns every persisted role with its linked permissions.
// Roles without links appear once with an empty Permission.
func (r *Repository) RolePermissionLinks(ctx context.Context) ([]RolePermissionLink, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT r.name, p.name FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		ORDER BY r.name, p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RolePermissionLink
	for rows.Next() {
		var link RolePermissionLink
		var perm sql.NullString
		if err := rows.Scan(&link.RoleName, &perm); err != nil {
			return nil, err
		}
		link.Permission = perm.String
		out = append(out, link)
	}
	return out, rows.Err()
}

// AssignedRoles returns every (user, email, role) assignment. Users missing
// from the directory table report an empty email.
func (r *Repository) AssignedRoles(ctx context.Context) ([]UserRoleRow, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT ur.user_id, COALESCE(u.email, ''), r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN users u ON u.id = ur.user_id
		ORDER BY ur.user_id, r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRoleRow
	for rows.Next() {
		var row UserRoleRow
		if err := rows.Scan(&row.UserID, &row.Email, &row.RoleName); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AssignedPermissions returns every (user, permission) pair reachable through
// role links.
func (r *Repository) AssignedPermissions(ctx context.Context) ([]UserPermissionRow, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT DISTINCT ur.user_id, p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY ur.user_id, p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserPermissionRow
	for rows.Next() {
		var row UserPermissionRow
		if err := rows.Scan(&row.UserID, &row.Permission); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ConfiguredRoles returns every persisted role name.
func (r *Repository) ConfiguredRoles(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, `SELECT name FROM roles ORDER BY name`)
}

// UpsertPermission inserts or refreshes a permission row and returns its ID.
func (r *Repository) UpsertPermission(ctx context.Context, p PermissionRecord) (int64, error) {
	_, err := r.conn.ExecContext(ctx, `INSERT INTO permissions (name, resource, action, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET resource = excluded.resource, action = excluded.action, description = excluded.description`,
		p.Name, p.Resource, p.Action, nullString(p.Description))
	if err != nil {
		return 0, fmt.Errorf("rbac: upsert permission %s: %w", p.Name, err)
	}
	var id int64
	if err := r.conn.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name = $1`, p.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("rbac: load permission %s: %w", p.Name, err)
	}
	return id, nil
}

// UpsertRole inserts or refreshes a role row and returns its ID.
func (r *Repository) UpsertRole(ctx context.Context, name, description string) (int64, error) {
	_, err := r.conn.ExecContext(ctx, `INSERT INTO roles (name, description, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET description = excluded.description`,
		name, nullString(description), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("rbac: upsert role %s: %w", name, err)
	}
	var id int64
	if err := r.conn.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("rbac: load role %s: %w", name, err)
	}
	return id, nil
}

// LinkRolePermission adds a role-permission edge if it does not exist.
func (r *Repository) LinkRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.conn.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("rbac: link role %d permission %d: %w", roleID, permissionID, err)
	}
	return nil
}

func (r *Repository) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRole(s scanner) (Role, error) {
	var role Role
	var description sql.NullString
	if err := s.Scan(&role.ID, &role.Name, &description, &role.CreatedAt); err != nil {
		return Role{}, err
	}
	role.Description = description.String
	return role, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapWriteError converts Postgres constraint violations into package errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: %s", ErrRoleNotFound, pgErr.ConstraintName)
	}
	return err
}
