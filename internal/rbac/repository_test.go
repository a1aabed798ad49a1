package rbac

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturedeck/venturedeck/internal/platform/db"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewRepository(conn, db.DialectPostgres), mock
}

func TestReplaceUserRolesRollsBackWhenInsertFails(t *testing.T) {
	repo, mock := newMockRepository(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_roles WHERE user_id =")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_roles")).
		WithArgs("u1", int64(3), at, "root").
		WillReturnError(errors.New("injected insert failure"))
	mock.ExpectRollback()

	err := repo.ReplaceUserRoles(context.Background(), UserRole{UserID: "u1", RoleID: 3, AssignedAt: at, AssignedBy: "root"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected insert failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceUserRolesCommits(t *testing.T) {
	repo, mock := newMockRepository(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_roles")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_roles")).
		WithArgs("u1", int64(3), at, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceUserRoles(context.Background(), UserRole{UserID: "u1", RoleID: 3, AssignedAt: at}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUserRoleMapsConstraintViolations(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_roles")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "user_roles_pkey"})
	err := repo.InsertUserRole(context.Background(), UserRole{UserID: "u1", RoleID: 1})
	require.ErrorIs(t, err, ErrConflict)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_roles")).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "user_roles_role_id_fkey"})
	err = repo.InsertUserRole(context.Background(), UserRole{UserID: "u1", RoleID: 99})
	require.ErrorIs(t, err, ErrRoleNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleByNameNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, description, created_at FROM roles WHERE name =")).
		WithArgs("gardener").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at"}))

	_, err := repo.RoleByName(context.Background(), "gardener")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRolePermissionLinksKeepsRolesWithoutLinks(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN role_permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"role", "permission"}).
			AddRow("admin", "users.view").
			AddRow("founder", nil))

	links, err := repo.RolePermissionLinks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []RolePermissionLink{
		{RoleName: "admin", Permission: "users.view"},
		{RoleName: "founder"},
	}, links)
	assert.NoError(t, mock.ExpectationsWereMet())
}
