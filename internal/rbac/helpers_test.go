package rbac

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/venturedeck/venturedeck/internal/platform/db"
	"github.com/venturedeck/venturedeck/internal/platform/db/dbtest"
	"github.com/venturedeck/venturedeck/internal/users"
)

type sqliteFixture struct {
	conn    *sql.DB
	repo    *Repository
	service *Service
	seeder  *Seeder
	users   *users.Service
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteFixture(t *testing.T) *sqliteFixture {
	t.Helper()
	conn := dbtest.OpenSQLite(t)
	repo := NewRepository(conn, db.DialectSQLite)
	service := NewService(repo, Options{Logger: quietLogger()})
	userService := users.NewService(users.NewRepository(conn))
	return &sqliteFixture{
		conn:    conn,
		repo:    repo,
		service: service,
		seeder:  NewSeeder(repo, service, userService, quietLogger()),
		users:   userService,
	}
}

func (f *sqliteFixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.seeder.Seed(context.Background(), "")
	require.NoError(t, err)
}

func (f *sqliteFixture) roleID(t *testing.T, name string) int64 {
	t.Helper()
	id, ok, err := f.service.RoleIDByName(context.Background(), name)
	require.NoError(t, err)
	require.True(t, ok, "role %s not seeded", name)
	return id
}

func (f *sqliteFixture) link(t *testing.T, role string, perm string) {
	t.Helper()
	ctx := context.Background()
	p := Permission(perm)
	permID, err := f.repo.UpsertPermission(ctx, PermissionRecord{Name: perm, Resource: p.Resource(), Action: p.Action()})
	require.NoError(t, err)
	require.NoError(t, f.repo.LinkRolePermission(ctx, f.roleID(t, role), permID))
}

func (f *sqliteFixture) unlink(t *testing.T, role string, perm string) {
	t.Helper()
	_, err := f.conn.Exec(`DELETE FROM role_permissions
		WHERE role_id = (SELECT id FROM roles WHERE name = $1)
		AND permission_id = (SELECT id FROM permissions WHERE name = $2)`, role, perm)
	require.NoError(t, err)
}

func (f *sqliteFixture) countUserRoles(t *testing.T, userID string) int {
	t.Helper()
	var n int
	require.NoError(t, f.conn.QueryRow(`SELECT COUNT(*) FROM user_roles WHERE user_id = $1`, userID).Scan(&n))
	return n
}
