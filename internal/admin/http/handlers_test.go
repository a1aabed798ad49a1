package adminhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturedeck/venturedeck/internal/admin"
	"github.com/venturedeck/venturedeck/internal/permaudit"
	"github.com/venturedeck/venturedeck/internal/platform/db"
	"github.com/venturedeck/venturedeck/internal/platform/db/dbtest"
	"github.com/venturedeck/venturedeck/internal/rbac"
	"github.com/venturedeck/venturedeck/internal/session"
	"github.com/venturedeck/venturedeck/internal/shared"
	"github.com/venturedeck/venturedeck/internal/users"
)

const auditToken = "machine-secret"

type apiFixture struct {
	router   chi.Router
	rbac     *rbac.Service
	users    *users.Service
	audit    *shared.AuditLogger
	sessions *session.Manager
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	conn := dbtest.OpenSQLite(t)
	repo := rbac.NewRepository(conn, db.DialectSQLite)
	rbacService := rbac.NewService(repo, rbac.Options{Logger: logger})
	userService := users.NewService(users.NewRepository(conn))
	_, err := rbac.NewSeeder(repo, rbacService, userService, logger).Seed(ctx, "")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := session.NewManager(client, "vd_session", time.Hour, false)

	gate := admin.NewGate(admin.GateConfig{
		Sessions: sessions,
		Limiter:  admin.NewMemoryRateLimiter(admin.DefaultRateLimit, admin.DefaultRateWindow),
		Authz:    rbacService,
		Logger:   logger,
	})
	auditLogger := shared.NewAuditLogger(conn)
	handler := NewHandler(Config{
		Logger:     logger,
		Gate:       gate,
		Roles:      rbacService,
		Users:      userService,
		Audit:      auditLogger,
		Reports:    permaudit.NewEngine(repo, logger),
		Sessions:   sessions,
		AuditToken: token,
	})
	router := chi.NewRouter()
	handler.MountRoutes(router)
	return &apiFixture{router: router, rbac: rbacService, users: userService, audit: auditLogger, sessions: sessions}
}

// member registers a directory user holding roles.
func (f *apiFixture) member(t *testing.T, id string, roles ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.users.Register(ctx, id, id+"@example.com", id)
	require.NoError(t, err)
	for _, role := range roles {
		_, err := f.rbac.AssignRoleByName(ctx, id, role, "")
		require.NoError(t, err)
	}
}

// login registers a user and returns a session token for it.
func (f *apiFixture) login(t *testing.T, id string, roles ...string) string {
	t.Helper()
	f.member(t, id, roles...)
	sess, err := f.sessions.Create(context.Background(), session.User{ID: id, Email: id + "@example.com"})
	require.NoError(t, err)
	return sess.ID
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set(session.HeaderToken, token)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.20")
	req.Header.Set("User-Agent", "admin-test")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) auditEntries(t *testing.T, action shared.AuditAction) []shared.AuditLog {
	t.Helper()
	entries, err := f.audit.List(context.Background(), shared.AuditFilter{Action: action})
	require.NoError(t, err)
	return entries
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSessionEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/admin/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["authenticated"])
	assert.Nil(t, body["user"])

	token := f.login(t, "root", rbac.RoleSuperAdmin)
	rec = f.do(t, http.MethodGet, "/admin/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, true, body["isAdmin"])

	token = f.login(t, "founder1", rbac.RoleFounder)
	body = decodeBody(t, f.do(t, http.MethodGet, "/admin/session", token, nil))
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, false, body["isAdmin"])
}

func TestRoutesRequirePermission(t *testing.T) {
	f := newAPIFixture(t, "")
	founder := f.login(t, "founder1", rbac.RoleFounder)
	root := f.login(t, "root", rbac.RoleSuperAdmin)

	rec := f.do(t, http.MethodGet, "/admin/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/roles", founder, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "roles.view")

	rec = f.do(t, http.MethodGet, "/admin/roles", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roles := decodeBody(t, rec)["roles"].([]any)
	assert.Len(t, roles, len(rbac.Roles()))
}

func TestAssignRole(t *testing.T) {
	f := newAPIFixture(t, "")
	root := f.login(t, "root", rbac.RoleSuperAdmin)
	mod := f.login(t, "mod", rbac.RoleModerator)
	f.member(t, "target", rbac.RoleFounder)

	rec := f.do(t, http.MethodPost, "/admin/users/target/roles", mod, map[string]string{"role": "moderator"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/users/target/roles", root, map[string]string{"role": "moderator"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	roles, err := f.rbac.UserRoles(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, []string{"founder", "moderator"}, roles)

	entries := f.auditEntries(t, shared.ActionRoleAssigned)
	require.Len(t, entries, 1)
	assert.Equal(t, "root", entries[0].ActorID)
	assert.Equal(t, "target", entries[0].TargetUserID)
	assert.Equal(t, "198.51.100.20", entries[0].IPAddress)
	assert.Equal(t, "admin-test", entries[0].UserAgent)

	rec = f.do(t, http.MethodPost, "/admin/users/target/roles", root, map[string]string{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/admin/users/target/roles", root, map[string]string{"role": "gardener"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/admin/users/target/roles", root, map[string]any{"role": "admin", "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/admin/users/ghost/roles", root, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetPrimaryRoleReplacesAll(t *testing.T) {
	f := newAPIFixture(t, "")
	root := f.login(t, "root", rbac.RoleSuperAdmin)
	f.member(t, "target", rbac.RoleFounder, rbac.RoleInvestor)

	rec := f.do(t, http.MethodPut, "/admin/users/root/primary-role", root, map[string]string{"role": "founder"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/admin/users/target/primary-role", root, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	roles, err := f.rbac.UserRoles(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, roles)

	entries := f.auditEntries(t, shared.ActionRoleAssigned)
	require.Len(t, entries, 1)
	assert.Equal(t, "set_primary_role", entries[0].Details["event"])
	assert.Equal(t, []any{"founder", "investor"}, entries[0].Details["previousRoles"])
}

func TestRevokeRole(t *testing.T) {
	f := newAPIFixture(t, "")
	root := f.login(t, "root", rbac.RoleSuperAdmin)
	f.member(t, "target", rbac.RoleFounder, rbac.RoleTalent)

	rec := f.do(t, http.MethodDelete, "/admin/users/target/roles/investor", root, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/admin/users/target/roles/talent", root, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	roles, err := f.rbac.UserRoles(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, []string{"founder"}, roles)

	rec = f.do(t, http.MethodDelete, "/admin/users/root/roles/super_admin", root, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetStatusChecksPermissionPerStatus(t *testing.T) {
	f := newAPIFixture(t, "")
	adminToken := f.login(t, "ops", rbac.RoleAdmin)
	f.member(t, "target", rbac.RoleFounder)

	rec := f.do(t, http.MethodPost, "/admin/users/target/status", adminToken, map[string]string{"status": "banned"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/users/target/status", adminToken, map[string]string{
		"status": "suspended",
		"reason": "repeated spam reports",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user, err := f.users.Get(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, users.StatusSuspended, user.Status)

	entries := f.auditEntries(t, shared.ActionUserSuspended)
	require.Len(t, entries, 1)
	assert.Equal(t, "repeated spam reports", entries[0].Details["reason"])

	rec = f.do(t, http.MethodPost, "/admin/users/ops/status", adminToken, map[string]string{"status": "suspended"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/admin/users/target/status", adminToken, map[string]string{"status": "deleted"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissionAuditEndpointRecordsAccess(t *testing.T) {
	f := newAPIFixture(t, "")
	mod := f.login(t, "mod", rbac.RoleModerator)
	ops := f.login(t, "ops", rbac.RoleAdmin)

	rec := f.do(t, http.MethodGet, "/admin/permission-audit", mod, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/permission-audit", ops, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report permaudit.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Summary.UsersScanned)
	assert.False(t, report.Summary.HasDrift())

	entries := f.auditEntries(t, shared.ActionRoleAssigned)
	require.Len(t, entries, 1)
	assert.Equal(t, "permission_audit", entries[0].Resource)
	assert.EqualValues(t, 0, entries[0].Details["usersWithDrift"])

	rec = f.do(t, http.MethodGet, "/admin/audit-logs?action=role_assigned", ops, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["entries"].([]any), 1)

	rec = f.do(t, http.MethodGet, "/admin/audit-logs?action=password_reset", ops, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMachineAuditEndpoint(t *testing.T) {
	unconfigured := newAPIFixture(t, "")
	rec := unconfigured.do(t, http.MethodGet, "/api/admin/permission-audit", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f := newAPIFixture(t, auditToken)
	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/permission-audit", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, call(auditToken).Code)

	rec = call("Bearer " + auditToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Contains(t, body["report"], "summary")
}

func TestImpersonation(t *testing.T) {
	f := newAPIFixture(t, "")
	root := f.login(t, "root", rbac.RoleSuperAdmin)
	f.member(t, "target", rbac.RoleFounder)

	rec := f.do(t, http.MethodPost, "/admin/users/root/impersonate", root, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/users/target/impersonate", root, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, f.do(t, http.MethodGet, "/admin/session", root, nil))
	assert.Equal(t, true, body["impersonating"])
	assert.Equal(t, "root", body["impersonatedBy"])
	assert.Equal(t, "target", body["user"].(map[string]any)["id"])

	// The impersonated founder cannot reach admin routes.
	rec = f.do(t, http.MethodGet, "/admin/roles", root, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/admin/impersonation", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, f.do(t, http.MethodGet, "/admin/session", root, nil))
	assert.Equal(t, false, body["impersonating"])
	assert.Equal(t, "root", body["user"].(map[string]any)["id"])

	entries := f.auditEntries(t, shared.ActionRoleAssigned)
	require.Len(t, entries, 2)
	events := []any{entries[0].Details["event"], entries[1].Details["event"]}
	assert.ElementsMatch(t, []any{"impersonate_user", "stop_impersonating"}, events)
	for _, e := range entries {
		assert.Equal(t, "root", e.ActorID)
		assert.Equal(t, "session", e.Resource)
	}

	rec = f.do(t, http.MethodDelete, "/admin/impersonation", root, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserRolesEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")
	root := f.login(t, "root", rbac.RoleSuperAdmin)
	f.member(t, "target", rbac.RoleModerator)

	rec := f.do(t, http.MethodGet, "/admin/users/target/roles", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp userRolesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"moderator"}, resp.Roles)
	assert.Len(t, resp.Assignments, 1)
	assert.Equal(t, []rbac.Permission{
		rbac.PermReportsResolve,
		rbac.PermReportsReview,
		rbac.PermReportsView,
		rbac.PermUsersView,
	}, resp.Permissions)
}
