// Package permaudit compares the permission catalog against what the role
// store actually grants, per user and per role. It only reads.
package permaudit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venturedeck/venturedeck/internal/rbac"
)

// Source is the read side of the role store the engine needs.
// *rbac.Repository implements it.
type Source interface {
	AssignedRoles(ctx context.Context) ([]rbac.UserRoleRow, error)
	AssignedPermissions(ctx context.Context) ([]rbac.UserPermissionRow, error)
	ConfiguredRoles(ctx context.Context) ([]string, error)
	RolePermissionLinks(ctx context.Context) ([]rbac.RolePermissionLink, error)
}

// Engine generates permission audit reports.
type Engine struct {
	source Source
	logger *slog.Logger
	clock  func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the report timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine constructs an Engine.
func NewEngine(source Source, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{source: source, logger: logger, clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type userState struct {
	email  string
	roles  set
	actual set
}

// GenerateReport reads the current grants and computes drift. Inconsistent data
// is reported, never returned as an error; only store failures are.
func (e *Engine) GenerateReport(ctx context.Context) (Report, error) {
	var (
		assigned   []rbac.UserRoleRow
		granted    []rbac.UserPermissionRow
		configured []string
		links      []rbac.RolePermissionLink
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		assigned, err = e.source.AssignedRoles(gctx)
		return wrap("assigned roles", err)
	})
	g.Go(func() (err error) {
		granted, err = e.source.AssignedPermissions(gctx)
		return wrap("assigned permissions", err)
	})
	g.Go(func() (err error) {
		configured, err = e.source.ConfiguredRoles(gctx)
		return wrap("configured roles", err)
	})
	g.Go(func() (err error) {
		links, err = e.source.RolePermissionLinks(gctx)
		return wrap("role permission links", err)
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	unknown := make(set)
	report := Report{
		GeneratedAt: e.clock().UTC(),
		UserDrift:   []UserDrift{},
		RoleDrift:   []RoleDrift{},
	}

	usersByID := make(map[string]*userState)
	user := func(id string) *userState {
		u, ok := usersByID[id]
		if !ok {
			u = &userState{roles: make(set), actual: make(set)}
			usersByID[id] = u
		}
		return u
	}
	for _, row := range assigned {
		u := user(row.UserID)
		if u.email == "" {
			u.email = row.Email
		}
		u.roles.add(row.RoleName)
	}
	for _, row := range granted {
		user(row.UserID).actual.add(row.Permission)
	}

	userIDs := make([]string, 0, len(usersByID))
	for id := range usersByID {
		userIDs = append(userIDs, id)
	}
	slices.Sort(userIDs)

	for _, id := range userIDs {
		u := usersByID[id]
		expected := make(set)
		for role := range u.roles {
			if !rbac.IsKnownRole(role) {
				unknown.add(role)
				continue
			}
			for _, perm := range rbac.DeclaredPermissions(role) {
				expected.add(perm.String())
			}
		}
		missing := expected.minus(u.actual)
		extra := u.actual.minus(expected)
		if len(missing) == 0 && len(extra) == 0 {
			continue
		}
		report.UserDrift = append(report.UserDrift, UserDrift{
			UserID:              id,
			Email:               u.email,
			Roles:               u.roles.sorted(),
			ExpectedPermissions: expected.sorted(),
			ActualPermissions:   u.actual.sorted(),
			MissingPermissions:  missing.sorted(),
			ExtraPermissions:    extra.sorted(),
		})
	}

	linked := make(map[string]set)
	for _, link := range links {
		if link.Permission == "" {
			continue
		}
		if linked[link.RoleName] == nil {
			linked[link.RoleName] = make(set)
		}
		linked[link.RoleName].add(link.Permission)
	}

	roles := slices.Clone(configured)
	slices.Sort(roles)
	roles = slices.Compact(roles)
	for _, role := range roles {
		if !rbac.IsKnownRole(role) {
			unknown.add(role)
			continue
		}
		expected := make(set)
		for _, perm := range rbac.DeclaredPermissions(role) {
			expected.add(perm.String())
		}
		actual := linked[role]
		if actual == nil {
			actual = make(set)
		}
		missing := expected.minus(actual)
		extra := actual.minus(expected)
		if len(missing) == 0 && len(extra) == 0 {
			continue
		}
		report.RoleDrift = append(report.RoleDrift, RoleDrift{
			Role:                role,
			ExpectedPermissions: expected.sorted(),
			ActualPermissions:   actual.sorted(),
			MissingPermissions:  missing.sorted(),
			ExtraPermissions:    extra.sorted(),
		})
	}

	report.Summary = Summary{
		UsersScanned:   len(usersByID),
		UsersWithDrift: len(report.UserDrift),
		RolesScanned:   len(roles),
		RolesWithDrift: len(report.RoleDrift),
		UnknownRoles:   unknown.sorted(),
	}
	e.logger.Info("permission audit generated",
		slog.Int("users_scanned", report.Summary.UsersScanned),
		slog.Int("users_with_drift", report.Summary.UsersWithDrift),
		slog.Int("roles_scanned", report.Summary.RolesScanned),
		slog.Int("roles_with_drift", report.Summary.RolesWithDrift),
		slog.Int("unknown_roles", len(report.Summary.UnknownRoles)),
	)
	return report, nil
}

func wrap(step string, err error) error {
	if err != nil {
		return fmt.Errorf("permaudit: %s: %w", step, err)
	}
	return nil
}

type set map[string]struct{}

func (s set) add(v string) {
	s[v] = struct{}{}
}

func (s set) minus(other set) set {
	out := make(set)
	for v := range s {
		if _, ok := other[v]; !ok {
			out.add(v)
		}
	}
	return out
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
