package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/venturedeck/venturedeck/internal/users"
)

// ErrUserNotFound is returned when a promotion names an unknown email.
var ErrUserNotFound = errors.New("rbac: user not found")

// UserLookup resolves directory users by email.
type UserLookup interface {
	ByEmail(ctx context.Context, email string) (users.User, error)
}

// SeedResult summarises one Seed run.
type SeedResult struct {
	Permissions int    `json:"permissions"`
	Roles       int    `json:"roles"`
	Links       int    `json:"links"`
	AdminUserID string `json:"adminUserId,omitempty"`
	AdminSkip   string `json:"adminSkipped,omitempty"`
}

// Seeder loads the catalog into storage. Every step is an upsert, so running it
// repeatedly converges on the same state.
type Seeder struct {
	store   SeedStore
	service *Service
	users   UserLookup
	logger  *slog.Logger
}

// NewSeeder constructs a Seeder.
func NewSeeder(store SeedStore, service *Service, lookup UserLookup, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, service: service, users: lookup, logger: logger}
}

// Seed upserts every catalog permission and role, links declared permissions,
// and when adminEmail names an existing user assigns super_admin to it.
func (s *Seeder) Seed(ctx context.Context, adminEmail string) (SeedResult, error) {
	var result SeedResult
	permIDs := make(map[Permission]int64)
	for _, perm := range AllPermissions() {
		id, err := s.store.UpsertPermission(ctx, PermissionRecord{
			Name:        perm.String(),
			Resource:    perm.Resource(),
			Action:      perm.Action(),
			Description: fmt.Sprintf("%s %s permission", perm.Resource(), perm.Action()),
		})
		if err != nil {
			return result, err
		}
		permIDs[perm] = id
		result.Permissions++
	}

	for _, role := range Roles() {
		roleID, err := s.store.UpsertRole(ctx, role, role+" role")
		if err != nil {
			return result, err
		}
		result.Roles++
		for _, perm := range DeclaredPermissions(role) {
			if err := s.store.LinkRolePermission(ctx, roleID, permIDs[perm]); err != nil {
				return result, err
			}
			result.Links++
		}
	}
	if s.service != nil {
		s.service.InvalidateAll()
	}
	s.logger.Info("rbac seed applied",
		slog.Int("permissions", result.Permissions),
		slog.Int("roles", result.Roles),
		slog.Int("links", result.Links),
	)

	if adminEmail == "" {
		return result, nil
	}
	user, err := s.PromoteByEmail(ctx, adminEmail, RoleSuperAdmin, "")
	switch {
	case errors.Is(err, ErrUserNotFound):
		result.AdminSkip = "no user with email " + users.NormalizeEmail(adminEmail)
		s.logger.Warn("rbac seed: bootstrap admin not found", slog.String("email", users.NormalizeEmail(adminEmail)))
	case err != nil:
		return result, err
	default:
		result.AdminUserID = user.ID
	}
	return result, nil
}

// PromoteByEmail assigns roleName to the user with the given email if missing.
func (s *Seeder) PromoteByEmail(ctx context.Context, email, roleName, assignedBy string) (users.User, error) {
	if s.users == nil || s.service == nil {
		return users.User{}, errors.New("rbac: seeder not configured for promotion")
	}
	user, err := s.users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return users.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, users.NormalizeEmail(email))
		}
		return users.User{}, err
	}
	if _, err := s.service.AssignRoleByName(ctx, user.ID, roleName, assignedBy); err != nil {
		return users.User{}, err
	}
	s.logger.Info("rbac role granted", slog.String("user_id", user.ID), slog.String("role", roleName))
	return user, nil
}
