package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrRoleNotFound is returned when a write names a role that was never seeded.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrProtectedRole is returned for roles owned by organization membership.
	ErrProtectedRole = errors.New("rbac: role cannot be assigned through rbac")
	// ErrConflict indicates a duplicate edge.
	ErrConflict = errors.New("rbac: already exists")
)

// Options configures a Service.
type Options struct {
	// CacheTTL enables the effective-permission cache when positive.
	CacheTTL  time.Duration
	CacheSize int
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Service resolves roles and effective permissions from the Store. It never
// consults the catalog for grants, so drift between policy and storage stays
// visible to the audit.
type Service struct {
	store  Store
	cache  *expirable.LRU[string, []Permission]
	logger *slog.Logger
	clock  func() time.Time

	// cacheMu orders cache fills against invalidations. epoch advances on
	// every invalidation so a fill that started before a write is dropped.
	cacheMu sync.Mutex
	epoch   uint64
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store, opts Options) *Service {
	s := &Service{store: store, logger: opts.Logger, clock: opts.Clock}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 1024
		}
		s.cache = expirable.NewLRU[string, []Permission](size, nil, opts.CacheTTL)
	}
	return s
}

// UserRoles returns the sorted role names assigned to the user.
func (s *Service) UserRoles(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []string{}, nil
	}
	names, err := s.store.UserRoleNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user roles: %w", err)
	}
	return sortedUnique(names), nil
}

// UserPermissions returns the union of permissions linked in storage to every
// role the user holds. Persisted names outside the catalog are dropped.
func (s *Service) UserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []Permission{}, nil
	}
	var epoch uint64
	if s.cache != nil {
		if perms, ok := s.cache.Get(userID); ok {
			return slices.Clone(perms), nil
		}
		epoch = s.cacheEpoch()
	}
	names, err := s.store.UserPermissionNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user permissions: %w", err)
	}
	perms := make([]Permission, 0, len(names))
	for _, name := range names {
		p, ok := ParsePermission(name)
		if !ok {
			s.logger.Warn("rbac: ignoring unknown permission", slog.String("user_id", userID), slog.String("permission", name))
			continue
		}
		perms = append(perms, p)
	}
	slices.Sort(perms)
	perms = slices.Compact(perms)
	if s.cache != nil {
		s.fill(userID, epoch, perms)
	}
	return perms, nil
}

// HasPermission reports whether the user holds perm.
func (s *Service) HasPermission(ctx context.Context, userID string, perm Permission) (bool, error) {
	return s.HasAnyPermission(ctx, userID, perm)
}

// HasAnyPermission reports whether the user holds at least one of perms.
// An empty list is never satisfied.
func (s *Service) HasAnyPermission(ctx context.Context, userID string, perms ...Permission) (bool, error) {
	if len(perms) == 0 {
		return false, nil
	}
	granted, err := s.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if _, ok := slices.BinarySearch(granted, p); ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether the user holds every one of perms.
func (s *Service) HasAllPermissions(ctx context.Context, userID string, perms ...Permission) (bool, error) {
	granted, err := s.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if _, ok := slices.BinarySearch(granted, p); !ok {
			return false, nil
		}
	}
	return true, nil
}

// IsAdmin reports whether the user holds admin or super_admin.
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	roles, err := s.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(roles, RoleAdmin) || slices.Contains(roles, RoleSuperAdmin), nil
}

// IsSuperAdmin reports whether the user holds super_admin.
func (s *Service) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	roles, err := s.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(roles, RoleSuperAdmin), nil
}

// Assignments returns the user's role edges.
func (s *Service) Assignments(ctx context.Context, userID string) ([]UserRole, error) {
	return s.store.UserAssignments(ctx, strings.TrimSpace(userID))
}

// AssignRole inserts an edge unconditionally. A duplicate yields ErrConflict
// and the owner role yields ErrProtectedRole.
func (s *Service) AssignRole(ctx context.Context, userID string, roleID int64, assignedBy string) error {
	if _, err := s.assignableByID(ctx, roleID); err != nil {
		return err
	}
	return s.insert(ctx, userID, roleID, assignedBy)
}

// AssignRoleIfMissing inserts the edge unless it already exists. A concurrent
// insert of the same edge is treated as success.
func (s *Service) AssignRoleIfMissing(ctx context.Context, userID string, roleID int64, assignedBy string) error {
	if _, err := s.assignableByID(ctx, roleID); err != nil {
		return err
	}
	return s.insertIfMissing(ctx, userID, roleID, assignedBy)
}

// AssignRoleByName resolves roleName and assigns it if missing.
func (s *Service) AssignRoleByName(ctx context.Context, userID, roleName, assignedBy string) (Role, error) {
	role, err := s.lookupAssignable(ctx, roleName)
	if err != nil {
		return Role{}, err
	}
	if err := s.insertIfMissing(ctx, userID, role.ID, assignedBy); err != nil {
		return Role{}, err
	}
	return role, nil
}

func (s *Service) insertIfMissing(ctx context.Context, userID string, roleID int64, assignedBy string) error {
	userID = strings.TrimSpace(userID)
	exists, err := s.store.HasUserRole(ctx, userID, roleID)
	if err != nil {
		return fmt.Errorf("rbac: check user role: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.insert(ctx, userID, roleID, assignedBy); err != nil && !errors.Is(err, ErrConflict) {
		return err
	}
	return nil
}

func (s *Service) insert(ctx context.Context, userID string, roleID int64, assignedBy string) error {
	userID = strings.TrimSpace(userID)
	defer s.invalidate(userID)
	return s.store.InsertUserRole(ctx, UserRole{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: s.clock(),
		AssignedBy: assignedBy,
	})
}

// RemoveRole deletes one edge and reports whether it existed.
func (s *Service) RemoveRole(ctx context.Context, userID string, roleID int64) (bool, error) {
	userID = strings.TrimSpace(userID)
	defer s.invalidate(userID)
	return s.store.DeleteUserRole(ctx, userID, roleID)
}

// RemoveRoleByName resolves roleName and deletes the edge.
func (s *Service) RemoveRoleByName(ctx context.Context, userID, roleName string) (bool, error) {
	role, err := s.store.RoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
		}
		return false, err
	}
	return s.RemoveRole(ctx, userID, role.ID)
}

// SetUserPrimaryRoleByName atomically replaces all of the user's roles with
// roleName. Either the delete and insert both commit or neither does.
func (s *Service) SetUserPrimaryRoleByName(ctx context.Context, userID, roleName, assignedBy string) error {
	role, err := s.lookupAssignable(ctx, roleName)
	if err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	defer s.invalidate(userID)
	if err := s.store.ReplaceUserRoles(ctx, UserRole{
		UserID:     userID,
		RoleID:     role.ID,
		RoleName:   role.Name,
		AssignedAt: s.clock(),
		AssignedBy: assignedBy,
	}); err != nil {
		return fmt.Errorf("rbac: set primary role: %w", err)
	}
	return nil
}

// RoleIDByName returns the role ID and whether it exists.
func (s *Service) RoleIDByName(ctx context.Context, roleName string) (int64, bool, error) {
	role, err := s.store.RoleByName(ctx, strings.TrimSpace(roleName))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return role.ID, true, nil
}

// ListRoles returns persisted roles with their stored and declared permissions.
func (s *Service) ListRoles(ctx context.Context) ([]RoleWithPermissions, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	links, err := s.store.RolePermissionLinks(ctx)
	if err != nil {
		return nil, err
	}
	linked := make(map[string][]string, len(roles))
	for _, link := range links {
		if link.Permission == "" {
			continue
		}
		linked[link.RoleName] = append(linked[link.RoleName], link.Permission)
	}
	out := make([]RoleWithPermissions, 0, len(roles))
	for _, role := range roles {
		perms := sortedUnique(linked[role.Name])
		out = append(out, RoleWithPermissions{
			Role:        role,
			Permissions: perms,
			Declared:    DeclaredPermissions(role.Name),
			Known:       IsKnownRole(role.Name),
		})
	}
	return out, nil
}

// InvalidateAll drops every cached permission set.
func (s *Service) InvalidateAll() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.epoch++
	s.cache.Purge()
}

func (s *Service) lookupAssignable(ctx context.Context, roleName string) (Role, error) {
	roleName = strings.TrimSpace(roleName)
	if strings.EqualFold(roleName, RoleOwner) {
		return Role{}, ErrProtectedRole
	}
	role, err := s.store.RoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
		}
		return Role{}, err
	}
	return role, nil
}

// assignableByID rejects role IDs that do not exist or belong to the owner role.
func (s *Service) assignableByID(ctx context.Context, roleID int64) (Role, error) {
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Role{}, fmt.Errorf("%w: id %d", ErrRoleNotFound, roleID)
		}
		return Role{}, err
	}
	if strings.EqualFold(strings.TrimSpace(role.Name), RoleOwner) {
		return Role{}, ErrProtectedRole
	}
	return role, nil
}

func (s *Service) cacheEpoch() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.epoch
}

// fill stores perms unless an invalidation happened after epoch was read.
func (s *Service) fill(userID string, epoch uint64, perms []Permission) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.cache.Add(userID, slices.Clone(perms))
}

func (s *Service) invalidate(userID string) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.epoch++
	s.cache.Remove(strings.TrimSpace(userID))
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
