package users

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	ByID(ctx context.Context, id string) (User, error)
	ByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, user User) error
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
}

// Service handles user business logic.
type Service struct {
	repo  RepositoryPort
	clock func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, clock: func() time.Time { return time.Now().UTC() }}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, ErrNotFound
	}
	return s.repo.ByID(ctx, id)
}

// ByEmail looks a user up by case-insensitive email.
func (s *Service) ByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, ErrNotFound
	}
	return s.repo.ByEmail(ctx, email)
}

// Register creates an active user. Used by tooling and fixtures; sign-up
// itself is owned by the auth provider.
func (s *Service) Register(ctx context.Context, id, email, name string) (User, error) {
	now := s.clock()
	user := User{
		ID:        strings.TrimSpace(id),
		Email:     NormalizeEmail(email),
		Name:      strings.TrimSpace(name),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.ID == "" || user.Email == "" {
		return User{}, fmt.Errorf("users: id and email required")
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// SetStatus moves the user to the given moderation status.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.repo.UpdateStatus(ctx, id, status, s.clock())
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
