package users

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository provides SQL backed persistence for users.
type Repository struct {
	conn *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(conn *sql.DB) *Repository {
	return &Repository{conn: conn}
}

const userColumns = `id, email, name, status, created_at, updated_at`

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// ByID fetches a user by identifier.
func (r *Repository) ByID(ctx context.Context, id string) (User, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanOne(row)
}

// ByEmail fetches a user by normalized email.
func (r *Repository) ByEmail(ctx context.Context, email string) (User, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = $1`, email)
	return scanOne(row)
}

// Create inserts a user row.
func (r *Repository) Create(ctx context.Context, user User) error {
	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, string(user.Status), user.CreatedAt, user.UpdatedAt)
	return err
}

// UpdateStatus sets the moderation status. Returns ErrNotFound when no row changed.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	res, err := r.conn.ExecContext(ctx, `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`, string(status), at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (User, error) {
	var user User
	var status string
	if err := s.Scan(&user.ID, &user.Email, &user.Name, &status, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.Status = Status(status)
	return user, nil
}

func scanOne(row *sql.Row) (User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}
