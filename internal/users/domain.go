package users

import (
	"errors"
	"time"
)

// ErrNotFound indicates that no user matched the lookup.
var ErrNotFound = errors.New("users: not found")

// ErrInvalidStatus is returned for status values outside the moderation set.
var ErrInvalidStatus = errors.New("users: invalid status")

// Status is the moderation state of a directory account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusBanned:
		return true
	}
	return false
}

// User represents a directory account as seen by the admin back-office.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
