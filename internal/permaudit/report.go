package permaudit

import "time"

// Report is a point-in-time comparison of catalog policy against stored grants.
// It is never persisted.
type Report struct {
	GeneratedAt time.Time   `json:"generatedAt"`
	Summary     Summary     `json:"summary"`
	UserDrift   []UserDrift `json:"userDrift"`
	RoleDrift   []RoleDrift `json:"roleDrift"`
}

// Summary holds the report counters.
type Summary struct {
	UsersScanned   int      `json:"usersScanned"`
	UsersWithDrift int      `json:"usersWithDrift"`
	RolesScanned   int      `json:"rolesScanned"`
	RolesWithDrift int      `json:"rolesWithDrift"`
	UnknownRoles   []string `json:"unknownRoles"`
}

// HasDrift reports whether any user or role diverges from the catalog.
func (s Summary) HasDrift() bool {
	return s.UsersWithDrift > 0 || s.RolesWithDrift > 0
}

// UserDrift describes one user whose granted permissions differ from what
// their known roles declare.
type UserDrift struct {
	UserID              string   `json:"userId"`
	Email               string   `json:"email"`
	Roles               []string `json:"roles"`
	ExpectedPermissions []string `json:"expectedPermissions"`
	ActualPermissions   []string `json:"actualPermissions"`
	MissingPermissions  []string `json:"missingPermissions"`
	ExtraPermissions    []string `json:"extraPermissions"`
}

// RoleDrift describes one catalog role whose stored links differ from its
// declaration.
type RoleDrift struct {
	Role                string   `json:"role"`
	ExpectedPermissions []string `json:"expectedPermissions"`
	ActualPermissions   []string `json:"actualPermissions"`
	MissingPermissions  []string `json:"missingPermissions"`
	ExtraPermissions    []string `json:"extraPermissions"`
}
