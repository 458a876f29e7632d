package models

import "time"

// Built-in role names seeded by administration. Roles are free-form beyond
// these; approval steps reference them by name.
const (
	RoleSuperAdmin = "SUPERADMIN"
	RoleSiteAdmin  = "SITE_ADMIN"
	RoleFinance    = "FINANCE"
	RoleResearcher = "RESEARCHER"
)

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	SiteID       string     `db:"site_id" json:"site_id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	// Roles holds assigned role names, loaded from user_roles.
	Roles []string `db:"-" json:"roles,omitempty"`
}

// Role is a named set of permissions grantable to users.
type Role struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// Permissions holds permission names granted by the role.
	Permissions []string `db:"-" json:"permissions,omitempty"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	SiteID    string
	Role      string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
