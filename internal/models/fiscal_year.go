package models

import "time"

// FiscalYear is the accounting period revenues and budgets are recorded
// against. At most one fiscal year is active per site.
type FiscalYear struct {
	ID        string    `db:"id" json:"id"`
	SiteID    string    `db:"site_id" json:"site_id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	Closed    bool      `db:"closed" json:"closed"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FiscalYearFilter captures filtering criteria for listing fiscal years.
type FiscalYearFilter struct {
	SiteID    string
	IsActive  *bool
	Closed    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
