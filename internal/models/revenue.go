package models

import "time"

// Revenue records income received against an account within a fiscal year,
// optionally attributed to a program.
type Revenue struct {
	ID           string    `db:"id" json:"id"`
	SiteID       string    `db:"site_id" json:"site_id"`
	FiscalYearID string    `db:"fiscal_year_id" json:"fiscal_year_id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	ProgramID    *string   `db:"program_id" json:"program_id,omitempty"`
	Reference    string    `db:"reference" json:"reference"`
	Payor        string    `db:"payor" json:"payor"`
	AmountCents  int64     `db:"amount_cents" json:"amount_cents"`
	ReceivedAt   time.Time `db:"received_at" json:"received_at"`
	Remarks      string    `db:"remarks" json:"remarks"`
	RecordedBy   string    `db:"recorded_by" json:"recorded_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// RevenueFilter captures filtering criteria for listing revenues.
type RevenueFilter struct {
	SiteID       string
	FiscalYearID string
	AccountID    string
	ProgramID    string
	From         *time.Time
	To           *time.Time
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
