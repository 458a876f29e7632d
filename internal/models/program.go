package models

import "time"

// ApprovableTypeProgram tags programs in polymorphic approval references.
const ApprovableTypeProgram = "program"

// Program is a research program with an allocated budget. Programs are
// created inactive and activated once their approval instance completes.
type Program struct {
	ID           string    `db:"id" json:"id"`
	SiteID       string    `db:"site_id" json:"site_id"`
	FiscalYearID string    `db:"fiscal_year_id" json:"fiscal_year_id"`
	Code         string    `db:"code" json:"code"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description"`
	BudgetCents  int64     `db:"budget_cents" json:"budget_cents"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedBy    string    `db:"created_by" json:"created_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Snapshot exposes the fields conditional step rules may match against.
func (p *Program) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"site_id":        p.SiteID,
		"fiscal_year_id": p.FiscalYearID,
		"code":           p.Code,
		"budget_cents":   p.BudgetCents,
		"is_active":      p.IsActive,
	}
}

// ProgramFilter captures filtering criteria for listing programs.
type ProgramFilter struct {
	SiteID       string
	FiscalYearID string
	IsActive     *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
