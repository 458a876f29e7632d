package models

import "time"

// ApprovableTypeAccount tags chart-of-accounts entries in polymorphic
// approval references.
const ApprovableTypeAccount = "coa_account"

// AccountType classifies chart-of-accounts entries.
type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountRevenue   AccountType = "REVENUE"
	AccountExpense   AccountType = "EXPENSE"
)

// Account is one chart-of-accounts entry. New accounts start inactive and
// become active when their approval instance completes.
type Account struct {
	ID          string      `db:"id" json:"id"`
	SiteID      string      `db:"site_id" json:"site_id"`
	Code        string      `db:"code" json:"code"`
	Name        string      `db:"name" json:"name"`
	Type        AccountType `db:"type" json:"type"`
	ParentID    *string     `db:"parent_id" json:"parent_id,omitempty"`
	Description string      `db:"description" json:"description"`
	IsActive    bool        `db:"is_active" json:"is_active"`
	CreatedBy   string      `db:"created_by" json:"created_by"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Snapshot exposes the fields conditional step rules may match against.
func (a *Account) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"site_id":   a.SiteID,
		"code":      a.Code,
		"type":      string(a.Type),
		"is_active": a.IsActive,
	}
}

// AccountFilter captures filtering criteria for listing accounts.
type AccountFilter struct {
	SiteID    string
	Type      AccountType
	IsActive  *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
