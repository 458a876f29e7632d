package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agrariahq/agraria-api/internal/models"
)

// FiscalYearRepository handles persistence for fiscal years.
type FiscalYearRepository struct {
	db *sqlx.DB
}

// NewFiscalYearRepository instantiates a fiscal year repository.
func NewFiscalYearRepository(db *sqlx.DB) *FiscalYearRepository {
	return &FiscalYearRepository{db: db}
}

const fiscalYearColumns = `id, site_id, name, start_date, end_date, is_active, closed, created_at, updated_at`

// List returns fiscal years matching provided filters.
func (r *FiscalYearRepository) List(ctx context.Context, filter models.FiscalYearFilter) ([]models.FiscalYear, int, error) {
	base := "FROM fiscal_years WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.SiteID != "" {
		conditions = append(conditions, fmt.Sprintf("site_id = $%d", len(args)+1))
		args = append(args, filter.SiteID)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}
	if filter.Closed != nil {
		conditions = append(conditions, fmt.Sprintf("closed = $%d", len(args)+1))
		args = append(args, *filter.Closed)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"name": true, "start_date": true, "end_date": true, "created_at": true}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", fiscalYearColumns, base, sortBy, order, size, offset)

	var years []models.FiscalYear
	if err := r.db.SelectContext(ctx, &years, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fiscal years: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fiscal years: %w", err)
	}

	return years, total, nil
}

// FindByID loads a fiscal year by identifier.
func (r *FiscalYearRepository) FindByID(ctx context.Context, id string) (*models.FiscalYear, error) {
	query := fmt.Sprintf(`SELECT %s FROM fiscal_years WHERE id = $1`, fiscalYearColumns)
	var fy models.FiscalYear
	if err := r.db.GetContext(ctx, &fy, query, id); err != nil {
		return nil, err
	}
	return &fy, nil
}

// FindActiveBySite returns the active fiscal year for a site.
func (r *FiscalYearRepository) FindActiveBySite(ctx context.Context, siteID string) (*models.FiscalYear, error) {
	query := fmt.Sprintf(`SELECT %s FROM fiscal_years WHERE site_id = $1 AND is_active = TRUE LIMIT 1`, fiscalYearColumns)
	var fy models.FiscalYear
	if err := r.db.GetContext(ctx, &fy, query, siteID); err != nil {
		return nil, err
	}
	return &fy, nil
}

// ExistsByName checks name uniqueness within a site.
func (r *FiscalYearRepository) ExistsByName(ctx context.Context, siteID, name, excludeID string) (bool, error) {
	base := "SELECT 1 FROM fiscal_years WHERE site_id = $1 AND name = $2"
	args := []interface{}{siteID, name}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check fiscal year name: %w", err)
	}
	return true, nil
}

// Create inserts a new fiscal year record.
func (r *FiscalYearRepository) Create(ctx context.Context, fy *models.FiscalYear) error {
	if fy.ID == "" {
		fy.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if fy.CreatedAt.IsZero() {
		fy.CreatedAt = now
	}
	fy.UpdatedAt = now

	const query = `INSERT INTO fiscal_years (id, site_id, name, start_date, end_date, is_active, closed, created_at, updated_at) VALUES (:id, :site_id, :name, :start_date, :end_date, :is_active, :closed, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fy); err != nil {
		return fmt.Errorf("create fiscal year: %w", err)
	}
	return nil
}

// Update modifies an existing fiscal year.
func (r *FiscalYearRepository) Update(ctx context.Context, fy *models.FiscalYear) error {
	fy.UpdatedAt = time.Now().UTC()
	const query = `UPDATE fiscal_years SET name = :name, start_date = :start_date, end_date = :end_date, closed = :closed, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, fy); err != nil {
		return fmt.Errorf("update fiscal year: %w", err)
	}
	return nil
}

// SetActive marks the fiscal year active and deactivates its site siblings
// in a single transaction.
func (r *FiscalYearRepository) SetActive(ctx context.Context, siteID, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE fiscal_years SET is_active = FALSE, updated_at = $1 WHERE site_id = $2 AND is_active = TRUE AND id <> $3`, time.Now().UTC(), siteID, id); err != nil {
		return fmt.Errorf("deactivate other fiscal years: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE fiscal_years SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("activate fiscal year: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set active tx: %w", err)
	}
	return nil
}

// CountRevenues returns the number of revenues recorded against the year.
func (r *FiscalYearRepository) CountRevenues(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM revenues WHERE fiscal_year_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count fiscal year revenues: %w", err)
	}
	return count, nil
}

// Delete removes a fiscal year permanently.
func (r *FiscalYearRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM fiscal_years WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete fiscal year: %w", err)
	}
	return nil
}
