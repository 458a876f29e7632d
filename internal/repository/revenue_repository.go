package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agrariahq/agraria-api/internal/models"
)

// RevenueRepository handles persistence for revenue records.
type RevenueRepository struct {
	db *sqlx.DB
}

// NewRevenueRepository instantiates a revenue repository.
func NewRevenueRepository(db *sqlx.DB) *RevenueRepository {
	return &RevenueRepository{db: db}
}

const revenueColumns = `id, site_id, fiscal_year_id, account_id, program_id, reference, payor, amount_cents, received_at, remarks, recorded_by, created_at, updated_at`

func revenueConditions(filter models.RevenueFilter) (string, []interface{}) {
	base := "FROM revenues WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.SiteID != "" {
		conditions = append(conditions, fmt.Sprintf("site_id = $%d", len(args)+1))
		args = append(args, filter.SiteID)
	}
	if filter.FiscalYearID != "" {
		conditions = append(conditions, fmt.Sprintf("fiscal_year_id = $%d", len(args)+1))
		args = append(args, filter.FiscalYearID)
	}
	if filter.AccountID != "" {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", len(args)+1))
		args = append(args, filter.AccountID)
	}
	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("received_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("received_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(reference) LIKE $%d OR LOWER(payor) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	return base, args
}

// List returns revenues matching provided filters.
func (r *RevenueRepository) List(ctx context.Context, filter models.RevenueFilter) ([]models.Revenue, int, error) {
	base, args := revenueConditions(filter)

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"reference": true, "payor": true, "amount_cents": true, "received_at": true, "created_at": true}
	if !allowedSorts[sortBy] {
		sortBy = "received_at"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", revenueColumns, base, sortBy, order, size, offset)

	var revenues []models.Revenue
	if err := r.db.SelectContext(ctx, &revenues, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list revenues: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count revenues: %w", err)
	}

	return revenues, total, nil
}

// ListAll returns every revenue matching the filter without pagination, used
// by CSV exports. Caller bounds the result with maxRows.
func (r *RevenueRepository) ListAll(ctx context.Context, filter models.RevenueFilter, maxRows int) ([]models.Revenue, error) {
	base, args := revenueConditions(filter)
	if maxRows <= 0 {
		maxRows = 10000
	}
	query := fmt.Sprintf("SELECT %s %s ORDER BY received_at DESC LIMIT %d", revenueColumns, base, maxRows)

	var revenues []models.Revenue
	if err := r.db.SelectContext(ctx, &revenues, query, args...); err != nil {
		return nil, fmt.Errorf("export revenues: %w", err)
	}
	return revenues, nil
}

// SumByFiscalYear totals recorded revenue for a fiscal year.
func (r *RevenueRepository) SumByFiscalYear(ctx context.Context, fiscalYearID string) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount_cents), 0) FROM revenues WHERE fiscal_year_id = $1`
	var total int64
	if err := r.db.GetContext(ctx, &total, query, fiscalYearID); err != nil {
		return 0, fmt.Errorf("sum revenues: %w", err)
	}
	return total, nil
}

// FindByID loads a revenue by identifier.
func (r *RevenueRepository) FindByID(ctx context.Context, id string) (*models.Revenue, error) {
	query := fmt.Sprintf(`SELECT %s FROM revenues WHERE id = $1`, revenueColumns)
	var revenue models.Revenue
	if err := r.db.GetContext(ctx, &revenue, query, id); err != nil {
		return nil, err
	}
	return &revenue, nil
}

// Create inserts a new revenue record.
func (r *RevenueRepository) Create(ctx context.Context, revenue *models.Revenue) error {
	if revenue.ID == "" {
		revenue.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if revenue.CreatedAt.IsZero() {
		revenue.CreatedAt = now
	}
	revenue.UpdatedAt = now

	const query = `INSERT INTO revenues (id, site_id, fiscal_year_id, account_id, program_id, reference, payor, amount_cents, received_at, remarks, recorded_by, created_at, updated_at) VALUES (:id, :site_id, :fiscal_year_id, :account_id, :program_id, :reference, :payor, :amount_cents, :received_at, :remarks, :recorded_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, revenue); err != nil {
		return fmt.Errorf("create revenue: %w", err)
	}
	return nil
}

// Update modifies an existing revenue record.
func (r *RevenueRepository) Update(ctx context.Context, revenue *models.Revenue) error {
	revenue.UpdatedAt = time.Now().UTC()
	const query = `UPDATE revenues SET account_id = :account_id, program_id = :program_id, reference = :reference, payor = :payor, amount_cents = :amount_cents, received_at = :received_at, remarks = :remarks, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, revenue); err != nil {
		return fmt.Errorf("update revenue: %w", err)
	}
	return nil
}

// Delete removes a revenue record permanently.
func (r *RevenueRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM revenues WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete revenue: %w", err)
	}
	return nil
}
