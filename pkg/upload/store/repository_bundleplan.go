package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// BundlePlanRepository owns the bundle_plans table.
type BundlePlanRepository struct {
	client *Client
}

func NewBundlePlanRepository(client *Client) *BundlePlanRepository {
	return &BundlePlanRepository{client: client}
}

// Create inserts a new plan, set to status new. The planner assigns
// items to it in the same transaction via DataItemRepository.AssignToPlan.
func (r *BundlePlanRepository) Create(ctx context.Context, tx *sql.Tx, premiumTag, appName string, itemCount int, totalBytes int64) (*BundlePlan, error) {
	plan := &BundlePlan{
		ID:         uuid.New(),
		PremiumTag: premiumTag,
		AppName:    appName,
		ItemCount:  itemCount,
		TotalBytes: totalBytes,
		Status:     PlanStatusNew,
	}
	err := r.queryRow(ctx, tx, `
		INSERT INTO bundle_plans (id, premium_tag, app_name, item_count, total_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		plan.ID, plan.PremiumTag, plan.AppName, plan.ItemCount, plan.TotalBytes, plan.Status,
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create bundle plan: %w", err)
	}
	return plan, nil
}

// ByID fetches a single plan.
func (r *BundlePlanRepository) ByID(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*BundlePlan, error) {
	row := r.queryRow(ctx, tx, `
		SELECT id, premium_tag, app_name, item_count, total_bytes, status, created_at, updated_at
		FROM bundle_plans WHERE id = $1`, id)
	return scanPlan(row)
}

// SetStatus transitions a plan's status (new -> prepared -> posted ->
// seeded -> permanent | dropped). The item set is never touched here;
// it is immutable once prepared (spec §3).
func (r *BundlePlanRepository) SetStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string) error {
	_, err := r.exec(ctx, tx, `
		UPDATE bundle_plans SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("store: set plan status: %w", err)
	}
	return nil
}

// ByStatus lists plans in a given status, oldest first, used by the
// poster and verifier to find their next unit of work.
func (r *BundlePlanRepository) ByStatus(ctx context.Context, tx *sql.Tx, status string, limit int) ([]*BundlePlan, error) {
	rows, err := r.query(ctx, tx, `
		SELECT id, premium_tag, app_name, item_count, total_bytes, status, created_at, updated_at
		FROM bundle_plans WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list plans by status: %w", err)
	}
	defer rows.Close()

	var out []*BundlePlan
	for rows.Next() {
		plan, err := scanPlanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func scanPlan(row *sql.Row) (*BundlePlan, error) {
	plan := &BundlePlan{}
	err := row.Scan(&plan.ID, &plan.PremiumTag, &plan.AppName, &plan.ItemCount, &plan.TotalBytes, &plan.Status, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("store: scan bundle plan: %w", err)
	}
	return plan, nil
}

func scanPlanRows(rows *sql.Rows) (*BundlePlan, error) {
	plan := &BundlePlan{}
	err := rows.Scan(&plan.ID, &plan.PremiumTag, &plan.AppName, &plan.ItemCount, &plan.TotalBytes, &plan.Status, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scan bundle plan row: %w", err)
	}
	return plan, nil
}

func (r *BundlePlanRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *BundlePlanRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}

func (r *BundlePlanRepository) query(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (*sql.Rows, error) {
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return r.client.DB().QueryContext(ctx, query, args...)
}
