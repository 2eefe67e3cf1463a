package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// DataItemRepository owns the data_items table.
type DataItemRepository struct {
	client *Client
}

func NewDataItemRepository(client *Client) *DataItemRepository {
	return &DataItemRepository{client: client}
}

// InsertBatch inserts up to 500 accepted items in one statement, per
// the new-data-item stage (spec §4.8). Items already present (retried
// enqueue) are left unchanged.
func (r *DataItemRepository) InsertBatch(ctx context.Context, tx *sql.Tx, items []*DataItem) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > 500 {
		return fmt.Errorf("store: insert batch exceeds 500 items (%d)", len(items))
	}

	query := `INSERT INTO data_items
		(id, owner_address, byte_count, price_credits, content_type, premium_tag, deadline_height, status, parent_item_id, failed_bundles)
		VALUES `
	args := make([]interface{}, 0, len(items)*10)
	for i, item := range items {
		if item.Status == "" {
			item.Status = ItemStatusNew
		}
		failedJSON, err := json.Marshal(item.FailedBundles)
		if err != nil {
			return fmt.Errorf("store: encode failed_bundles: %w", err)
		}
		base := i * 10
		query += fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		if i != len(items)-1 {
			query += ","
		}
		args = append(args, item.ID, item.OwnerAddress, item.ByteCount, item.PriceCredits, item.ContentType, item.PremiumTag, item.DeadlineHeight, item.Status, item.ParentItemID, failedJSON)
	}
	query += " ON CONFLICT (id) DO NOTHING"

	if _, err := r.exec(ctx, tx, query, args...); err != nil {
		return fmt.Errorf("store: insert data items: %w", err)
	}
	return nil
}

// ByID fetches a single item by content id.
func (r *DataItemRepository) ByID(ctx context.Context, tx *sql.Tx, id string) (*DataItem, error) {
	row := r.queryRow(ctx, tx, `
		SELECT id, owner_address, byte_count, price_credits, content_type, premium_tag,
		       deadline_height, status, plan_id, parent_item_id, failed_bundles, created_at, updated_at
		FROM data_items WHERE id = $1`, id)
	return scanItem(row)
}

// EligibleForPlanning returns new items past no particular age cutoff,
// ordered oldest-first, up to limit rows, used by the planner to build
// candidate plans. Premium tag segregates eligible sets (spec §4.8).
func (r *DataItemRepository) EligibleForPlanning(ctx context.Context, tx *sql.Tx, premiumTag string, limit int) ([]*DataItem, error) {
	rows, err := r.query(ctx, tx, `
		SELECT id, owner_address, byte_count, price_credits, content_type, premium_tag,
		       deadline_height, status, plan_id, parent_item_id, failed_bundles, created_at, updated_at
		FROM data_items
		WHERE status = $1 AND premium_tag = $2
		ORDER BY created_at ASC
		LIMIT $3`, ItemStatusNew, premiumTag, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list eligible items: %w", err)
	}
	defer rows.Close()

	var out []*DataItem
	for rows.Next() {
		item, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// AssignToPlan transactionally moves items from new to planned bound to
// planID (spec §4.8 planner persist step).
func (r *DataItemRepository) AssignToPlan(ctx context.Context, tx *sql.Tx, planID uuid.UUID, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := r.exec(ctx, tx, `
		UPDATE data_items SET status = $1, plan_id = $2, updated_at = now()
		WHERE id = ANY($3) AND status = $4`,
		ItemStatusPlanned, planID, pq.Array(itemIDs), ItemStatusNew)
	if err != nil {
		return fmt.Errorf("store: assign items to plan: %w", err)
	}
	return nil
}

// ByPlan returns every item bound to a plan, ordered by id (the order
// used when assembling the bundle header).
func (r *DataItemRepository) ByPlan(ctx context.Context, tx *sql.Tx, planID uuid.UUID) ([]*DataItem, error) {
	rows, err := r.query(ctx, tx, `
		SELECT id, owner_address, byte_count, price_credits, content_type, premium_tag,
		       deadline_height, status, plan_id, parent_item_id, failed_bundles, created_at, updated_at
		FROM data_items WHERE plan_id = $1 ORDER BY id ASC`, planID)
	if err != nil {
		return nil, fmt.Errorf("store: list items by plan: %w", err)
	}
	defer rows.Close()

	var out []*DataItem
	for rows.Next() {
		item, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkFailed moves a single item to failed, used when an envelope is
// missing from cold store during prepare (spec §4.8 step 6). The reason
// is not stored; it only appears in the returned error.
func (r *DataItemRepository) MarkFailed(ctx context.Context, tx *sql.Tx, id, reason string) error {
	_, err := r.exec(ctx, tx, `
		UPDATE data_items SET status = $1, updated_at = now()
		WHERE id = $2`, ItemStatusFailed, id)
	if err != nil {
		return fmt.Errorf("store: mark item failed (%s): %w", reason, err)
	}
	return nil
}

// MarkPermanent moves every item in a plan to permanent, once the
// bundle reaches the confirmation target (spec §4.8 verifier). Items
// nested inside one of the plan's items (parent_item_id set, never
// themselves planned) ride on their parent's confirmation and move to
// permanent in the same statement.
func (r *DataItemRepository) MarkPermanent(ctx context.Context, tx *sql.Tx, planID uuid.UUID) error {
	_, err := r.exec(ctx, tx, `
		UPDATE data_items SET status = $1, updated_at = now()
		WHERE plan_id = $2
		   OR parent_item_id IN (SELECT id FROM data_items WHERE plan_id = $2)`, ItemStatusPermanent, planID)
	if err != nil {
		return fmt.Errorf("store: mark plan items permanent: %w", err)
	}
	return nil
}

// PermanentOlderThan pages through permanent items older than cutoff,
// ordered by id, for the cleanup-warm stage's warm-tier eviction sweep
// (spec §4.8). afterID continues from the previous page; pass "" to
// start from the beginning.
func (r *DataItemRepository) PermanentOlderThan(ctx context.Context, tx *sql.Tx, cutoff time.Time, afterID string, limit int) ([]*DataItem, error) {
	rows, err := r.query(ctx, tx, `
		SELECT id, owner_address, byte_count, price_credits, content_type, premium_tag,
		       deadline_height, status, plan_id, parent_item_id, failed_bundles, created_at, updated_at
		FROM data_items
		WHERE status = $1 AND updated_at < $2 AND id > $3
		ORDER BY id ASC
		LIMIT $4`, ItemStatusPermanent, cutoff, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list permanent items older than cutoff: %w", err)
	}
	defer rows.Close()

	var out []*DataItem
	for rows.Next() {
		item, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// RequeueDropped returns every item of a dropped plan to new, appending
// the plan's bundle tx id to each item's failed-bundle history, and
// clearing plan_id (spec §4.8 verifier drop path, §3 invariant).
func (r *DataItemRepository) RequeueDropped(ctx context.Context, tx *sql.Tx, planID uuid.UUID, droppedTxID string, newDeadlineHeight int64) error {
	items, err := r.ByPlan(ctx, tx, planID)
	if err != nil {
		return err
	}
	for _, item := range items {
		failed := append(append([]string{}, item.FailedBundles...), droppedTxID)
		failedJSON, err := json.Marshal(failed)
		if err != nil {
			return fmt.Errorf("store: encode failed_bundles: %w", err)
		}
		_, err = r.exec(ctx, tx, `
			UPDATE data_items
			SET status = $1, plan_id = NULL, deadline_height = $2, failed_bundles = $3, updated_at = now()
			WHERE id = $4`, ItemStatusNew, newDeadlineHeight, failedJSON, item.ID)
		if err != nil {
			return fmt.Errorf("store: requeue dropped item %s: %w", item.ID, err)
		}
	}
	return nil
}

func scanItem(row *sql.Row) (*DataItem, error) {
	item := &DataItem{}
	var planID uuid.NullUUID
	var parentItemID sql.NullString
	var failedJSON []byte
	var priceStr string
	err := row.Scan(&item.ID, &item.OwnerAddress, &item.ByteCount, &priceStr, &item.ContentType, &item.PremiumTag,
		&item.DeadlineHeight, &item.Status, &planID, &parentItemID, &failedJSON, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("store: scan data item: %w", err)
	}
	return finishItemScan(item, planID, parentItemID, failedJSON, priceStr)
}

func scanItemRows(rows *sql.Rows) (*DataItem, error) {
	item := &DataItem{}
	var planID uuid.NullUUID
	var parentItemID sql.NullString
	var failedJSON []byte
	var priceStr string
	err := rows.Scan(&item.ID, &item.OwnerAddress, &item.ByteCount, &priceStr, &item.ContentType, &item.PremiumTag,
		&item.DeadlineHeight, &item.Status, &planID, &parentItemID, &failedJSON, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scan data item row: %w", err)
	}
	return finishItemScan(item, planID, parentItemID, failedJSON, priceStr)
}

func finishItemScan(item *DataItem, planID uuid.NullUUID, parentItemID sql.NullString, failedJSON []byte, priceStr string) (*DataItem, error) {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("store: parse price_credits: %w", err)
	}
	item.PriceCredits = price
	if planID.Valid {
		item.PlanID = &planID.UUID
	}
	if parentItemID.Valid {
		item.ParentItemID = &parentItemID.String
	}
	if len(failedJSON) > 0 {
		if err := json.Unmarshal(failedJSON, &item.FailedBundles); err != nil {
			return nil, fmt.Errorf("store: decode failed_bundles: %w", err)
		}
	}
	return item, nil
}

func (r *DataItemRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *DataItemRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}

func (r *DataItemRepository) query(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (*sql.Rows, error) {
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return r.client.DB().QueryContext(ctx, query, args...)
}
