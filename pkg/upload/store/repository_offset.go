package store

import (
	"context"
	"database/sql"
	"fmt"
)

// OffsetRepository owns the offsets table, the read path behind
// GET /tx/:id/offset (spec §4.9).
type OffsetRepository struct {
	client *Client
}

func NewOffsetRepository(client *Client) *OffsetRepository {
	return &OffsetRepository{client: client}
}

// UpsertBatch writes up to 250 offset records per call, the put-offsets
// stage's emit batch size (spec §4.8).
func (r *OffsetRepository) UpsertBatch(ctx context.Context, tx *sql.Tx, records []*OffsetRecord) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > 250 {
		return fmt.Errorf("store: offset upsert batch exceeds 250 records (%d)", len(records))
	}

	query := `INSERT INTO offsets
		(item_id, root_bundle_id, start_offset, raw_length, content_type, payload_data_start, parent_item_id)
		VALUES `
	args := make([]interface{}, 0, len(records)*7)
	for i, rec := range records {
		base := i * 7
		query += fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		if i != len(records)-1 {
			query += ","
		}
		args = append(args, rec.ItemID, rec.RootBundleID, rec.StartOffset, rec.RawLength, rec.ContentType, rec.PayloadDataStart, rec.ParentItemID)
	}
	query += ` ON CONFLICT (item_id) DO UPDATE SET
		root_bundle_id = EXCLUDED.root_bundle_id,
		start_offset = EXCLUDED.start_offset,
		raw_length = EXCLUDED.raw_length,
		content_type = EXCLUDED.content_type,
		payload_data_start = EXCLUDED.payload_data_start,
		parent_item_id = EXCLUDED.parent_item_id`

	if _, err := r.exec(ctx, tx, query, args...); err != nil {
		return fmt.Errorf("store: upsert offset records: %w", err)
	}
	return nil
}

// ByItemID looks up the retrievability record for a single item.
func (r *OffsetRepository) ByItemID(ctx context.Context, tx *sql.Tx, itemID string) (*OffsetRecord, error) {
	row := r.queryRow(ctx, tx, `
		SELECT item_id, root_bundle_id, start_offset, raw_length, content_type, payload_data_start, parent_item_id, created_at
		FROM offsets WHERE item_id = $1`, itemID)
	return scanOffset(row)
}

// ByRootBundle lists every offset record belonging to a root bundle.
func (r *OffsetRepository) ByRootBundle(ctx context.Context, tx *sql.Tx, rootBundleID string) ([]*OffsetRecord, error) {
	rows, err := r.query(ctx, tx, `
		SELECT item_id, root_bundle_id, start_offset, raw_length, content_type, payload_data_start, parent_item_id, created_at
		FROM offsets WHERE root_bundle_id = $1 ORDER BY start_offset ASC`, rootBundleID)
	if err != nil {
		return nil, fmt.Errorf("store: list offsets by bundle: %w", err)
	}
	defer rows.Close()

	var out []*OffsetRecord
	for rows.Next() {
		rec, err := scanOffsetRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOffset(row *sql.Row) (*OffsetRecord, error) {
	rec := &OffsetRecord{}
	var parentItemID sql.NullString
	err := row.Scan(&rec.ItemID, &rec.RootBundleID, &rec.StartOffset, &rec.RawLength, &rec.ContentType, &rec.PayloadDataStart, &parentItemID, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOffsetNotFound
		}
		return nil, fmt.Errorf("store: scan offset: %w", err)
	}
	if parentItemID.Valid {
		rec.ParentItemID = &parentItemID.String
	}
	return rec, nil
}

func scanOffsetRows(rows *sql.Rows) (*OffsetRecord, error) {
	rec := &OffsetRecord{}
	var parentItemID sql.NullString
	err := rows.Scan(&rec.ItemID, &rec.RootBundleID, &rec.StartOffset, &rec.RawLength, &rec.ContentType, &rec.PayloadDataStart, &parentItemID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scan offset row: %w", err)
	}
	if parentItemID.Valid {
		rec.ParentItemID = &parentItemID.String
	}
	return rec, nil
}

func (r *OffsetRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *OffsetRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}

func (r *OffsetRepository) query(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (*sql.Rows, error) {
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return r.client.DB().QueryContext(ctx, query, args...)
}
