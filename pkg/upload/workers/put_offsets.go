package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// putOffsetsNestedJob is the nested-item put-offsets shape, emitted by
// unbundle-nested once per extracted item. Its absolute offset is
// computed relative to its parent's already-written offset record,
// which may not exist yet the first time this job runs.
type putOffsetsNestedJob struct {
	NestedID         string `json:"nestedId"`
	ParentID         string `json:"parentId"`
	InnerOffset      int64  `json:"innerOffset"`
	RawLength        int64  `json:"rawLength"`
	ContentType      string `json:"contentType"`
	PayloadDataStart int64  `json:"payloadDataStart"`
}

// PutOffsets handles one put-offsets job, in either of two shapes (spec
// §4.8/§4.9): a plan-level commit from the poster stage, carrying every
// item's draft offset record to upsert in batches of at most
// OffsetBatchSize (capped at 250), or a single
// nested-item record from unbundle-nested, whose offset is relative to
// its parent's own offset record.
func (w *Workers) PutOffsets(ctx context.Context, job queue.Job) error {
	var probe struct {
		PlanID   string `json:"planId"`
		NestedID string `json:"nestedId"`
	}
	if err := json.Unmarshal(job.Payload, &probe); err != nil {
		return fmt.Errorf("put-offsets: decode payload: %w", err)
	}
	if probe.NestedID != "" {
		return w.putNestedOffset(ctx, job)
	}
	return w.putPlanOffsets(ctx, job)
}

func (w *Workers) putPlanOffsets(ctx context.Context, job queue.Job) error {
	var in putOffsetsPlanJob
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("put-offsets: decode plan payload: %w", err)
	}

	draftsJSON, err := w.triple.Read(ctx, in.OffsetsKey)
	if err != nil {
		return fmt.Errorf("put-offsets: read drafts %s: %w", in.OffsetsKey, err)
	}
	var drafts []offsetDraft
	if err := json.Unmarshal(draftsJSON, &drafts); err != nil {
		return fmt.Errorf("put-offsets: decode drafts %s: %w", in.OffsetsKey, err)
	}

	batchSize := w.cfg.OffsetBatchSize
	if batchSize <= 0 || batchSize > 250 {
		batchSize = 250
	}
	records := make([]*store.OffsetRecord, 0, len(drafts))
	for _, d := range drafts {
		records = append(records, &store.OffsetRecord{
			ItemID:           d.ItemID,
			RootBundleID:     in.TxID,
			StartOffset:      d.StartOffset,
			RawLength:        d.RawLength,
			ContentType:      d.ContentType,
			PayloadDataStart: d.PayloadDataStart,
			ParentItemID:     d.ParentItemID,
		})
	}
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := w.offsets.UpsertBatch(ctx, nil, records[start:end]); err != nil {
			return fmt.Errorf("put-offsets: upsert batch [%d:%d) for plan %s: %w", start, end, in.PlanID, err)
		}
		if w.index != nil {
			for _, rec := range records[start:end] {
				_ = w.index.Invalidate(ctx, rec.ItemID)
			}
		}
	}

	w.publish(ctx, in.TxID, "", statusfanout.StageOffsetsWritten, map[string]interface{}{"planId": in.PlanID, "count": len(records)})
	return nil
}

func (w *Workers) putNestedOffset(ctx context.Context, job queue.Job) error {
	var in putOffsetsNestedJob
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("put-offsets: decode nested payload: %w", err)
	}

	parent, err := w.offsets.ByItemID(ctx, nil, in.ParentID)
	if err != nil {
		// The parent's own offset write may not have landed yet; Fabric
		// retries this job with backoff until it has.
		return fmt.Errorf("put-offsets: parent offset for %s not ready: %w", in.ParentID, err)
	}

	absolute := parent.PayloadDataStart + in.InnerOffset
	record := &store.OffsetRecord{
		ItemID:           in.NestedID,
		RootBundleID:     parent.RootBundleID,
		StartOffset:      absolute,
		RawLength:        in.RawLength,
		ContentType:      in.ContentType,
		PayloadDataStart: absolute + in.PayloadDataStart,
		ParentItemID:     &in.ParentID,
	}
	if err := w.offsets.UpsertBatch(ctx, nil, []*store.OffsetRecord{record}); err != nil {
		return fmt.Errorf("put-offsets: upsert nested record %s: %w", in.NestedID, err)
	}
	if w.index != nil {
		_ = w.index.Invalidate(ctx, in.NestedID)
	}

	w.publish(ctx, parent.RootBundleID, in.NestedID, statusfanout.StageOffsetsWritten, map[string]interface{}{"parentId": in.ParentID})
	return nil
}
