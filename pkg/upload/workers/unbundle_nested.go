package workers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/bundle"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// UnbundleNested handles one unbundle-nested job: an accepted item
// tagged as a nested bundle is decoded into its children, each of which
// is tracked, optically posted, and given its own retrievability record
// relative to the parent (spec §4.8). Children small enough to stay
// under InlineThresholdBytes are never written to their own cold-store
// key; they're retrieved through the parent's bytes plus their offset.
func (w *Workers) UnbundleNested(ctx context.Context, job queue.Job) error {
	var in ingest.UnbundleNestedPayload
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("unbundle-nested: decode payload: %w", err)
	}

	parentRaw, err := w.triple.Read(ctx, in.ItemID)
	if err != nil {
		return fmt.Errorf("unbundle-nested: read parent %s: %w", in.ItemID, err)
	}
	parentEnv, err := envelope.Parse(bytes.NewReader(parentRaw), int64(len(parentRaw)))
	if err != nil {
		return fmt.Errorf("unbundle-nested: parse parent envelope %s: %w", in.ItemID, err)
	}

	entries, bodyStart, err := bundle.ParseHeader(parentEnv.Payload)
	if err != nil {
		return fmt.Errorf("unbundle-nested: decode nested bundle %s: %w", in.ItemID, err)
	}
	items, err := bundle.Items(parentEnv.Payload, entries, bodyStart)
	if err != nil {
		return fmt.Errorf("unbundle-nested: split nested bundle %s: %w", in.ItemID, err)
	}

	rows := make([]*store.DataItem, 0, len(entries))
	cursor := bodyStart
	for i, entry := range entries {
		innerOffset := cursor
		cursor += entry.Size
		childID := hex.EncodeToString(entry.ContentID[:])
		nestedEnv, err := envelope.Parse(bytes.NewReader(items[i]), entry.Size)
		if err != nil {
			w.logger.Printf("unbundle-nested: parent %s child %s: malformed envelope, skipping: %v", in.ItemID, childID, err)
			continue
		}
		contentType, _ := nestedEnv.Tag(ingest.ContentTypeTag)

		if int64(len(items[i])) > w.cfg.InlineThresholdBytes {
			if err := w.triple.Write(ctx, childID, items[i]); err != nil {
				w.logger.Printf("unbundle-nested: cold-write child %s failed: %v", childID, err)
				continue
			}
		}

		// Never itself planned: a child rides permanence off in.ItemID's
		// own plan (store.DataItemRepository.MarkPermanent), so it is
		// parked in "planned" rather than "new" to keep EligibleForPlanning
		// from picking it up as if it were an independently accepted item.
		parentID := in.ItemID
		rows = append(rows, &store.DataItem{
			ID:           childID,
			OwnerAddress: in.OwnerAddress,
			ByteCount:    entry.Size,
			PriceCredits: decimal.Zero,
			ContentType:  contentType,
			ParentItemID: &parentID,
			Status:       store.ItemStatusPlanned,
		})

		if err := w.queue.Enqueue(ctx, ingest.StageOpticalPost, childID, ingest.OpticalPostPayload{
			ItemID: childID, ParentItemID: in.ItemID, ContentType: contentType, OwnerAddress: in.OwnerAddress,
		}); err != nil {
			w.logger.Printf("unbundle-nested: enqueue optical-post for %s failed: %v", childID, err)
		}
		if err := w.queue.Enqueue(ctx, ingest.StagePutOffsets, childID, putOffsetsNestedJob{
			NestedID: childID, ParentID: in.ItemID, InnerOffset: innerOffset,
			RawLength: entry.Size, ContentType: contentType, PayloadDataStart: nestedEnv.BodyOffset,
		}); err != nil {
			w.logger.Printf("unbundle-nested: enqueue put-offsets for %s failed: %v", childID, err)
		}
	}

	if len(rows) > 0 {
		if err := w.items.InsertBatch(ctx, nil, rows); err != nil {
			return fmt.Errorf("unbundle-nested: insert %d child rows for %s: %w", len(rows), in.ItemID, err)
		}
	}

	w.publish(ctx, "", in.ItemID, statusfanout.StageUnbundled, map[string]interface{}{"childCount": len(rows)})
	return nil
}
