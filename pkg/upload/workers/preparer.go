package workers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/certen/bundler-gateway/pkg/bundle"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

type preparerJob struct {
	PlanID string `json:"planId"`
}

type posterJob struct {
	PlanID      string `json:"planId"`
	DraftKey    string `json:"draftKey"`
	OffsetsKey  string `json:"offsetsKey"`
	PayloadSize int64  `json:"payloadSize"`
}

// offsetDraft is the preparer's intermediate record, round-tripped
// through the triple store between preparer and put-offsets since the
// two may run in different worker processes (spec §4.8).
type offsetDraft struct {
	ItemID           string  `json:"itemId"`
	StartOffset      int64   `json:"startOffset"`
	RawLength        int64   `json:"rawLength"`
	ContentType      string  `json:"contentType"`
	PayloadDataStart int64   `json:"payloadDataStart"`
	ParentItemID     *string `json:"parentItemId,omitempty"`
}

func draftKey(planID string) string   { return "bundle-draft:" + planID }
func offsetsKey(planID string) string { return "bundle-offsets-draft:" + planID }

// Preparer handles one preparer job: assembles a plan's items into a
// single bundle payload (header + concatenated raw items, via
// pkg/bundle), signs it with the bundler's own identity, computes each
// item's retrievability offsets, and hands off to the poster stage
// (spec §4.8).
func (w *Workers) Preparer(ctx context.Context, job queue.Job) error {
	var in preparerJob
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("preparer: decode payload: %w", err)
	}
	planID, err := uuid.Parse(in.PlanID)
	if err != nil {
		return fmt.Errorf("preparer: bad plan id %q: %w", in.PlanID, err)
	}

	plan, err := w.plans.ByID(ctx, nil, planID)
	if err != nil {
		return fmt.Errorf("preparer: load plan %s: %w", planID, err)
	}
	if plan.Status != store.PlanStatusNew {
		// Already prepared by an earlier attempt at this job; retrying a
		// succeeded prepare would re-sign and orphan the first draft.
		return nil
	}

	items, err := w.items.ByPlan(ctx, nil, planID)
	if err != nil {
		return fmt.Errorf("preparer: load items for plan %s: %w", planID, err)
	}

	rawItems, err := w.fetchItemBytes(ctx, items)
	if err != nil {
		return fmt.Errorf("preparer: fetch item bytes: %w", err)
	}

	// Deterministic, retry-stable order (ByPlan already sorts by id).
	// Items whose cold-store fetch failed were already marked failed and
	// are excluded here.
	orderedIDs := make([]string, 0, len(items))
	orderedRaw := make([][]byte, 0, len(items))
	itemsByID := make(map[string]*store.DataItem, len(items))
	for _, item := range items {
		itemsByID[item.ID] = item
		if raw, ok := rawItems[item.ID]; ok {
			orderedIDs = append(orderedIDs, item.ID)
			orderedRaw = append(orderedRaw, raw)
		}
	}
	if len(orderedIDs) == 0 {
		return fmt.Errorf("preparer: no items survived for plan %s", planID)
	}

	bundleItems := make([]bundle.Item, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		cid, err := contentIDFromHex(id)
		if err != nil {
			return fmt.Errorf("preparer: item id %q: %w", id, err)
		}
		bundleItems = append(bundleItems, bundle.Item{ContentID: cid, Raw: orderedRaw[i]})
	}

	assembled, itemOffsets, err := bundle.Build(bundleItems)
	if err != nil {
		return fmt.Errorf("preparer: build bundle: %w", err)
	}

	tags := []envelope.Tag{
		{Name: "Bundle-Version", Value: ingest.ProtocolVersion},
		{Name: ingest.ContentTypeTag, Value: ingest.NestedBundleCType},
	}
	signed, err := w.signer.Sign(assembled, tags)
	if err != nil {
		return fmt.Errorf("preparer: sign bundle: %w", err)
	}

	drafts := make([]offsetDraft, 0, len(itemOffsets))
	for _, off := range itemOffsets {
		itemID := hex.EncodeToString(off.ContentID[:])
		item := itemsByID[itemID]
		drafts = append(drafts, offsetDraft{
			ItemID:           itemID,
			StartOffset:      signed.BodyOffset + off.StartOffset,
			RawLength:        off.RawLength,
			ContentType:      item.ContentType,
			PayloadDataStart: signed.BodyOffset + off.PayloadDataStart,
		})
	}

	draftsJSON, err := json.Marshal(drafts)
	if err != nil {
		return fmt.Errorf("preparer: encode offset drafts: %w", err)
	}
	if err := w.triple.Write(ctx, offsetsKey(planID.String()), draftsJSON); err != nil {
		return fmt.Errorf("preparer: store offset drafts: %w", err)
	}
	if err := w.triple.Write(ctx, draftKey(planID.String()), signed.Raw); err != nil {
		return fmt.Errorf("preparer: store bundle draft: %w", err)
	}

	if err := w.plans.SetStatus(ctx, nil, planID, store.PlanStatusPrepared); err != nil {
		return fmt.Errorf("preparer: set plan prepared: %w", err)
	}

	if err := w.queue.Enqueue(ctx, ingest.StagePost, planID.String(), posterJob{
		PlanID: planID.String(), DraftKey: draftKey(planID.String()), OffsetsKey: offsetsKey(planID.String()),
		PayloadSize: int64(len(signed.Raw)),
	}); err != nil {
		return fmt.Errorf("preparer: enqueue poster: %w", err)
	}

	w.publish(ctx, planID.String(), "", statusfanout.StagePrepared, map[string]interface{}{"payloadSize": len(signed.Raw)})
	return nil
}

// fetchItemBytes reads each item's raw bytes from the triple store,
// bounded to PreparerConcurrency concurrent reads (spec §4.8: <=100).
// An item whose fetch fails is marked failed and excluded rather than
// aborting the whole plan.
func (w *Workers) fetchItemBytes(ctx context.Context, items []*store.DataItem) (map[string][]byte, error) {
	concurrency := w.cfg.PreparerConcurrency
	if concurrency <= 0 {
		concurrency = 100
	}
	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	out := make(map[string][]byte, len(items))
	var wg sync.WaitGroup

	for _, item := range items {
		item := item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			raw, err := w.triple.Read(ctx, item.ID)
			if err != nil {
				if merr := w.items.MarkFailed(ctx, nil, item.ID, "missing_from_object_store"); merr != nil {
					w.logger.Printf("preparer: mark item %s failed also failed: %v", item.ID, merr)
				}
				return
			}
			mu.Lock()
			out[item.ID] = raw
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out, nil
}

// contentIDFromHex decodes an item id (the lowercase hex encoding of its
// 32-byte content id, per envelope.ComputeContentID) back into the typed
// array pkg/bundle operates on.
func contentIDFromHex(id string) (envelope.ContentID, error) {
	var cid envelope.ContentID
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != len(cid) {
		return cid, fmt.Errorf("not a 32-byte hex content id")
	}
	copy(cid[:], raw)
	return cid, nil
}
