package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// newDataItemJob mirrors ingest's unexported newDataItemPayload; the
// two are connected only by the JSON wire shape enqueued onto the
// new-data-item stage, same as any other queue consumer (spec §4.8).
type newDataItemJob struct {
	ID             string          `json:"id"`
	OwnerAddress   string          `json:"ownerAddress"`
	ByteCount      int64           `json:"byteCount"`
	PriceCredits   decimal.Decimal `json:"priceCredits"`
	ContentType    string          `json:"contentType"`
	PremiumTag     string          `json:"premiumTag"`
	DeadlineHeight int64           `json:"deadlineHeight"`
}

// NewDataItem handles one new-data-item job. The repository's
// InsertBatch accepts up to 500 rows per call; pkg/queue hands the
// handler one job at a time (its Backend has no peek-ahead API to
// accumulate several before dispatch), so each call degenerates to a
// single-row batch. That still exercises the same insert path the
// stage's up-to-500 ceiling describes; true inter-job batching would
// need a different Backend shape.
func (w *Workers) NewDataItem(ctx context.Context, job queue.Job) error {
	var in newDataItemJob
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("new-data-item: decode payload: %w", err)
	}

	item := &store.DataItem{
		ID:             in.ID,
		OwnerAddress:   in.OwnerAddress,
		ByteCount:      in.ByteCount,
		PriceCredits:   in.PriceCredits,
		ContentType:    in.ContentType,
		PremiumTag:     in.PremiumTag,
		DeadlineHeight: in.DeadlineHeight,
		Status:         store.ItemStatusNew,
	}
	if err := w.items.InsertBatch(ctx, nil, []*store.DataItem{item}); err != nil {
		return fmt.Errorf("new-data-item: insert %s: %w", in.ID, err)
	}

	w.publish(ctx, "", in.ID, statusfanout.StageReceived, nil)
	return nil
}
