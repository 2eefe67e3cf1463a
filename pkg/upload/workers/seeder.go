package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// Seeder handles one seeder job: streams a posted bundle's payload to
// the chain gateway's chunk API so the network can begin serving it
// before confirmation (spec §4.8). SeedChunks carries its own 5-minute
// bound (chaingateway.DefaultSeedTimeout); the handler does not impose
// a second one.
func (w *Workers) Seeder(ctx context.Context, job queue.Job) error {
	var in seederJob
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("seeder: decode payload: %w", err)
	}

	raw, err := w.triple.Read(ctx, in.DraftKey)
	if err != nil {
		return fmt.Errorf("seeder: read draft %s: %w", in.DraftKey, err)
	}

	if err := w.chain.SeedChunks(ctx, in.TxID, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("seeder: seed chunks for %s: %w", in.TxID, err)
	}

	planID, err := parsePlanID(in.PlanID)
	if err != nil {
		return fmt.Errorf("seeder: %w", err)
	}
	if err := w.plans.SetStatus(ctx, nil, planID, store.PlanStatusSeeded); err != nil {
		return fmt.Errorf("seeder: set plan %s seeded: %w", planID, err)
	}

	if err := w.queue.Enqueue(ctx, ingest.StageVerify, in.TxID, verifierJob{TxID: in.TxID, PlanID: in.PlanID}); err != nil {
		return fmt.Errorf("seeder: enqueue verifier: %w", err)
	}

	w.publish(ctx, in.TxID, "", statusfanout.StageSeeded, nil)
	return nil
}
