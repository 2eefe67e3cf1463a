package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/certen/bundler-gateway/pkg/circuitbreaker"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/statusfanout"
	"github.com/certen/bundler-gateway/pkg/upload/ingest"

	"github.com/certen/bundler-gateway/pkg/queue"
)

// OpticalPost handles one optical-post job: posts an accepted item's
// envelope header to the configured downstream gateway mirrors so they begin
// serving it well before on-chain confirmation (spec §4.8). Every
// destination is fronted by its own circuit breaker so one unhealthy
// mirror can't stall the others.
func (w *Workers) OpticalPost(ctx context.Context, job queue.Job) error {
	var in ingest.OpticalPostPayload
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return fmt.Errorf("optical-post: decode payload: %w", err)
	}

	for _, addr := range w.cfg.FreeAllowList {
		if addr == in.OwnerAddress {
			return nil
		}
	}

	raw, err := w.triple.Read(ctx, in.ItemID)
	if err != nil {
		return fmt.Errorf("optical-post: read item %s: %w", in.ItemID, err)
	}
	env, err := envelope.Parse(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("optical-post: parse item %s: %w", in.ItemID, err)
	}
	// Only the envelope header (scheme, signature, owner, target,
	// anchor, tags) goes downstream, not the payload (spec §4.8).
	header := raw[:env.BodyOffset]

	destinations := w.destinationsFor(in)
	if len(destinations) == 0 {
		return nil
	}

	primary := destinations[0]
	if err := w.postOne(ctx, primary, in.ItemID, header); err != nil {
		return fmt.Errorf("optical-post: primary %s for %s: %w", primary, in.ItemID, err)
	}

	secondaries := destinations[1:]
	if len(secondaries) > 0 && w.shouldCanarySample(in.ItemID) {
		for _, dest := range secondaries {
			if err := w.postOne(ctx, dest, in.ItemID, header); err != nil {
				w.logger.Printf("optical-post: secondary %s for %s failed (non-fatal): %v", dest, in.ItemID, err)
			}
		}
	}

	w.publish(ctx, "", in.ItemID, statusfanout.StageOpticalPosted, map[string]interface{}{"destinations": len(destinations)})
	return nil
}

func (w *Workers) destinationsFor(in ingest.OpticalPostPayload) []string {
	dests := append([]string{}, w.cfg.DownstreamGatewayURLs...)
	if in.PremiumTag != "" {
		if extra, ok := w.cfg.PremiumGatewayURLs[in.PremiumTag]; ok {
			dests = append(dests, extra...)
		}
	}
	return dests
}

// shouldCanarySample decides whether this item's id also samples the
// secondary mirrors, deterministically by id hash so the same item
// always gets the same decision across retries.
func (w *Workers) shouldCanarySample(itemID string) bool {
	every := w.cfg.CanarySampleEvery
	if every <= 1 {
		return true
	}
	sum := sha256.Sum256([]byte(itemID))
	n := hex.EncodeToString(sum[:8])
	var acc uint64
	for _, c := range n {
		acc = acc*16 + uint64(hexDigit(byte(c)))
	}
	return acc%uint64(every) == 0
}

func hexDigit(c byte) uint64 {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0')
	case c >= 'a' && c <= 'f':
		return uint64(c-'a') + 10
	default:
		return 0
	}
}

func (w *Workers) breakerFor(dest string) *circuitbreaker.Breaker {
	w.breakersMu.Lock()
	defer w.breakersMu.Unlock()
	b, ok := w.breakers[dest]
	if !ok {
		b = circuitbreaker.New(circuitbreaker.DefaultConfig())
		w.breakers[dest] = b
	}
	return b
}

func (w *Workers) postOne(ctx context.Context, dest, itemID string, raw []byte) error {
	breaker := w.breakerFor(dest)
	return breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest+"/tx/"+itemID, bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
}
