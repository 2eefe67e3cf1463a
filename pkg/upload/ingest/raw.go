package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/certen/bundler-gateway/pkg/apierr"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/upload/paymentclient"
)

// Metadata tag names injected into a raw-blob upload's synthetic
// envelope (spec §4.5 POST /tx/raw).
const (
	TagChainTxHash = "Chain-Tx-Hash"
	TagPaymentID   = "Payment-Id"
	TagNetwork     = "Network"
	TagPayer       = "Payer"
)

// Raw builds an envelope around client bytes using the service's own
// signing key, stamps the four gasless-payment metadata tags, and
// continues the one-shot flow from step 3. The gasless-payment header
// is required; there is no balance fallback (spec §4.5 raw blob).
func (s *Service) Raw(ctx context.Context, payload []byte, gasless GaslessParams) (*Receipt, *paymentclient.SettleResult, error) {
	if !gasless.Present {
		return nil, nil, apierr.New(apierr.PaymentRequired, "raw blob ingestion requires a gasless payment header")
	}

	// Quote+settle first so the tags can carry the resulting payment id
	// and chain tx hash, mirroring the one-shot gasless branch's order
	// but performed before the envelope exists since the tags are
	// derived from the settlement result.
	declaredBytes := int64(len(payload))
	settle, err := s.payment.VerifyAndSettle(ctx, gasless.Scheme, gasless.Address, gasless.Payload, declaredBytes, "", gasless.Mode)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.PaymentVerificationFailed, "gasless payment verification failed", err)
	}

	tags := []envelope.Tag{
		{Name: TagChainTxHash, Value: settle.ChainTxHash},
		{Name: TagPaymentID, Value: settle.PaymentID},
		{Name: TagNetwork, Value: settle.Network},
		{Name: TagPayer, Value: gasless.Address},
	}

	env, err := s.signer.Sign(payload, tags)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Internal, "signing raw blob envelope failed", err)
	}

	// The payment has already been settled and carries no data item id
	// yet; OneShot's gasless branch would re-settle, so drive the rest
	// of the flow (dedup, blocklist, triple-write, enqueue) directly
	// against the already-settled result instead of calling OneShot.
	return s.acceptSettled(ctx, env, settle)
}

func (s *Service) acceptSettled(ctx context.Context, env *envelope.Envelope, settle *paymentclient.SettleResult) (*Receipt, *paymentclient.SettleResult, error) {
	ownerAddress, err := envelope.Verify(env)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Internal, "raw blob envelope failed self-verification", err)
	}

	contentID := envelope.ComputeContentID(env)
	itemID := fmt.Sprintf("%x", contentID)

	claimed, err := s.dedupe.Claim(ctx, itemID)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Internal, "dedup check failed", err)
	}
	if !claimed {
		return nil, nil, apierr.New(apierr.Conflict, "content id already being processed")
	}
	defer s.dedupe.Release(ctx, itemID)

	blocked, err := s.blocklist.IsBlocked(ctx, ownerAddress)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Internal, "blocklist check failed", err)
	}
	if blocked {
		return nil, nil, apierr.New(apierr.Unauthorized, "owner address is blocked")
	}

	if err := s.triple.Write(ctx, itemID, env.Raw); err != nil {
		if qerr := s.triple.Quarantine(ctx, itemID, env.Raw); qerr != nil {
			s.logger.Printf("quarantine after triple-write failure also failed for %s: %v", itemID, qerr)
		}
		return nil, settle, apierr.Wrap(apierr.Internal, "triple-write failed, upload aborted", err)
	}

	currentHeight, err := s.chain.CurrentHeight(ctx)
	if err != nil {
		currentHeight = 0
	}
	deadlineHeight := currentHeight + s.cfg.OverdueBlocks
	contentType, _ := env.Tag(ContentTypeTag)
	premiumTag := matchPremiumTag(env, s.cfg.PremiumTags)

	item := newDataItemPayload{
		ID:             itemID,
		OwnerAddress:   ownerAddress,
		ByteCount:      int64(len(env.Raw)),
		ContentType:    contentType,
		PremiumTag:     premiumTag,
		DeadlineHeight: deadlineHeight,
	}
	if err := s.queue.Enqueue(ctx, StageNewDataItem, itemID, item); err != nil {
		return nil, settle, apierr.Wrap(apierr.Internal, "enqueue new-data-item failed", err)
	}
	if err := s.enqueueDownstreamFor(ctx, itemID, ownerAddress, contentType, premiumTag, ""); err != nil {
		s.logger.Printf("enqueue failed for %s: %v", itemID, err)
	}

	return &Receipt{
		ID:                    itemID,
		Timestamp:             time.Now(),
		ProtocolVersion:       ProtocolVersion,
		DeadlineHeight:        deadlineHeight,
		DownstreamGatewayURLs: s.cfg.DownstreamGatewayURLs,
	}, settle, nil
}
