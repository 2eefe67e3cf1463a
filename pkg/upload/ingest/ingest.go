// Package ingest implements the upload service's acceptance path (spec
// §4.5): one-shot, multipart, and raw-blob ingestion, ending in a
// triple-written item and its queue enqueues (new-data-item and
// optical-post, plus unbundle-nested for a nested bundle).
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/apierr"
	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/config"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/queue"
	"github.com/certen/bundler-gateway/pkg/upload/dedupe"
	"github.com/certen/bundler-gateway/pkg/upload/paymentclient"
	"github.com/certen/bundler-gateway/pkg/upload/store"
	"github.com/certen/bundler-gateway/pkg/upload/triplestore"
)

// Stage names used when enqueuing onto the queue fabric (spec §4.7/4.8).
const (
	StageNewDataItem    = "new-data-item"
	StagePlan           = "planner"
	StagePrepare        = "preparer"
	StagePost           = "poster"
	StageSeed           = "seeder"
	StageVerify         = "verifier"
	StagePutOffsets     = "put-offsets"
	StageOpticalPost    = "optical-post"
	StageUnbundleNested = "unbundle-nested"
	StageFinalizeMPU    = "finalize-multipart"
	StageCleanupWarm    = "cleanup-warm"
)

// A ContentTypeTag tag whose value is NestedBundleCType marks an item
// as a nested bundle, triggering unbundle-nested (spec §4.8).
const (
	ContentTypeTag     = "Content-Type"
	NestedBundleCType  = "application/x.ans104-bundle"
)

// Blocklist is consulted before accepting an item (spec §4.5 step 5).
// A minimal interface so tests can stub it without a real policy store.
type Blocklist interface {
	IsBlocked(ctx context.Context, ownerAddress string) (bool, error)
}

// AllowAllBlocklist accepts everything; used when no policy store is
// configured.
type AllowAllBlocklist struct{}

func (AllowAllBlocklist) IsBlocked(context.Context, string) (bool, error) { return false, nil }

// Config is the narrow set of tuning knobs ingest needs from
// config.UploadConfig.
type Config struct {
	MaxItemSizeBytes     int64
	FreeUploadLimitBytes int64
	OverdueBlocks        int64
	DownstreamGatewayURLs []string
	PremiumTags          []string
}

// Service wires together everything one-shot/multipart/raw ingestion
// needs: envelope verification, dedup, payment, triple store, and the
// queue fabric.
type Service struct {
	cfg       Config
	items     *store.DataItemRepository
	sessions  *store.MultipartSessionRepository
	triple    *triplestore.Store
	dedupe    *dedupe.Guard
	payment   *paymentclient.Client
	queue     *queue.Fabric
	chain     chaingateway.Client
	blocklist Blocklist
	signer    Signer
	logger    *log.Logger
}

// Signer produces the upload service's own envelope for raw-blob
// ingestion (spec §4.5's POST /tx/raw).
type Signer interface {
	Sign(payload []byte, tags []envelope.Tag) (*envelope.Envelope, error)
}

type Option func(*Service)

func WithLogger(logger *log.Logger) Option { return func(s *Service) { s.logger = logger } }
func WithBlocklist(b Blocklist) Option     { return func(s *Service) { s.blocklist = b } }

func New(cfg Config, items *store.DataItemRepository, sessions *store.MultipartSessionRepository,
	triple *triplestore.Store, dedup *dedupe.Guard, payment *paymentclient.Client, fabric *queue.Fabric,
	chain chaingateway.Client, signer Signer, opts ...Option) *Service {
	s := &Service{
		cfg: cfg, items: items, sessions: sessions, triple: triple, dedupe: dedup,
		payment: payment, queue: fabric, chain: chain, signer: signer,
		blocklist: AllowAllBlocklist{},
		logger:    log.New(log.Writer(), "[ingest] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newDataItemPayload is the job payload enqueued onto the newDataItem
// stage; the stage handler batches these into data_items inserts.
type newDataItemPayload struct {
	ID             string          `json:"id"`
	OwnerAddress   string          `json:"ownerAddress"`
	ByteCount      int64           `json:"byteCount"`
	PriceCredits   decimal.Decimal `json:"priceCredits"`
	ContentType    string          `json:"contentType"`
	PremiumTag     string          `json:"premiumTag"`
	DeadlineHeight int64           `json:"deadlineHeight"`
}

// Receipt is returned to the client on successful ingest (spec §4.5 step 9).
type Receipt struct {
	ID                    string    `json:"id"`
	Timestamp             time.Time `json:"timestamp"`
	ProtocolVersion        string    `json:"protocolVersion"`
	DeadlineHeight         int64     `json:"deadlineHeight"`
	DownstreamGatewayURLs []string  `json:"downstreamGatewayUrls"`
	CreditsCharged        string    `json:"creditsCharged"`
}

// ProtocolVersion is the bundle wire format version this service
// produces (spec §4.8 preparer: Bundle-Version=2.0.0).
const ProtocolVersion = "2.0.0"

// GaslessParams carries the client's X-PAYMENT payload and target
// scheme/address when the gasless header is present (spec §4.5 step 6).
type GaslessParams struct {
	Present bool
	Scheme  string
	Address string
	Payload paymentclient.GaslessPayload
	Mode    string
}

// BalanceParams carries the ledger fallback parameters when no gasless
// payment header is present.
type BalanceParams struct {
	Scheme    string
	Address   string
	PaidBy    []string
	Directive string
}

// OneShot runs the ingest path from envelope bytes already parsed by
// the HTTP layer (spec §4.5 one-shot flow, steps 2-9; step 1's
// Content-Length check happens before Parse, at the HTTP layer).
func (s *Service) OneShot(ctx context.Context, env *envelope.Envelope, gasless GaslessParams, balance BalanceParams) (*Receipt, *paymentclient.SettleResult, error) {
	ownerAddress, err := envelope.Verify(env)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.ClientMalformed, "signature verification failed", err)
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

	declaredBytes := int64(len(env.Raw))

	var settleResult *paymentclient.SettleResult
	var creditsCharged string
	if gasless.Present {
		result, err := s.payment.VerifyAndSettle(ctx, gasless.Scheme, gasless.Address, gasless.Payload, declaredBytes, itemID, gasless.Mode)
		if err != nil {
			return nil, nil, apierr.Wrap(apierr.PaymentVerificationFailed, "gasless payment verification failed", err)
		}
		settleResult = result
		creditsCharged = ""
	} else {
		check, err := s.payment.Check(ctx, balance.Scheme, balance.Address, declaredBytes, balance.PaidBy, balance.Directive)
		if err != nil {
			return nil, nil, apierr.Wrap(apierr.Internal, "balance check failed", err)
		}
		if !check.Sufficient {
			return nil, nil, apierr.New(apierr.InsufficientBalance, "insufficient balance")
		}
		reserve, err := s.payment.Reserve(ctx, balance.Scheme, balance.Address, declaredBytes, balance.PaidBy, balance.Directive, itemID)
		if err != nil {
			if err == paymentclient.ErrInsufficientBalance {
				return nil, nil, apierr.New(apierr.InsufficientBalance, "insufficient balance")
			}
			return nil, nil, apierr.Wrap(apierr.Internal, "reserve failed", err)
		}
		creditsCharged = reserve.Amount.String()
	}

	if err := s.tripleWriteOrAbort(ctx, itemID, env.Raw, balance, ownerAddress); err != nil {
		return nil, settleResult, err
	}

	currentHeight, err := s.chain.CurrentHeight(ctx)
	if err != nil {
		currentHeight = 0
	}
	deadlineHeight := currentHeight + s.cfg.OverdueBlocks

	contentType, _ := env.Tag(ContentTypeTag)
	premiumTag := matchPremiumTag(env, s.cfg.PremiumTags)

	priceCredits := decimal.Zero
	if creditsCharged != "" {
		if amt, perr := decimal.NewFromString(creditsCharged); perr == nil {
			priceCredits = amt
		}
	}
	item := newDataItemPayload{
		ID:             itemID,
		OwnerAddress:   ownerAddress,
		ByteCount:      declaredBytes,
		PriceCredits:   priceCredits,
		ContentType:    contentType,
		PremiumTag:     premiumTag,
		DeadlineHeight: deadlineHeight,
	}
	// The new-data-item stage batches inserts up to 500 (spec §4.8); the
	// ingest path only enqueues, it never writes data_items itself.
	if err := s.queue.Enqueue(ctx, StageNewDataItem, itemID, item); err != nil {
		return nil, settleResult, apierr.Wrap(apierr.Internal, "enqueue new-data-item failed", err)
	}

	if err := s.enqueueDownstreamFor(ctx, itemID, ownerAddress, contentType, premiumTag, ""); err != nil {
		s.logger.Printf("enqueue failed for %s: %v", itemID, err)
	}

	return &Receipt{
		ID:                    itemID,
		Timestamp:             time.Now(),
		ProtocolVersion:        ProtocolVersion,
		DeadlineHeight:         deadlineHeight,
		DownstreamGatewayURLs: s.cfg.DownstreamGatewayURLs,
		CreditsCharged:        creditsCharged,
	}, settleResult, nil
}

func (s *Service) tripleWriteOrAbort(ctx context.Context, itemID string, raw []byte, balance BalanceParams, ownerAddress string) error {
	if err := s.triple.Write(ctx, itemID, raw); err != nil {
		if refundErr := s.payment.Refund(ctx, balance.Scheme, ownerOrAddress(balance.Address, ownerAddress), itemID); refundErr != nil {
			s.logger.Printf("refund after triple-write failure also failed for %s: %v", itemID, refundErr)
		}
		if qerr := s.triple.Quarantine(ctx, itemID, raw); qerr != nil {
			s.logger.Printf("quarantine after triple-write failure also failed for %s: %v", itemID, qerr)
		}
		return apierr.Wrap(apierr.Internal, "triple-write failed, upload aborted", err)
	}
	return nil
}

// MaxItemSizeBytes exposes the configured per-item size bound to the
// HTTP layer, which must apply it while parsing the envelope body
// before Parse ever sees more bytes than the limit allows.
func (s *Service) MaxItemSizeBytes() int64 { return s.cfg.MaxItemSizeBytes }

func ownerOrAddress(balanceAddress, ownerAddress string) string {
	if balanceAddress != "" {
		return balanceAddress
	}
	return ownerAddress
}

// OpticalPostPayload is the optical-post stage's job payload. Carrying
// contentType/premiumTag/ownerAddress directly, rather than requiring
// the handler to look the item up in data_items, lets the same handler
// serve nested items extracted by unbundle-nested, which are never
// written to data_items themselves (spec §4.8).
type OpticalPostPayload struct {
	ItemID       string `json:"itemId"`
	ParentItemID string `json:"parentItemId,omitempty"`
	ContentType  string `json:"contentType"`
	PremiumTag   string `json:"premiumTag"`
	OwnerAddress string `json:"ownerAddress"`
}

// UnbundleNestedPayload is the unbundle-nested stage's job payload.
type UnbundleNestedPayload struct {
	ItemID       string `json:"itemId"`
	OwnerAddress string `json:"ownerAddress"`
	DeadlineHeight int64 `json:"deadlineHeight"`
}

func (s *Service) enqueueDownstreamFor(ctx context.Context, itemID, ownerAddress, contentType, premiumTag string, parentItemID string) error {
	payload := OpticalPostPayload{
		ItemID:       itemID,
		ParentItemID: parentItemID,
		ContentType:  contentType,
		PremiumTag:   premiumTag,
		OwnerAddress: ownerAddress,
	}
	if err := s.queue.Enqueue(ctx, StageOpticalPost, itemID, payload); err != nil {
		return fmt.Errorf("enqueue optical-post: %w", err)
	}
	if parentItemID == "" && contentType == NestedBundleCType {
		if err := s.queue.Enqueue(ctx, StageUnbundleNested, itemID, UnbundleNestedPayload{ItemID: itemID, OwnerAddress: ownerAddress}); err != nil {
			return fmt.Errorf("enqueue unbundle-nested: %w", err)
		}
	}
	return nil
}

func matchPremiumTag(env *envelope.Envelope, premiumTags []string) string {
	for _, t := range env.Tags {
		for _, p := range premiumTags {
			if t.Value == p {
				return p
			}
		}
	}
	return ""
}

// EncodeSettleHeader base64-JSON-encodes a gasless settle result for
// the X-Payment-Response header (spec §4.5 step 9).
func EncodeSettleHeader(result *paymentclient.SettleResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("ingest: encode payment response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
