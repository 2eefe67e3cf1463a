package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DataItem tracks one accepted item from acceptance through permanence.
// It is present in exactly one of {new, planned, permanent, failed} at
// any moment (status), per spec §3's ownership invariant.
type DataItem struct {
	ID             string
	OwnerAddress   string
	ByteCount      int64
	PriceCredits   decimal.Decimal
	ContentType    string
	PremiumTag     string
	DeadlineHeight int64
	Status         string
	PlanID         *uuid.UUID
	ParentItemID   *string
	FailedBundles  []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	ItemStatusNew       = "new"
	ItemStatusPlanned   = "planned"
	ItemStatusPermanent = "permanent"
	ItemStatusFailed    = "failed"
)

// BundlePlan groups a set of items, immutable once prepared; items may
// only leave via plan-dropped requeue.
type BundlePlan struct {
	ID         uuid.UUID
	PremiumTag string
	AppName    string
	ItemCount  int
	TotalBytes int64
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	PlanStatusNew       = "new"
	PlanStatusPrepared  = "prepared"
	PlanStatusPosted    = "posted"
	PlanStatusSeeded    = "seeded"
	PlanStatusPermanent = "permanent"
	PlanStatusDropped   = "dropped"
)

// BundleTx is one on-chain submission of a prepared plan's payload.
type BundleTx struct {
	TxID        string
	PlanID      uuid.UUID
	Reward      decimal.Decimal
	NativeRate  *decimal.Decimal
	PayloadSize int64
	PostedAt    *time.Time
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	BundleTxStatusPrepared  = "prepared"
	BundleTxStatusPosted    = "posted"
	BundleTxStatusPermanent = "permanent"
	BundleTxStatusDropped   = "dropped"
)

// OffsetRecord is the retrievability record for one item within a root
// bundle transaction, per spec §4.9.
type OffsetRecord struct {
	ItemID           string    `json:"itemId"`
	RootBundleID     string    `json:"rootBundleId"`
	StartOffset      int64     `json:"startOffset"`
	RawLength        int64     `json:"rawLength"`
	ContentType      string    `json:"contentType"`
	PayloadDataStart int64     `json:"payloadDataStart"`
	ParentItemID     *string   `json:"parentItemId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// MultipartSession tracks a chunked upload from creation through
// finalize or abort.
type MultipartSession struct {
	ID              uuid.UUID `json:"id"`
	OwnerAddress    string    `json:"ownerAddress"`
	DeclaredSize    int64     `json:"declaredSize"`
	ChunkSize       int64     `json:"chunkSize"`
	UploadedOffsets []int64   `json:"uploadedOffsets"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

const (
	SessionStatusCreated    = "created"
	SessionStatusInProgress = "in-progress"
	SessionStatusFinalized  = "finalized"
	SessionStatusAborted    = "aborted"
)
