package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/certen/bundler-gateway/pkg/apierr"
	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/certen/bundler-gateway/pkg/upload/paymentclient"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// MinChunkSize, MaxChunkSize, and DefaultChunkSize bound the
// negotiated chunk size for a multipart session (spec §4.5).
const (
	MinChunkSize     = 5 * 1024 * 1024
	MaxChunkSize     = 500 * 1024 * 1024
	DefaultChunkSize = 25 * 1024 * 1024
	MaxTotalSize     = 10 * 1024 * 1024 * 1024
	MaxChunkCount    = 10000
)

// CreateSession opens a multipart session, negotiating chunkSize into
// [MinChunkSize, MaxChunkSize] and defaulting it when unset.
func (s *Service) CreateSession(ctx context.Context, ownerAddress string, declaredTotalSize, preferredChunkSize int64) (*store.MultipartSession, error) {
	if declaredTotalSize <= 0 || declaredTotalSize > MaxTotalSize {
		return nil, apierr.New(apierr.ClientMalformed, fmt.Sprintf("declared total size must be in (0, %d]", MaxTotalSize))
	}
	chunkSize := preferredChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	if chunkSize > MaxChunkSize {
		chunkSize = MaxChunkSize
	}
	if declaredTotalSize/chunkSize > MaxChunkCount {
		return nil, apierr.New(apierr.ClientMalformed, "declared size would exceed the chunk count limit at this chunk size")
	}

	sess, err := s.sessions.Create(ctx, nil, ownerAddress, declaredTotalSize, chunkSize)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "create multipart session failed", err)
	}
	return sess, nil
}

// UploadChunk stores one chunk to cold store at session/chunk-index and
// records the offset against the session (spec §4.5).
func (s *Service) UploadChunk(ctx context.Context, sessionID uuid.UUID, offset int64, data []byte) error {
	sess, err := s.sessions.ByID(ctx, nil, sessionID)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, "multipart session not found", err)
	}
	if sess.Status == store.SessionStatusFinalized || sess.Status == store.SessionStatusAborted {
		return apierr.New(apierr.Conflict, "multipart session is no longer accepting chunks")
	}

	key := fmt.Sprintf("%s/%d", sessionID.String(), offset/sess.ChunkSize)
	if err := s.triple.Write(ctx, key, data); err != nil {
		return apierr.Wrap(apierr.Internal, "chunk write failed", err)
	}

	if _, err := s.sessions.RecordChunk(ctx, nil, sessionID, offset); err != nil {
		return apierr.Wrap(apierr.Internal, "record chunk failed", err)
	}
	return nil
}

// SessionStatus returns a session's current view, used by
// GET /multipart/:sid and /multipart/:sid/status.
func (s *Service) SessionStatus(ctx context.Context, sessionID uuid.UUID) (*store.MultipartSession, error) {
	sess, err := s.sessions.ByID(ctx, nil, sessionID)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, "multipart session not found", err)
	}
	return sess, nil
}

// isContiguous checks that uploadedOffsets cover [0, totalSize) with no
// gaps, chunkSize apart, the finalize precondition (spec §4.5).
func isContiguous(uploadedOffsets []int64, chunkSize, totalSize int64) bool {
	expected := int64(0)
	for _, off := range uploadedOffsets {
		if off != expected {
			return false
		}
		expected += chunkSize
	}
	return expected >= totalSize
}

// Finalize validates the chunk set, assembles the full envelope, and
// resumes the one-shot flow from step 2 (spec §4.5 finalize). Fatal
// errors abort the session with a refund rather than leave it stuck.
func (s *Service) Finalize(ctx context.Context, sessionID uuid.UUID, gasless GaslessParams, balance BalanceParams) (*Receipt, *paymentclient.SettleResult, error) {
	sess, err := s.sessions.ByID(ctx, nil, sessionID)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.NotFound, "multipart session not found", err)
	}
	if sess.Status == store.SessionStatusFinalized {
		return nil, nil, apierr.New(apierr.Conflict, "multipart session already finalized")
	}
	if !isContiguous(sess.UploadedOffsets, sess.ChunkSize, sess.DeclaredSize) {
		return s.abortWithReason(ctx, sess, balance, "chunk set is not contiguous or incomplete")
	}

	var assembled bytes.Buffer
	chunkCount := (sess.DeclaredSize + sess.ChunkSize - 1) / sess.ChunkSize
	for i := int64(0); i < chunkCount; i++ {
		key := fmt.Sprintf("%s/%d", sessionID.String(), i)
		chunk, err := s.triple.Read(ctx, key)
		if err != nil {
			return s.abortWithReason(ctx, sess, balance, fmt.Sprintf("chunk %d missing: %v", i, err))
		}
		assembled.Write(chunk)
	}

	env, err := envelope.Parse(bytes.NewReader(assembled.Bytes()), MaxTotalSize)
	if err != nil {
		return s.abortWithReason(ctx, sess, balance, fmt.Sprintf("assembled envelope is malformed: %v", err))
	}

	receipt, settle, err := s.OneShot(ctx, env, gasless, balance)
	if err != nil {
		return s.abortWithReason(ctx, sess, balance, err.Error())
	}

	if err := s.sessions.SetStatus(ctx, nil, sessionID, store.SessionStatusFinalized); err != nil {
		s.logger.Printf("finalize: mark session %s finalized failed: %v", sessionID, err)
	}
	return receipt, settle, nil
}

func (s *Service) abortWithReason(ctx context.Context, sess *store.MultipartSession, balance BalanceParams, reason string) (*Receipt, *paymentclient.SettleResult, error) {
	if err := s.sessions.SetStatus(ctx, nil, sess.ID, store.SessionStatusAborted); err != nil {
		s.logger.Printf("abort: mark session %s aborted failed: %v", sess.ID, err)
	}
	if balance.Address != "" {
		if err := s.payment.Refund(ctx, balance.Scheme, balance.Address, sess.ID.String()); err != nil {
			s.logger.Printf("abort: refund for session %s failed: %v", sess.ID, err)
		}
	}
	return nil, nil, apierr.New(apierr.ClientMalformed, "multipart finalize failed: "+reason)
}

// Abort marks a session aborted, evicts each uploaded chunk's hot-cache
// copy, and asks the payment service to refund any reservation keyed by
// the session id (spec §4.5). Eviction failures are logged, not
// returned. The chunks' warm and cold copies are not deleted, and the
// session row is kept with status aborted.
func (s *Service) Abort(ctx context.Context, sessionID uuid.UUID, balance BalanceParams) error {
	sess, err := s.sessions.ByID(ctx, nil, sessionID)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, "multipart session not found", err)
	}
	for _, off := range sess.UploadedOffsets {
		key := fmt.Sprintf("%s/%d", sessionID.String(), off/sess.ChunkSize)
		if derr := s.triple.EvictHot(ctx, key); derr != nil {
			s.logger.Printf("abort: evict chunk %s failed: %v", key, derr)
		}
	}
	if err := s.sessions.SetStatus(ctx, nil, sessionID, store.SessionStatusAborted); err != nil {
		return apierr.Wrap(apierr.Internal, "abort session failed", err)
	}
	if balance.Address != "" {
		if err := s.payment.Refund(ctx, balance.Scheme, balance.Address, sessionID.String()); err != nil {
			s.logger.Printf("abort: refund for session %s failed: %v", sessionID, err)
		}
	}
	return nil
}
