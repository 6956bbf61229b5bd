package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/ledger"
	"github.com/ibrahimatine/fadjma-sub003/internal/metrics"
	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/schedule"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
)

const anchorTypeSingle = "ANCHOR"

type Params struct {
	Store       storage.Store
	Client      *ledger.Client
	Limiter     *ledger.RateLimiter
	Batcher     *Batcher
	Verifier    *Verifier
	Scheduler   *schedule.Scheduler
	Reminders   *schedule.TTLStore
	Logger      *slog.Logger
	MaxAttempts int
	VerifyAfter time.Duration
}

// AnchorService drives the pipeline: hash and enrich, admit through the
// shared token bucket, submit directly or through the batch aggregator,
// persist the transaction bookkeeping.
type AnchorService struct {
	store       storage.Store
	client      *ledger.Client
	limiter     *ledger.RateLimiter
	batcher     *Batcher
	verifier    *Verifier
	scheduler   *schedule.Scheduler
	reminders   *schedule.TTLStore
	logger      *slog.Logger
	maxAttempts int
	verifyAfter time.Duration
}

func New(p Params) (*AnchorService, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if p.Client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if p.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.VerifyAfter <= 0 {
		p.VerifyAfter = 30 * time.Second
	}
	return &AnchorService{
		store:       p.Store,
		client:      p.Client,
		limiter:     p.Limiter,
		batcher:     p.Batcher,
		verifier:    p.Verifier,
		scheduler:   p.Scheduler,
		reminders:   p.Reminders,
		logger:      p.Logger,
		maxAttempts: p.MaxAttempts,
		verifyAfter: p.VerifyAfter,
	}, nil
}

func (s *AnchorService) Simulated() bool { return s.client.Simulated() }

// AnchorRecord hashes and enriches a record snapshot, persists the anchor
// request, and either submits immediately (token available) or parks the
// item in the batch aggregator. Anchoring failure never propagates as a
// request failure: the request stays persisted with status FAILED and the
// reconciliation job re-drives it.
func (s *AnchorService) AnchorRecord(ctx context.Context, snapshot protocol.RecordSnapshot) (protocol.AnchorRecordResponse, error) {
	if !snapshot.EntityType.Valid() {
		return protocol.AnchorRecordResponse{}, BadRequest(fmt.Sprintf("unknown entity type %q", snapshot.EntityType), nil)
	}
	if snapshot.EntityID == "" {
		return protocol.AnchorRecordResponse{}, BadRequest("entity_id is required", nil)
	}

	contentHash, err := protocol.ContentHash(snapshot)
	if err != nil {
		return protocol.AnchorRecordResponse{}, Internal("hash record snapshot", err)
	}
	message := protocol.BuildAnchorMessage(snapshot, contentHash, time.Now())
	payload, err := protocol.CanonicalJSON(message)
	if err != nil {
		return protocol.AnchorRecordResponse{}, Internal("encode anchor message", err)
	}

	req := protocol.AnchorRequest{
		EntityType:      snapshot.EntityType,
		EntityID:        snapshot.EntityID,
		ContentHash:     contentHash,
		EnrichedPayload: payload,
		Status:          protocol.AnchorPending,
	}
	req.ID, err = s.store.InsertAnchorRequest(ctx, req)
	if err != nil {
		return protocol.AnchorRecordResponse{}, Internal("persist anchor request", err)
	}

	if s.batcher != nil && !s.limiter.TryAdmit() {
		if err := s.store.UpdateAnchorStatus(ctx, req.ID, protocol.AnchorBatched, 0, ""); err != nil {
			return protocol.AnchorRecordResponse{}, Internal("mark anchor request batched", err)
		}
		s.batcher.Add(req)
		s.logger.Info("anchor request batched",
			slog.Int64("request_id", req.ID),
			slog.String("entity_type", string(req.EntityType)),
			slog.String("entity_id", req.EntityID),
		)
		return protocol.AnchorRecordResponse{
			Status:      protocol.AnchorBatched,
			RequestID:   req.ID,
			ContentHash: contentHash,
		}, nil
	}

	rec, err := s.submitDirect(ctx, req, 0)
	if err != nil {
		// The record itself is already persisted; surface the anchor
		// outcome without failing the caller's workflow.
		return protocol.AnchorRecordResponse{
			Status:      protocol.AnchorFailed,
			RequestID:   req.ID,
			ContentHash: contentHash,
		}, nil
	}
	return protocol.AnchorRecordResponse{
		Status:        protocol.AnchorSubmitted,
		RequestID:     req.ID,
		ContentHash:   contentHash,
		TransactionID: rec.TransactionID,
		Simulated:     rec.Status == protocol.TxSimulated,
	}, nil
}

// Resubmit re-drives a persisted anchor request through the limiter and the
// submission client. Used by the reconciliation job.
func (s *AnchorService) Resubmit(ctx context.Context, req protocol.AnchorRequest) (protocol.LedgerTransactionRecord, error) {
	wait, err := s.limiter.Admit(1)
	if err != nil {
		return protocol.LedgerTransactionRecord{}, Internal("rate limiter", err)
	}
	if wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return protocol.LedgerTransactionRecord{}, err
		}
	}
	return s.submitDirect(ctx, req, wait)
}

// submitDirect runs the bounded attempt loop for a single-message
// submission. The last error message is preserved verbatim on exhaustion.
func (s *AnchorService) submitDirect(ctx context.Context, req protocol.AnchorRequest, rateWait time.Duration) (protocol.LedgerTransactionRecord, error) {
	var lastErr error
	attempts := 0
	for attempts < s.maxAttempts {
		attempts++
		res, err := s.client.Submit(ctx, req.EnrichedPayload)
		if err != nil {
			lastErr = err
			s.logger.Warn("ledger submission attempt failed",
				slog.Int64("request_id", req.ID),
				slog.Int("attempt", attempts),
				slog.Duration("rate_limit_wait", rateWait),
				slog.String("error", err.Error()),
			)
			metrics.ObserveSubmission("direct", "error", res.ResponseTime, rateWait)
			if attempts < s.maxAttempts {
				if err := sleepCtx(ctx, attemptBackoff(attempts)); err != nil {
					break
				}
			}
			continue
		}

		status := protocol.TxSuccess
		if res.Simulated {
			status = protocol.TxSimulated
		}
		rec := protocol.LedgerTransactionRecord{
			Type:               anchorTypeSingle,
			EntityType:         req.EntityType,
			EntityID:           req.EntityID,
			Hash:               req.ContentHash,
			TransactionID:      res.TransactionID,
			TopicID:            res.TopicID,
			SequenceNumber:     res.SequenceNumber,
			ConsensusTimestamp: res.ConsensusTimestamp,
			MessageSize:        len(req.EnrichedPayload),
			ResponseTime:       res.ResponseTime.Milliseconds(),
			Attempts:           attempts,
			RateLimitWaitTime:  rateWait.Milliseconds(),
			Status:             status,
		}
		if _, err := s.store.InsertTransactionRecord(ctx, rec); err != nil {
			return protocol.LedgerTransactionRecord{}, Internal("persist transaction record", err)
		}
		if err := s.store.UpdateAnchorStatus(ctx, req.ID, protocol.AnchorSubmitted, attempts, ""); err != nil {
			return protocol.LedgerTransactionRecord{}, Internal("mark anchor request submitted", err)
		}
		metrics.ObserveSubmission("direct", outcomeFor(status), res.ResponseTime, rateWait)
		s.logger.Info("anchor submitted",
			slog.Int64("request_id", req.ID),
			slog.String("transaction_id", res.TransactionID),
			slog.Int("attempts", attempts),
			slog.Bool("simulated", res.Simulated),
		)
		if !res.Simulated {
			s.ScheduleVerification(res.TransactionID)
		}
		return rec, nil
	}

	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	if err := s.store.UpdateAnchorStatus(ctx, req.ID, protocol.AnchorFailed, attempts, errMsg); err != nil {
		s.logger.Error("mark anchor request failed", slog.Int64("request_id", req.ID), slog.String("error", err.Error()))
	}
	failedRec := protocol.LedgerTransactionRecord{
		Type:              anchorTypeSingle,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		Hash:              req.ContentHash,
		TransactionID:     fmt.Sprintf("failed:%d:%d", req.ID, time.Now().UnixNano()),
		TopicID:           s.client.TopicID(),
		MessageSize:       len(req.EnrichedPayload),
		Attempts:          attempts,
		RateLimitWaitTime: rateWait.Milliseconds(),
		Status:            protocol.TxFailed,
		Error:             errMsg,
	}
	if _, err := s.store.InsertTransactionRecord(ctx, failedRec); err != nil {
		s.logger.Error("persist failed transaction record", slog.Int64("request_id", req.ID), slog.String("error", err.Error()))
	}
	return protocol.LedgerTransactionRecord{}, SubmitFailed(fmt.Sprintf("submission exhausted after %d attempts", attempts), lastErr)
}

// ScheduleVerification queues a one-shot mirror check. The reminder store
// deduplicates: a transaction already awaiting verification is not scheduled
// twice, and entries age out on their own.
func (s *AnchorService) ScheduleVerification(transactionID string) {
	if s.scheduler == nil || s.verifier == nil {
		return
	}
	if s.reminders != nil {
		if _, pending := s.reminders.Get(transactionID); pending {
			return
		}
		s.reminders.Put(transactionID, time.Now(), 2*s.verifyAfter)
	}
	s.scheduler.After("verify:"+transactionID, s.verifyAfter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if s.reminders != nil {
			defer s.reminders.Delete(transactionID)
		}
		if _, err := s.verifier.Verify(ctx, transactionID, nil); err != nil {
			s.logger.Warn("scheduled verification failed",
				slog.String("transaction_id", transactionID),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (s *AnchorService) LatestAnchor(ctx context.Context, entityType protocol.EntityType, entityID string) (protocol.LedgerTransactionRecord, error) {
	rec, found, err := s.store.LatestTransactionForEntity(ctx, entityType, entityID)
	if err != nil {
		return protocol.LedgerTransactionRecord{}, Internal("load transaction record", err)
	}
	if !found {
		return protocol.LedgerTransactionRecord{}, NewAppError(404, "NOT_FOUND", "no anchor for entity", false, nil)
	}
	return rec, nil
}

func (s *AnchorService) Proof(ctx context.Context, entityType protocol.EntityType, entityID string) (protocol.ProofResponse, error) {
	rec, err := s.LatestAnchor(ctx, entityType, entityID)
	if err != nil {
		return protocol.ProofResponse{}, err
	}
	if !rec.IsBatch {
		return protocol.ProofResponse{}, NewAppError(404, "NOT_FOUND", "entity was anchored individually, no merkle proof", false, nil)
	}
	return protocol.ProofResponse{
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		ContentHash: rec.Hash,
		BatchID:     rec.BatchID,
		MerkleRoot:  rec.MerkleRoot,
		MerkleIndex: rec.MerkleIndex,
		MerkleProof: rec.MerkleProof,
	}, nil
}

func (s *AnchorService) StatusCounts(ctx context.Context) (map[string]int, error) {
	return s.store.CountByStatus(ctx)
}

func outcomeFor(status protocol.TransactionStatus) string {
	switch status {
	case protocol.TxSuccess:
		return "success"
	case protocol.TxSimulated:
		return "simulated"
	default:
		return "failed"
	}
}

func attemptBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt)) * 250 * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
