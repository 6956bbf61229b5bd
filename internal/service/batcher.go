package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimatine/fadjma-sub003/internal/ledger"
	"github.com/ibrahimatine/fadjma-sub003/internal/metrics"
	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
)

const anchorTypeBatch = "BATCH"

type BatcherConfig struct {
	MaxItems     int
	Window       time.Duration
	Compress     bool
	CompressOver int
}

// Batcher aggregates rate-limited anchor requests into merkle batches.
// One ledger submission covers the whole batch; per-item proofs are
// persisted so any member can later be checked against the anchored root.
type Batcher struct {
	cfg     BatcherConfig
	store   storage.Store
	client  *ledger.Client
	limiter *ledger.RateLimiter
	logger  *slog.Logger

	mu      sync.Mutex
	pending []protocol.AnchorRequest
	kick    chan struct{}

	onSubmitted func(transactionID string)
}

func NewBatcher(cfg BatcherConfig, store storage.Store, client *ledger.Client, limiter *ledger.RateLimiter, logger *slog.Logger) *Batcher {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = limiter.MaxBatchSize()
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.CompressOver <= 0 {
		cfg.CompressOver = 1024
	}
	return &Batcher{
		cfg:     cfg,
		store:   store,
		client:  client,
		limiter: limiter,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// SetSubmitCallback registers a hook invoked with the consensus transaction
// id after each successful non-simulated batch submission.
func (b *Batcher) SetSubmitCallback(fn func(transactionID string)) {
	b.onSubmitted = fn
}

// Add parks a request until the next flush. A full buffer triggers an
// immediate flush signal instead of blocking the caller.
func (b *Batcher) Add(req protocol.AnchorRequest) {
	b.mu.Lock()
	b.pending = append(b.pending, req)
	n := len(b.pending)
	b.mu.Unlock()
	metrics.SetPendingBatchItems(n)
	if n >= b.cfg.MaxItems {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run flushes on the window tick, on buffer-full signals, and once more on
// shutdown so parked items are not lost.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			b.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.kick:
			b.Flush(ctx)
		}
	}
}

// Flush submits up to MaxItems parked requests as one merkle batch; anything
// beyond the cap stays parked for the next flush. On submission failure every
// member is marked FAILED; the reconciliation job picks them back up
// individually.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	items := b.pending
	if len(items) > b.cfg.MaxItems {
		// Capacity-clamped so a requeue cannot grow into the parked tail.
		items = b.pending[:b.cfg.MaxItems:b.cfg.MaxItems]
		b.pending = b.pending[b.cfg.MaxItems:]
	} else {
		b.pending = nil
	}
	remaining := len(b.pending)
	b.mu.Unlock()
	metrics.SetPendingBatchItems(remaining)
	if remaining >= b.cfg.MaxItems {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}

	leaves := make([]string, len(items))
	for i, it := range items {
		leaves[i] = it.ContentHash
	}
	root, err := protocol.ComputeMerkleRoot(leaves)
	if err != nil {
		b.failAll(ctx, items, fmt.Sprintf("compute merkle root: %v", err))
		return
	}

	batchID := uuid.NewString()
	msg := protocol.BatchMessage{
		Type:       anchorTypeBatch,
		BatchID:    batchID,
		MerkleRoot: root,
		ItemCount:  len(items),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := protocol.CanonicalJSON(msg)
	if err != nil {
		b.failAll(ctx, items, fmt.Sprintf("encode batch message: %v", err))
		return
	}
	rawSize := len(payload)
	compressed := false
	ratio := 0.0
	if b.cfg.Compress && rawSize > b.cfg.CompressOver {
		if gz, ok := gzipBytes(payload); ok && len(gz) < rawSize {
			ratio = float64(len(gz)) / float64(rawSize)
			payload = gz
			compressed = true
		}
	}

	wait, err := b.limiter.Admit(1)
	if err != nil {
		b.failAll(ctx, items, fmt.Sprintf("rate limiter: %v", err))
		return
	}
	if wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			b.requeue(items)
			return
		}
	}

	res, err := b.client.Submit(ctx, payload)
	if err != nil {
		metrics.ObserveSubmission("batch", "error", res.ResponseTime, wait)
		b.failAll(ctx, items, err.Error())
		return
	}

	status := protocol.TxSuccess
	if res.Simulated {
		status = protocol.TxSimulated
	}
	batch := protocol.Batch{
		BatchID:     batchID,
		MerkleRoot:  root,
		Compressed:  compressed,
		MessageSize: rawSize,
	}
	for i, it := range items {
		proof, err := protocol.ComputeMerkleProof(leaves, i)
		if err != nil {
			b.logger.Error("compute merkle proof",
				slog.String("batch_id", batchID),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch.Items = append(batch.Items, protocol.BatchItem{
			RequestID:   it.ID,
			EntityType:  it.EntityType,
			EntityID:    it.EntityID,
			ContentHash: it.ContentHash,
			MerkleIndex: i,
			MerkleProof: proof,
		})
	}
	for _, bi := range batch.Items {
		rec := protocol.LedgerTransactionRecord{
			Type:               anchorTypeBatch,
			EntityType:         bi.EntityType,
			EntityID:           bi.EntityID,
			Hash:               bi.ContentHash,
			TransactionID:      res.TransactionID,
			TopicID:            res.TopicID,
			SequenceNumber:     res.SequenceNumber,
			ConsensusTimestamp: res.ConsensusTimestamp,
			IsBatch:            true,
			BatchID:            batch.BatchID,
			MerkleRoot:         batch.MerkleRoot,
			MerkleProof:        bi.MerkleProof,
			MerkleIndex:        bi.MerkleIndex,
			Compressed:         batch.Compressed,
			MessageSize:        batch.MessageSize,
			CompressionRatio:   ratio,
			ResponseTime:       res.ResponseTime.Milliseconds(),
			Attempts:           1,
			RateLimitWaitTime:  wait.Milliseconds(),
			Status:             status,
		}
		if _, err := b.store.InsertTransactionRecord(ctx, rec); err != nil {
			b.logger.Error("persist batch transaction record",
				slog.String("batch_id", batch.BatchID),
				slog.Int64("request_id", bi.RequestID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := b.store.UpdateAnchorStatus(ctx, bi.RequestID, protocol.AnchorSubmitted, 1, ""); err != nil {
			b.logger.Error("mark batched request submitted",
				slog.Int64("request_id", bi.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	metrics.ObserveSubmission("batch", outcomeFor(status), res.ResponseTime, wait)
	metrics.ObserveBatch(len(items))
	b.logger.Info("batch submitted",
		slog.String("batch_id", batchID),
		slog.String("transaction_id", res.TransactionID),
		slog.String("merkle_root", root),
		slog.Int("items", len(items)),
		slog.Bool("compressed", compressed),
		slog.Bool("simulated", res.Simulated),
	)
	if !res.Simulated && b.onSubmitted != nil {
		b.onSubmitted(res.TransactionID)
	}
}

func (b *Batcher) failAll(ctx context.Context, items []protocol.AnchorRequest, reason string) {
	b.logger.Error("batch flush failed", slog.Int("items", len(items)), slog.String("error", reason))
	for _, it := range items {
		if err := b.store.UpdateAnchorStatus(ctx, it.ID, protocol.AnchorFailed, it.Attempts+1, reason); err != nil {
			b.logger.Error("mark batched request failed",
				slog.Int64("request_id", it.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (b *Batcher) requeue(items []protocol.AnchorRequest) {
	b.mu.Lock()
	b.pending = append(items, b.pending...)
	n := len(b.pending)
	b.mu.Unlock()
	metrics.SetPendingBatchItems(n)
}

func gzipBytes(in []byte) ([]byte, bool) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(in); err != nil {
		return nil, false
	}
	if err := gz.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
