package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
)

func (s *Store) InsertAnchorRequest(ctx context.Context, req protocol.AnchorRequest) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO anchor_requests (entity_type, entity_id, content_hash, enriched_payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, NOW())
RETURNING id
`, req.EntityType, req.EntityID, req.ContentHash, []byte(req.EnrichedPayload), req.Status, req.Attempts).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetAnchorRequest(ctx context.Context, id int64) (protocol.AnchorRequest, bool, error) {
	var out protocol.AnchorRequest
	var payload []byte
	var lastError *string
	err := s.pool.QueryRow(ctx, `
SELECT id, entity_type, entity_id, content_hash, enriched_payload, status, attempts, last_error, created_at
FROM anchor_requests WHERE id = $1
`, id).Scan(&out.ID, &out.EntityType, &out.EntityID, &out.ContentHash, &payload, &out.Status, &out.Attempts, &lastError, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	out.EnrichedPayload = json.RawMessage(payload)
	if lastError != nil {
		out.LastError = *lastError
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return out, true, nil
}

func (s *Store) UpdateAnchorStatus(ctx context.Context, id int64, status protocol.AnchorStatus, attempts int, lastError string) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE anchor_requests
SET status = $2,
    attempts = $3,
    last_error = NULLIF($4, ''),
    updated_at = NOW()
WHERE id = $1
`, id, status, attempts, lastError)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FetchReconcilable selects requests with no authoritative anchor: failed or
// still-pending ones, and submitted ones whose transaction is simulated or
// unverified. Oldest first so the longest-unanchored records go out first.
func (s *Store) FetchReconcilable(ctx context.Context, limit int) ([]protocol.AnchorRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT ar.id, ar.entity_type, ar.entity_id, ar.content_hash, ar.enriched_payload, ar.status, ar.attempts, COALESCE(ar.last_error, ''), ar.created_at
FROM anchor_requests ar
LEFT JOIN LATERAL (
  SELECT lt.status, lt.verified
  FROM ledger_transactions lt
  WHERE lt.entity_type = ar.entity_type AND lt.entity_id = ar.entity_id
  ORDER BY lt.created_at DESC
  LIMIT 1
) latest ON TRUE
WHERE ar.status IN ('PENDING', 'FAILED')
   OR latest.status IS NULL
   OR latest.status = 'SIMULATED'
   OR latest.verified = FALSE
ORDER BY ar.created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]protocol.AnchorRequest, 0)
	for rows.Next() {
		var req protocol.AnchorRequest
		var payload []byte
		if err := rows.Scan(&req.ID, &req.EntityType, &req.EntityID, &req.ContentHash, &payload, &req.Status, &req.Attempts, &req.LastError, &req.CreatedAt); err != nil {
			return nil, err
		}
		req.EnrichedPayload = json.RawMessage(payload)
		req.CreatedAt = req.CreatedAt.UTC()
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) InsertTransactionRecord(ctx context.Context, rec protocol.LedgerTransactionRecord) (int64, error) {
	proofRaw, err := json.Marshal(rec.MerkleProof)
	if err != nil {
		return 0, fmt.Errorf("marshal merkle proof: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO ledger_transactions (
  type, entity_type, entity_id, hash, transaction_id, topic_id, sequence_number,
  consensus_timestamp, is_batch, batch_id, merkle_root, merkle_proof, merkle_index,
  compressed, message_size, compression_ratio, response_time_ms, attempts,
  rate_limit_wait_ms, status, error, verified, created_at
) VALUES (
  $1, $2, $3, $4, $5, $6, $7,
  NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''), $12::jsonb, $13,
  $14, $15, $16, $17, $18,
  $19, $20, NULLIF($21, ''), $22, NOW()
)
RETURNING id
`,
		rec.Type, rec.EntityType, rec.EntityID, rec.Hash, rec.TransactionID, rec.TopicID, rec.SequenceNumber,
		rec.ConsensusTimestamp, rec.IsBatch, rec.BatchID, rec.MerkleRoot, proofRaw, rec.MerkleIndex,
		rec.Compressed, rec.MessageSize, rec.CompressionRatio, rec.ResponseTime, rec.Attempts,
		rec.RateLimitWaitTime, rec.Status, rec.Error, rec.Verified,
	).Scan(&id)
	if err != nil {
		if isUniqueViolationFor(err, "transaction_id") {
			return 0, storage.ErrTransactionExists
		}
		return 0, err
	}
	return id, nil
}

const transactionColumns = `
id, type, entity_type, entity_id, hash, transaction_id, topic_id, sequence_number,
COALESCE(consensus_timestamp, ''), is_batch, COALESCE(batch_id, ''), COALESCE(merkle_root, ''),
merkle_proof, merkle_index, compressed, message_size, COALESCE(compression_ratio, 0),
response_time_ms, attempts, rate_limit_wait_ms, status, COALESCE(error, ''),
COALESCE(estimated_cost, 0), verified, verified_at, created_at`

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (protocol.LedgerTransactionRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT`+transactionColumns+`
FROM ledger_transactions
WHERE transaction_id = $1
ORDER BY merkle_index ASC
LIMIT 1
`, transactionID)
	return scanTransaction(row)
}

func (s *Store) LatestAnchorRequestForEntity(ctx context.Context, entityType protocol.EntityType, entityID string) (protocol.AnchorRequest, bool, error) {
	var out protocol.AnchorRequest
	var payload []byte
	var lastError *string
	err := s.pool.QueryRow(ctx, `
SELECT id, entity_type, entity_id, content_hash, enriched_payload, status, attempts, last_error, created_at
FROM anchor_requests
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at DESC
LIMIT 1
`, entityType, entityID).Scan(&out.ID, &out.EntityType, &out.EntityID, &out.ContentHash, &payload, &out.Status, &out.Attempts, &lastError, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	out.EnrichedPayload = json.RawMessage(payload)
	if lastError != nil {
		out.LastError = *lastError
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return out, true, nil
}

func (s *Store) LatestTransactionForEntity(ctx context.Context, entityType protocol.EntityType, entityID string) (protocol.LedgerTransactionRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT`+transactionColumns+`
FROM ledger_transactions
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at DESC
LIMIT 1
`, entityType, entityID)
	return scanTransaction(row)
}

func scanTransaction(row pgx.Row) (protocol.LedgerTransactionRecord, bool, error) {
	var rec protocol.LedgerTransactionRecord
	var proofRaw []byte
	var verifiedAt *time.Time
	err := row.Scan(
		&rec.ID, &rec.Type, &rec.EntityType, &rec.EntityID, &rec.Hash, &rec.TransactionID, &rec.TopicID, &rec.SequenceNumber,
		&rec.ConsensusTimestamp, &rec.IsBatch, &rec.BatchID, &rec.MerkleRoot,
		&proofRaw, &rec.MerkleIndex, &rec.Compressed, &rec.MessageSize, &rec.CompressionRatio,
		&rec.ResponseTime, &rec.Attempts, &rec.RateLimitWaitTime, &rec.Status, &rec.Error,
		&rec.EstimatedCost, &rec.Verified, &verifiedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	if len(proofRaw) > 0 {
		if err := json.Unmarshal(proofRaw, &rec.MerkleProof); err != nil {
			return rec, false, fmt.Errorf("decode merkle proof: %w", err)
		}
	}
	if verifiedAt != nil {
		t := verifiedAt.UTC()
		rec.VerifiedAt = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, true, nil
}

// MarkVerified is the only writer of estimated_cost; the fee is known after
// the mirror lookup, not at submission time.
func (s *Store) MarkVerified(ctx context.Context, transactionID string, verifiedAt time.Time, estimatedCost float64) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE ledger_transactions
SET verified = TRUE,
    verified_at = $2,
    estimated_cost = $3
WHERE transaction_id = $1
`, transactionID, verifiedAt.UTC(), estimatedCost)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM anchor_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (s *Store) ReserveMatricule(ctx context.Context, matricule string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO matricules (matricule, created_at) VALUES ($1, NOW())`, matricule)
	if err != nil {
		if isUniqueViolationFor(err, "matricule") {
			return storage.ErrMatriculeExists
		}
		return err
	}
	return nil
}
