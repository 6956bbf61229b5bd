package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/ledger"
	"github.com/ibrahimatine/fadjma-sub003/internal/metrics"
	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
)

type VerifierConfig struct {
	ExplorerBase string
	CurrencyRate float64
}

// Verifier checks anchored transactions against the read-only mirror and
// re-checks record integrity against the persisted bookkeeping.
type Verifier struct {
	cfg    VerifierConfig
	store  storage.Store
	mirror *ledger.MirrorClient
	logger *slog.Logger
}

func NewVerifier(cfg VerifierConfig, store storage.Store, mirror *ledger.MirrorClient, logger *slog.Logger) *Verifier {
	if cfg.ExplorerBase == "" {
		cfg.ExplorerBase = "https://hashscan.io"
	}
	return &Verifier{cfg: cfg, store: store, mirror: mirror, logger: logger}
}

// Verify confirms a transaction reached consensus and that the record's
// content hash still matches what was anchored. A consensus-invalid
// transaction yields Valid=false without an error; missing transactions,
// mirror failures, and integrity mismatches are hard errors. When a current
// record snapshot is supplied its hash is recomputed and compared against
// the anchored one.
func (v *Verifier) Verify(ctx context.Context, transactionID string, current *protocol.RecordSnapshot) (protocol.VerifyResponse, error) {
	id := ledger.NormalizeTransactionID(transactionID)

	rec, found, err := v.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return protocol.VerifyResponse{}, Internal("load transaction record", err)
	}
	if !found {
		rec, found, err = v.store.GetTransaction(ctx, id)
		if err != nil {
			return protocol.VerifyResponse{}, Internal("load transaction record", err)
		}
	}
	if !found {
		metrics.ObserveVerification("not_found")
		return protocol.VerifyResponse{}, TransactionNotFound(transactionID)
	}
	if rec.Status == protocol.TxSimulated {
		metrics.ObserveVerification("simulated")
		return protocol.VerifyResponse{}, NewAppError(409, "SIMULATION_MODE",
			"transaction was simulated and cannot be verified against the ledger", false, nil)
	}

	tx, err := v.mirror.GetTransaction(ctx, rec.TransactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			metrics.ObserveVerification("not_found")
			return protocol.VerifyResponse{}, TransactionNotFound(id)
		}
		metrics.ObserveVerification("error")
		return protocol.VerifyResponse{}, Internal("mirror lookup", err)
	}

	resp := protocol.VerifyResponse{
		TransactionID:      rec.TransactionID,
		ConsensusTimestamp: tx.ConsensusTimestamp,
		Result:             tx.Result,
		Name:               tx.Name,
		EstimatedCost:      ledger.EstimateCost(tx.ChargedFee, v.cfg.CurrencyRate),
		Links:              v.links(rec),
	}

	if !tx.IsValid() {
		// Negative result, not an error: the caller sees valid=false with
		// the taxonomy code, never a 4xx.
		appErr := ConsensusInvalid(fmt.Sprintf("result=%s name=%s", tx.Result, tx.Name))
		resp.Reason = appErr.Code
		metrics.ObserveVerification("consensus_invalid")
		v.logger.Warn("consensus check failed",
			slog.String("transaction_id", rec.TransactionID),
			slog.String("code", appErr.Code),
			slog.String("detail", appErr.Message),
		)
		return resp, nil
	}

	if current != nil {
		ok, err := protocol.VerifyContentHash(*current, rec.Hash)
		if err != nil {
			metrics.ObserveVerification("error")
			return protocol.VerifyResponse{}, Internal("recompute content hash", err)
		}
		if !ok {
			metrics.ObserveVerification("integrity_violation")
			return protocol.VerifyResponse{}, IntegrityViolation(fmt.Sprintf(
				"record %s/%s no longer matches its anchored hash", rec.EntityType, rec.EntityID))
		}
		resp.IntegrityOK = true
	}

	now := time.Now().UTC()
	if err := v.store.MarkVerified(ctx, rec.TransactionID, now, resp.EstimatedCost); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return protocol.VerifyResponse{}, Internal("mark transaction verified", err)
	}

	resp.Valid = true
	resp.VerifiedAt = &now
	metrics.ObserveVerification("valid")
	v.logger.Info("transaction verified",
		slog.String("transaction_id", rec.TransactionID),
		slog.String("consensus_timestamp", tx.ConsensusTimestamp),
		slog.Bool("integrity_checked", current != nil),
	)
	return resp, nil
}

// VerifyProof checks a persisted merkle inclusion proof locally, without a
// mirror round trip.
func (v *Verifier) VerifyProof(rec protocol.LedgerTransactionRecord) (bool, error) {
	if !rec.IsBatch {
		return false, BadRequest("transaction is not a batch anchor", nil)
	}
	ok, err := protocol.VerifyMerkleProof(rec.Hash, rec.MerkleProof, rec.MerkleIndex, rec.MerkleRoot)
	if err != nil {
		return false, BadRequest("malformed merkle proof: "+err.Error(), err)
	}
	return ok, nil
}

func (v *Verifier) links(rec protocol.LedgerTransactionRecord) protocol.ExplorerLinks {
	network := v.mirror.Network()
	links := protocol.ExplorerLinks{
		Transaction: ledger.ExplorerTransactionURL(v.cfg.ExplorerBase, network, rec.TransactionID),
		Topic:       ledger.ExplorerTopicURL(v.cfg.ExplorerBase, network, rec.TopicID),
	}
	if acct := ledger.AccountFromTransactionID(rec.TransactionID); acct != "" {
		links.Account = ledger.ExplorerAccountURL(v.cfg.ExplorerBase, network, acct)
	}
	return links
}
