package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/metrics"
	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
)

type ReconcilerConfig struct {
	BatchLimit int
	ItemDelay  time.Duration
}

// Reconciler re-drives anchor requests that never got an authoritative
// transaction: failed or pending submissions, simulated runs, and rows the
// mirror never confirmed. Each item is isolated; one failure never stops
// the sweep.
type Reconciler struct {
	cfg      ReconcilerConfig
	store    storage.Store
	anchor   *AnchorService
	verifier *Verifier
	logger   *slog.Logger
}

func NewReconciler(cfg ReconcilerConfig, store storage.Store, anchor *AnchorService, verifier *Verifier, logger *slog.Logger) *Reconciler {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.ItemDelay <= 0 {
		cfg.ItemDelay = 200 * time.Millisecond
	}
	return &Reconciler{cfg: cfg, store: store, anchor: anchor, verifier: verifier, logger: logger}
}

type reconcileOutcome int

const (
	reconcileSucceeded reconcileOutcome = iota
	reconcileVerified
	reconcileFailed
)

// Run performs one reconciliation sweep, oldest requests first. Items whose
// transaction already reached consensus are confirmed against the mirror and
// never resubmitted, so back-to-back sweeps with no intervening failures
// anchor nothing new the second time.
func (r *Reconciler) Run(ctx context.Context) (protocol.ReconcileSummary, error) {
	summary := protocol.ReconcileSummary{
		PerType:   make(map[protocol.EntityType]protocol.ReconcileTypeCounts),
		StartedAt: time.Now().UTC(),
	}

	reqs, err := r.store.FetchReconcilable(ctx, r.cfg.BatchLimit)
	if err != nil {
		return summary, Internal("fetch reconcilable requests", err)
	}
	r.logger.Info("reconciliation sweep started", slog.Int("candidates", len(reqs)))

	for _, req := range reqs {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}
		summary.Scanned++
		counts := summary.PerType[req.EntityType]
		counts.Scanned++

		switch r.reconcileItem(ctx, req) {
		case reconcileVerified:
			summary.Verified++
			counts.Verified++
			metrics.IncReconciled("verified")
		case reconcileSucceeded:
			summary.Succeeded++
			counts.Succeeded++
			metrics.IncReconciled("success")
		case reconcileFailed:
			summary.Failed++
			counts.Failed++
			metrics.IncReconciled("failed")
		}
		summary.PerType[req.EntityType] = counts

		if err := sleepCtx(ctx, r.cfg.ItemDelay); err != nil {
			summary.Aborted = true
			break
		}
	}

	summary.FinishedAt = time.Now().UTC()
	r.logger.Info("reconciliation sweep finished",
		slog.Int("scanned", summary.Scanned),
		slog.Int("verified", summary.Verified),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Bool("aborted", summary.Aborted),
	)
	return summary, nil
}

// reconcileItem settles one candidate. A request whose latest transaction
// reached consensus but was never confirmed goes to the verification service
// first; only when the mirror cannot confirm it does the item get re-anchored.
func (r *Reconciler) reconcileItem(ctx context.Context, req protocol.AnchorRequest) reconcileOutcome {
	if r.verifier != nil {
		tx, found, err := r.store.LatestTransactionForEntity(ctx, req.EntityType, req.EntityID)
		if err == nil && found && tx.Status == protocol.TxSuccess && !tx.Verified {
			resp, verr := r.verifier.Verify(ctx, tx.TransactionID, nil)
			if verr == nil && resp.Valid {
				r.logger.Info("reconcile item confirmed on mirror",
					slog.Int64("request_id", req.ID),
					slog.String("transaction_id", tx.TransactionID),
				)
				return reconcileVerified
			}
			reason := "consensus invalid"
			if verr != nil {
				reason = verr.Error()
			}
			r.logger.Warn("reconcile verification failed, re-anchoring",
				slog.Int64("request_id", req.ID),
				slog.String("transaction_id", tx.TransactionID),
				slog.String("reason", reason),
			)
		}
	}

	if _, err := r.anchor.Resubmit(ctx, req); err != nil {
		r.logger.Warn("reconcile item failed",
			slog.Int64("request_id", req.ID),
			slog.String("entity_type", string(req.EntityType)),
			slog.String("entity_id", req.EntityID),
			slog.String("error", err.Error()),
		)
		return reconcileFailed
	}
	return reconcileSucceeded
}
