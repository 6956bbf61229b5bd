package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
)

var (
	ErrMatriculeExists   = errors.New("matricule already exists")
	ErrTransactionExists = errors.New("transaction id already exists")
	ErrNotFound          = errors.New("not found")
)

// Store is the anchoring subsystem's persistence boundary. The transaction
// table is append-mostly; the only update paths are single-row status and
// verified-flag changes.
type Store interface {
	Close()

	InsertAnchorRequest(ctx context.Context, req protocol.AnchorRequest) (int64, error)
	GetAnchorRequest(ctx context.Context, id int64) (protocol.AnchorRequest, bool, error)
	UpdateAnchorStatus(ctx context.Context, id int64, status protocol.AnchorStatus, attempts int, lastError string) error

	// FetchReconcilable returns anchor requests whose transaction record is
	// absent, simulated, or present but unverified, oldest first.
	FetchReconcilable(ctx context.Context, limit int) ([]protocol.AnchorRequest, error)

	LatestAnchorRequestForEntity(ctx context.Context, entityType protocol.EntityType, entityID string) (protocol.AnchorRequest, bool, error)

	InsertTransactionRecord(ctx context.Context, rec protocol.LedgerTransactionRecord) (int64, error)
	// GetTransaction returns the lowest-merkle-index row for the id; batch
	// submissions persist one row per item under the same transaction id.
	GetTransaction(ctx context.Context, transactionID string) (protocol.LedgerTransactionRecord, bool, error)
	LatestTransactionForEntity(ctx context.Context, entityType protocol.EntityType, entityID string) (protocol.LedgerTransactionRecord, bool, error)
	// MarkVerified flips every row of the transaction id and records the
	// fee estimate computed during verification.
	MarkVerified(ctx context.Context, transactionID string, verifiedAt time.Time, estimatedCost float64) error

	CountByStatus(ctx context.Context) (map[string]int, error)

	ReserveMatricule(ctx context.Context, matricule string) error
}
