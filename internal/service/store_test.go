package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
)

// memStore is an in-memory storage.Store for service tests.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	requests   map[int64]protocol.AnchorRequest
	txs        []protocol.LedgerTransactionRecord
	matricules map[string]struct{}
}

func newMemStore() *memStore {
	return &memStore{
		requests:   make(map[int64]protocol.AnchorRequest),
		matricules: make(map[string]struct{}),
	}
}

func (m *memStore) Close() {}

func (m *memStore) InsertAnchorRequest(_ context.Context, req protocol.AnchorRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	m.requests[req.ID] = req
	return req.ID, nil
}

func (m *memStore) GetAnchorRequest(_ context.Context, id int64) (protocol.AnchorRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	return req, ok, nil
}

func (m *memStore) UpdateAnchorStatus(_ context.Context, id int64, status protocol.AnchorStatus, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return storage.ErrNotFound
	}
	req.Status = status
	req.Attempts = attempts
	req.LastError = lastError
	m.requests[id] = req
	return nil
}

func (m *memStore) FetchReconcilable(_ context.Context, limit int) ([]protocol.AnchorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.requests))
	for id := range m.requests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]protocol.AnchorRequest, 0)
	for _, id := range ids {
		req := m.requests[id]
		latest, found := m.latestTxLocked(req.EntityType, req.EntityID)
		reconcilable := req.Status == protocol.AnchorPending || req.Status == protocol.AnchorFailed ||
			!found || latest.Status == protocol.TxSimulated || !latest.Verified
		if reconcilable {
			out = append(out, req)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) LatestAnchorRequestForEntity(_ context.Context, entityType protocol.EntityType, entityID string) (protocol.AnchorRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best protocol.AnchorRequest
	found := false
	for _, req := range m.requests {
		if req.EntityType == entityType && req.EntityID == entityID {
			if !found || req.ID > best.ID {
				best = req
				found = true
			}
		}
	}
	return best, found, nil
}

func (m *memStore) InsertTransactionRecord(_ context.Context, rec protocol.LedgerTransactionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.txs {
		if existing.TransactionID == rec.TransactionID && existing.MerkleIndex == rec.MerkleIndex {
			return 0, storage.ErrTransactionExists
		}
	}
	rec.ID = int64(len(m.txs) + 1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.txs = append(m.txs, rec)
	return rec.ID, nil
}

func (m *memStore) GetTransaction(_ context.Context, transactionID string) (protocol.LedgerTransactionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best protocol.LedgerTransactionRecord
	found := false
	for _, rec := range m.txs {
		if rec.TransactionID != transactionID {
			continue
		}
		if !found || rec.MerkleIndex < best.MerkleIndex {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

func (m *memStore) LatestTransactionForEntity(_ context.Context, entityType protocol.EntityType, entityID string) (protocol.LedgerTransactionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, found := m.latestTxLocked(entityType, entityID)
	return rec, found, nil
}

func (m *memStore) latestTxLocked(entityType protocol.EntityType, entityID string) (protocol.LedgerTransactionRecord, bool) {
	for i := len(m.txs) - 1; i >= 0; i-- {
		if m.txs[i].EntityType == entityType && m.txs[i].EntityID == entityID {
			return m.txs[i], true
		}
	}
	return protocol.LedgerTransactionRecord{}, false
}

func (m *memStore) MarkVerified(_ context.Context, transactionID string, verifiedAt time.Time, estimatedCost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	marked := false
	for i := range m.txs {
		if m.txs[i].TransactionID == transactionID {
			m.txs[i].Verified = true
			at := verifiedAt.UTC()
			m.txs[i].VerifiedAt = &at
			m.txs[i].EstimatedCost = estimatedCost
			marked = true
		}
	}
	if !marked {
		return storage.ErrNotFound
	}
	return nil
}

func (m *memStore) CountByStatus(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, req := range m.requests {
		out[string(req.Status)]++
	}
	return out, nil
}

func (m *memStore) ReserveMatricule(_ context.Context, matricule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.matricules[matricule]; exists {
		return storage.ErrMatriculeExists
	}
	m.matricules[matricule] = struct{}{}
	return nil
}
