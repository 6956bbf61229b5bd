package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibrahimatine/fadjma-sub003/internal/ledger"
	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
)

func seedBatchedRequests(t *testing.T, store *memStore, n int) []protocol.AnchorRequest {
	t.Helper()
	out := make([]protocol.AnchorRequest, 0, n)
	for i := 0; i < n; i++ {
		snap := protocol.RecordSnapshot{
			EntityType: protocol.EntityPrescription,
			EntityID:   "rx-" + string(rune('a'+i)),
		}
		hash, err := protocol.ContentHash(snap)
		require.NoError(t, err)
		req := protocol.AnchorRequest{
			EntityType:  snap.EntityType,
			EntityID:    snap.EntityID,
			ContentHash: hash,
			Status:      protocol.AnchorBatched,
		}
		req.ID, err = store.InsertAnchorRequest(context.Background(), req)
		require.NoError(t, err)
		out = append(out, req)
	}
	return out
}

func TestBatcherFlush(t *testing.T) {
	store := newMemStore()
	client := simulatedClient(t)
	limiter := ledger.NewRateLimiter(100, 10)
	b := NewBatcher(BatcherConfig{MaxItems: 10, Window: time.Hour}, store, client, limiter, testLogger())

	reqs := seedBatchedRequests(t, store, 3)
	for _, req := range reqs {
		b.Add(req)
	}
	require.Equal(t, 3, b.PendingCount())

	b.Flush(context.Background())
	require.Equal(t, 0, b.PendingCount())
	require.Len(t, store.txs, 3)

	txID := store.txs[0].TransactionID
	seenIdx := make(map[int]bool)
	for _, rec := range store.txs {
		require.Equal(t, txID, rec.TransactionID, "batch rows must share the consensus transaction id")
		require.True(t, rec.IsBatch)
		require.NotEmpty(t, rec.BatchID)
		require.False(t, seenIdx[rec.MerkleIndex], "merkle indexes must be distinct")
		seenIdx[rec.MerkleIndex] = true

		ok, err := protocol.VerifyMerkleProof(rec.Hash, rec.MerkleProof, rec.MerkleIndex, rec.MerkleRoot)
		require.NoError(t, err)
		require.True(t, ok, "persisted proof must verify against the anchored root")
	}

	for _, req := range reqs {
		got, found, err := store.GetAnchorRequest(context.Background(), req.ID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, protocol.AnchorSubmitted, got.Status)
	}
}

func TestBatcherFlushNeverExceedsMaxItems(t *testing.T) {
	store := newMemStore()
	b := NewBatcher(BatcherConfig{MaxItems: 3, Window: time.Hour}, store, simulatedClient(t), ledger.NewRateLimiter(100, 10), testLogger())

	for _, req := range seedBatchedRequests(t, store, 5) {
		b.Add(req)
	}

	b.Flush(context.Background())
	require.Len(t, store.txs, 3, "a flush is capped at MaxItems")
	require.Equal(t, 2, b.PendingCount(), "overflow stays parked for the next flush")

	firstBatch := store.txs[0].BatchID
	for _, rec := range store.txs {
		require.Equal(t, firstBatch, rec.BatchID)
	}

	b.Flush(context.Background())
	require.Len(t, store.txs, 5)
	require.Equal(t, 0, b.PendingCount())
	require.NotEqual(t, firstBatch, store.txs[4].BatchID, "remainder goes out as its own batch")
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	store := newMemStore()
	b := NewBatcher(BatcherConfig{MaxItems: 10, Window: time.Hour}, store, simulatedClient(t), ledger.NewRateLimiter(100, 10), testLogger())
	b.Flush(context.Background())
	require.Empty(t, store.txs)
}

func TestBatcherFlushFailureMarksAllFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "outage", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newMemStore()
	client := ledger.NewClient(ledger.ClientConfig{
		SubmitURL:   srv.URL,
		TopicID:     "0.0.777",
		OperatorID:  "0.0.5",
		OperatorKey: "key",
	}, testLogger())
	b := NewBatcher(BatcherConfig{MaxItems: 10, Window: time.Hour}, store, client, ledger.NewRateLimiter(100, 10), testLogger())

	reqs := seedBatchedRequests(t, store, 2)
	for _, req := range reqs {
		b.Add(req)
	}
	b.Flush(context.Background())

	require.Empty(t, store.txs)
	for _, req := range reqs {
		got, found, err := store.GetAnchorRequest(context.Background(), req.ID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, protocol.AnchorFailed, got.Status)
		require.Contains(t, got.LastError, "503")
	}
}

func TestBatcherSubmitCallback(t *testing.T) {
	store := newMemStore()
	b := NewBatcher(BatcherConfig{MaxItems: 10, Window: time.Hour}, store, simulatedClient(t), ledger.NewRateLimiter(100, 10), testLogger())
	called := false
	b.SetSubmitCallback(func(string) { called = true })

	for _, req := range seedBatchedRequests(t, store, 1) {
		b.Add(req)
	}
	b.Flush(context.Background())
	// simulated submissions never trigger post-submission verification
	require.False(t, called)
}
