package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ibrahimatine/fadjma-sub003/internal/logging"
	"github.com/ibrahimatine/fadjma-sub003/internal/metrics"
	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
	"github.com/ibrahimatine/fadjma-sub003/internal/service"
)

type HealthInfo struct {
	Service string
	Version string
	Network string
	TopicID string
}

type Handler struct {
	anchor     *service.AnchorService
	verifier   *service.Verifier
	reconciler *service.Reconciler
	health     HealthInfo
	logger     *slog.Logger
}

func NewHandler(anchor *service.AnchorService, verifier *service.Verifier, reconciler *service.Reconciler, health HealthInfo, logger *slog.Logger) *Handler {
	return &Handler{
		anchor:     anchor,
		verifier:   verifier,
		reconciler: reconciler,
		health:     health,
		logger:     logger,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /v1/anchor", h.handleAnchor)
	mux.HandleFunc("GET /v1/anchor/{entityType}/{entityId}", h.handleLatestAnchor)
	mux.HandleFunc("POST /v1/verify/{transactionId}", h.handleVerify)
	mux.HandleFunc("GET /v1/proof/{entityType}/{entityId}", h.handleProof)
	mux.HandleFunc("POST /v1/reconcile/run", h.handleReconcile)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := h.anchor.StatusCounts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Service:     h.health.Service,
		Version:     h.health.Version,
		Network:     h.health.Network,
		TopicID:     h.health.TopicID,
		Simulated:   h.anchor.Simulated(),
		StatusCount: counts,
	})
}

func (h *Handler) handleAnchor(w http.ResponseWriter, r *http.Request) {
	var req protocol.AnchorRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	resp, err := h.anchor.AnchorRecord(r.Context(), req.Record)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "anchor")
	logging.AddField(r.Context(), "request_id", resp.RequestID)
	logging.AddField(r.Context(), "anchor_status", string(resp.Status))
	logging.AddField(r.Context(), "content_hash", resp.ContentHash)
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleLatestAnchor(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, err := pathEntity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.anchor.LatestAnchor(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "latest_anchor")
	logging.AddField(r.Context(), "transaction_id", rec.TransactionID)
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("transactionId")
	var current *protocol.RecordSnapshot
	if r.ContentLength != 0 {
		var req protocol.AnchorRecordRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, service.BadRequest(err.Error(), err))
			return
		}
		current = &req.Record
	}
	resp, err := h.verifier.Verify(r.Context(), transactionID, current)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "verify")
	logging.AddField(r.Context(), "transaction_id", resp.TransactionID)
	logging.AddField(r.Context(), "valid", resp.Valid)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProof(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, err := pathEntity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.anchor.Proof(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "proof")
	logging.AddField(r.Context(), "batch_id", resp.BatchID)
	logging.AddField(r.Context(), "merkle_root", resp.MerkleRoot)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "reconcile")
	logging.AddField(r.Context(), "scanned", summary.Scanned)
	logging.AddField(r.Context(), "verified", summary.Verified)
	logging.AddField(r.Context(), "succeeded", summary.Succeeded)
	logging.AddField(r.Context(), "failed", summary.Failed)
	writeJSON(w, http.StatusOK, summary)
}

func pathEntity(r *http.Request) (protocol.EntityType, string, error) {
	entityType := protocol.EntityType(r.PathValue("entityType"))
	if !entityType.Valid() {
		return "", "", service.BadRequest("unknown entity type "+r.PathValue("entityType"), nil)
	}
	entityID := r.PathValue("entityId")
	if entityID == "" {
		return "", "", service.BadRequest("entity id is required", nil)
	}
	return entityType, entityID, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Message)
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", "INTERNAL_ERROR")
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      "INTERNAL_ERROR",
		Message:   "internal server error",
		Retryable: true,
	}})
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, 2<<20)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
