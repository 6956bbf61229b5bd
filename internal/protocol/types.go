package protocol

import (
	"encoding/json"
	"time"
)

type EntityType string

const (
	EntityMedicalRecord        EntityType = "MEDICAL_RECORD"
	EntityPrescription         EntityType = "PRESCRIPTION"
	EntityPrescriptionDelivery EntityType = "PRESCRIPTION_DELIVERY"
	EntityAccessLog            EntityType = "ACCESS_LOG"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityMedicalRecord, EntityPrescription, EntityPrescriptionDelivery, EntityAccessLog:
		return true
	}
	return false
}

type AnchorStatus string

const (
	AnchorPending   AnchorStatus = "PENDING"
	AnchorBatched   AnchorStatus = "BATCHED"
	AnchorSubmitted AnchorStatus = "SUBMITTED"
	AnchorVerified  AnchorStatus = "VERIFIED"
	AnchorFailed    AnchorStatus = "FAILED"
)

type TransactionStatus string

const (
	TxSuccess   TransactionStatus = "SUCCESS"
	TxFailed    TransactionStatus = "FAILED"
	TxPending   TransactionStatus = "PENDING"
	TxSimulated TransactionStatus = "SIMULATED"
)

// RecordSnapshot is the domain-record view handed to the anchoring pipeline.
// The record storage layer owns the full entity; this is the slice of it that
// gets hashed and enriched.
type RecordSnapshot struct {
	EntityType   EntityType         `json:"entity_type"`
	EntityID     string             `json:"entity_id"`
	PatientID    string             `json:"patient_id,omitempty"`
	DoctorID     string             `json:"doctor_id,omitempty"`
	Title        string             `json:"title,omitempty"`
	Description  string             `json:"description,omitempty"`
	Prescription string             `json:"prescription,omitempty"`
	VitalSigns   map[string]float64 `json:"vital_signs,omitempty"`
}

// AnchorMessage is the enriched payload submitted alongside the content hash.
type AnchorMessage struct {
	EntityType     EntityType         `json:"entity_type"`
	EntityID       string             `json:"entity_id"`
	ContentHash    string             `json:"content_hash"`
	Classification string             `json:"classification"`
	Symptoms       []string           `json:"symptoms"`
	Treatments     []string           `json:"treatments"`
	VitalSigns     map[string]float64 `json:"vital_signs,omitempty"`
	PatientID      string             `json:"patient_id,omitempty"`
	DoctorID       string             `json:"doctor_id,omitempty"`
	SchemaVersion  string             `json:"schema_version"`
	Timestamp      string             `json:"timestamp"`
}

type AnchorRequest struct {
	ID              int64           `json:"id"`
	EntityType      EntityType      `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	ContentHash     string          `json:"content_hash"`
	EnrichedPayload json.RawMessage `json:"enriched_payload"`
	Status          AnchorStatus    `json:"status"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type BatchItem struct {
	RequestID   int64      `json:"request_id"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	ContentHash string     `json:"content_hash"`
	MerkleIndex int        `json:"merkle_index"`
	MerkleProof []string   `json:"merkle_proof"`
}

type Batch struct {
	BatchID     string      `json:"batch_id"`
	MerkleRoot  string      `json:"merkle_root"`
	Items       []BatchItem `json:"items"`
	Compressed  bool        `json:"compressed"`
	MessageSize int         `json:"message_size"`
}

// BatchMessage is what actually goes to the ledger: the root plus metadata,
// never the per-item payloads.
type BatchMessage struct {
	Type       string `json:"type"`
	BatchID    string `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	ItemCount  int    `json:"item_count"`
	Timestamp  string `json:"timestamp"`
}

type LedgerTransactionRecord struct {
	ID                 int64             `json:"id"`
	Type               string            `json:"type"`
	EntityType         EntityType        `json:"entity_type"`
	EntityID           string            `json:"entity_id"`
	Hash               string            `json:"hash"`
	TransactionID      string            `json:"transaction_id"`
	TopicID            string            `json:"topic_id"`
	SequenceNumber     int64             `json:"sequence_number"`
	ConsensusTimestamp string            `json:"consensus_timestamp,omitempty"`
	IsBatch            bool              `json:"is_batch"`
	BatchID            string            `json:"batch_id,omitempty"`
	MerkleRoot         string            `json:"merkle_root,omitempty"`
	MerkleProof        []string          `json:"merkle_proof,omitempty"`
	MerkleIndex        int               `json:"merkle_index"`
	Compressed         bool              `json:"compressed"`
	MessageSize        int               `json:"message_size"`
	CompressionRatio   float64           `json:"compression_ratio,omitempty"`
	ResponseTime       int64             `json:"response_time_ms"`
	Attempts           int               `json:"attempts"`
	RateLimitWaitTime  int64             `json:"rate_limit_wait_ms"`
	Status             TransactionStatus `json:"status"`
	Error              string            `json:"error,omitempty"`
	EstimatedCost      float64           `json:"estimated_cost,omitempty"`
	Verified           bool              `json:"verified"`
	VerifiedAt         *time.Time        `json:"verified_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

type ExplorerLinks struct {
	Transaction string `json:"transaction"`
	Topic       string `json:"topic"`
	Account     string `json:"account"`
}

type AnchorRecordRequest struct {
	Record RecordSnapshot `json:"record"`
}

type AnchorRecordResponse struct {
	Status        AnchorStatus `json:"status"`
	RequestID     int64        `json:"request_id"`
	ContentHash   string       `json:"content_hash"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Simulated     bool         `json:"simulated"`
}

type VerifyResponse struct {
	Valid              bool          `json:"valid"`
	TransactionID      string        `json:"transaction_id"`
	ConsensusTimestamp string        `json:"consensus_timestamp,omitempty"`
	Result             string        `json:"result,omitempty"`
	Name               string        `json:"name,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	IntegrityOK        bool          `json:"integrity_ok"`
	Links              ExplorerLinks `json:"links"`
	EstimatedCost      float64       `json:"estimated_cost"`
	VerifiedAt         *time.Time    `json:"verified_at,omitempty"`
}

type ProofResponse struct {
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	ContentHash string     `json:"content_hash"`
	BatchID     string     `json:"batch_id,omitempty"`
	MerkleRoot  string     `json:"merkle_root"`
	MerkleIndex int        `json:"merkle_index"`
	MerkleProof []string   `json:"merkle_proof"`
}

type ReconcileTypeCounts struct {
	Scanned   int `json:"scanned"`
	Verified  int `json:"verified"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type ReconcileSummary struct {
	Scanned    int                                `json:"scanned"`
	Verified   int                                `json:"verified"`
	Succeeded  int                                `json:"succeeded"`
	Failed     int                                `json:"failed"`
	PerType    map[EntityType]ReconcileTypeCounts `json:"per_type"`
	StartedAt  time.Time                          `json:"started_at"`
	FinishedAt time.Time                          `json:"finished_at"`
	Aborted    bool                               `json:"aborted"`
}

type HealthResponse struct {
	Service     string         `json:"service"`
	Version     string         `json:"version"`
	Network     string         `json:"network"`
	TopicID     string         `json:"topic_id"`
	Simulated   bool           `json:"simulated"`
	StatusCount map[string]int `json:"status_count,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
