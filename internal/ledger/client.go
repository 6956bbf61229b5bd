package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
)

// SubmitResult is the outcome of one topic submission. Simulated results are
// marked distinctly and must never be treated as authoritative.
type SubmitResult struct {
	Status             string        `json:"status"`
	TransactionID      string        `json:"transaction_id"`
	TopicID            string        `json:"topic_id"`
	SequenceNumber     int64         `json:"sequence_number"`
	ConsensusTimestamp string        `json:"consensus_timestamp"`
	ResponseTime       time.Duration `json:"-"`
	Simulated          bool          `json:"simulated"`
}

// SubmitError is the structured failure for a genuine call error. The client
// performs no retry; attempt counting belongs to the caller.
type SubmitError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *SubmitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger submit: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("ledger submit: %s", e.Message)
}

func (e *SubmitError) Unwrap() error { return e.Cause }

type ClientConfig struct {
	SubmitURL   string
	TopicID     string
	Network     string
	OperatorID  string
	OperatorKey string
	Timeout     time.Duration
}

type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	simulated  bool
	simSeq     atomic.Int64
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	simulated := strings.TrimSpace(cfg.OperatorID) == "" || strings.TrimSpace(cfg.OperatorKey) == ""
	if simulated {
		logger.Warn("ledger credentials absent, running in simulation mode",
			slog.String("topic_id", cfg.TopicID),
			slog.String("network", cfg.Network),
		)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		simulated:  simulated,
	}
}

func (c *Client) Simulated() bool { return c.simulated }

func (c *Client) TopicID() string { return c.cfg.TopicID }

// Submit posts opaque message bytes to the configured topic. In simulation
// mode it returns synthetic but well-formed identifiers with a sentinel
// status instead of silently pretending success.
func (c *Client) Submit(ctx context.Context, message []byte) (SubmitResult, error) {
	start := time.Now()
	if c.simulated {
		res := c.simulate()
		res.ResponseTime = time.Since(start)
		c.logger.Warn("simulated ledger submission",
			slog.String("transaction_id", res.TransactionID),
			slog.Int("message_size", len(message)),
		)
		return res, nil
	}

	reqBody := struct {
		Message string `json:"message"`
	}{Message: base64.StdEncoding.EncodeToString(message)}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return SubmitResult{}, &SubmitError{Message: "encode request", Cause: err}
	}

	url := strings.TrimRight(c.cfg.SubmitURL, "/") + "/v1/topics/" + c.cfg.TopicID + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return SubmitResult{}, &SubmitError{Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Operator-Id", c.cfg.OperatorID)
	httpReq.Header.Set("X-Operator-Key", c.cfg.OperatorKey)

	httpResp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return SubmitResult{ResponseTime: elapsed}, &SubmitError{Message: "transport", Cause: err}
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 2<<20))
	if err != nil {
		return SubmitResult{ResponseTime: elapsed}, &SubmitError{Message: "read response", Cause: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return SubmitResult{ResponseTime: elapsed}, &SubmitError{
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("status %d body=%s", httpResp.StatusCode, truncate(string(body), 500)),
		}
	}

	var out SubmitResult
	if err := json.Unmarshal(body, &out); err != nil {
		return SubmitResult{ResponseTime: elapsed}, &SubmitError{Message: "decode response", Cause: err}
	}
	if out.TopicID == "" {
		out.TopicID = c.cfg.TopicID
	}
	out.ResponseTime = elapsed
	return out, nil
}

func (c *Client) simulate() SubmitResult {
	now := time.Now().UTC()
	seq := c.simSeq.Add(1)
	return SubmitResult{
		Status:             string(protocol.TxSimulated),
		TransactionID:      fmt.Sprintf("0.0.0@%d.%09d", now.Unix(), now.Nanosecond()),
		TopicID:            c.cfg.TopicID,
		SequenceNumber:     seq,
		ConsensusTimestamp: fmt.Sprintf("%d.%09d", now.Unix(), now.Nanosecond()),
		Simulated:          true,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
