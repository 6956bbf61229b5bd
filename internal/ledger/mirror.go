package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// OperationSubmitMessage is the transaction name the mirror reports for a
// topic message submission. Validity requires both result == SUCCESS and
// this exact name.
const OperationSubmitMessage = "CONSENSUSSUBMITMESSAGE"

const ResultSuccess = "SUCCESS"

// ErrTransactionNotFound is the hard error for a mirror response with zero
// matching transactions. Never conflated with "not yet verified".
var ErrTransactionNotFound = errors.New("no transaction found on mirror")

// Ledger-native ids look like 0.0.6089195@1758958633.731955949; the mirror
// API wants 0.0.6089195-1758958633-731955949.
var txIDPattern = regexp.MustCompile(`^(\d+\.\d+\.\d+)@(\d+)\.(\d+)$`)

// NormalizeTransactionID converts a ledger-native transaction id to the
// mirror query form. Ids already converted, or not matching the expected
// shape, pass through unchanged.
func NormalizeTransactionID(id string) string {
	m := txIDPattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return id
	}
	return m[1] + "-" + m[2] + "-" + m[3]
}

type MirrorTransaction struct {
	TransactionID      string `json:"transaction_id"`
	Name               string `json:"name"`
	Result             string `json:"result"`
	ConsensusTimestamp string `json:"consensus_timestamp"`
	ChargedFee         int64  `json:"charged_tx_fee"`
	EntityID           string `json:"entity_id"`
}

type mirrorTransactionsPage struct {
	Transactions []MirrorTransaction `json:"transactions"`
}

type MirrorClient struct {
	baseURL    string
	network    string
	httpClient *http.Client
}

func NewMirrorClient(baseURL, network string, timeout time.Duration) *MirrorClient {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &MirrorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		network:    network,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (m *MirrorClient) Network() string { return m.network }

// GetTransaction looks a transaction up on the read-only mirror API. The id
// is normalized before the query.
func (m *MirrorClient) GetTransaction(ctx context.Context, transactionID string) (MirrorTransaction, error) {
	queryID := NormalizeTransactionID(transactionID)
	url := m.baseURL + "/api/v1/transactions/" + queryID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MirrorTransaction{}, fmt.Errorf("mirror query: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return MirrorTransaction{}, fmt.Errorf("mirror query: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return MirrorTransaction{}, fmt.Errorf("mirror query: read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return MirrorTransaction{}, ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return MirrorTransaction{}, fmt.Errorf("mirror query: status %d body=%s", resp.StatusCode, truncate(string(body), 500))
	}
	var page mirrorTransactionsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return MirrorTransaction{}, fmt.Errorf("mirror query: decode: %w", err)
	}
	if len(page.Transactions) == 0 {
		return MirrorTransaction{}, ErrTransactionNotFound
	}
	return page.Transactions[0], nil
}

// IsValid applies the consensus-validity rule: result SUCCESS and the
// submit-message operation name. Either alone is insufficient.
func (tx MirrorTransaction) IsValid() bool {
	return tx.Result == ResultSuccess && tx.Name == OperationSubmitMessage
}

func ExplorerTransactionURL(base, network, transactionID string) string {
	return strings.TrimRight(base, "/") + "/" + network + "/transaction/" + NormalizeTransactionID(transactionID)
}

func ExplorerTopicURL(base, network, topicID string) string {
	return strings.TrimRight(base, "/") + "/" + network + "/topic/" + topicID
}

func ExplorerAccountURL(base, network, accountID string) string {
	return strings.TrimRight(base, "/") + "/" + network + "/account/" + accountID
}

// EstimateCost converts the raw fee unit (1e-8 of the base currency) into an
// approximate fiat figure. Observability only, not settlement accounting.
func EstimateCost(chargedFee int64, currencyRate float64) float64 {
	return float64(chargedFee) / 1e8 * currencyRate
}

// AccountFromTransactionID extracts the paying account from either id form.
func AccountFromTransactionID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.IndexByte(id, '@'); i > 0 {
		return id[:i]
	}
	parts := strings.Split(id, "-")
	if len(parts) == 3 && strings.Count(parts[0], ".") == 2 {
		return parts[0]
	}
	return ""
}
