package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizeTransactionID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.0.6089195@1758958633.731955949", "0.0.6089195-1758958633-731955949"},
		{"0.0.6089195-1758958633-731955949", "0.0.6089195-1758958633-731955949"},
		{"  0.0.1@5.9  ", "0.0.1-5-9"},
		{"garbage", "garbage"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeTransactionID(tc.in); got != tc.want {
			t.Fatalf("NormalizeTransactionID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMirrorTransactionIsValid(t *testing.T) {
	cases := []struct {
		result string
		name   string
		want   bool
	}{
		{ResultSuccess, OperationSubmitMessage, true},
		{ResultSuccess, "CRYPTOTRANSFER", false},
		{"INVALID_SIGNATURE", OperationSubmitMessage, false},
		{"", "", false},
	}
	for _, tc := range cases {
		tx := MirrorTransaction{Result: tc.result, Name: tc.name}
		if got := tx.IsValid(); got != tc.want {
			t.Fatalf("IsValid(result=%q name=%q) = %t, want %t", tc.result, tc.name, got, tc.want)
		}
	}
}

func TestMirrorClientGetTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/transactions/0.0.5-100-9":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transactions":[{"transaction_id":"0.0.5-100-9","name":"CONSENSUSSUBMITMESSAGE","result":"SUCCESS","consensus_timestamp":"100.000000009","charged_tx_fee":75000}]}`))
		case "/api/v1/transactions/0.0.5-200-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transactions":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	mc := NewMirrorClient(srv.URL, "testnet", 5*time.Second)

	tx, err := mc.GetTransaction(context.Background(), "0.0.5@100.9")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !tx.IsValid() {
		t.Fatalf("expected valid transaction, got %+v", tx)
	}
	if tx.ChargedFee != 75000 {
		t.Fatalf("charged fee = %d", tx.ChargedFee)
	}

	if _, err := mc.GetTransaction(context.Background(), "0.0.5@200.1"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("empty page: expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := mc.GetTransaction(context.Background(), "0.0.5@999.9"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("404: expected ErrTransactionNotFound, got %v", err)
	}
}

func TestEstimateCost(t *testing.T) {
	got := EstimateCost(100_000_000, 0.07)
	if got < 0.0699 || got > 0.0701 {
		t.Fatalf("EstimateCost = %f", got)
	}
	if EstimateCost(0, 0.07) != 0 {
		t.Fatal("zero fee should cost zero")
	}
}

func TestAccountFromTransactionID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.0.6089195@1758958633.731955949", "0.0.6089195"},
		{"0.0.6089195-1758958633-731955949", "0.0.6089195"},
		{"nonsense", ""},
	}
	for _, tc := range cases {
		if got := AccountFromTransactionID(tc.in); got != tc.want {
			t.Fatalf("AccountFromTransactionID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExplorerURLs(t *testing.T) {
	base := "https://hashscan.io/"
	if got := ExplorerTransactionURL(base, "testnet", "0.0.5@100.9"); got != "https://hashscan.io/testnet/transaction/0.0.5-100-9" {
		t.Fatalf("transaction url = %q", got)
	}
	if got := ExplorerTopicURL(base, "testnet", "0.0.777"); got != "https://hashscan.io/testnet/topic/0.0.777" {
		t.Fatalf("topic url = %q", got)
	}
	if got := ExplorerAccountURL(base, "mainnet", "0.0.5"); got != "https://hashscan.io/mainnet/account/0.0.5" {
		t.Fatalf("account url = %q", got)
	}
}
