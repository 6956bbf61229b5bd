package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anchor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=require
ledger:
  topic_id: "0.0.777"
security:
  bearer_token: secret-token
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("FADJMA_OPERATOR_ID", "")
	t.Setenv("FADJMA_OPERATOR_KEY", "")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:8080" {
		t.Fatalf("listen default = %q", cfg.Server.Listen)
	}
	if cfg.Ledger.Network != "testnet" {
		t.Fatalf("network default = %q", cfg.Ledger.Network)
	}
	if cfg.Ledger.MirrorURL != "https://testnet.mirrornode.hedera.com" {
		t.Fatalf("mirror default = %q", cfg.Ledger.MirrorURL)
	}
	if cfg.RateLimit.TransactionsPerSecond != 8 || cfg.RateLimit.MaxBatchSize != 50 {
		t.Fatalf("rate limit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Batch.MaxItems != 50 {
		t.Fatalf("batch max items should default to rate_limit.max_batch_size, got %d", cfg.Batch.MaxItems)
	}
	if !cfg.Simulated() {
		t.Fatal("config without operator credentials must report simulation mode")
	}
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	t.Setenv("FADJMA_OPERATOR_ID", "0.0.5")
	t.Setenv("FADJMA_OPERATOR_KEY", "302e0201")
	cfg, err := Load(writeConfig(t, `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=require
ledger:
  topic_id: "0.0.777"
  submit_url: https://submit.example.com
security:
  bearer_token: secret
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Simulated() {
		t.Fatal("config with operator credentials must not report simulation mode")
	}
	if cfg.Ledger.OperatorID != "0.0.5" || cfg.Ledger.OperatorKey != "302e0201" {
		t.Fatalf("credentials not loaded: %+v", cfg.Ledger)
	}
}

func TestLoadCredentialsFromDotenvFile(t *testing.T) {
	// godotenv does not override variables already present in the
	// environment, even empty ones, so these must be unset entirely.
	t.Setenv("FADJMA_OPERATOR_ID", "")
	t.Setenv("FADJMA_OPERATOR_KEY", "")
	os.Unsetenv("FADJMA_OPERATOR_ID")
	os.Unsetenv("FADJMA_OPERATOR_KEY")
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("FADJMA_OPERATOR_ID=0.0.9\nFADJMA_OPERATOR_KEY=abcdef\n"), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	cfg, err := Load(writeConfig(t, `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=require
ledger:
  topic_id: "0.0.777"
  submit_url: https://submit.example.com
  credentials_file: `+envPath+`
security:
  bearer_token: secret
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.OperatorID != "0.0.9" {
		t.Fatalf("operator id from dotenv = %q", cfg.Ledger.OperatorID)
	}
}

func TestLoadRequiresTopicID(t *testing.T) {
	t.Setenv("FADJMA_OPERATOR_ID", "")
	t.Setenv("FADJMA_OPERATOR_KEY", "")
	_, err := Load(writeConfig(t, `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=require
security:
  bearer_token: secret
`))
	if err == nil {
		t.Fatal("expected error for missing topic id")
	}
}

func TestLoadRejectsInsecureDSN(t *testing.T) {
	t.Setenv("FADJMA_OPERATOR_ID", "")
	t.Setenv("FADJMA_OPERATOR_KEY", "")
	_, err := Load(writeConfig(t, `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=disable
ledger:
  topic_id: "0.0.777"
security:
  bearer_token: secret
`))
	if err == nil {
		t.Fatal("expected error for sslmode=disable")
	}
}

func TestProductionProfileForbidsSimulation(t *testing.T) {
	t.Setenv("FADJMA_OPERATOR_ID", "")
	t.Setenv("FADJMA_OPERATOR_KEY", "")
	_, err := Load(writeConfig(t, `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=require
ledger:
  topic_id: "0.0.777"
security:
  profile: production
  bearer_token: secret
`))
	if err == nil {
		t.Fatal("production profile without credentials must not load")
	}
}

func TestProductionProfileRequiresHTTPSSubmitURL(t *testing.T) {
	t.Setenv("FADJMA_OPERATOR_ID", "0.0.5")
	t.Setenv("FADJMA_OPERATOR_KEY", "302e0201")
	_, err := Load(writeConfig(t, `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=require
ledger:
  topic_id: "0.0.777"
  submit_url: http://insecure.example.com
security:
  profile: production
  bearer_token: secret
`))
	if err == nil {
		t.Fatal("production profile with plain-http submit url must not load")
	}
}

func TestBearerTokenRequiredWhenAuthEnabled(t *testing.T) {
	t.Setenv("FADJMA_OPERATOR_ID", "")
	t.Setenv("FADJMA_OPERATOR_KEY", "")
	_, err := Load(writeConfig(t, `
storage:
  postgres_dsn: postgres://fadjma:pw@localhost:5432/fadjma?sslmode=require
ledger:
  topic_id: "0.0.777"
`))
	if err == nil {
		t.Fatal("expected error for missing bearer token")
	}
}
