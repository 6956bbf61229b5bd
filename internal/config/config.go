package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures runtime settings for the anchoring service. Operator
// credentials never live in the yaml file; they come from the environment,
// optionally seeded from a dotenv file.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Storage struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
	} `yaml:"storage"`

	Ledger struct {
		SubmitURL       string  `yaml:"submit_url"`
		MirrorURL       string  `yaml:"mirror_url"`
		ExplorerURL     string  `yaml:"explorer_url"`
		TopicID         string  `yaml:"topic_id"`
		Network         string  `yaml:"network"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		CredentialsFile string  `yaml:"credentials_file"`
		CurrencyRate    float64 `yaml:"currency_rate"`

		OperatorID  string `yaml:"-"`
		OperatorKey string `yaml:"-"`
	} `yaml:"ledger"`

	RateLimit struct {
		TransactionsPerSecond float64 `yaml:"transactions_per_second"`
		MaxBatchSize          int     `yaml:"max_batch_size"`
	} `yaml:"rate_limit"`

	Batch struct {
		MaxItems          int  `yaml:"max_items"`
		WindowSeconds     int  `yaml:"window_seconds"`
		Compress          bool `yaml:"compress"`
		CompressOverBytes int  `yaml:"compress_over_bytes"`
	} `yaml:"batch"`

	Verify struct {
		DelaySeconds       int `yaml:"delay_seconds"`
		ReminderTTLSeconds int `yaml:"reminder_ttl_seconds"`
		MaxReminders       int `yaml:"max_reminders"`
	} `yaml:"verify"`

	Reconcile struct {
		BatchLimit  int `yaml:"batch_limit"`
		ItemDelayMS int `yaml:"item_delay_ms"`
	} `yaml:"reconcile"`

	Anchor struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"anchor"`

	Security struct {
		Profile          string `yaml:"profile"`
		BearerToken      string `yaml:"bearer_token"`
		EnableBearerAuth *bool  `yaml:"enable_bearer_auth"`
		EnforceSecureTLS *bool  `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Logging struct {
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
	} `yaml:"logging"`
}

// Load reads and validates config from disk. Operator credentials are read
// from FADJMA_OPERATOR_ID / FADJMA_OPERATOR_KEY after optionally loading the
// configured dotenv file; absence of both switches the ledger client into
// simulation mode.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.loadCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadCredentials() error {
	if c.Ledger.CredentialsFile != "" {
		if err := godotenv.Load(c.Ledger.CredentialsFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load credentials file: %w", err)
		}
	}
	c.Ledger.OperatorID = strings.TrimSpace(os.Getenv("FADJMA_OPERATOR_ID"))
	c.Ledger.OperatorKey = strings.TrimSpace(os.Getenv("FADJMA_OPERATOR_KEY"))
	return nil
}

func (c *Config) Simulated() bool {
	return c.Ledger.OperatorID == "" || c.Ledger.OperatorKey == ""
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 12
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Ledger.Network == "" {
		c.Ledger.Network = "testnet"
	}
	if c.Ledger.MirrorURL == "" {
		c.Ledger.MirrorURL = fmt.Sprintf("https://%s.mirrornode.hedera.com", c.Ledger.Network)
	}
	if c.Ledger.ExplorerURL == "" {
		c.Ledger.ExplorerURL = "https://hashscan.io"
	}
	if c.Ledger.TimeoutSeconds <= 0 {
		c.Ledger.TimeoutSeconds = 15
	}
	if c.Ledger.CurrencyRate <= 0 {
		c.Ledger.CurrencyRate = 0.07
	}
	if c.RateLimit.TransactionsPerSecond <= 0 {
		c.RateLimit.TransactionsPerSecond = 8
	}
	if c.RateLimit.MaxBatchSize <= 0 {
		c.RateLimit.MaxBatchSize = 50
	}
	if c.Batch.MaxItems <= 0 {
		c.Batch.MaxItems = c.RateLimit.MaxBatchSize
	}
	if c.Batch.WindowSeconds <= 0 {
		c.Batch.WindowSeconds = 10
	}
	if c.Batch.CompressOverBytes <= 0 {
		c.Batch.CompressOverBytes = 1024
	}
	if c.Verify.DelaySeconds <= 0 {
		c.Verify.DelaySeconds = 30
	}
	if c.Verify.ReminderTTLSeconds <= 0 {
		c.Verify.ReminderTTLSeconds = 2 * c.Verify.DelaySeconds
	}
	if c.Verify.MaxReminders <= 0 {
		c.Verify.MaxReminders = 1024
	}
	if c.Reconcile.BatchLimit <= 0 {
		c.Reconcile.BatchLimit = 100
	}
	if c.Reconcile.ItemDelayMS <= 0 {
		c.Reconcile.ItemDelayMS = 200
	}
	if c.Anchor.MaxAttempts <= 0 {
		c.Anchor.MaxAttempts = 3
	}
	if c.Security.Profile == "" {
		c.Security.Profile = "development"
	}
	if c.Security.EnableBearerAuth == nil {
		c.Security.EnableBearerAuth = boolPtr(true)
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "fadjma-anchor"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
}

func (c *Config) validate() error {
	if c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required")
	}
	if c.Ledger.TopicID == "" {
		return errors.New("ledger.topic_id is required")
	}
	switch strings.TrimSpace(strings.ToLower(c.Ledger.Network)) {
	case "mainnet", "testnet", "previewnet":
	default:
		return errors.New("ledger.network must be one of mainnet|testnet|previewnet")
	}
	switch strings.TrimSpace(strings.ToLower(c.Security.Profile)) {
	case "production", "development":
	default:
		return errors.New("security.profile must be one of production|development")
	}
	if strings.EqualFold(c.Security.Profile, "production") {
		if c.Simulated() {
			return errors.New("operator credentials are required in the production profile; simulation mode is not permitted")
		}
		if !isHTTPSURL(c.Ledger.SubmitURL) {
			return errors.New("ledger.submit_url must be https in the production profile")
		}
	}
	if !c.Simulated() && c.Ledger.SubmitURL == "" {
		return errors.New("ledger.submit_url is required when operator credentials are set")
	}
	if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
		return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
	}
	if *c.Security.EnableBearerAuth && strings.TrimSpace(c.Security.BearerToken) == "" {
		return errors.New("security.bearer_token is required when bearer auth is enabled")
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Ledger.SubmitURL = os.ExpandEnv(strings.TrimSpace(c.Ledger.SubmitURL))
	c.Ledger.MirrorURL = os.ExpandEnv(strings.TrimSpace(c.Ledger.MirrorURL))
	c.Ledger.ExplorerURL = os.ExpandEnv(strings.TrimSpace(c.Ledger.ExplorerURL))
	c.Ledger.TopicID = os.ExpandEnv(strings.TrimSpace(c.Ledger.TopicID))
	c.Ledger.CredentialsFile = os.ExpandEnv(strings.TrimSpace(c.Ledger.CredentialsFile))
	c.Security.BearerToken = os.ExpandEnv(strings.TrimSpace(c.Security.BearerToken))
}

func boolPtr(v bool) *bool { return &v }
