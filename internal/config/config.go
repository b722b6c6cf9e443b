package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration
type Config struct {
	// Database. Empty selects the in-memory stores.
	PostgresDSN string

	// Chain access node (REST) and network name
	FlowAccessURL string
	FlowNetwork   string

	// Account service and identity token endpoint
	AccountServiceURL string
	IdentityTokenURL  string

	// EVM sub-accounts
	EVMRPCURL   string
	EVMNetworks []string

	// Secure key store sealing
	KMSProvider        string // local, aws-kms or vault
	KMSLocalMasterKey  string
	KMSAWSKeyID        string
	KMSAWSRegion       string
	KMSVaultAddress    string
	KMSVaultToken      string
	KMSVaultTransitKey string

	// Off-device backup destination, e.g. vault://host:8200/secret/backups
	// or file:///var/lib/multikey/backups
	BackupStoreURI   string
	BackupVaultToken string

	// Finality watcher
	WatchPollInterval time.Duration
	WatchTimeout      time.Duration
	WatchPollRPS      int

	// HTTP clients
	HTTPRetryMax int

	// Device identity reported to the account service
	DeviceName string

	// Server
	Port           int
	MetricsEnabled bool
	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		FlowAccessURL:      getEnv("FLOW_ACCESS_URL", "https://rest-mainnet.onflow.org"),
		FlowNetwork:        getEnv("FLOW_NETWORK", "mainnet"),
		AccountServiceURL:  getEnv("ACCOUNT_SERVICE_URL", ""),
		IdentityTokenURL:   getEnv("IDENTITY_TOKEN_URL", ""),
		EVMRPCURL:          getEnv("EVM_RPC_URL", ""),
		EVMNetworks:        getEnvList("EVM_NETWORKS", []string{"previewnet"}),
		KMSProvider:        getEnv("KMS_PROVIDER", "local"),
		KMSLocalMasterKey:  getEnv("KMS_LOCAL_MASTER_KEY", ""),
		KMSAWSKeyID:        getEnv("KMS_AWS_KEY_ID", ""),
		KMSAWSRegion:       getEnv("KMS_AWS_REGION", ""),
		KMSVaultAddress:    getEnv("KMS_VAULT_ADDRESS", ""),
		KMSVaultToken:      getEnv("KMS_VAULT_TOKEN", ""),
		KMSVaultTransitKey: getEnv("KMS_VAULT_TRANSIT_KEY", ""),
		BackupStoreURI:     getEnv("BACKUP_STORE_URI", "file://data/backups"),
		BackupVaultToken:   getEnv("BACKUP_VAULT_TOKEN", ""),
		WatchPollInterval:  getEnvDuration("WATCH_POLL_INTERVAL", 2*time.Second),
		WatchTimeout:       getEnvDuration("WATCH_TIMEOUT", 5*time.Minute),
		WatchPollRPS:       getEnvInt("WATCH_POLL_RPS", 10),
		HTTPRetryMax:       getEnvInt("HTTP_RETRY_MAX", 3),
		DeviceName:         getEnv("DEVICE_NAME", "multikey"),
		Port:               getEnvInt("PORT", 8080),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		RateLimitRPS:       getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.FlowAccessURL == "" {
		return fmt.Errorf("FLOW_ACCESS_URL is required")
	}

	if c.AccountServiceURL == "" {
		return fmt.Errorf("ACCOUNT_SERVICE_URL is required")
	}

	if c.IdentityTokenURL == "" {
		return fmt.Errorf("IDENTITY_TOKEN_URL is required")
	}

	switch c.KMSProvider {
	case "local", "":
		if c.KMSLocalMasterKey == "" {
			return fmt.Errorf("KMS_LOCAL_MASTER_KEY is required when KMS_PROVIDER is 'local'")
		}
	case "aws-kms":
		if c.KMSAWSKeyID == "" || c.KMSAWSRegion == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID and KMS_AWS_REGION are required when KMS_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.KMSVaultAddress == "" || c.KMSVaultToken == "" || c.KMSVaultTransitKey == "" {
			return fmt.Errorf("KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY are required when KMS_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("KMS_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.KMSProvider)
	}

	if c.BackupStoreURI != "" {
		u, err := url.Parse(c.BackupStoreURI)
		if err != nil {
			return fmt.Errorf("BACKUP_STORE_URI is invalid: %w", err)
		}
		if u.Scheme != "vault" && u.Scheme != "file" {
			return fmt.Errorf("BACKUP_STORE_URI scheme must be 'vault' or 'file', got: %s", u.Scheme)
		}
	}

	if c.WatchPollInterval <= 0 {
		return fmt.Errorf("WATCH_POLL_INTERVAL must be positive")
	}
	if c.WatchTimeout < c.WatchPollInterval {
		return fmt.Errorf("WATCH_TIMEOUT must be at least WATCH_POLL_INTERVAL")
	}
	if c.WatchPollRPS <= 0 {
		return fmt.Errorf("WATCH_POLL_RPS must be positive")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList gets a comma separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
