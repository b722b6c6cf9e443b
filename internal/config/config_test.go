package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		FlowAccessURL:     "http://localhost:8888",
		FlowNetwork:       "previewnet",
		AccountServiceURL: "http://localhost:9000",
		IdentityTokenURL:  "http://localhost:9100/token",
		KMSProvider:       "local",
		KMSLocalMasterKey: "test-master-key-32-bytes-long!!",
		WatchPollInterval: time.Second,
		WatchTimeout:      time.Minute,
		WatchPollRPS:      5,
		Port:              8080,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid local KMS config",
			mutate: func(c *Config) {},
		},
		{
			name: "valid AWS KMS config",
			mutate: func(c *Config) {
				c.KMSProvider = "aws-kms"
				c.KMSAWSKeyID = "alias/my-key"
				c.KMSAWSRegion = "us-east-1"
			},
		},
		{
			name: "valid Vault config with vault backup store",
			mutate: func(c *Config) {
				c.KMSProvider = "vault"
				c.KMSVaultAddress = "http://localhost:8200"
				c.KMSVaultToken = "s.token123"
				c.KMSVaultTransitKey = "multikey"
				c.BackupStoreURI = "vault://localhost:8200/secret/backups"
			},
		},
		{
			name:    "missing identity endpoint",
			mutate:  func(c *Config) { c.IdentityTokenURL = "" },
			wantErr: true,
			errMsg:  "IDENTITY_TOKEN_URL is required",
		},
		{
			name:    "missing access node",
			mutate:  func(c *Config) { c.FlowAccessURL = "" },
			wantErr: true,
			errMsg:  "FLOW_ACCESS_URL is required",
		},
		{
			name:    "missing account service",
			mutate:  func(c *Config) { c.AccountServiceURL = "" },
			wantErr: true,
			errMsg:  "ACCOUNT_SERVICE_URL is required",
		},
		{
			name:    "local KMS without master key",
			mutate:  func(c *Config) { c.KMSLocalMasterKey = "" },
			wantErr: true,
			errMsg:  "KMS_LOCAL_MASTER_KEY is required",
		},
		{
			name:    "AWS KMS without region",
			mutate:  func(c *Config) { c.KMSProvider = "aws-kms"; c.KMSAWSKeyID = "k" },
			wantErr: true,
			errMsg:  "KMS_AWS_REGION",
		},
		{
			name:    "unknown KMS provider",
			mutate:  func(c *Config) { c.KMSProvider = "gcp" },
			wantErr: true,
			errMsg:  "KMS_PROVIDER must be",
		},
		{
			name:    "unsupported backup scheme",
			mutate:  func(c *Config) { c.BackupStoreURI = "s3://bucket/backups" },
			wantErr: true,
			errMsg:  "BACKUP_STORE_URI scheme",
		},
		{
			name:    "timeout shorter than poll interval",
			mutate:  func(c *Config) { c.WatchTimeout = 100 * time.Millisecond },
			wantErr: true,
			errMsg:  "WATCH_TIMEOUT",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: true,
			errMsg:  "PORT must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("FLOW_ACCESS_URL", "http://access:8888")
	t.Setenv("ACCOUNT_SERVICE_URL", "http://accounts:9000")
	t.Setenv("IDENTITY_TOKEN_URL", "http://identity:9100/token")
	t.Setenv("KMS_LOCAL_MASTER_KEY", "test-master-key-32-bytes-long!!")
	t.Setenv("EVM_NETWORKS", "previewnet, testnet ,")
	t.Setenv("WATCH_POLL_INTERVAL", "500ms")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://access:8888", cfg.FlowAccessURL)
	assert.Equal(t, []string{"previewnet", "testnet"}, cfg.EVMNetworks)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.WatchTimeout)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "file://data/backups", cfg.BackupStoreURI)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("FLOW_ACCESS_URL", "http://access:8888")
	t.Setenv("ACCOUNT_SERVICE_URL", "http://accounts:9000")
	t.Setenv("IDENTITY_TOKEN_URL", "http://identity:9100/token")
	t.Setenv("KMS_LOCAL_MASTER_KEY", "k")
	t.Setenv("WATCH_TIMEOUT", "not-a-duration")
	t.Setenv("HTTP_RETRY_MAX", "many")
	t.Setenv("METRICS_ENABLED", "no")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.WatchTimeout)
	assert.Equal(t, 3, cfg.HTTPRetryMax)
	assert.False(t, cfg.MetricsEnabled)
}
