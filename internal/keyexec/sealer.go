package keyexec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/hkdf"
)

// Sealer encrypts secrets at rest. The purpose string is bound to the
// ciphertext as associated data: a blob sealed for one purpose does not
// unseal under another.
type Sealer interface {
	Seal(ctx context.Context, purpose string, plaintext []byte) ([]byte, error)
	Unseal(ctx context.Context, purpose string, sealed []byte) ([]byte, error)

	// Backend returns the backend name ("local", "aws-kms", "vault")
	Backend() string
}

// Seal purposes used across the module.
const (
	PurposeKeyShare = "key-share"
	PurposeMnemonic = "wallet-mnemonic"
	PurposeBackup   = "backup-payload"
)

// SealerType names a supported backend
type SealerType string

const (
	SealerLocal  SealerType = "local"
	SealerAWSKMS SealerType = "aws-kms"
	SealerVault  SealerType = "vault"
)

// SealerConfig selects and configures a Sealer backend
type SealerConfig struct {
	Backend string

	LocalMasterKey string

	AWSKMSKeyID  string
	AWSKMSRegion string

	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// NewSealer builds the Sealer named by cfg.Backend
func NewSealer(ctx context.Context, cfg *SealerConfig) (Sealer, error) {
	switch SealerType(cfg.Backend) {
	case SealerLocal, "":
		return NewLocalSealer(cfg.LocalMasterKey)
	case SealerAWSKMS:
		return NewAWSKMSSealer(ctx, cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case SealerVault:
		return NewVaultSealer(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unsupported sealer backend: %s (supported: %s, %s, %s)",
			cfg.Backend, SealerLocal, SealerAWSKMS, SealerVault)
	}
}

// LocalSealer seals with AES-256-GCM under a key derived from a master secret
type LocalSealer struct {
	aead cipher.AEAD
}

// NewLocalSealer derives the sealing key from masterKey with HKDF-SHA256
func NewLocalSealer(masterKey string) (*LocalSealer, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is required for local sealer")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte("multikey/local-sealer/v1")), key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocalSealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext
func (s *LocalSealer) Seal(_ context.Context, purpose string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(purpose)), nil
}

func (s *LocalSealer) Unseal(_ context.Context, purpose string, sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(purpose))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal: %w", err)
	}
	return plaintext, nil
}

func (s *LocalSealer) Backend() string {
	return string(SealerLocal)
}

// kmsAPI is the subset of the AWS KMS client the sealer calls
type kmsAPI interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSSealer seals with an AWS KMS symmetric key. The purpose travels as
// the KMS encryption context.
type AWSKMSSealer struct {
	keyID  string
	client kmsAPI
}

// NewAWSKMSSealer loads the default AWS credential chain for region
func NewAWSKMSSealer(ctx context.Context, keyID, region string) (*AWSKMSSealer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSSealer{keyID: keyID, client: kms.NewFromConfig(cfg)}, nil
}

func (s *AWSKMSSealer) Seal(ctx context.Context, purpose string, plaintext []byte) ([]byte, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         plaintext,
		EncryptionContext: map[string]string{"purpose": purpose},
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return out.CiphertextBlob, nil
}

func (s *AWSKMSSealer) Unseal(ctx context.Context, purpose string, sealed []byte) ([]byte, error) {
	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(s.keyID),
		CiphertextBlob:    sealed,
		EncryptionContext: map[string]string{"purpose": purpose},
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return out.Plaintext, nil
}

func (s *AWSKMSSealer) Backend() string {
	return string(SealerAWSKMS)
}

// VaultSealer seals through the Vault Transit engine
type VaultSealer struct {
	transitKey string
	client     *vault.Client
}

// NewVaultSealer creates a Transit-backed sealer
func NewVaultSealer(address, token, transitKey string) (*VaultSealer, error) {
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultSealer{transitKey: transitKey, client: client}, nil
}

func (s *VaultSealer) Seal(ctx context.Context, purpose string, plaintext []byte) ([]byte, error) {
	secret, err := s.client.Logical().WriteWithContext(ctx, "transit/encrypt/"+s.transitKey, map[string]interface{}{
		"plaintext":       base64.StdEncoding.EncodeToString(plaintext),
		"associated_data": base64.StdEncoding.EncodeToString([]byte(purpose)),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit encrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit encrypt: ciphertext not found in response")
	}
	return []byte(ciphertext), nil
}

func (s *VaultSealer) Unseal(ctx context.Context, purpose string, sealed []byte) ([]byte, error) {
	secret, err := s.client.Logical().WriteWithContext(ctx, "transit/decrypt/"+s.transitKey, map[string]interface{}{
		"ciphertext":      string(sealed),
		"associated_data": base64.StdEncoding.EncodeToString([]byte(purpose)),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit decrypt: plaintext not found in response")
	}
	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

func (s *VaultSealer) Backend() string {
	return string(SealerVault)
}

var (
	_ Sealer = (*LocalSealer)(nil)
	_ Sealer = (*AWSKMSSealer)(nil)
	_ Sealer = (*VaultSealer)(nil)
)
