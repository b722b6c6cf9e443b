package types

import "strings"

// SignatureAlgorithm identifies the curve of an account key. Values match the
// on-chain account key encoding.
type SignatureAlgorithm int

const (
	SignatureAlgorithmUnknown   SignatureAlgorithm = 0
	SignatureAlgorithmECDSAP256 SignatureAlgorithm = 2
	SignatureAlgorithmSecp256k1 SignatureAlgorithm = 3
)

func (a SignatureAlgorithm) String() string {
	switch a {
	case SignatureAlgorithmECDSAP256:
		return "ECDSA_P256"
	case SignatureAlgorithmSecp256k1:
		return "ECDSA_secp256k1"
	default:
		return "UNKNOWN"
	}
}

// HashAlgorithm identifies the digest applied before signing.
type HashAlgorithm int

const (
	HashAlgorithmUnknown HashAlgorithm = 0
	HashAlgorithmSHA2256 HashAlgorithm = 1
	HashAlgorithmSHA3256 HashAlgorithm = 3
)

func (h HashAlgorithm) String() string {
	switch h {
	case HashAlgorithmSHA2256:
		return "SHA2_256"
	case HashAlgorithmSHA3256:
		return "SHA3_256"
	default:
		return "UNKNOWN"
	}
}

// Key weights, in basis units. An account action is fully authorized when the
// combined weight of its signers reaches FullWeight.
const (
	FullWeight    = 1000
	PartialWeight = 500
)

// MinRecoveryShares is the minimum number of backups needed to restore.
const MinRecoveryShares = 2

// Account is the identity of one wallet profile on this device.
type Account struct {
	// UserID is the account service user id.
	UserID   string `json:"user_id"`
	Username string `json:"username"`

	// Address is the primary on-chain address of the account.
	Address string `json:"address"`

	// Prefix references a key in the secure key store. Blank means the
	// account signs with a seed-derived wallet.
	Prefix string `json:"prefix,omitempty"`

	// WalletID references the persisted wallet-store entry of a
	// seed-derived account.
	WalletID string `json:"wallet_id,omitempty"`

	IsActive bool `json:"is_active"`

	// Local session flags set after a successful restore login.
	Registered         bool `json:"registered"`
	MultiBackupCreated bool `json:"multi_backup_created"`
}

// HasStoredKey reports whether the account signs through the key store.
func (a *Account) HasStoredKey() bool {
	return strings.TrimSpace(a.Prefix) != ""
}

// BackupType is a multi-backup destination.
type BackupType int

const (
	BackupTypeGoogleDrive BackupType = 0
	BackupTypePassphrase  BackupType = 1
	BackupTypeVault       BackupType = 2
	BackupTypeFile        BackupType = 3
)

// DisplayName returns the name reported to the account service.
func (b BackupType) DisplayName() string {
	switch b {
	case BackupTypeGoogleDrive:
		return "Google Drive"
	case BackupTypePassphrase:
		return "Passphrase"
	case BackupTypeVault:
		return "Vault"
	case BackupTypeFile:
		return "File"
	default:
		return "Unknown"
	}
}
