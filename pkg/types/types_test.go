package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxStatusLattice(t *testing.T) {
	tests := []struct {
		status   TxStatus
		terminal bool
		finished bool
		failed   bool
	}{
		{TxStatusUnknown, false, false, false},
		{TxStatusPending, false, false, false},
		{TxStatusFinalized, false, false, false},
		{TxStatusExecuted, false, true, false},
		{TxStatusSealed, true, true, false},
		{TxStatusExpired, true, false, true},
		{TxStatusError, true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.finished, tt.status.IsExecuteFinished())
			assert.Equal(t, tt.failed, tt.status.IsFailed())
		})
	}

	assert.Less(t, TxStatusPending.Rank(), TxStatusExecuted.Rank())
	assert.Less(t, TxStatusExecuted.Rank(), TxStatusSealed.Rank())
	assert.Equal(t, TxStatusExpired.Rank(), TxStatusError.Rank())
}

func TestParseTxStatus(t *testing.T) {
	for st := TxStatusPending; st <= TxStatusError; st++ {
		assert.Equal(t, st, ParseTxStatus(st.String()))
	}
	assert.Equal(t, TxStatusUnknown, ParseTxStatus("bogus"))
}

func TestAccountHasStoredKey(t *testing.T) {
	assert.False(t, (&Account{}).HasStoredKey())
	assert.False(t, (&Account{Prefix: "  "}).HasStoredKey())
	assert.True(t, (&Account{Prefix: "alice-1a2b"}).HasStoredKey())
}

func TestAlgorithmNames(t *testing.T) {
	assert.Equal(t, "ECDSA_P256", SignatureAlgorithmECDSAP256.String())
	assert.Equal(t, "ECDSA_secp256k1", SignatureAlgorithmSecp256k1.String())
	assert.Equal(t, "SHA3_256", HashAlgorithmSHA3256.String())
	assert.Equal(t, "Google Drive", BackupTypeGoogleDrive.DisplayName())
}
