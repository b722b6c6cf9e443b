package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewMnemonic(t *testing.T) {
	m1, err := NewMnemonic()
	require.NoError(t, err)
	m2, err := NewMnemonic()
	require.NoError(t, err)

	assert.Len(t, strings.Fields(m1), 12)
	assert.NoError(t, ValidateMnemonic(m1))
	assert.NotEqual(t, m1, m2)
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		wantErr  bool
	}{
		{"valid", testMnemonic, false},
		{"extra whitespace and case", "  Abandon abandon abandon abandon abandon abandon\tabandon abandon abandon abandon abandon ABOUT ", false},
		{"bad checksum", strings.Replace(testMnemonic, "about", "abandon", 1), true},
		{"unknown word", strings.Replace(testMnemonic, "about", "bitcoin", 1), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMnemonic(tt.mnemonic)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeriveKey_KnownVector(t *testing.T) {
	key, err := DeriveKey(testMnemonic, "", "m/44'/60'/0'/0/0")
	require.NoError(t, err)

	assert.Equal(t, "0x9858effd232b4033e47d90003d41ec34ecaeda94", EVMAddress(key))
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a, err := DeriveKey(testMnemonic, "", EVMPath)
	require.NoError(t, err)
	b, err := DeriveKey(testMnemonic, "", EVMPath)
	require.NoError(t, err)

	addrA := EVMAddress(a)
	assert.Equal(t, addrA, EVMAddress(b))
	assert.Equal(t, strings.ToLower(addrA), addrA)
	assert.Len(t, addrA, 42)
}

func TestDeriveKey_PathsAreDistinct(t *testing.T) {
	primary, err := DeriveKey(testMnemonic, "", PrimaryPath)
	require.NoError(t, err)
	evm, err := DeriveKey(testMnemonic, "", EVMPath)
	require.NoError(t, err)

	assert.NotEqual(t, PublicKeySecp256k1(primary), PublicKeySecp256k1(evm))
}

func TestDeriveKey_Errors(t *testing.T) {
	_, err := DeriveKey("not a mnemonic", "", PrimaryPath)
	assert.Error(t, err)

	_, err = DeriveKey(testMnemonic, "", "m/not/a/path")
	assert.Error(t, err)
}
