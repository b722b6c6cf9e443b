package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/multikey/pkg/types"
)

func TestAddRecoveryOffset(t *testing.T) {
	tests := []struct {
		name string
		last byte
		want byte
	}{
		{"recovery id 0", 0, 27},
		{"recovery id 1", 1, 28},
		{"just below wrap", 228, 255},
		{"exact wrap", 229, 0},
		{"wraps to 1", 230, 1},
		{"max byte", 255, 26},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := make([]byte, 65)
			raw[0] = 0xaa
			raw[64] = tt.last

			out := AddRecoveryOffset(raw)

			assert.Equal(t, tt.want, out[64])
			assert.Equal(t, byte((int(tt.last)+27)%256), out[64])
			assert.Equal(t, raw[:64], out[:64])
			assert.Equal(t, tt.last, raw[64], "input must not be mutated")
		})
	}
}

func TestAddRecoveryOffset_Empty(t *testing.T) {
	assert.Empty(t, AddRecoveryOffset(nil))
}

func TestSignSecp256k1(t *testing.T) {
	key, err := DeriveKey(testMnemonic, "", PrimaryPath)
	require.NoError(t, err)

	digest, err := Hash(types.HashAlgorithmSHA2256, WithTag(UserDomainTag, []byte("hello")))
	require.NoError(t, err)

	sig, err := SignSecp256k1(key, digest)
	require.NoError(t, err)
	assert.Len(t, sig, RawSignatureLength)
	assert.True(t, VerifySecp256k1(PublicKeySecp256k1(key), digest, sig))

	recoverable, err := SignSecp256k1Recoverable(key, digest)
	require.NoError(t, err)
	assert.Len(t, recoverable, 65)
	assert.LessOrEqual(t, recoverable[64], byte(1))

	_, err = SignSecp256k1(key, []byte("short"))
	assert.Error(t, err)
}

func TestSignP256(t *testing.T) {
	key, err := GenerateP256Key()
	require.NoError(t, err)

	pub, err := PublicKeyP256(&key.PublicKey)
	require.NoError(t, err)
	require.Len(t, pub, 64)

	digest, err := Hash(types.HashAlgorithmSHA3256, []byte("payload"))
	require.NoError(t, err)

	sig, err := SignP256(key, digest)
	require.NoError(t, err)
	assert.Len(t, sig, RawSignatureLength)
	assert.True(t, VerifyP256(pub, digest, sig))

	sig[0] ^= 0xff
	assert.False(t, VerifyP256(pub, digest, sig))
}

func TestP256KeyRoundTrip(t *testing.T) {
	key, err := GenerateP256Key()
	require.NoError(t, err)

	der, err := MarshalP256Key(key)
	require.NoError(t, err)

	parsed, err := ParseP256Key(der)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestHash(t *testing.T) {
	sha2, err := Hash(types.HashAlgorithmSHA2256, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hexString(sha2))

	sha3, err := Hash(types.HashAlgorithmSHA3256, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532", hexString(sha3))

	_, err = Hash(types.HashAlgorithmUnknown, []byte("abc"))
	assert.Error(t, err)
}

func TestPadDomainTag(t *testing.T) {
	tag, err := PadDomainTag("FLOW-V0.0-user")
	require.NoError(t, err)
	assert.Len(t, tag, DomainTagLength)
	assert.Equal(t, []byte("FLOW-V0.0-user"), tag[:14])
	assert.Equal(t, make([]byte, DomainTagLength-14), tag[14:])

	_, err = PadDomainTag("this tag is definitely longer than thirty two bytes")
	assert.Error(t, err)
}
