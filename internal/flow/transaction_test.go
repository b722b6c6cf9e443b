package flow

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/multikey/internal/crypto"
)

func testTransaction(t *testing.T) *Transaction {
	t.Helper()
	addr, err := HexToAddress("0x01cf0e2f2f715450")
	require.NoError(t, err)
	return &Transaction{
		Script:      []byte("transaction {}"),
		Arguments:   [][]byte{[]byte(`{"type":"Int","value":"1"}`)},
		GasLimit:    DefaultGasLimit,
		ProposalKey: ProposalKey{Address: addr, KeyIndex: 2, SequenceNumber: 7},
		Payer:       addr,
		Authorizers: []Address{addr},
	}
}

func TestHexToAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0x01cf0e2f2f715450", "0x01cf0e2f2f715450", false},
		{"01CF0E2F2F715450", "0x01cf0e2f2f715450", false},
		{"0x1", "0x0000000000000001", false},
		{"0x0102030405060708090a", "", true},
		{"0xzz", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := HexToAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Hex())
		})
	}
}

func TestEnvelopeSigningMessage(t *testing.T) {
	tx := testTransaction(t)

	msg, err := tx.EnvelopeSigningMessage()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(msg, crypto.TransactionDomainTag))

	again, err := tx.EnvelopeSigningMessage()
	require.NoError(t, err)
	assert.Equal(t, msg, again)

	// the envelope is a two element list whose first element is the payload
	var decoded []rlp.RawValue
	require.NoError(t, rlp.DecodeBytes(msg[crypto.DomainTagLength:], &decoded))
	require.Len(t, decoded, 2)
	payload, err := tx.PayloadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, []byte(decoded[0]))
}

func TestEnvelopeMessageChangesWithFields(t *testing.T) {
	tx := testTransaction(t)
	base, err := tx.EnvelopeMessage()
	require.NoError(t, err)

	tx.ProposalKey.SequenceNumber++
	changed, err := tx.EnvelopeMessage()
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestEnvelopeIgnoresEnvelopeSignatures(t *testing.T) {
	tx := testTransaction(t)
	before, err := tx.EnvelopeMessage()
	require.NoError(t, err)

	tx.AddEnvelopeSignature(tx.Payer, 2, []byte{1, 2, 3})
	after, err := tx.EnvelopeMessage()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.Len(t, tx.EnvelopeSignatures, 1)
	assert.Equal(t, 0, tx.EnvelopeSignatures[0].SignerIndex)
}

func TestHexToID(t *testing.T) {
	_, err := HexToID("abcd")
	assert.Error(t, err)

	id, err := HexToID("0x" + string(bytes.Repeat([]byte("ab"), 32)))
	require.NoError(t, err)
	assert.Equal(t, string(bytes.Repeat([]byte("ab"), 32)), id.Hex())
}
