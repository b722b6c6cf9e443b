package flow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

const blockID = "7bc42fe85d32ca513769a74f97f7e1a7bad6c9407f0d934c2aa645ef9cf613c7"

func newAccessServer(t *testing.T, submitted *transactionJSON) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/accounts/01cf0e2f2f715450", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "keys", r.URL.Query().Get("expand"))
		json.NewEncoder(w).Encode(map[string]any{
			"address": "01cf0e2f2f715450",
			"balance": "100000",
			"keys": []map[string]any{
				{"index": "0", "public_key": "0xAAAA", "signing_algorithm": "ECDSA_P256", "hashing_algorithm": "SHA3_256", "sequence_number": "4", "weight": "1000", "revoked": true},
				{"index": "1", "public_key": "0xAAAA", "signing_algorithm": "ECDSA_secp256k1", "hashing_algorithm": "SHA2_256", "sequence_number": "9", "weight": "500", "revoked": false},
			},
		})
	})
	mux.HandleFunc("GET /v1/blocks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sealed", r.URL.Query().Get("height"))
		json.NewEncoder(w).Encode([]map[string]any{{"header": map[string]any{"id": blockID, "height": "10"}}})
	})
	mux.HandleFunc("POST /v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(submitted))
		json.NewEncoder(w).Encode(map[string]any{"id": "tx-1"})
	})
	mux.HandleFunc("GET /v1/transaction_results/tx-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "Sealed", "status_code": 0})
	})
	mux.HandleFunc("GET /v1/transaction_results/tx-bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func TestClient_RoundTrip(t *testing.T) {
	var submitted transactionJSON
	server := newAccessServer(t, &submitted)
	defer server.Close()

	c, err := NewClient(ClientConfig{BaseURL: server.URL})
	require.NoError(t, err)
	ctx := context.Background()

	addr, _ := HexToAddress("01cf0e2f2f715450")
	acct, err := c.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Len(t, acct.Keys, 2)
	assert.Equal(t, types.SignatureAlgorithmECDSAP256, acct.Keys[0].SigAlgo)
	assert.Equal(t, types.HashAlgorithmSHA3256, acct.Keys[0].HashAlgo)

	key, ok := acct.KeyFor("aaaa")
	require.True(t, ok)
	assert.Equal(t, uint32(1), key.Index)
	assert.Equal(t, uint64(9), key.SequenceNumber)

	ref, err := c.LatestBlockID(ctx)
	require.NoError(t, err)
	assert.Equal(t, blockID, ref.Hex())

	tx := &Transaction{
		Script:           []byte("transaction {}"),
		Arguments:        [][]byte{[]byte("{}")},
		ReferenceBlockID: ref,
		GasLimit:         DefaultGasLimit,
		ProposalKey:      ProposalKey{Address: addr, KeyIndex: 1, SequenceNumber: 9},
		Payer:            addr,
		Authorizers:      []Address{addr},
	}
	tx.AddEnvelopeSignature(addr, 1, []byte{0xde, 0xad})

	id, err := c.SendTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("transaction {}")), submitted.Script)
	assert.Equal(t, "9999", submitted.GasLimit)
	require.Len(t, submitted.EnvelopeSignatures, 1)
	assert.Equal(t, "3q0=", submitted.EnvelopeSignatures[0].Signature)

	res, err := c.TransactionStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusSealed, res.Status)

	_, err = c.TransactionStatus(ctx, "tx-bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNetworkFailure))
	assert.True(t, strings.Contains(err.Error(), "404"))
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		status string
		errMsg string
		want   types.TxStatus
	}{
		{"Pending", "", types.TxStatusPending},
		{"Finalized", "", types.TxStatusFinalized},
		{"Executed", "", types.TxStatusExecuted},
		{"Sealed", "", types.TxStatusSealed},
		{"Expired", "", types.TxStatusExpired},
		{"Sealed", "cadence panic", types.TxStatusError},
		{"Finalized", "cadence panic", types.TxStatusFinalized},
		{"Bogus", "", types.TxStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status+tt.errMsg, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStatus(tt.status, tt.errMsg))
		})
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}
