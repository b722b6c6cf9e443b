package flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/better-wallet/multikey/internal/crypto"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// Chain is the submit/poll boundary of the chain
type Chain interface {
	GetAccount(ctx context.Context, addr Address) (*Account, error)
	LatestBlockID(ctx context.Context) (Identifier, error)
	SendTransaction(ctx context.Context, tx *Transaction) (string, error)
	TransactionStatus(ctx context.Context, id string) (*TransactionResult, error)
}

// AccountKey is one on-chain key of an account
type AccountKey struct {
	Index          uint32
	PublicKey      string // lowercase hex, no prefix
	SigAlgo        types.SignatureAlgorithm
	HashAlgo       types.HashAlgorithm
	Weight         int
	SequenceNumber uint64
	Revoked        bool
}

// Account is an on-chain account with its keys
type Account struct {
	Address Address
	Balance string
	Keys    []AccountKey
}

// KeyFor returns the first non-revoked key with publicKey
func (a *Account) KeyFor(publicKey string) (AccountKey, bool) {
	want := crypto.HexKey(publicKey)
	for _, k := range a.Keys {
		if !k.Revoked && k.PublicKey == want {
			return k, true
		}
	}
	return AccountKey{}, false
}

// TransactionResult is the polled state of a transaction
type TransactionResult struct {
	Status       types.TxStatus
	ErrorMessage string
}

// ClientConfig configures the access node client
type ClientConfig struct {
	BaseURL  string
	RetryMax int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Client talks to an access node over its REST API. Reads retry with
// backoff; submissions are sent once so a transaction is never duplicated.
type Client struct {
	baseURL *url.URL
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
	log     *slog.Logger
}

// NewClient creates an access node client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("access node URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid access node URL: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "flow_access")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: base,
		reads:   newRetryClient(log, cfg.RetryMax, timeout),
		writes:  newRetryClient(log, 0, timeout),
		log:     log,
	}, nil
}

func newRetryClient(log *slog.Logger, retryMax int, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = log
	return c
}

type accountKeyJSON struct {
	Index          string `json:"index"`
	PublicKey      string `json:"public_key"`
	SigningAlgo    string `json:"signing_algorithm"`
	HashingAlgo    string `json:"hashing_algorithm"`
	SequenceNumber string `json:"sequence_number"`
	Weight         string `json:"weight"`
	Revoked        bool   `json:"revoked"`
}

type accountJSON struct {
	Address string           `json:"address"`
	Balance string           `json:"balance"`
	Keys    []accountKeyJSON `json:"keys"`
}

// GetAccount fetches addr with its keys
func (c *Client) GetAccount(ctx context.Context, addr Address) (*Account, error) {
	var raw accountJSON
	path := "/v1/accounts/" + hex.EncodeToString(addr[:])
	if err := c.get(ctx, path, url.Values{"expand": {"keys"}}, &raw); err != nil {
		return nil, err
	}

	acct := &Account{Address: addr, Balance: raw.Balance}
	for _, k := range raw.Keys {
		key, err := k.decode()
		if err != nil {
			return nil, apperrors.NetworkFailure("get account", err)
		}
		acct.Keys = append(acct.Keys, key)
	}
	return acct, nil
}

func (k accountKeyJSON) decode() (AccountKey, error) {
	index, err := strconv.ParseUint(k.Index, 10, 32)
	if err != nil {
		return AccountKey{}, fmt.Errorf("key index %q: %w", k.Index, err)
	}
	seq, err := strconv.ParseUint(k.SequenceNumber, 10, 64)
	if err != nil {
		return AccountKey{}, fmt.Errorf("sequence number %q: %w", k.SequenceNumber, err)
	}
	weight, err := strconv.Atoi(k.Weight)
	if err != nil {
		return AccountKey{}, fmt.Errorf("weight %q: %w", k.Weight, err)
	}
	return AccountKey{
		Index:          uint32(index),
		PublicKey:      crypto.HexKey(k.PublicKey),
		SigAlgo:        parseSignAlgo(k.SigningAlgo),
		HashAlgo:       parseHashAlgo(k.HashingAlgo),
		Weight:         weight,
		SequenceNumber: seq,
		Revoked:        k.Revoked,
	}, nil
}

func parseSignAlgo(s string) types.SignatureAlgorithm {
	for _, a := range []types.SignatureAlgorithm{types.SignatureAlgorithmECDSAP256, types.SignatureAlgorithmSecp256k1} {
		if a.String() == s {
			return a
		}
	}
	return types.SignatureAlgorithmUnknown
}

func parseHashAlgo(s string) types.HashAlgorithm {
	for _, h := range []types.HashAlgorithm{types.HashAlgorithmSHA2256, types.HashAlgorithmSHA3256} {
		if h.String() == s {
			return h
		}
	}
	return types.HashAlgorithmUnknown
}

type blockJSON struct {
	Header struct {
		ID     string `json:"id"`
		Height string `json:"height"`
	} `json:"header"`
}

// LatestBlockID returns the id of the latest sealed block
func (c *Client) LatestBlockID(ctx context.Context) (Identifier, error) {
	var blocks []blockJSON
	if err := c.get(ctx, "/v1/blocks", url.Values{"height": {"sealed"}}, &blocks); err != nil {
		return Identifier{}, err
	}
	if len(blocks) == 0 {
		return Identifier{}, apperrors.NetworkFailure("latest block", fmt.Errorf("empty response"))
	}
	id, err := HexToID(blocks[0].Header.ID)
	if err != nil {
		return Identifier{}, apperrors.NetworkFailure("latest block", err)
	}
	return id, nil
}

type proposalKeyJSON struct {
	Address        string `json:"address"`
	KeyIndex       string `json:"key_index"`
	SequenceNumber string `json:"sequence_number"`
}

type signatureJSON struct {
	Address   string `json:"address"`
	KeyIndex  string `json:"key_index"`
	Signature string `json:"signature"`
}

type transactionJSON struct {
	Script             string          `json:"script"`
	Arguments          []string        `json:"arguments"`
	ReferenceBlockID   string          `json:"reference_block_id"`
	GasLimit           string          `json:"gas_limit"`
	Payer              string          `json:"payer"`
	ProposalKey        proposalKeyJSON `json:"proposal_key"`
	Authorizers        []string        `json:"authorizers"`
	PayloadSignatures  []signatureJSON `json:"payload_signatures"`
	EnvelopeSignatures []signatureJSON `json:"envelope_signatures"`
}

func encodeSignatures(sigs []Signature) []signatureJSON {
	out := make([]signatureJSON, len(sigs))
	for i, s := range sigs {
		out[i] = signatureJSON{
			Address:   hex.EncodeToString(s.Address[:]),
			KeyIndex:  strconv.FormatUint(uint64(s.KeyIndex), 10),
			Signature: base64.StdEncoding.EncodeToString(s.Signature),
		}
	}
	return out
}

// SendTransaction submits a signed transaction and returns its id
func (c *Client) SendTransaction(ctx context.Context, tx *Transaction) (string, error) {
	body := transactionJSON{
		Script:           base64.StdEncoding.EncodeToString(tx.Script),
		ReferenceBlockID: tx.ReferenceBlockID.Hex(),
		GasLimit:         strconv.FormatUint(tx.GasLimit, 10),
		Payer:            hex.EncodeToString(tx.Payer[:]),
		ProposalKey: proposalKeyJSON{
			Address:        hex.EncodeToString(tx.ProposalKey.Address[:]),
			KeyIndex:       strconv.FormatUint(uint64(tx.ProposalKey.KeyIndex), 10),
			SequenceNumber: strconv.FormatUint(tx.ProposalKey.SequenceNumber, 10),
		},
		Arguments:          make([]string, len(tx.Arguments)),
		Authorizers:        make([]string, len(tx.Authorizers)),
		PayloadSignatures:  encodeSignatures(tx.PayloadSignatures),
		EnvelopeSignatures: encodeSignatures(tx.EnvelopeSignatures),
	}
	for i, a := range tx.Arguments {
		body.Arguments[i] = base64.StdEncoding.EncodeToString(a)
	}
	for i, a := range tx.Authorizers {
		body.Authorizers[i] = hex.EncodeToString(a[:])
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/transactions", nil), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res struct {
		ID string `json:"id"`
	}
	if err := c.do(c.writes, req, "send transaction", &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", apperrors.NetworkFailure("send transaction", fmt.Errorf("no transaction id returned"))
	}
	c.log.Info("transaction submitted", "tx_id", res.ID, "signatures", len(tx.EnvelopeSignatures))
	return res.ID, nil
}

// TransactionStatus polls the result of a transaction
func (c *Client) TransactionStatus(ctx context.Context, id string) (*TransactionResult, error) {
	var raw struct {
		Status       string `json:"status"`
		StatusCode   int    `json:"status_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := c.get(ctx, "/v1/transaction_results/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return &TransactionResult{
		Status:       ParseStatus(raw.Status, raw.ErrorMessage),
		ErrorMessage: raw.ErrorMessage,
	}, nil
}

// ParseStatus maps an access node status name onto the status lattice. An
// executed transaction carrying an error is an ERROR.
func ParseStatus(status, errorMessage string) types.TxStatus {
	var st types.TxStatus
	switch strings.ToLower(status) {
	case "pending", "unknown", "":
		st = types.TxStatusPending
	case "finalized":
		st = types.TxStatusFinalized
	case "executed":
		st = types.TxStatusExecuted
	case "sealed":
		st = types.TxStatusSealed
	case "expired":
		return types.TxStatusExpired
	default:
		return types.TxStatusUnknown
	}
	if errorMessage != "" && st.Rank() >= types.TxStatusExecuted.Rank() {
		return types.TxStatusError
	}
	return st
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url(path, query), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(c.reads, req, "GET "+path, out)
}

func (c *Client) do(client *retryablehttp.Client, req *retryablehttp.Request, call string, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NetworkFailure(call, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperrors.NetworkFailure(call, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NetworkFailure(call, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NetworkFailure(call, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
