// Package accountsvc is the client of the external account service: key
// registration, login and account synchronisation.
package accountsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// Config configures a Client
type Config struct {
	BaseURL     string
	IdentityURL string
	RetryMax    int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Client calls the account service. Every call fails unless both the HTTP
// status and the body status are 200.
type Client struct {
	baseURL *url.URL
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
	tokens  *TokenSource
	log     *slog.Logger
}

type statusBody interface {
	OK() bool
	Describe() string
}

// New creates an account service client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("account service URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid account service URL: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "accountsvc")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	reads := newRetryClient(log, cfg.RetryMax, timeout)
	c := &Client{
		baseURL: base,
		reads:   reads,
		writes:  newRetryClient(log, 0, timeout),
		log:     log,
	}
	if cfg.IdentityURL != "" {
		c.tokens = NewTokenSource(cfg.IdentityURL, reads)
	}
	return c, nil
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

// Tokens returns the identity token source, nil when none is configured
func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

// Login authenticates with a registered key and returns the custom token
func (c *Client) Login(ctx context.Context, req types.LoginRequest) (string, error) {
	var resp types.LoginResponse
	if err := c.call(ctx, c.writes, http.MethodPost, "/v3/login", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Data == nil || resp.Data.CustomToken == "" {
		return "", apperrors.NetworkFailure("login", fmt.Errorf("no custom token returned"))
	}
	return resp.Data.CustomToken, nil
}

// SyncAccount registers a newly added key with the account service
func (c *Client) SyncAccount(ctx context.Context, req types.AccountSyncRequest) error {
	var resp types.CommonResponse
	return c.call(ctx, c.writes, http.MethodPost, "/v3/sync", nil, req, &resp)
}

// SignAccount joins a new device key with signatures of existing keys
func (c *Client) SignAccount(ctx context.Context, req types.AccountSignRequest) error {
	var resp types.CommonResponse
	return c.call(ctx, c.writes, http.MethodPost, "/v3/signed", nil, req, &resp)
}

// UserInfo returns the profile of the signed in user
func (c *Client) UserInfo(ctx context.Context) (*types.UserInfo, error) {
	var resp types.UserInfoResponse
	if err := c.call(ctx, c.reads, http.MethodGet, "/v1/user/info", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, apperrors.NetworkFailure("user info", fmt.Errorf("empty profile"))
	}
	return resp.Data, nil
}

// KeyDevices lists the account keys with the device or backup holding each
func (c *Client) KeyDevices(ctx context.Context) ([]types.KeyDeviceInfo, error) {
	var resp types.KeyDeviceInfoResponse
	if err := c.call(ctx, c.reads, http.MethodGet, "/v1/user/keys", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// DeviceInfo lists the devices registered for the user
func (c *Client) DeviceInfo(ctx context.Context) ([]types.DeviceInfo, error) {
	var resp types.DeviceListResponse
	if err := c.call(ctx, c.reads, http.MethodGet, "/v1/user/device", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// EVMAddress resolves the EVM sub-account linked to the signed in user
func (c *Client) EVMAddress(ctx context.Context, network string) (*types.EVMAddress, error) {
	var resp types.EVMAddressResponse
	q := url.Values{"network": {network}}
	if err := c.call(ctx, c.reads, http.MethodGet, "/v1/user/evm", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) call(ctx context.Context, client *retryablehttp.Client, method, path string, query url.Values, in any, out statusBody) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NetworkFailure(path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperrors.NetworkFailure(path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NetworkFailure(path, fmt.Errorf("http status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NetworkFailure(path, fmt.Errorf("decode response: %w", err))
	}
	if !out.OK() {
		c.log.Warn("account service rejected request", "path", path, "status", out.Describe())
		return apperrors.NetworkFailure(path, fmt.Errorf("%s", out.Describe()))
	}
	return nil
}
