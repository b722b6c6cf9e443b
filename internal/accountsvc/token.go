package accountsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/lightningnetwork/lnd/clock"

	apperrors "github.com/better-wallet/multikey/pkg/errors"
)

// tokens are refreshed this long before they expire
const expirySkew = 30 * time.Second

// ErrNoIdentity is returned when the identity provider issued no token
var ErrNoIdentity = errors.New("no identity token")

// IdentityClaims are the claims read from an identity assertion. The
// assertion is verified by the account service, not here.
type IdentityClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// UID returns the user id of the assertion
func (c *IdentityClaims) UID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// TokenSource obtains identity assertions from the identity provider and
// caches them until shortly before expiry.
type TokenSource struct {
	endpoint string
	client   *retryablehttp.Client
	clock    clock.Clock

	mu          sync.Mutex
	token       string
	claims      *IdentityClaims
	customToken string
}

// NewTokenSource creates a token source for the identity endpoint
func NewTokenSource(endpoint string, client *retryablehttp.Client) *TokenSource {
	return &TokenSource{endpoint: endpoint, client: client, clock: clock.NewDefaultClock()}
}

// Token returns a valid identity assertion, fetching one when needed
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && !ts.expiringLocked() {
		return ts.token, nil
	}
	return ts.fetchLocked(ctx)
}

// Refresh discards the cached assertion and fetches a new one
func (ts *TokenSource) Refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.fetchLocked(ctx)
}

// UID returns the user id of the current assertion, refreshing once when
// it is blank.
func (ts *TokenSource) UID(ctx context.Context) (string, error) {
	if _, err := ts.Token(ctx); err != nil {
		return "", err
	}
	ts.mu.Lock()
	uid := ts.claims.UID()
	ts.mu.Unlock()
	if uid != "" {
		return uid, nil
	}

	if _, err := ts.Refresh(ctx); err != nil {
		return "", err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.claims.UID(), nil
}

// SignIn exchanges a custom token issued by the account service for an
// identity of that user.
func (ts *TokenSource) SignIn(ctx context.Context, customToken string) error {
	if customToken == "" {
		return fmt.Errorf("custom token is required")
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.customToken = customToken
	if _, err := ts.fetchLocked(ctx); err != nil {
		ts.customToken = ""
		return err
	}
	return nil
}

// SignOut forgets the identity
func (ts *TokenSource) SignOut() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token, ts.claims, ts.customToken = "", nil, ""
}

func (ts *TokenSource) expiringLocked() bool {
	if ts.claims == nil || ts.claims.ExpiresAt == nil {
		return false
	}
	return !ts.clock.Now().Add(expirySkew).Before(ts.claims.ExpiresAt.Time)
}

func (ts *TokenSource) fetchLocked(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"custom_token": ts.customToken})
	if err != nil {
		return "", err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", apperrors.NetworkFailure("identity token", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.NetworkFailure("identity token", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NetworkFailure("identity token", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out struct {
		IDToken string `json:"id_token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperrors.NetworkFailure("identity token", err)
	}
	if out.IDToken == "" {
		return "", apperrors.NetworkFailure("identity token", ErrNoIdentity)
	}

	claims := &IdentityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(out.IDToken, claims); err != nil {
		return "", apperrors.NetworkFailure("identity token", fmt.Errorf("malformed assertion: %w", err))
	}

	ts.token = out.IDToken
	ts.claims = claims
	return ts.token, nil
}
