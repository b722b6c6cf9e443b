package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/multikey/internal/backupstore"
	"github.com/better-wallet/multikey/internal/composer"
	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/flow/flowtest"
	"github.com/better-wallet/multikey/internal/keyexec"
	"github.com/better-wallet/multikey/internal/metrics"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/storage"
	"github.com/better-wallet/multikey/internal/txwatch"
	"github.com/better-wallet/multikey/pkg/types"
)

const (
	shareOne     = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	shareTwo     = "legal winner thank year wave sausage worth useful legal winner thank yellow"
	deviceSeed   = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong"
	mainSeed     = "letter advice cage absurd amount doctor acoustic avoid letter advice cage above"
	targetHex    = "0x01cf0e2f2f715450"
	testUserID   = "uid-1"
	customToken  = "custom-token-1"
	testUsername = "alice"
)

var testStart = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

// fakeService records every account service call
type fakeService struct {
	mu sync.Mutex

	signReqs  []types.AccountSignRequest
	syncReqs  []types.AccountSyncRequest
	loginReqs []types.LoginRequest

	signErr  error
	syncErr  error
	loginErr error
}

func (f *fakeService) SignAccount(_ context.Context, req types.AccountSignRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signReqs = append(f.signReqs, req)
	return f.signErr
}

func (f *fakeService) SyncAccount(_ context.Context, req types.AccountSyncRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncReqs = append(f.syncReqs, req)
	return f.syncErr
}

func (f *fakeService) Login(_ context.Context, req types.LoginRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginReqs = append(f.loginReqs, req)
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return customToken, nil
}

func (f *fakeService) UserInfo(context.Context) (*types.UserInfo, error) {
	return &types.UserInfo{UserID: testUserID, Username: testUsername}, nil
}

func (f *fakeService) calls() (sign, sync, login int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signReqs), len(f.syncReqs), len(f.loginReqs)
}

// fakeIdentity issues numbered assertions
type fakeIdentity struct {
	mu       sync.Mutex
	issued   int
	uid      string
	signedIn string
}

func (f *fakeIdentity) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return fmt.Sprintf("assertion-%d", f.issued), nil
}

func (f *fakeIdentity) UID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uid, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedIn = token
	return nil
}

type failingBackend struct{ backupstore.Backend }

func (failingBackend) Store(context.Context, string, []byte) error {
	return backupstore.ErrBackendUnavailable
}

type harness struct {
	t *testing.T

	chain    *flowtest.Chain
	target   flow.Address
	store    *storage.Memory
	wallets  *provider.Wallets
	manager  *provider.Manager
	ledger   *txwatch.Ledger
	watcher  *txwatch.Watcher
	ticker   *ticker.Force
	clock    *clock.TestClock
	service  *fakeService
	identity *fakeIdentity
	backend  backupstore.Backend
	uploader *backupstore.Uploader

	device   *provider.Wallet
	shareIdx []uint32
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sealer, err := keyexec.NewLocalSealer("test-master-key-32-bytes-long!!")
	require.NoError(t, err)
	target, err := flow.HexToAddress(targetHex)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		chain:    flowtest.NewChain(),
		target:   target,
		store:    storage.NewMemory(),
		ledger:   txwatch.NewLedger(nil),
		ticker:   ticker.NewForce(time.Hour),
		clock:    clock.NewTestClock(testStart),
		service:  &fakeService{},
		identity: &fakeIdentity{uid: testUserID},
	}
	h.wallets = provider.NewWallets(h.store, sealer)
	h.manager = provider.NewManager(h.wallets, keyexec.NewKeyStore(h.store, sealer), h.store)

	h.watcher = txwatch.New(txwatch.Config{
		Chain:   h.chain,
		Ledger:  h.ledger,
		Timeout: time.Minute,
		Ticker:  h.ticker,
		Clock:   h.clock,
	})
	require.NoError(t, h.watcher.Start())
	t.Cleanup(func() { h.watcher.Stop() })

	h.backend, err = backupstore.NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)
	h.uploader = backupstore.NewUploader(h.backend, sealer, nil)

	// Both backup shares hold partial-weight keys on the account. The
	// device key is new and not on the account.
	for _, mnemonic := range []string{shareOne, shareTwo} {
		idx := h.chain.AddKey(target, provide(t, mnemonic, types.PartialWeight), types.PartialWeight)
		h.shareIdx = append(h.shareIdx, idx)
	}
	h.device, err = provider.NewWallet(deviceSeed)
	require.NoError(t, err)

	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Composer: composer.New(composer.Config{Chain: h.chain, Network: "testnet"}),
		Watcher:  h.watcher,
		Ledger:   h.ledger,
		Accounts: h.manager,
		Service:  h.service,
		Identity: h.identity,
		Uploader: h.uploader,
		NewDeviceWallet: func(context.Context) (*provider.Wallet, error) {
			return h.device, nil
		},
		Device:  types.DeviceInfo{DeviceID: "device-1", Name: "test"},
		Clock:   h.clock,
		Metrics: metrics.New(),
	}
}

// tick polls once and waits for the poll to complete
func (h *harness) tick() {
	h.ticker.Force <- time.Now()
	h.watcher.Watching()
}

func provide(t *testing.T, mnemonic string, weight int) provider.CryptoProvider {
	t.Helper()
	w, err := provider.NewWallet(mnemonic)
	require.NoError(t, err)
	p, err := w.Provider(weight)
	require.NoError(t, err)
	return p
}

// waitState reads sub until it reports want. Any other terminal state
// fails the test.
func waitState(t *testing.T, sub *StateSubscription, want string) StateChange {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case item := <-sub.Updates():
			change := item.(StateChange)
			if change.State == want {
				return change
			}
			if change.Terminal {
				t.Fatalf("reached %s (err %v), want %s", change.State, change.Err, want)
			}
		case <-timeout:
			t.Fatalf("state %s not reached", want)
			return StateChange{}
		}
	}
}

func mustSealer(t *testing.T) keyexec.Sealer {
	t.Helper()
	sealer, err := keyexec.NewLocalSealer("test-master-key-32-bytes-long!!")
	require.NoError(t, err)
	return sealer
}
