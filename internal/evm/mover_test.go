package evm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/multikey/internal/composer"
	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/flow/flowtest"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/txwatch"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

const moverAddress = "0x01cf0e2f2f715450"

type staticSigners struct {
	signer provider.CryptoProvider
	acct   *types.Account
	err    error
}

func (s staticSigners) Current(context.Context) (provider.CryptoProvider, error) {
	return s.signer, s.err
}

func (s staticSigners) ActiveAccount(context.Context) (*types.Account, error) {
	return s.acct, s.err
}

type moverHarness struct {
	chain   *flowtest.Chain
	ticker  *ticker.Force
	watcher *txwatch.Watcher
	ledger  *txwatch.Ledger
	mover   *Mover
}

// newMoverHarness registers the main key on the chain fake unless signers
// is given
func newMoverHarness(t *testing.T, signers Signers) *moverHarness {
	t.Helper()

	h := &moverHarness{
		chain:  flowtest.NewChain(),
		ticker: ticker.NewForce(time.Hour),
		ledger: txwatch.NewLedger(nil),
	}
	if signers == nil {
		signers = mainSigners(t, h.chain)
	}

	h.watcher = txwatch.New(txwatch.Config{
		Chain:   h.chain,
		Ledger:  h.ledger,
		Timeout: time.Minute,
		Ticker:  h.ticker,
		Clock:   clock.NewTestClock(time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, h.watcher.Start())
	t.Cleanup(func() { h.watcher.Stop() })

	h.mover = NewMover(MoverConfig{
		Composer: composer.New(composer.Config{Chain: h.chain, Network: "testnet"}),
		Watcher:  h.watcher,
		Ledger:   h.ledger,
		Signers:  signers,
	})
	return h
}

func mainSigners(t *testing.T, chain *flowtest.Chain) staticSigners {
	t.Helper()
	w, err := provider.NewWallet(testMnemonic)
	require.NoError(t, err)
	p, err := w.Provider(types.FullWeight)
	require.NoError(t, err)
	addr, err := flow.HexToAddress(moverAddress)
	require.NoError(t, err)
	chain.AddKey(addr, p, types.FullWeight)
	return staticSigners{signer: p, acct: &types.Account{Address: moverAddress}}
}

type moveResult struct {
	txID string
	err  error
}

// drive ticks the watcher until the move returns
func (h *moverHarness) drive(t *testing.T, move func() (string, error)) moveResult {
	t.Helper()
	done := make(chan moveResult, 1)
	go func() {
		id, err := move()
		done <- moveResult{txID: id, err: err}
	}()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-done:
			return r
		case h.ticker.Force <- time.Now():
			h.watcher.Watching()
		case <-timeout:
			t.Fatal("move did not finish")
			return moveResult{}
		}
	}
}

func TestMover_FundWaitsForExecution(t *testing.T) {
	h := newMoverHarness(t, nil)
	want := h.chain.NextID()
	h.chain.Script(want, types.TxStatusPending, types.TxStatusFinalized, types.TxStatusExecuted)

	res := h.drive(t, func() (string, error) { return h.mover.Fund(context.Background(), "1.5") })
	require.NoError(t, res.err)
	assert.Equal(t, want, res.txID)

	sent := h.chain.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Arguments, 1)
	assert.Contains(t, string(sent[0].Arguments[0]), "1.50000000")

	rec, ok := h.ledger.Get(res.txID)
	require.True(t, ok)
	assert.Equal(t, types.TxTypeFundEVM, rec.Type)
	assert.Equal(t, types.TxStatusExecuted, rec.Status)
	assert.False(t, rec.Time.IsZero())
	assert.Equal(t, 0, h.watcher.Watching())
}

func TestMover_WithdrawChainFailure(t *testing.T) {
	h := newMoverHarness(t, nil)
	h.chain.Script(h.chain.NextID(), types.TxStatusPending, types.TxStatusExpired)

	res := h.drive(t, func() (string, error) { return h.mover.Withdraw(context.Background(), "2") })
	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, apperrors.ErrChainTerminalFailure))
	assert.NotEmpty(t, res.txID)

	rec, ok := h.ledger.Get(res.txID)
	require.True(t, ok)
	assert.Equal(t, types.TxTypeWithdrawEVM, rec.Type)
	assert.Equal(t, types.TxStatusExpired, rec.Status)
}

func TestMover_InvalidAmount(t *testing.T) {
	h := newMoverHarness(t, nil)

	for _, amount := range []string{"-1", "abc", "1.123456789"} {
		_, err := h.mover.Fund(context.Background(), amount)
		require.Error(t, err, amount)
		assert.Equal(t, apperrors.ErrCodeBadRequest, apperrors.Code(err), amount)
	}
	assert.Empty(t, h.chain.Sent())
}

func TestMover_NoActiveAccount(t *testing.T) {
	h := newMoverHarness(t, staticSigners{err: errors.New("no active account")})

	_, err := h.mover.Fund(context.Background(), "1")
	require.Error(t, err)
	assert.Empty(t, h.chain.Sent())
}

func TestMover_ContextCancelled(t *testing.T) {
	h := newMoverHarness(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	id, err := h.mover.Fund(ctx, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, id)
	assert.Equal(t, 0, h.watcher.Watching())
}
