package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/internal/txwatch"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// readyRestore returns a session holding both shares, ready to submit
func readyRestore(t *testing.T, h *harness) (*RestoreSession, *StateSubscription) {
	t.Helper()
	ctx := context.Background()

	s := NewRestore(h.deps())
	t.Cleanup(s.Close)
	sub, err := s.Subscribe()
	require.NoError(t, err)

	for _, opt := range []RestoreOption{OptionGoogleDrive, OptionPassphrase} {
		selected, err := s.SelectOption(ctx, opt)
		require.NoError(t, err)
		require.True(t, selected)
	}
	require.NoError(t, s.SetTarget(ctx, "alice", targetHex))
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.AddShare(ctx, shareOne))
	require.NoError(t, s.AddShare(ctx, shareTwo))
	return s, sub
}

func TestRestore_IsValid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := NewRestore(h.deps())
	defer s.Close()

	_, err := s.SelectOption(ctx, OptionGoogleDrive)
	require.NoError(t, err)
	_, err = s.SelectOption(ctx, OptionFile)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.AddShare(ctx, shareOne))
	valid, err := s.IsValid(ctx)
	require.NoError(t, err)
	assert.False(t, valid)

	require.NoError(t, s.AddShare(ctx, shareTwo))
	valid, err = s.IsValid(ctx)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestRestore_OptionSelection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := NewRestore(h.deps())
	defer s.Close()

	selected, err := s.SelectOption(ctx, OptionVault)
	require.NoError(t, err)
	assert.True(t, selected)

	selected, err = s.SelectOption(ctx, OptionVault)
	require.NoError(t, err)
	assert.False(t, selected)

	_, err = s.SelectOption(ctx, OptionCompleted)
	assert.Error(t, err)

	// Start needs two options.
	_, err = s.SelectOption(ctx, OptionVault)
	require.NoError(t, err)
	err = s.Start(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrThresholdNotMet))

	_, err = s.SelectOption(ctx, OptionFile)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	opts, err := s.Options(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RestoreOption{OptionVault, OptionFile, OptionCompleted}, opts)

	cur, err := s.CurrentOption(ctx)
	require.NoError(t, err)
	assert.Equal(t, OptionVault, cur)

	require.NoError(t, s.AddShare(ctx, shareOne))
	cur, err = s.CurrentOption(ctx)
	require.NoError(t, err)
	assert.Equal(t, OptionFile, cur)

	_, err = s.SelectOption(ctx, OptionGoogleDrive)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRestore_AddShareRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := NewRestore(h.deps())
	defer s.Close()

	assert.ErrorIs(t, s.AddShare(ctx, shareOne), ErrInvalidState)

	_, _ = s.SelectOption(ctx, OptionGoogleDrive)
	_, _ = s.SelectOption(ctx, OptionPassphrase)
	require.NoError(t, s.Start(ctx))

	err := s.AddShare(ctx, "not a mnemonic")
	assert.True(t, errors.Is(err, apperrors.ErrCryptoFailure))

	require.NoError(t, s.AddShare(ctx, shareOne))
	assert.Error(t, s.AddShare(ctx, shareOne))
	require.NoError(t, s.AddShare(ctx, shareTwo))
	assert.ErrorIs(t, s.AddShare(ctx, mainSeed), ErrInvalidState)
}

func TestRestore_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, sub := readyRestore(t, h)

	require.NoError(t, s.Submit(ctx))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestoreAwaitFinality, snap.State)
	require.NotEmpty(t, snap.TxID)

	// The shares sign in collection order; the device key is only the
	// key being added.
	device := provide(t, deviceSeed, types.PartialWeight)
	sent := h.chain.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].EnvelopeSignatures, 2)
	msg, err := sent[0].EnvelopeSigningMessage()
	require.NoError(t, err)
	digest, err := crypto.Hash(types.HashAlgorithmSHA2256, msg)
	require.NoError(t, err)
	for i, mnemonic := range []string{shareOne, shareTwo} {
		got := sent[0].EnvelopeSignatures[i]
		assert.Equal(t, h.shareIdx[i], got.KeyIndex)
		assert.True(t, crypto.VerifySecp256k1(provide(t, mnemonic, 0).PublicKey(), digest, got.Signature), "share %d", i)
	}
	assert.Equal(t, h.shareIdx[0], sent[0].ProposalKey.KeyIndex)
	require.NotEmpty(t, sent[0].Arguments)
	assert.Contains(t, string(sent[0].Arguments[0]), device.PublicKeyHex())

	onChainAcct, err := h.chain.GetAccount(ctx, h.target)
	require.NoError(t, err)
	_, onChain := onChainAcct.KeyFor(device.PublicKeyHex())
	assert.False(t, onChain)

	rec, ok := h.ledger.Get(snap.TxID)
	require.True(t, ok)
	assert.Equal(t, types.TxTypeAddPublicKey, rec.Type)

	h.chain.Script(snap.TxID, types.TxStatusPending, types.TxStatusExecuted)
	h.tick()
	h.tick()

	waitState(t, sub, RestoreComplete.String())

	h.service.mu.Lock()
	signReqs, loginReqs := h.service.signReqs, h.service.loginReqs
	h.service.mu.Unlock()

	require.Len(t, signReqs, 1)
	assert.Equal(t, device.PublicKeyHex(), signReqs[0].AccountKey.PublicKey)
	require.Len(t, signReqs[0].Signatures, 2)
	for i, mnemonic := range []string{shareOne, shareTwo} {
		share := provide(t, mnemonic, 0)
		got := signReqs[0].Signatures[i]
		assert.Equal(t, share.PublicKeyHex(), got.PublicKey)

		sig, err := hex.DecodeString(got.Signature)
		require.NoError(t, err)
		digest, err := crypto.Hash(types.HashAlgorithmSHA2256, crypto.WithTag(crypto.UserDomainTag, []byte(got.SignMessage)))
		require.NoError(t, err)
		assert.True(t, crypto.VerifySecp256k1(share.PublicKey(), digest, sig), "share %d", i)
	}

	require.Len(t, loginReqs, 1)
	assert.Equal(t, device.PublicKeyHex(), loginReqs[0].AccountKey.PublicKey)
	assert.Equal(t, "device-1", loginReqs[0].DeviceInfo.DeviceID)
	assert.Equal(t, customToken, h.identity.signedIn)

	acct, err := h.manager.ActiveAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, targetHex, acct.Address)
	assert.Equal(t, testUserID, acct.UserID)
	assert.True(t, acct.Registered)
	assert.True(t, acct.MultiBackupCreated)
	assert.Equal(t, h.device.ID.String(), acct.WalletID)

	rec, _ = h.ledger.Get(snap.TxID)
	assert.Equal(t, types.TxStatusExecuted, rec.Status)
	assert.Equal(t, 0, h.watcher.Watching())
}

func TestRestore_SubmitPreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	t.Run("one share", func(t *testing.T) {
		s := NewRestore(h.deps())
		defer s.Close()
		_, _ = s.SelectOption(ctx, OptionGoogleDrive)
		_, _ = s.SelectOption(ctx, OptionPassphrase)
		require.NoError(t, s.SetTarget(ctx, "alice", targetHex))
		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.AddShare(ctx, shareOne))

		err := s.Submit(ctx)
		assert.True(t, errors.Is(err, apperrors.ErrThresholdNotMet))
		assert.Empty(t, h.chain.Sent())
	})

	t.Run("option without share", func(t *testing.T) {
		s := NewRestore(h.deps())
		defer s.Close()
		for _, o := range []RestoreOption{OptionGoogleDrive, OptionPassphrase, OptionFile} {
			_, _ = s.SelectOption(ctx, o)
		}
		require.NoError(t, s.SetTarget(ctx, "alice", targetHex))
		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.AddShare(ctx, shareOne))
		require.NoError(t, s.AddShare(ctx, shareTwo))

		err := s.Submit(ctx)
		assert.ErrorIs(t, err, ErrMissingShare)
		snap, _ := s.Snapshot(ctx)
		assert.Equal(t, RestoreFailed, snap.State)
		assert.Empty(t, h.chain.Sent())
	})

	t.Run("no target", func(t *testing.T) {
		s := NewRestore(h.deps())
		defer s.Close()
		_, _ = s.SelectOption(ctx, OptionGoogleDrive)
		_, _ = s.SelectOption(ctx, OptionPassphrase)
		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.AddShare(ctx, shareOne))
		require.NoError(t, s.AddShare(ctx, shareTwo))
		assert.ErrorIs(t, s.Submit(ctx), ErrInvalidState)
	})
}

func TestRestore_ShareNotOnAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s := NewRestore(h.deps())
	defer s.Close()
	_, _ = s.SelectOption(ctx, OptionGoogleDrive)
	_, _ = s.SelectOption(ctx, OptionPassphrase)
	require.NoError(t, s.SetTarget(ctx, "alice", targetHex))
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.AddShare(ctx, shareOne))
	require.NoError(t, s.AddShare(ctx, mainSeed))

	err := s.Submit(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrCompositionFailure))
	assert.Empty(t, h.chain.Sent())

	snap, _ := s.Snapshot(ctx)
	assert.Equal(t, RestoreFailed, snap.State)
}

func TestRestore_RejectsReentrantSubmit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, _ := readyRestore(t, h)

	require.NoError(t, s.Submit(ctx))
	assert.ErrorIs(t, s.Submit(ctx), ErrSubmissionOutstanding)
	assert.Len(t, h.chain.Sent(), 1)
}

func TestRestore_ChainFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, sub := readyRestore(t, h)

	require.NoError(t, s.Submit(ctx))
	snap, _ := s.Snapshot(ctx)
	h.chain.Script(snap.TxID, types.TxStatusExpired)
	h.tick()

	change := waitState(t, sub, RestoreFailed.String())
	assert.True(t, errors.Is(change.Err, apperrors.ErrChainTerminalFailure))

	sign, _, login := h.service.calls()
	assert.Zero(t, sign)
	assert.Zero(t, login)
}

func TestRestore_SyncNetworkFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.service.signErr = apperrors.NetworkFailure("sign account", errors.New("status 500"))
	s, sub := readyRestore(t, h)

	require.NoError(t, s.Submit(ctx))
	snap, _ := s.Snapshot(ctx)
	h.chain.Script(snap.TxID, types.TxStatusSealed)
	h.tick()

	waitState(t, sub, RestoreNetworkError.String())
	_, _, login := h.service.calls()
	assert.Zero(t, login)

	_, err := h.manager.ActiveAccount(ctx)
	assert.Error(t, err)
}

func TestRestore_SubmitNetworkFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chain.SendErr = errors.New("connection refused")
	s, _ := readyRestore(t, h)

	err := s.Submit(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNetworkFailure))

	snap, _ := s.Snapshot(ctx)
	assert.Equal(t, RestoreNetworkError, snap.State)
	assert.Empty(t, snap.TxID)
}

func TestRestore_WatchTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, sub := readyRestore(t, h)

	require.NoError(t, s.Submit(ctx))
	h.clock.SetTime(testStart.Add(2 * time.Minute))
	h.tick()

	change := waitState(t, sub, RestoreNetworkError.String())
	assert.ErrorIs(t, change.Err, txwatch.ErrWatchTimeout)
}

func TestRestore_AlreadyLoggedIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	main, err := h.wallets.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.manager.AddAccount(ctx, &types.Account{Address: targetHex}, main))

	s, _ := readyRestore(t, h)
	assert.ErrorIs(t, s.Submit(ctx), ErrAlreadyLoggedIn)
	assert.Empty(t, h.chain.Sent())
}

func TestRestore_KnownAccountSwitches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	known, err := h.wallets.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.store.UpsertAccount(ctx, &types.Account{Address: targetHex, WalletID: known.ID.String()}))

	s, sub := readyRestore(t, h)
	require.NoError(t, s.Submit(ctx))

	waitState(t, sub, RestoreComplete.String())
	snap, _ := s.Snapshot(ctx)
	assert.True(t, snap.Switched)
	assert.Empty(t, h.chain.Sent())

	acct, err := h.manager.ActiveAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, targetHex, acct.Address)
}

func TestRestore_CloseUnregistersWatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s, sub := readyRestore(t, h)

	require.NoError(t, s.Submit(ctx))
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.watcher.Watching())

	s.Close()
	assert.Equal(t, 0, h.watcher.Watching())

	select {
	case <-sub.Quit():
	case <-time.After(time.Second):
		t.Fatal("subscription not ended by Close")
	}

	_, err = s.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)

	// A late terminal status reaches no one.
	h.chain.Script(snap.TxID, types.TxStatusExecuted)
	h.tick()
	assert.Zero(t, h.chain.Polls(snap.TxID))
	sign, _, _ := h.service.calls()
	assert.Zero(t, sign)
}
