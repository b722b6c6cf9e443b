package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/internal/composer"
	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/txwatch"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// RestoreState is a step of a restore session
type RestoreState int

const (
	RestoreStart RestoreState = iota
	RestoreCollectingShares
	RestoreSubmitKeyRegistration
	RestoreAwaitFinality
	RestoreSyncAccount
	RestoreLogin
	RestoreComplete
	RestoreNetworkError
	RestoreFailed
)

func (s RestoreState) String() string {
	switch s {
	case RestoreStart:
		return "START"
	case RestoreCollectingShares:
		return "COLLECTING_SHARES"
	case RestoreSubmitKeyRegistration:
		return "SUBMIT_KEY_REGISTRATION"
	case RestoreAwaitFinality:
		return "AWAIT_FINALITY"
	case RestoreSyncAccount:
		return "SYNC_ACCOUNT"
	case RestoreLogin:
		return "LOGIN"
	case RestoreComplete:
		return "COMPLETE"
	case RestoreNetworkError:
		return "NETWORK_ERROR"
	case RestoreFailed:
		return "RESTORE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the session has ended
func (s RestoreState) Terminal() bool {
	return s == RestoreComplete || s == RestoreNetworkError || s == RestoreFailed
}

// RestoreOption is a source a share is collected from
type RestoreOption int

const (
	OptionGoogleDrive RestoreOption = iota + 1
	OptionPassphrase
	OptionVault
	OptionFile
	// OptionCompleted is appended by Start and marks the end of the list
	OptionCompleted
)

func (o RestoreOption) String() string {
	switch o {
	case OptionGoogleDrive:
		return "google_drive"
	case OptionPassphrase:
		return "passphrase"
	case OptionVault:
		return "vault"
	case OptionFile:
		return "file"
	case OptionCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ParseRestoreOption maps an option name back to its value
func ParseRestoreOption(s string) (RestoreOption, error) {
	for o := OptionGoogleDrive; o <= OptionFile; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown restore option %q", s)
}

// ErrMissingShare is the cause of a RESTORE_FAILED reached because an
// option produced no share
var ErrMissingShare = errors.New("restore option has no share")

// RestoreSnapshot is a copy of a restore session's state
type RestoreSnapshot struct {
	ID       string
	State    RestoreState
	Options  []RestoreOption
	Index    int
	Shares   int
	UserName string
	Address  string
	TxID     string
	Switched bool
	Err      error
}

// RestoreSession restores an account from at least two backup shares by
// registering a new device key with it.
type RestoreSession struct {
	a    *actor
	deps Deps

	state    RestoreState
	options  []RestoreOption
	index    int
	shares   []string
	userName string
	address  string
	txID     string
	switched bool
	err      error

	device *provider.Wallet
}

// NewRestore starts a restore session. Close it when done.
func NewRestore(deps Deps) *RestoreSession {
	d := deps.withDefaults()
	s := &RestoreSession{
		deps:  d,
		state: RestoreStart,
		index: -1,
	}
	s.a = newActor(uuid.NewString(), "restore", &d)
	s.a.current = s.change
	s.a.onUpdate = s.handleUpdate
	s.a.start()
	return s
}

// ID returns the session id
func (s *RestoreSession) ID() string { return s.a.id }

// Close ends the session synchronously
func (s *RestoreSession) Close() { s.a.close() }

// Subscribe observes state changes
func (s *RestoreSession) Subscribe() (*StateSubscription, error) {
	return s.a.subscribe()
}

// Snapshot returns a copy of the current state
func (s *RestoreSession) Snapshot(ctx context.Context) (RestoreSnapshot, error) {
	var snap RestoreSnapshot
	err := s.a.do(ctx, func(context.Context) error {
		snap = RestoreSnapshot{
			ID:       s.a.id,
			State:    s.state,
			Options:  append([]RestoreOption(nil), s.options...),
			Index:    s.index,
			Shares:   len(s.shares),
			UserName: s.userName,
			Address:  s.address,
			TxID:     s.txID,
			Switched: s.switched,
			Err:      s.err,
		}
		return nil
	})
	return snap, err
}

// SelectOption toggles opt in the option list and reports whether it is
// now selected. Options can only change before Start.
func (s *RestoreSession) SelectOption(ctx context.Context, opt RestoreOption) (bool, error) {
	var selected bool
	err := s.a.do(ctx, func(context.Context) error {
		if s.state != RestoreStart {
			return ErrInvalidState
		}
		if opt < OptionGoogleDrive || opt > OptionFile {
			return fmt.Errorf("invalid restore option %d", opt)
		}
		for i, o := range s.options {
			if o == opt {
				s.options = append(s.options[:i], s.options[i+1:]...)
				return nil
			}
		}
		s.options = append(s.options, opt)
		selected = true
		return nil
	})
	return selected, err
}

// Options returns the option list
func (s *RestoreSession) Options(ctx context.Context) ([]RestoreOption, error) {
	snap, err := s.Snapshot(ctx)
	return snap.Options, err
}

// SetTarget names the account being restored
func (s *RestoreSession) SetTarget(ctx context.Context, userName, address string) error {
	return s.a.do(ctx, func(context.Context) error {
		if s.state != RestoreStart && s.state != RestoreCollectingShares {
			return ErrInvalidState
		}
		addr, err := flow.HexToAddress(address)
		if err != nil {
			return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid restore address", err.Error(), 400)
		}
		s.userName = userName
		s.address = addr.Hex()
		return nil
	})
}

// Start appends the completion option and moves to the first option
func (s *RestoreSession) Start(ctx context.Context) error {
	return s.a.do(ctx, func(context.Context) error {
		if s.state != RestoreStart {
			return ErrInvalidState
		}
		if len(s.options) < types.MinRecoveryShares {
			return apperrors.ThresholdNotMet(len(s.options), types.MinRecoveryShares)
		}
		s.options = append(s.options, OptionCompleted)
		s.index = 0
		s.setState(RestoreCollectingShares, nil)
		return nil
	})
}

// CurrentOption returns the option the next share is collected from
func (s *RestoreSession) CurrentOption(ctx context.Context) (RestoreOption, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap.Index < 0 || snap.Index >= len(snap.Options) {
		return 0, ErrInvalidState
	}
	return snap.Options[snap.Index], nil
}

// AddShare records the mnemonic recovered from the current option and
// advances to the next one
func (s *RestoreSession) AddShare(ctx context.Context, mnemonic string) error {
	return s.a.do(ctx, func(context.Context) error {
		if s.state != RestoreCollectingShares {
			return ErrInvalidState
		}
		if s.options[s.index] == OptionCompleted {
			return fmt.Errorf("%w: every option already has a share", ErrInvalidState)
		}
		if err := crypto.ValidateMnemonic(mnemonic); err != nil {
			return apperrors.CryptoFailure("validate share", err)
		}
		normalized := crypto.NormalizeMnemonic(mnemonic)
		for _, m := range s.shares {
			if m == normalized {
				return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Duplicate share", "share already collected", 400)
			}
		}

		s.shares = append(s.shares, normalized)
		s.index++
		s.a.log.Info("share collected", "shares", len(s.shares))
		s.a.publish()
		return nil
	})
}

// IsValid reports whether enough shares were collected to restore
func (s *RestoreSession) IsValid(ctx context.Context) (bool, error) {
	snap, err := s.Snapshot(ctx)
	return snap.Shares >= types.MinRecoveryShares, err
}

// Submit registers a freshly generated device key with the target account,
// co-signed by every collected share. When the target is already known on this device the session switches to
// it instead and completes without a transaction.
func (s *RestoreSession) Submit(ctx context.Context) error {
	return s.a.do(ctx, func(ctx context.Context) error {
		switch {
		case s.state == RestoreSubmitKeyRegistration || s.state == RestoreAwaitFinality:
			return ErrSubmissionOutstanding
		case s.state != RestoreCollectingShares:
			return ErrInvalidState
		case len(s.shares) < types.MinRecoveryShares:
			return apperrors.ThresholdNotMet(len(s.shares), types.MinRecoveryShares)
		case s.address == "":
			return fmt.Errorf("%w: restore target not set", ErrInvalidState)
		}

		if opt := s.options[s.index]; opt != OptionCompleted {
			err := fmt.Errorf("%w: %s", ErrMissingShare, opt)
			s.fail(err)
			return err
		}

		done, err := s.shortCircuit(ctx)
		if done || err != nil {
			return err
		}

		s.setState(RestoreSubmitKeyRegistration, nil)
		if err := s.register(ctx); err != nil {
			s.fail(err)
			return err
		}
		s.setState(RestoreAwaitFinality, nil)
		return nil
	})
}

func (s *RestoreSession) shortCircuit(ctx context.Context) (bool, error) {
	active, err := s.deps.Accounts.ActiveAccount(ctx)
	if err != nil && !errors.Is(err, provider.ErrNoAccount) {
		return false, err
	}
	if active != nil && strings.EqualFold(active.Address, s.address) {
		return true, ErrAlreadyLoggedIn
	}

	known, err := s.deps.Accounts.FindAccount(ctx, s.address)
	if err != nil {
		return false, err
	}
	if known == nil {
		return false, nil
	}
	if err := s.deps.Accounts.Switch(ctx, known.Address); err != nil {
		return true, err
	}
	s.switched = true
	s.setState(RestoreComplete, nil)
	return true, nil
}

func (s *RestoreSession) register(ctx context.Context) error {
	wallet, err := s.deps.NewDeviceWallet(ctx)
	if err != nil {
		return apperrors.CryptoFailure("generate device key", err)
	}
	device, err := wallet.Provider(types.PartialWeight)
	if err != nil {
		return err
	}

	target, err := flow.HexToAddress(s.address)
	if err != nil {
		return err
	}
	tmpl, err := flow.AddPublicKey(device.PublicKeyHex(), device.SignatureAlgorithm(), device.HashAlgorithm(), device.KeyWeight())
	if err != nil {
		return err
	}

	// The recovered shares authorize the new key; it cannot sign for
	// itself until the registration is sealed.
	signers := make([]provider.CryptoProvider, 0, len(s.shares))
	for i, mnemonic := range s.shares {
		share, err := provider.NewSeedDerived(mnemonic)
		if err != nil {
			return apperrors.CryptoFailure(fmt.Sprintf("derive share %d", i), err)
		}
		signers = append(signers, share)
	}

	res, err := s.deps.Composer.Submit(ctx, composer.Request{
		Target:   target,
		Template: tmpl,
		Signers:  signers,
	})
	if err != nil {
		return err
	}

	s.device = wallet
	s.txID = res.TxID
	if err := s.deps.Ledger.Append(ctx, types.TransactionRecord{
		ID:     res.TxID,
		Time:   s.deps.Clock.Now(),
		Status: types.TxStatusPending,
		Type:   res.Type,
	}); err != nil {
		s.a.log.Warn("ledger append failed", "tx_id", res.TxID, "error", err)
	}
	s.a.log.Info("key registration submitted",
		"tx_id", res.TxID,
		"signers", len(signers),
		"weight", res.TotalWeight,
		"fully_authorized", res.FullyAuthorized,
	)

	return s.a.watchTx(s.deps.Watcher, res.TxID)
}

func (s *RestoreSession) handleUpdate(u *txwatch.Update) {
	if s.state != RestoreAwaitFinality {
		return
	}

	switch {
	case u.Err != nil:
		s.a.stopWatch()
		s.fail(apperrors.NetworkFailure("await finality", u.Err))

	case u.Status.IsFailed():
		s.a.stopWatch()
		s.fail(apperrors.ChainTerminalFailure(s.txID, u.Status.String()))

	case u.Status.IsExecuteFinished():
		s.a.stopWatch()
		s.finish(s.a.ctx)
	}
}

// finish co-signs the identity with every share, then logs in with the
// device key
func (s *RestoreSession) finish(ctx context.Context) {
	s.setState(RestoreSyncAccount, nil)
	device, err := s.device.Provider(types.PartialWeight)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.syncAccount(ctx, device); err != nil {
		s.fail(err)
		return
	}

	s.setState(RestoreLogin, nil)
	if err := s.login(ctx, device); err != nil {
		s.fail(err)
		return
	}
	s.shares = nil
	s.setState(RestoreComplete, nil)
}

func (s *RestoreSession) syncAccount(ctx context.Context, device provider.CryptoProvider) error {
	sigs := make([]types.AccountKeySignature, 0, len(s.shares))
	for i, mnemonic := range s.shares {
		share, err := provider.NewSeedDerived(mnemonic)
		if err != nil {
			return fmt.Errorf("share %d: %w", i, err)
		}
		assertion, err := s.deps.Identity.Token(ctx)
		if err != nil {
			return err
		}
		sig, err := provider.SignUserMessage(ctx, share, []byte(assertion))
		if err != nil {
			return err
		}
		sigs = append(sigs, types.AccountKeySignature{
			PublicKey:   share.PublicKeyHex(),
			SignMessage: assertion,
			Signature:   hex.EncodeToString(sig),
		})
	}

	return s.deps.Service.SignAccount(ctx, types.AccountSignRequest{
		AccountKey: provider.AccountKey(device),
		Signatures: sigs,
	})
}

func (s *RestoreSession) login(ctx context.Context, device provider.CryptoProvider) error {
	uid, err := s.deps.Identity.UID(ctx)
	if err != nil {
		return err
	}
	if uid == "" {
		return fmt.Errorf("identity has no user id")
	}

	assertion, err := s.deps.Identity.Token(ctx)
	if err != nil {
		return err
	}
	sig, err := provider.SignUserMessage(ctx, device, []byte(assertion))
	if err != nil {
		return err
	}

	customToken, err := s.deps.Service.Login(ctx, types.LoginRequest{
		Signature:  hex.EncodeToString(sig),
		AccountKey: provider.AccountKey(device),
		DeviceInfo: s.deps.Device,
	})
	if err != nil {
		return err
	}
	if err := s.deps.Identity.SignIn(ctx, customToken); err != nil {
		return err
	}

	info, err := s.deps.Service.UserInfo(ctx)
	if err != nil {
		return err
	}

	acct := &types.Account{
		UserID:             info.UserID,
		Username:           info.Username,
		Address:            s.address,
		Registered:         true,
		MultiBackupCreated: true,
	}
	if acct.Username == "" {
		acct.Username = s.userName
	}
	return s.deps.Accounts.AddAccount(ctx, acct, s.device)
}

// fail moves to NETWORK_ERROR for network failures and RESTORE_FAILED for
// everything else
func (s *RestoreSession) fail(err error) {
	state := RestoreFailed
	if errors.Is(err, apperrors.ErrNetworkFailure) {
		state = RestoreNetworkError
	}
	s.a.log.Warn("restore failed", "state", s.state, "error", err)
	s.setState(state, err)
}

func (s *RestoreSession) setState(state RestoreState, err error) {
	s.state = state
	s.err = err
	s.a.publish()
}

func (s *RestoreSession) change() StateChange {
	return StateChange{
		SessionID: s.a.id,
		Kind:      s.a.kind,
		State:     s.state.String(),
		TxID:      s.txID,
		Err:       s.err,
		Terminal:  s.state.Terminal(),
	}
}
