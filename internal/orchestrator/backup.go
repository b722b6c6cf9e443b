package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/internal/backupstore"
	"github.com/better-wallet/multikey/internal/composer"
	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/txwatch"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// BackupState is a step of a backup session
type BackupState int

const (
	BackupStart BackupState = iota
	BackupCreate
	BackupUploadToChain
	BackupAwaitFinality
	BackupUpload
	BackupRegistrationKeyList
	BackupSuccess
	BackupUploadFailure
	BackupNetworkError
	BackupFailed
)

func (s BackupState) String() string {
	switch s {
	case BackupStart:
		return "START"
	case BackupCreate:
		return "CREATE_BACKUP"
	case BackupUploadToChain:
		return "UPLOAD_TO_CHAIN"
	case BackupAwaitFinality:
		return "AWAIT_FINALITY"
	case BackupUpload:
		return "UPLOAD_BACKUP"
	case BackupRegistrationKeyList:
		return "REGISTRATION_KEY_LIST"
	case BackupSuccess:
		return "BACKUP_SUCCESS"
	case BackupUploadFailure:
		return "UPLOAD_BACKUP_FAILURE"
	case BackupNetworkError:
		return "NETWORK_ERROR"
	case BackupFailed:
		return "BACKUP_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the session has ended
func (s BackupState) Terminal() bool {
	switch s {
	case BackupSuccess, BackupUploadFailure, BackupNetworkError, BackupFailed:
		return true
	}
	return false
}

// BackupSnapshot is a copy of a backup session's state
type BackupSnapshot struct {
	ID         string
	State      BackupState
	BackupType types.BackupType
	PublicKey  string
	Address    string
	TxID       string
	Location   string
	Err        error
}

// BackupSession adds a new seed-derived backup key to the active account,
// stores the seed off-device and registers the key with the account
// service.
type BackupSession struct {
	a    *actor
	deps Deps

	state      BackupState
	backupType types.BackupType
	mnemonic   string
	backup     provider.CryptoProvider
	account    *types.Account
	txID       string
	location   string
	err        error
}

// NewBackup starts a backup session for backupType. Close it when done.
func NewBackup(deps Deps, backupType types.BackupType) *BackupSession {
	d := deps.withDefaults()
	s := &BackupSession{
		deps:       d,
		state:      BackupStart,
		backupType: backupType,
	}
	s.a = newActor(uuid.NewString(), "backup", &d)
	s.a.current = s.change
	s.a.onUpdate = s.handleUpdate
	s.a.onUpload = s.handleUpload
	s.a.start()
	return s
}

// ID returns the session id
func (s *BackupSession) ID() string { return s.a.id }

// Close ends the session synchronously
func (s *BackupSession) Close() { s.a.close() }

// Subscribe observes state changes
func (s *BackupSession) Subscribe() (*StateSubscription, error) {
	return s.a.subscribe()
}

// Snapshot returns a copy of the current state
func (s *BackupSession) Snapshot(ctx context.Context) (BackupSnapshot, error) {
	var snap BackupSnapshot
	err := s.a.do(ctx, func(context.Context) error {
		snap = BackupSnapshot{
			ID:         s.a.id,
			State:      s.state,
			BackupType: s.backupType,
			TxID:       s.txID,
			Location:   s.location,
			Err:        s.err,
		}
		if s.backup != nil {
			snap.PublicKey = s.backup.PublicKeyHex()
		}
		if s.account != nil {
			snap.Address = s.account.Address
		}
		return nil
	})
	return snap, err
}

// Create generates the backup seed and its provider
func (s *BackupSession) Create(ctx context.Context) error {
	return s.a.do(ctx, func(context.Context) error {
		if s.state != BackupStart {
			return ErrInvalidState
		}
		mnemonic, err := crypto.NewMnemonic()
		if err != nil {
			return apperrors.CryptoFailure("generate backup seed", err)
		}
		backup, err := provider.NewSeedDerived(mnemonic)
		if err != nil {
			return err
		}
		s.mnemonic = mnemonic
		s.backup = backup
		s.setState(BackupCreate, nil)
		return nil
	})
}

// UploadToChain adds the backup key to the active account at partial
// weight, signed by the account's current provider
func (s *BackupSession) UploadToChain(ctx context.Context) error {
	return s.a.do(ctx, func(ctx context.Context) error {
		switch s.state {
		case BackupUploadToChain, BackupAwaitFinality:
			return ErrSubmissionOutstanding
		case BackupCreate:
		default:
			return ErrInvalidState
		}

		s.setState(BackupUploadToChain, nil)
		if err := s.submit(ctx); err != nil {
			s.fail(err)
			return err
		}
		s.setState(BackupAwaitFinality, nil)
		return nil
	})
}

func (s *BackupSession) submit(ctx context.Context) error {
	acct, err := s.deps.Accounts.ActiveAccount(ctx)
	if err != nil {
		return err
	}
	signer, err := s.deps.Accounts.Current(ctx)
	if err != nil {
		return err
	}
	target, err := flow.HexToAddress(acct.Address)
	if err != nil {
		return err
	}

	tmpl, err := flow.AddPublicKey(s.backup.PublicKeyHex(), s.backup.SignatureAlgorithm(), s.backup.HashAlgorithm(), s.backup.KeyWeight())
	if err != nil {
		return err
	}

	res, err := s.deps.Composer.Submit(ctx, composer.Request{
		Target:   target,
		Template: tmpl,
		Signers:  []provider.CryptoProvider{signer},
	})
	if err != nil {
		return err
	}

	s.account = acct
	s.txID = res.TxID
	if err := s.deps.Ledger.Append(ctx, types.TransactionRecord{
		ID:     res.TxID,
		Time:   s.deps.Clock.Now(),
		Status: types.TxStatusPending,
		Type:   res.Type,
	}); err != nil {
		s.a.log.Warn("ledger append failed", "tx_id", res.TxID, "error", err)
	}
	s.a.log.Info("backup key submitted", "tx_id", res.TxID, "address", acct.Address)

	return s.a.watchTx(s.deps.Watcher, res.TxID)
}

func (s *BackupSession) handleUpdate(u *txwatch.Update) {
	if s.state != BackupAwaitFinality {
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
		s.setState(BackupUpload, nil)
		s.a.awaitUpload(s.deps.Uploader.Upload(s.a.ctx, backupstore.Request{
			SessionID:  s.a.id,
			Username:   s.account.Username,
			Address:    s.account.Address,
			PublicKey:  s.backup.PublicKeyHex(),
			Mnemonic:   s.mnemonic,
			BackupType: s.backupType,
		}))
	}
}

func (s *BackupSession) handleUpload(ev backupstore.Event) {
	if s.state != BackupUpload || ev.SessionID != s.a.id {
		return
	}
	if !ev.OK() {
		s.a.log.Warn("backup upload failed", "error", ev.Err)
		s.setState(BackupUploadFailure, ev.Err)
		return
	}

	s.location = ev.Location
	s.mnemonic = ""
	s.setState(BackupRegistrationKeyList, nil)

	err := s.deps.Service.SyncAccount(s.a.ctx, types.AccountSyncRequest{
		AccountKey: provider.AccountKey(s.backup),
		DeviceInfo: s.deps.Device,
		BackupInfo: &types.BackupInfo{
			Name: s.backupType.DisplayName(),
			Type: int(s.backupType),
		},
	})
	if err != nil {
		s.setState(BackupNetworkError, err)
		return
	}
	s.setState(BackupSuccess, nil)
}

// fail moves to NETWORK_ERROR for network failures and BACKUP_FAILED for
// everything else
func (s *BackupSession) fail(err error) {
	state := BackupFailed
	if errors.Is(err, apperrors.ErrNetworkFailure) {
		state = BackupNetworkError
	}
	s.a.log.Warn("backup failed", "state", s.state, "error", err)
	s.setState(state, err)
}

func (s *BackupSession) setState(state BackupState, err error) {
	s.state = state
	s.err = err
	s.a.publish()
}

func (s *BackupSession) change() StateChange {
	return StateChange{
		SessionID: s.a.id,
		Kind:      s.a.kind,
		State:     s.state.String(),
		TxID:      s.txID,
		Err:       s.err,
		Terminal:  s.state.Terminal(),
	}
}
