package evm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/better-wallet/multikey/internal/composer"
	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/txwatch"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// Signers supplies the active account and its current provider
type Signers interface {
	Current(ctx context.Context) (provider.CryptoProvider, error)
	ActiveAccount(ctx context.Context) (*types.Account, error)
}

// MoverConfig configures a Mover
type MoverConfig struct {
	Composer *composer.Composer
	Watcher  *txwatch.Watcher
	Ledger   *txwatch.Ledger
	Signers  Signers
	Logger   *slog.Logger
}

// Mover moves funds between the active account and its EVM sub-account
type Mover struct {
	composer *composer.Composer
	watcher  *txwatch.Watcher
	ledger   *txwatch.Ledger
	signers  Signers
	log      *slog.Logger
}

// NewMover creates a Mover
func NewMover(cfg MoverConfig) *Mover {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Mover{
		composer: cfg.Composer,
		watcher:  cfg.Watcher,
		ledger:   cfg.Ledger,
		signers:  cfg.Signers,
		log:      log.With("component", "evm"),
	}
}

// Fund moves amount into the EVM sub-account and waits until the
// transaction has executed
func (m *Mover) Fund(ctx context.Context, amount string) (string, error) {
	tmpl, err := flow.FundEVM(amount)
	if err != nil {
		return "", apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid amount", err.Error(), 400)
	}
	return m.move(ctx, tmpl)
}

// Withdraw moves amount back from the EVM sub-account and waits until the
// transaction has executed
func (m *Mover) Withdraw(ctx context.Context, amount string) (string, error) {
	tmpl, err := flow.WithdrawEVM(amount)
	if err != nil {
		return "", apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Invalid amount", err.Error(), 400)
	}
	return m.move(ctx, tmpl)
}

func (m *Mover) move(ctx context.Context, tmpl flow.Template) (string, error) {
	acct, err := m.signers.ActiveAccount(ctx)
	if err != nil {
		return "", err
	}
	signer, err := m.signers.Current(ctx)
	if err != nil {
		return "", err
	}
	target, err := flow.HexToAddress(acct.Address)
	if err != nil {
		return "", err
	}

	res, err := m.composer.Submit(ctx, composer.Request{
		Target:   target,
		Template: tmpl,
		Signers:  []provider.CryptoProvider{signer},
	})
	if err != nil {
		return "", err
	}
	if err := m.ledger.Append(ctx, types.TransactionRecord{
		ID:     res.TxID,
		Status: types.TxStatusPending,
		Type:   res.Type,
	}); err != nil {
		m.log.Warn("ledger append failed", "tx_id", res.TxID, "error", err)
	}

	sub, err := m.watcher.Watch(res.TxID)
	if err != nil {
		return res.TxID, err
	}
	defer sub.Cancel()

	for {
		select {
		case item := <-sub.Updates():
			u := item.(*txwatch.Update)
			switch {
			case u.Err != nil:
				return res.TxID, apperrors.NetworkFailure("await finality", u.Err)
			case u.Status.IsFailed():
				return res.TxID, apperrors.ChainTerminalFailure(res.TxID, u.Status.String())
			case u.Status.IsExecuteFinished():
				m.log.Info("evm transfer finished", "tx_id", res.TxID, "type", res.Type)
				return res.TxID, nil
			}

		case <-sub.Quit():
			return res.TxID, apperrors.NetworkFailure("await finality", txwatch.ErrWatcherStopped)

		case <-ctx.Done():
			return res.TxID, fmt.Errorf("awaiting %s: %w", res.TxID, ctx.Err())
		}
	}
}
