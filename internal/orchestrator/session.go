// Package orchestrator sequences multi-party restore and backup sessions:
// share collection, key registration, finality and account sync.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"

	"github.com/better-wallet/multikey/internal/backupstore"
	"github.com/better-wallet/multikey/internal/composer"
	"github.com/better-wallet/multikey/internal/metrics"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/txwatch"
	"github.com/better-wallet/multikey/pkg/types"
)

var (
	// ErrSessionClosed is returned by every call on a closed session
	ErrSessionClosed = errors.New("session closed")

	// ErrSubmissionOutstanding is returned when a key registration of the
	// session is still awaiting finality
	ErrSubmissionOutstanding = errors.New("key registration already outstanding")

	// ErrAlreadyLoggedIn is returned when the restore target is the active
	// account
	ErrAlreadyLoggedIn = errors.New("wallet already logged in")

	// ErrInvalidState is returned for an operation the current state does
	// not allow
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// AccountService is the account service as used by sessions
type AccountService interface {
	SignAccount(ctx context.Context, req types.AccountSignRequest) error
	SyncAccount(ctx context.Context, req types.AccountSyncRequest) error
	Login(ctx context.Context, req types.LoginRequest) (string, error)
	UserInfo(ctx context.Context) (*types.UserInfo, error)
}

// Identity issues identity assertions
type Identity interface {
	Token(ctx context.Context) (string, error)
	UID(ctx context.Context) (string, error)
	SignIn(ctx context.Context, customToken string) error
}

// Submitter composes and submits transactions
type Submitter interface {
	Submit(ctx context.Context, req composer.Request) (*composer.Result, error)
}

// TxWatcher subscribes to transaction status changes
type TxWatcher interface {
	Watch(txID string) (*txwatch.Subscription, error)
}

// Ledger records submitted transactions
type Ledger interface {
	Append(ctx context.Context, rec types.TransactionRecord) error
}

// Accounts is the provider manager as used by sessions
type Accounts interface {
	Current(ctx context.Context) (provider.CryptoProvider, error)
	ActiveAccount(ctx context.Context) (*types.Account, error)
	FindAccount(ctx context.Context, address string) (*types.Account, error)
	Switch(ctx context.Context, address string) error
	AddAccount(ctx context.Context, acct *types.Account, w *provider.Wallet) error
}

// Uploader persists backup seeds off-device
type Uploader interface {
	Upload(ctx context.Context, req backupstore.Request) *backupstore.Listener
}

// Deps are the collaborators shared by every session
type Deps struct {
	Composer Submitter
	Watcher  TxWatcher
	Ledger   Ledger
	Accounts Accounts
	Service  AccountService
	Identity Identity
	Uploader Uploader

	// NewDeviceWallet generates and persists the key of this device
	NewDeviceWallet func(ctx context.Context) (*provider.Wallet, error)

	Device  types.DeviceInfo
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (d *Deps) withDefaults() Deps {
	out := *d
	if out.Clock == nil {
		out.Clock = clock.NewDefaultClock()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// StateChange is published to subscribers on every transition
type StateChange struct {
	SessionID string
	Kind      string
	State     string
	TxID      string
	Err       error
	Terminal  bool
}

// StateSubscription receives the StateChange values of one session,
// starting with the state at subscription time.
type StateSubscription struct {
	id      uint64
	updates *queue.ConcurrentQueue
	quit    chan struct{}
	cancel  func()
}

// Updates delivers StateChange values
func (s *StateSubscription) Updates() <-chan interface{} {
	return s.updates.ChanOut()
}

// Quit is closed when the subscription ends
func (s *StateSubscription) Quit() <-chan struct{} {
	return s.quit
}

// Cancel ends the subscription
func (s *StateSubscription) Cancel() {
	s.cancel()
}

type command struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// actor runs every mutation of one session on a single goroutine.
// Commands, watcher updates and upload events are all funneled through
// loop, so a session never observes two transitions at once.
type actor struct {
	id   string
	kind string
	log  *slog.Logger
	m    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	cmds      chan command
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	subCounter atomic.Uint64
	subs       map[uint64]*StateSubscription

	// owned by loop
	watch  *txwatch.Subscription
	upload *backupstore.Listener

	current  func() StateChange
	onUpdate func(*txwatch.Update)
	onUpload func(backupstore.Event)
}

func newActor(id, kind string, deps *Deps) *actor {
	ctx, cancel := context.WithCancel(context.Background())
	return &actor{
		id:     id,
		kind:   kind,
		log:    deps.Logger.With("component", "orchestrator", "kind", kind, "session_id", id),
		m:      deps.Metrics,
		ctx:    ctx,
		cancel: cancel,
		cmds:   make(chan command),
		quit:   make(chan struct{}),
		subs:   make(map[uint64]*StateSubscription),
	}
}

func (a *actor) start() {
	a.wg.Add(1)
	go a.loop()
}

// do runs fn on the actor goroutine. fn's context is cancelled when either
// ctx or the session ends.
func (a *actor) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case a.cmds <- cmd:
	case <-a.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-a.quit:
		return ErrSessionClosed
	}
}

// loop is the only goroutine touching session state. Calls and watch
// callbacks may block on account service I/O; Snapshot and subscribers wait
// until they return.
//
// NOTE: MUST be run as a goroutine.
func (a *actor) loop() {
	defer a.wg.Done()

	for {
		var (
			watchUpdates <-chan interface{}
			watchQuit    <-chan struct{}
			uploadEvents <-chan backupstore.Event
		)
		if a.watch != nil {
			watchUpdates = a.watch.Updates()
			watchQuit = a.watch.Quit()
		}
		if a.upload != nil {
			uploadEvents = a.upload.Events()
		}

		select {
		case cmd := <-a.cmds:
			ctx, cancel := context.WithCancel(a.ctx)
			stop := context.AfterFunc(cmd.ctx, cancel)
			err := cmd.fn(ctx)
			stop()
			cancel()
			cmd.done <- err

		case item := <-watchUpdates:
			if u, ok := item.(*txwatch.Update); ok && a.onUpdate != nil {
				a.onUpdate(u)
			}

		case <-watchQuit:
			a.watch = nil
			if a.onUpdate != nil {
				a.onUpdate(&txwatch.Update{Err: txwatch.ErrWatcherStopped})
			}

		case ev, ok := <-uploadEvents:
			if !ok {
				a.upload = nil
				continue
			}
			a.upload = nil
			if a.onUpload != nil {
				a.onUpload(ev)
			}

		case <-a.quit:
			a.teardown()
			return
		}
	}
}

func (a *actor) teardown() {
	a.stopWatch()
	if a.upload != nil {
		a.upload.Close()
		a.upload = nil
	}
	for id, sub := range a.subs {
		sub.updates.Stop()
		close(sub.quit)
		delete(a.subs, id)
	}
	a.log.Debug("session closed")
}

// watchTx subscribes to txID; updates arrive through onUpdate
func (a *actor) watchTx(w TxWatcher, txID string) error {
	sub, err := w.Watch(txID)
	if err != nil {
		return err
	}
	a.watch = sub
	return nil
}

// stopWatch cancels the watcher subscription synchronously
func (a *actor) stopWatch() {
	if a.watch != nil {
		a.watch.Cancel()
		a.watch = nil
	}
}

// awaitUpload delivers the listener's completion event through onUpload
func (a *actor) awaitUpload(l *backupstore.Listener) {
	a.upload = l
}

// publish fans the current state out to every subscriber
func (a *actor) publish() {
	change := a.current()
	if change.Terminal {
		a.m.SessionOutcome(a.kind, change.State)
	}
	for _, sub := range a.subs {
		select {
		case sub.updates.ChanIn() <- change:
		case <-a.quit:
			return
		}
	}
}

// subscribe registers a state subscriber
func (a *actor) subscribe() (*StateSubscription, error) {
	id := a.subCounter.Add(1)
	sub := &StateSubscription{
		id:      id,
		updates: queue.NewConcurrentQueue(20),
		quit:    make(chan struct{}),
	}
	sub.cancel = func() {
		_ = a.do(context.Background(), func(context.Context) error {
			if _, ok := a.subs[id]; ok {
				sub.updates.Stop()
				close(sub.quit)
				delete(a.subs, id)
			}
			return nil
		})
	}

	err := a.do(context.Background(), func(context.Context) error {
		sub.updates.Start()
		a.subs[id] = sub
		sub.updates.ChanIn() <- a.current()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// close cancels in-flight calls, unregisters every watcher subscription
// and upload listener, and waits for the loop to exit. No callback runs
// against the session afterwards.
func (a *actor) close() {
	a.closeOnce.Do(func() {
		a.cancel()
		close(a.quit)
	})
	a.wg.Wait()
}
