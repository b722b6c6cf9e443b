package txwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/time/rate"

	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/metrics"
	"github.com/better-wallet/multikey/pkg/types"
)

var (
	// ErrWatchTimeout is delivered when a transaction does not finish
	// before the watch deadline
	ErrWatchTimeout = errors.New("transaction watch timed out")

	// ErrWatcherStopped is returned when subscribing to a stopped watcher
	ErrWatcherStopped = errors.New("transaction watcher stopped")
)

const (
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 5 * time.Minute
	defaultPollTimeout  = 10 * time.Second
)

// StatusSource polls transaction status
type StatusSource interface {
	TransactionStatus(ctx context.Context, id string) (*flow.TransactionResult, error)
}

// Update is one status change of a watched transaction. Err is set when
// watching ended without a terminal status.
type Update struct {
	TxID         string
	Status       types.TxStatus
	ErrorMessage string
	Err          error
}

// Finished reports whether no further update follows this one
func (u *Update) Finished() bool {
	return u.Err != nil || u.Status.IsExecuteFinished() || u.Status.IsFailed()
}

// Subscription receives the updates of one watched transaction. Every
// distinct status is delivered once.
type Subscription struct {
	id   uint64
	txID string

	updates *queue.ConcurrentQueue
	quit    chan struct{}
	seen    map[types.TxStatus]struct{}
	cancel  func()
}

// TxID returns the watched transaction id
func (s *Subscription) TxID() string { return s.txID }

// Updates delivers *Update values
func (s *Subscription) Updates() <-chan interface{} {
	return s.updates.ChanOut()
}

// Quit is closed once the subscription is cancelled or the watcher stops
func (s *Subscription) Quit() <-chan struct{} {
	return s.quit
}

// Cancel unregisters the subscription. Once it returns no further update
// is queued.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Config configures a Watcher
type Config struct {
	Chain  StatusSource
	Ledger *Ledger

	PollInterval time.Duration
	// Timeout bounds how long one transaction is watched
	Timeout time.Duration
	// PollTimeout bounds a single status call
	PollTimeout time.Duration
	// PollRPS is the chain call budget shared by every watched transaction
	PollRPS float64

	// Ticker and Clock default to real time
	Ticker ticker.Ticker
	Clock  clock.Clock

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type watch struct {
	txID     string
	last     types.TxStatus
	errMsg   string
	deadline time.Time
	done     bool
	subs     map[uint64]*Subscription
}

type subRequest struct {
	sub *Subscription
}

type cancelRequest struct {
	subID uint64
	txID  string
	done  chan struct{}
}

// Watcher polls the chain for every watched transaction and fans status
// changes out to subscriptions. A single goroutine owns all watch state.
type Watcher struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg     Config
	limiter *rate.Limiter
	log     *slog.Logger

	subCounter atomic.Uint64
	watches    map[string]*watch

	subscribe chan subRequest
	cancels   chan cancelRequest
	counts    chan chan int

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher. Call Start before subscribing.
func New(cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(cfg.PollInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.PollRPS > 0 {
		limit = rate.Limit(cfg.PollRPS)
	}

	return &Watcher{
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		log:       cfg.Logger.With("component", "txwatch"),
		watches:   make(map[string]*watch),
		subscribe: make(chan subRequest),
		cancels:   make(chan cancelRequest),
		counts:    make(chan chan int),
		quit:      make(chan struct{}),
	}
}

// Start launches the polling loop
func (w *Watcher) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	w.cfg.Ticker.Resume()
	w.wg.Add(1)
	go w.watchHandler()
	return nil
}

// Stop cancels every subscription and waits for the loop to exit
func (w *Watcher) Stop() error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(w.quit)
	w.wg.Wait()
	w.cfg.Ticker.Stop()
	return nil
}

// Watch subscribes to status changes of txID. The current status, if
// already known, is delivered immediately.
func (w *Watcher) Watch(txID string) (*Subscription, error) {
	subID := w.subCounter.Add(1)
	sub := &Subscription{
		id:      subID,
		txID:    txID,
		updates: queue.NewConcurrentQueue(20),
		quit:    make(chan struct{}),
		seen:    make(map[types.TxStatus]struct{}),
	}
	sub.cancel = func() {
		done := make(chan struct{})
		select {
		case w.cancels <- cancelRequest{subID: subID, txID: txID, done: done}:
		case <-w.quit:
			return
		}
		select {
		case <-done:
		case <-w.quit:
		}
	}

	select {
	case w.subscribe <- subRequest{sub: sub}:
		return sub, nil
	case <-w.quit:
		return nil, ErrWatcherStopped
	}
}

// Watching returns the number of transactions still being polled
func (w *Watcher) Watching() int {
	res := make(chan int, 1)
	select {
	case w.counts <- res:
	case <-w.quit:
		return 0
	}
	select {
	case n := <-res:
		return n
	case <-w.quit:
		return 0
	}
}

// watchHandler is the only goroutine touching w.watches.
//
// NOTE: MUST be run as a goroutine.
func (w *Watcher) watchHandler() {
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case req := <-w.subscribe:
			w.addSubscription(req.sub)

		case req := <-w.cancels:
			w.handleCancel(req)

		case res := <-w.counts:
			n := 0
			for _, wt := range w.watches {
				if !wt.done {
					n++
				}
			}
			res <- n

		case <-w.cfg.Ticker.Ticks():
			w.pollAll(ctx)

		case <-w.quit:
			for _, wt := range w.watches {
				for _, sub := range wt.subs {
					w.closeSubscription(sub)
				}
			}
			w.watches = make(map[string]*watch)
			return
		}
	}
}

func (w *Watcher) addSubscription(sub *Subscription) {
	wt, ok := w.watches[sub.txID]
	if !ok {
		wt = &watch{
			txID:     sub.txID,
			last:     types.TxStatusUnknown,
			deadline: w.cfg.Clock.Now().Add(w.cfg.Timeout),
			subs:     make(map[uint64]*Subscription),
		}
		if w.cfg.Ledger != nil {
			if rec, ok := w.cfg.Ledger.Get(sub.txID); ok {
				wt.last = rec.Status
				wt.errMsg = rec.ErrorMessage
				wt.done = rec.Status.IsExecuteFinished() || rec.Status.IsFailed()
			}
		}
		w.watches[sub.txID] = wt
		if !wt.done {
			w.cfg.Metrics.WatchStarted()
		}
		w.log.Debug("watching transaction", "tx_id", sub.txID)
	}

	sub.updates.Start()
	wt.subs[sub.id] = sub

	if wt.last != types.TxStatusUnknown {
		w.deliver(sub, &Update{TxID: wt.txID, Status: wt.last, ErrorMessage: wt.errMsg})
	}
}

func (w *Watcher) handleCancel(req cancelRequest) {
	defer close(req.done)

	wt, ok := w.watches[req.txID]
	if !ok {
		return
	}
	sub, ok := wt.subs[req.subID]
	if !ok {
		return
	}
	w.closeSubscription(sub)
	delete(wt.subs, req.subID)

	if len(wt.subs) == 0 {
		if !wt.done {
			w.cfg.Metrics.WatchStopped("CANCELLED")
		}
		delete(w.watches, req.txID)
	}
}

func (w *Watcher) closeSubscription(sub *Subscription) {
	sub.updates.Stop()
	close(sub.quit)
}

func (w *Watcher) pollAll(ctx context.Context) {
	now := w.cfg.Clock.Now()

	for _, wt := range w.watches {
		if wt.done {
			continue
		}

		if !now.Before(wt.deadline) {
			wt.done = true
			w.cfg.Metrics.WatchStopped("TIMEOUT")
			w.log.Warn("transaction watch timed out", "tx_id", wt.txID, "last_status", wt.last)
			w.broadcast(wt, &Update{TxID: wt.txID, Status: wt.last, Err: ErrWatchTimeout})
			continue
		}

		w.poll(ctx, wt)
	}
}

func (w *Watcher) poll(ctx context.Context, wt *watch) {
	pollCtx, cancel := context.WithTimeout(ctx, w.cfg.PollTimeout)
	defer cancel()

	if err := w.limiter.Wait(pollCtx); err != nil {
		return
	}

	res, err := w.cfg.Chain.TransactionStatus(pollCtx, wt.txID)
	if err != nil {
		w.cfg.Metrics.ChainPoll("error")
		w.log.Debug("status poll failed", "tx_id", wt.txID, "error", err)
		return
	}
	w.cfg.Metrics.ChainPoll("ok")

	if res.Status.Rank() <= wt.last.Rank() {
		return
	}
	wt.last = res.Status
	wt.errMsg = res.ErrorMessage

	if w.cfg.Ledger != nil {
		if _, err := w.cfg.Ledger.Update(ctx, wt.txID, res.Status, res.ErrorMessage); err != nil {
			w.log.Warn("ledger update failed", "tx_id", wt.txID, "error", err)
		}
	}

	if res.Status.IsExecuteFinished() || res.Status.IsFailed() {
		wt.done = true
		w.cfg.Metrics.WatchStopped(res.Status.String())
		w.log.Info("transaction finished", "tx_id", wt.txID, "status", res.Status)
	}

	w.broadcast(wt, &Update{TxID: wt.txID, Status: res.Status, ErrorMessage: res.ErrorMessage})
}

func (w *Watcher) broadcast(wt *watch, u *Update) {
	for _, sub := range wt.subs {
		w.deliver(sub, u)
	}
}

func (w *Watcher) deliver(sub *Subscription, u *Update) {
	if u.Err == nil {
		if _, ok := sub.seen[u.Status]; ok {
			return
		}
		sub.seen[u.Status] = struct{}{}
	}

	select {
	case sub.updates.ChanIn() <- u:
	case <-w.quit:
	}
}
