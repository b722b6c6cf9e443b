package txwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/multikey/internal/flow/flowtest"
	"github.com/better-wallet/multikey/internal/metrics"
	"github.com/better-wallet/multikey/pkg/types"
)

var testStart = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

// forceTicker only ticks when the test says so
type forceTicker struct {
	ch chan time.Time
}

func newForceTicker() *forceTicker { return &forceTicker{ch: make(chan time.Time)} }

func (f *forceTicker) Ticks() <-chan time.Time { return f.ch }
func (f *forceTicker) Resume()                 {}
func (f *forceTicker) Pause()                  {}
func (f *forceTicker) Stop()                   {}

type harness struct {
	w      *Watcher
	chain  *flowtest.Chain
	ticker *forceTicker
	clock  *clock.TestClock
	ledger *Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chain:  flowtest.NewChain(),
		ticker: newForceTicker(),
		clock:  clock.NewTestClock(testStart),
		ledger: NewLedger(nil),
	}
	h.w = New(Config{
		Chain:   h.chain,
		Ledger:  h.ledger,
		Timeout: time.Minute,
		Ticker:  h.ticker,
		Clock:   h.clock,
		Metrics: metrics.New(),
	})
	require.NoError(t, h.w.Start())
	t.Cleanup(func() { h.w.Stop() })
	return h
}

// tick polls once and waits for the poll to complete
func (h *harness) tick() {
	h.ticker.ch <- time.Now()
	h.w.Watching()
}

func recv(t *testing.T, sub *Subscription) *Update {
	t.Helper()
	select {
	case u := <-sub.Updates():
		return u.(*Update)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
		return nil
	}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_TerminalDeliveredOnce(t *testing.T) {
	h := newHarness(t)
	h.chain.Script("tx1", types.TxStatusPending, types.TxStatusExecuted, types.TxStatusSealed)

	sub, err := h.w.Watch("tx1")
	require.NoError(t, err)
	defer sub.Cancel()

	h.tick()
	assert.Equal(t, types.TxStatusPending, recv(t, sub).Status)

	h.tick()
	u := recv(t, sub)
	assert.Equal(t, types.TxStatusExecuted, u.Status)
	assert.True(t, u.Finished())
	assert.NoError(t, u.Err)

	h.tick()
	h.tick()
	expectNone(t, sub)
	assert.Equal(t, 2, h.chain.Polls("tx1"))
	assert.Zero(t, h.w.Watching())
}

func TestWatch_RepeatedStatusNotRedelivered(t *testing.T) {
	h := newHarness(t)
	h.chain.Script("tx1", types.TxStatusPending, types.TxStatusPending, types.TxStatusPending, types.TxStatusExpired)

	sub, err := h.w.Watch("tx1")
	require.NoError(t, err)
	defer sub.Cancel()

	for i := 0; i < 3; i++ {
		h.tick()
	}
	assert.Equal(t, types.TxStatusPending, recv(t, sub).Status)
	expectNone(t, sub)

	h.tick()
	u := recv(t, sub)
	assert.Equal(t, types.TxStatusExpired, u.Status)
	assert.True(t, u.Finished())
}

func TestWatch_IndependentSubscribers(t *testing.T) {
	h := newHarness(t)
	h.chain.Script("tx1", types.TxStatusPending, types.TxStatusSealed)

	a, err := h.w.Watch("tx1")
	require.NoError(t, err)
	b, err := h.w.Watch("tx1")
	require.NoError(t, err)
	defer b.Cancel()

	h.tick()
	assert.Equal(t, types.TxStatusPending, recv(t, a).Status)
	assert.Equal(t, types.TxStatusPending, recv(t, b).Status)

	a.Cancel()
	select {
	case <-a.Quit():
	default:
		t.Fatal("cancelled subscription quit not closed")
	}

	h.tick()
	assert.Equal(t, types.TxStatusSealed, recv(t, b).Status)
	assert.Equal(t, 2, h.chain.Polls("tx1"))
}

func TestWatch_CancelLastSubscriberStopsPolling(t *testing.T) {
	h := newHarness(t)

	sub, err := h.w.Watch("tx1")
	require.NoError(t, err)
	h.tick()
	assert.Equal(t, 1, h.w.Watching())

	sub.Cancel()
	assert.Zero(t, h.w.Watching())

	h.tick()
	assert.Equal(t, 1, h.chain.Polls("tx1"))
}

func TestWatch_Timeout(t *testing.T) {
	h := newHarness(t)

	sub, err := h.w.Watch("tx1")
	require.NoError(t, err)
	defer sub.Cancel()

	h.tick()
	assert.Equal(t, types.TxStatusPending, recv(t, sub).Status)

	h.clock.SetTime(testStart.Add(2 * time.Minute))
	h.tick()

	u := recv(t, sub)
	assert.True(t, errors.Is(u.Err, ErrWatchTimeout))
	assert.Equal(t, types.TxStatusPending, u.Status)
	assert.True(t, u.Finished())

	h.tick()
	expectNone(t, sub)
	assert.Equal(t, 1, h.chain.Polls("tx1"))
}

func TestWatch_PollErrorsKeepWatching(t *testing.T) {
	h := newHarness(t)
	h.chain.PollErr = errors.New("access node unavailable")

	sub, err := h.w.Watch("tx1")
	require.NoError(t, err)
	defer sub.Cancel()

	h.tick()
	h.tick()
	expectNone(t, sub)

	h.chain.PollErr = nil
	h.chain.Script("tx1", types.TxStatusExecuted)
	h.tick()
	assert.Equal(t, types.TxStatusExecuted, recv(t, sub).Status)
}

func TestWatch_UpdatesLedgerAndLateSubscriber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ledger.Append(ctx, types.TransactionRecord{ID: "tx1", Time: testStart, Type: types.TxTypeAddPublicKey}))
	h.chain.Script("tx1", types.TxStatusSealed)

	first, err := h.w.Watch("tx1")
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusPending, recv(t, first).Status)

	h.tick()
	assert.Equal(t, types.TxStatusSealed, recv(t, first).Status)

	rec, ok := h.ledger.Get("tx1")
	require.True(t, ok)
	assert.Equal(t, types.TxStatusSealed, rec.Status)

	late, err := h.w.Watch("tx1")
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusSealed, recv(t, late).Status)
	expectNone(t, late)

	first.Cancel()
	late.Cancel()
}

func TestWatcher_Stop(t *testing.T) {
	h := newHarness(t)

	sub, err := h.w.Watch("tx1")
	require.NoError(t, err)

	require.NoError(t, h.w.Stop())
	select {
	case <-sub.Quit():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on stop")
	}

	_, err = h.w.Watch("tx2")
	assert.ErrorIs(t, err, ErrWatcherStopped)
	assert.NotPanics(t, sub.Cancel)
}
