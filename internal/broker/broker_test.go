package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralripper/neuralripper/internal/endpoint"
	"github.com/neuralripper/neuralripper/internal/llm"
	"github.com/neuralripper/neuralripper/internal/testutil"
)

// dispatchRecorder captures observer callbacks for batch assertions.
type dispatchRecorder struct {
	mu      sync.Mutex
	batches []int
}

func (d *dispatchRecorder) observe(_ string, size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, size)
}

func (d *dispatchRecorder) sizes() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.batches))
	copy(out, d.batches)
	return out
}

func newTestRegistry(t *testing.T, models ...string) *endpoint.Registry {
	t.Helper()
	reg := endpoint.NewRegistry()
	for _, m := range models {
		require.NoError(t, reg.Register(m, "https://inference.example.com/v1", "sk-test"))
	}
	return reg
}

func newTestBroker(t *testing.T, mock *testutil.MockStreamClient, opts ...Option) *Broker {
	t.Helper()
	opts = append(opts, WithClientFactory(func(_ endpoint.Endpoint) llm.Client {
		return mock
	}))
	b, err := New(newTestRegistry(t, "qwen"), opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

// collectUntilTerminal drains a request's event channel through its terminal
// event.
func collectUntilTerminal(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
			if ev.Terminal() {
				return out
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for terminal event, got %v so far", out)
		}
	}
}

func TestSubmitUnknownModelFailsBeforeQueueAdmission(t *testing.T) {
	mock := &testutil.MockStreamClient{DefaultTokens: []string{"x"}}
	rec := &dispatchRecorder{}
	b := newTestBroker(t, mock, WithDispatchObserver(rec.observe))

	_, err := b.Submit(context.Background(), "llama", "hello")
	require.Error(t, err)

	var unknownErr *endpoint.UnknownModelError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "llama", unknownErr.Model)
	assert.Equal(t, []string{"qwen"}, unknownErr.Available)

	// Nothing was queued or dispatched.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, mock.Calls())
	assert.Empty(t, rec.sizes())
}

func TestRoundTripEventSequence(t *testing.T) {
	mock := &testutil.MockStreamClient{
		Tokens: map[string][]string{"hello": {"hi", "there"}},
	}
	b := newTestBroker(t, mock, WithWindow(10*time.Millisecond))

	events, err := b.Submit(context.Background(), "qwen", "hello")
	require.NoError(t, err)

	got := collectUntilTerminal(t, events)
	require.Equal(t, []Event{TokenEvent("hi"), TokenEvent("there"), DoneEvent()}, got)
}

func TestEmptyPromptPassesThroughUnchanged(t *testing.T) {
	mock := &testutil.MockStreamClient{DefaultTokens: []string{"ok"}}
	b := newTestBroker(t, mock, WithWindow(10*time.Millisecond))

	events, err := b.Submit(context.Background(), "qwen", "")
	require.NoError(t, err)
	collectUntilTerminal(t, events)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "", reqs[0].Prompt)
}

func TestRequestsWithinWindowShareBatch(t *testing.T) {
	mock := &testutil.MockStreamClient{DefaultTokens: []string{"x"}}
	rec := &dispatchRecorder{}
	b := newTestBroker(t, mock,
		WithWindow(200*time.Millisecond),
		WithDispatchObserver(rec.observe),
	)

	ctx := context.Background()
	ev1, err := b.Submit(ctx, "qwen", "first")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	ev2, err := b.Submit(ctx, "qwen", "second")
	require.NoError(t, err)

	collectUntilTerminal(t, ev1)
	collectUntilTerminal(t, ev2)

	// A request arriving after the first batch's window starts a new batch.
	time.Sleep(250 * time.Millisecond)
	ev3, err := b.Submit(ctx, "qwen", "third")
	require.NoError(t, err)
	collectUntilTerminal(t, ev3)

	assert.Eventually(t, func() bool {
		return len(rec.sizes()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{2, 1}, rec.sizes())
}

func TestBatchSizeCapDispatchesBeforeWindow(t *testing.T) {
	mock := &testutil.MockStreamClient{DefaultTokens: []string{"x"}}
	rec := &dispatchRecorder{}
	b := newTestBroker(t, mock,
		WithWindow(time.Hour), // only the cap can trigger the first dispatch
		WithMaxBatchSize(5),
		WithDispatchObserver(rec.observe),
	)

	ctx := context.Background()
	var chans []<-chan Event
	for i := 0; i < 5; i++ {
		events, err := b.Submit(ctx, "qwen", "prompt")
		require.NoError(t, err)
		chans = append(chans, events)
	}

	for _, events := range chans {
		collectUntilTerminal(t, events)
	}

	sizes := rec.sizes()
	require.Len(t, sizes, 1)
	assert.Equal(t, 5, sizes[0])
}

func TestSiblingFailureIsolation(t *testing.T) {
	mock := &testutil.MockStreamClient{
		Tokens:     map[string][]string{"good": {"fine"}},
		StreamErrs: map[string]error{"bad": errors.New("connection reset")},
	}
	b := newTestBroker(t, mock, WithWindow(100*time.Millisecond))

	ctx := context.Background()
	goodEvents, err := b.Submit(ctx, "qwen", "good")
	require.NoError(t, err)
	badEvents, err := b.Submit(ctx, "qwen", "bad")
	require.NoError(t, err)

	good := collectUntilTerminal(t, goodEvents)
	bad := collectUntilTerminal(t, badEvents)

	require.Equal(t, []Event{TokenEvent("fine"), DoneEvent()}, good)
	require.NotEmpty(t, bad)
	last := bad[len(bad)-1]
	assert.Contains(t, last.Err, "connection reset")
	assert.False(t, last.Done)
}

func TestUpstreamCallErrorYieldsErrorEvent(t *testing.T) {
	mock := &testutil.MockStreamClient{
		CallErrs: map[string]error{"hello": errors.New("endpoint unreachable")},
	}
	b := newTestBroker(t, mock, WithWindow(10*time.Millisecond))

	events, err := b.Submit(context.Background(), "qwen", "hello")
	require.NoError(t, err)

	got := collectUntilTerminal(t, events)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Err, "endpoint unreachable")
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	mock := &testutil.MockStreamClient{
		Tokens: map[string][]string{"hello": {"a", "b", "c"}},
	}
	b := newTestBroker(t, mock, WithWindow(10*time.Millisecond))

	events, err := b.Submit(context.Background(), "qwen", "hello")
	require.NoError(t, err)

	got := collectUntilTerminal(t, events)
	terminals := 0
	for _, ev := range got {
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	assert.True(t, got[len(got)-1].Terminal())

	// No further events after the terminal one.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after terminal: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelledRequestCancelsUpstreamCall(t *testing.T) {
	hold := make(chan struct{})
	mock := &testutil.MockStreamClient{
		DefaultTokens: []string{"partial"},
		Hold:          hold,
	}
	b := newTestBroker(t, mock, WithWindow(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.Submit(ctx, "qwen", "hello")
	require.NoError(t, err)

	// Wait for the call to reach the upstream, then drop the client.
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no token received")
	}
	cancel()

	assert.Eventually(t, func() bool {
		upstreamCtx := mock.LastContext()
		return upstreamCtx != nil && upstreamCtx.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)
	close(hold)
}

func TestSubmitAfterCloseReturnsErrClosed(t *testing.T) {
	mock := &testutil.MockStreamClient{DefaultTokens: []string{"x"}}
	opts := []Option{WithClientFactory(func(_ endpoint.Endpoint) llm.Client { return mock })}
	b, err := New(newTestRegistry(t, "qwen"), opts...)
	require.NoError(t, err)
	b.Close()

	_, err = b.Submit(context.Background(), "qwen", "hello")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestModelsQueuesAreIndependent(t *testing.T) {
	hold := make(chan struct{})
	mock := &testutil.MockStreamClient{
		Tokens:      map[string][]string{"fast": {"ok"}},
		Hold:        hold,
		HoldPrompts: map[string]bool{"slow": true},
	}
	reg := newTestRegistry(t, "qwen", "llama-3-70b")
	b, err := New(reg,
		WithWindow(10*time.Millisecond),
		WithClientFactory(func(_ endpoint.Endpoint) llm.Client { return mock }),
	)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	t.Cleanup(func() { close(hold) })

	ctx := context.Background()

	// A stalled stream on one model must not block the other model's queue.
	_, err = b.Submit(ctx, "llama-3-70b", "slow")
	require.NoError(t, err)

	events, err := b.Submit(ctx, "qwen", "fast")
	require.NoError(t, err)
	got := collectUntilTerminal(t, events)
	assert.Equal(t, []Event{TokenEvent("ok"), DoneEvent()}, got)
}
