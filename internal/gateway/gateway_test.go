package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralripper/neuralripper/internal/broker"
	"github.com/neuralripper/neuralripper/internal/endpoint"
)

// fakeSubmitter scripts broker behavior per prompt and records submissions.
type fakeSubmitter struct {
	mu       sync.Mutex
	contexts []context.Context
	prompts  []string
	events   map[string][]broker.Event // prompt -> canned events
	manual   map[string]chan broker.Event
	unknown  map[string]bool // model -> reject as unknown
}

func (f *fakeSubmitter) Submit(ctx context.Context, model, prompt string) (<-chan broker.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts = append(f.contexts, ctx)
	f.prompts = append(f.prompts, prompt)

	if f.unknown[model] {
		return nil, &endpoint.UnknownModelError{Model: model, Available: []string{"qwen"}}
	}
	if ch, ok := f.manual[prompt]; ok {
		return ch, nil
	}

	ch := make(chan broker.Event, 16)
	for _, ev := range f.events[prompt] {
		ch <- ev
	}
	return ch, nil
}

func (f *fakeSubmitter) lastContext() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.contexts) == 0 {
		return nil
	}
	return f.contexts[len(f.contexts)-1]
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(srv.URL, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestRoundTripEventSequence(t *testing.T) {
	fake := &fakeSubmitter{
		events: map[string][]broker.Event{
			"hello": {broker.TokenEvent("hi"), broker.TokenEvent("there"), broker.DoneEvent()},
		},
	}
	srv := httptest.NewServer(NewHandler(fake))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]string{"model": "qwen", "prompt": "hello"}))

	assert.Equal(t, map[string]any{"token": "hi"}, readFrame(t, conn))
	assert.Equal(t, map[string]any{"token": "there"}, readFrame(t, conn))
	assert.Equal(t, map[string]any{"done": true}, readFrame(t, conn))
}

func TestUnknownModelErrorKeepsConnectionOpen(t *testing.T) {
	fake := &fakeSubmitter{
		unknown: map[string]bool{"llama": true},
		events: map[string][]broker.Event{
			"hello": {broker.TokenEvent("ok"), broker.DoneEvent()},
		},
	}
	srv := httptest.NewServer(NewHandler(fake))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]string{"model": "llama", "prompt": "hi"}))

	frame := readFrame(t, conn)
	errMsg, ok := frame["error"].(string)
	require.True(t, ok, "expected error frame, got %v", frame)
	assert.Contains(t, errMsg, "llama")
	assert.Contains(t, errMsg, "qwen")

	// The same connection accepts the next request.
	require.NoError(t, conn.WriteJSON(map[string]string{"model": "qwen", "prompt": "hello"}))
	assert.Equal(t, map[string]any{"token": "ok"}, readFrame(t, conn))
	assert.Equal(t, map[string]any{"done": true}, readFrame(t, conn))
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	fake := &fakeSubmitter{
		events: map[string][]broker.Event{
			"hello": {broker.DoneEvent()},
		},
	}
	srv := httptest.NewServer(NewHandler(fake))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	frame := readFrame(t, conn)
	assert.Contains(t, frame, "error")

	require.NoError(t, conn.WriteJSON(map[string]string{"model": "qwen", "prompt": "hello"}))
	assert.Equal(t, map[string]any{"done": true}, readFrame(t, conn))
}

func TestSecondPromptWhileBusyIsRejected(t *testing.T) {
	inflight := make(chan broker.Event, 16)
	fake := &fakeSubmitter{
		manual: map[string]chan broker.Event{"slow": inflight},
	}
	srv := httptest.NewServer(NewHandler(fake))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]string{"model": "qwen", "prompt": "slow"}))

	// Give the first request time to become in-flight before racing it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.WriteJSON(map[string]string{"model": "qwen", "prompt": "eager"}))

	frame := readFrame(t, conn)
	errMsg, ok := frame["error"].(string)
	require.True(t, ok, "expected rejection frame, got %v", frame)
	assert.Contains(t, errMsg, "in progress")

	// The in-flight stream is unaffected by the rejection.
	inflight <- broker.TokenEvent("still")
	inflight <- broker.DoneEvent()
	assert.Equal(t, map[string]any{"token": "still"}, readFrame(t, conn))
	assert.Equal(t, map[string]any{"done": true}, readFrame(t, conn))

	// After the terminal event the connection accepts prompts again.
	fake.mu.Lock()
	fake.events = map[string][]broker.Event{"next": {broker.DoneEvent()}}
	fake.mu.Unlock()
	require.NoError(t, conn.WriteJSON(map[string]string{"model": "qwen", "prompt": "next"}))
	assert.Equal(t, map[string]any{"done": true}, readFrame(t, conn))
}

func TestDisconnectCancelsInflightRequest(t *testing.T) {
	inflight := make(chan broker.Event)
	fake := &fakeSubmitter{
		manual: map[string]chan broker.Event{"slow": inflight},
	}
	srv := httptest.NewServer(NewHandler(fake))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]string{"model": "qwen", "prompt": "slow"}))

	require.Eventually(t, func() bool {
		return fake.lastContext() != nil
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool {
		return fake.lastContext().Err() != nil
	}, 2*time.Second, 10*time.Millisecond)
}
