// Package broker groups concurrent inference requests into time-windowed
// per-model batches before dispatching them to the upstream endpoints.
//
// Batching here is a fan-out scheduling decision, not payload merging: each
// request in a batch becomes its own upstream call, issued concurrently, and
// the upstream vLLM runtime does its own internal batching. One worker
// goroutine owns each model's queue; requests are handed off over a channel,
// so no queue state is ever shared between goroutines.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuralripper/neuralripper/internal/endpoint"
	"github.com/neuralripper/neuralripper/internal/llm"
)

const (
	// DefaultWindow is how long a batch collects after its first request.
	// The deadline is fixed at first arrival; later requests do not extend it.
	DefaultWindow = 100 * time.Millisecond

	// DefaultMaxBatchSize caps requests per batch. The cap, not the timer,
	// is the backpressure bound under sustained arrival.
	DefaultMaxBatchSize = 5

	// queueDepth is the per-model admission channel capacity.
	queueDepth = 64
)

// ErrClosed is returned by Submit after the broker has shut down.
var ErrClosed = errors.New("broker is closed")

// ClientFactory builds an inference client for one endpoint. Overridable for
// tests via WithClientFactory.
type ClientFactory func(ep endpoint.Endpoint) llm.Client

// DispatchObserver is notified with the model and batch size at every batch
// dispatch.
type DispatchObserver func(model string, batchSize int)

type request struct {
	id     string
	model  string
	prompt string
	ctx    context.Context
	events chan Event
}

// Broker owns one collection/dispatch worker per registered model.
type Broker struct {
	registry *endpoint.Registry
	clients  map[string]llm.Client
	queues   map[string]chan *request

	window   time.Duration
	maxBatch int
	factory  ClientFactory
	observer DispatchObserver

	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

// Option configures a Broker.
type Option func(*Broker)

// WithWindow sets the batch collection window.
func WithWindow(d time.Duration) Option {
	return func(b *Broker) {
		b.window = d
	}
}

// WithMaxBatchSize sets the per-batch request cap.
func WithMaxBatchSize(n int) Option {
	return func(b *Broker) {
		b.maxBatch = n
	}
}

// WithClientFactory overrides how per-endpoint clients are built.
func WithClientFactory(f ClientFactory) Option {
	return func(b *Broker) {
		b.factory = f
	}
}

// WithDispatchObserver registers a callback invoked at each batch dispatch.
func WithDispatchObserver(fn DispatchObserver) Option {
	return func(b *Broker) {
		b.observer = fn
	}
}

// New creates a broker for every endpoint in the registry and starts its
// workers. Call Close to stop them.
func New(registry *endpoint.Registry, opts ...Option) (*Broker, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("no model endpoints registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		registry: registry,
		clients:  make(map[string]llm.Client),
		queues:   make(map[string]chan *request),
		window:   DefaultWindow,
		maxBatch: DefaultMaxBatchSize,
		factory:  defaultClientFactory,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, model := range registry.Models() {
		ep, err := registry.Resolve(model)
		if err != nil {
			cancel()
			return nil, err
		}
		b.clients[model] = b.factory(ep)
		b.queues[model] = make(chan *request, queueDepth)
		b.workers.Add(1)
		go b.worker(model)
	}

	slog.Info("broker started",
		"models", registry.Models(),
		"window", b.window,
		"max_batch_size", b.maxBatch,
	)
	return b, nil
}

// Submit enqueues a prompt for the given model and returns the channel its
// response events arrive on. An unknown model fails here, before any queue
// admission. The returned channel delivers zero or more token events followed
// by exactly one terminal event; it is abandoned (not closed with pending
// events) if ctx is cancelled.
func (b *Broker) Submit(ctx context.Context, model, prompt string) (<-chan Event, error) {
	if _, err := b.registry.Resolve(model); err != nil {
		return nil, err
	}

	req := &request{
		id:     uuid.NewString(),
		model:  model,
		prompt: prompt,
		ctx:    ctx,
		events: make(chan Event, 16),
	}

	select {
	case b.queues[model] <- req:
		slog.Debug("request enqueued", "request_id", req.id, "model", model)
		return req.events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, ErrClosed
	}
}

// Close stops all workers and waits for in-flight upstream calls to finish.
func (b *Broker) Close() {
	b.cancel()
	b.workers.Wait()
	b.inflight.Wait()
}

// worker runs the Idle -> Collecting -> Dispatching loop for one model.
// Dispatch happens in separate goroutines, so a new collection phase can
// start while previous calls are still streaming.
func (b *Broker) worker(model string) {
	defer b.workers.Done()
	queue := b.queues[model]

	for {
		select {
		case <-b.ctx.Done():
			return
		case first := <-queue:
			batch := b.collect(queue, first)
			if b.observer != nil {
				b.observer(model, len(batch))
			}
			slog.Debug("dispatching batch", "model", model, "size", len(batch))
			for _, req := range batch {
				b.inflight.Add(1)
				go b.stream(req)
			}
		}
	}
}

// collect admits requests into a batch until the window elapses or the batch
// is full, whichever comes first. The deadline is anchored to the first
// request's arrival.
func (b *Broker) collect(queue chan *request, first *request) []*request {
	batch := []*request{first}
	timer := time.NewTimer(b.window)
	defer timer.Stop()

	for len(batch) < b.maxBatch {
		select {
		case req := <-queue:
			batch = append(batch, req)
		case <-timer.C:
			return batch
		case <-b.ctx.Done():
			return batch
		}
	}
	return batch
}

// stream issues one upstream call and relays its tokens to the request's
// event channel. Failures reach only this request's channel; batch siblings
// stream independently.
func (b *Broker) stream(req *request) {
	defer b.inflight.Done()

	// Caller gone before dispatch: drop the request silently.
	if req.ctx.Err() != nil {
		return
	}

	sr, err := b.clients[req.model].GenerateStream(req.ctx, llm.GenerateRequest{
		Model:  req.model,
		Prompt: req.prompt,
	})
	if err != nil {
		slog.Warn("upstream call failed", "request_id", req.id, "model", req.model, "error", err)
		b.deliver(req, ErrorEvent(err.Error()))
		return
	}
	defer sr.Close()

	for {
		chunk, err := sr.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.deliver(req, DoneEvent())
			} else {
				slog.Warn("upstream stream broke", "request_id", req.id, "model", req.model, "error", err)
				b.deliver(req, ErrorEvent(err.Error()))
			}
			return
		}
		if chunk == "" {
			continue
		}
		if !b.deliver(req, TokenEvent(chunk)) {
			return
		}
	}
}

// deliver sends an event unless the caller's context is gone. Returns false
// when the caller has disconnected and the stream should be abandoned.
func (b *Broker) deliver(req *request, ev Event) bool {
	select {
	case req.events <- ev:
		return true
	case <-req.ctx.Done():
		return false
	}
}

func defaultClientFactory(ep endpoint.Endpoint) llm.Client {
	return llm.NewOpenAIClient(
		llm.WithBaseURL(ep.BaseURL),
		llm.WithAPIKey(ep.APIKey),
		llm.WithModel(ep.Model),
		llm.WithTemperature(llm.DefaultTemperature),
		llm.WithMaxTokens(llm.DefaultMaxTokens),
	)
}
