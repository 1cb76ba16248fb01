// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/neuralripper/neuralripper/internal/llm"
)

// MockStreamClient is a configurable mock for llm.Client used across test
// packages. Streams are scripted per prompt.
type MockStreamClient struct {
	mu sync.Mutex

	// Tokens maps prompts to the token sequence their stream yields.
	Tokens map[string][]string

	// DefaultTokens is streamed when a prompt has no entry in Tokens.
	DefaultTokens []string

	// CallErrs maps prompts to an error returned by GenerateStream itself.
	CallErrs map[string]error

	// StreamErrs maps prompts to an error the stream ends with instead of
	// a clean EOF (after yielding its tokens).
	StreamErrs map[string]error

	// Hold, when non-nil, makes streams block after their scripted tokens
	// until the channel is closed (or the request context ends). When
	// HoldPrompts is non-empty, only those prompts' streams block.
	Hold        chan struct{}
	HoldPrompts map[string]bool

	requests []llm.GenerateRequest
	contexts []context.Context
}

func (m *MockStreamClient) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	sr, err := m.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}
	content, err := llm.CollectStream(sr)
	if err != nil {
		return nil, err
	}
	return &llm.GenerateResponse{Content: content}, nil
}

func (m *MockStreamClient) GenerateStream(ctx context.Context, req llm.GenerateRequest) (llm.Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.contexts = append(m.contexts, ctx)
	hold := m.Hold
	m.mu.Unlock()

	if err, ok := m.CallErrs[req.Prompt]; ok {
		return nil, err
	}

	tokens, ok := m.Tokens[req.Prompt]
	if !ok {
		tokens = m.DefaultTokens
	}
	if len(m.HoldPrompts) > 0 && !m.HoldPrompts[req.Prompt] {
		hold = nil
	}
	return &scriptedStream{
		ctx:    ctx,
		tokens: tokens,
		err:    m.StreamErrs[req.Prompt],
		hold:   hold,
	}, nil
}

// Calls returns the number of GenerateStream invocations so far.
func (m *MockStreamClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of all requests seen so far.
func (m *MockStreamClient) Requests() []llm.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.GenerateRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastContext returns the context of the most recent call, or nil.
func (m *MockStreamClient) LastContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

// scriptedStream yields its tokens, then ends with err (or io.EOF). When
// hold is set it blocks before ending, so tests can keep a call in flight.
type scriptedStream struct {
	ctx    context.Context
	tokens []string
	err    error
	hold   chan struct{}
	pos    int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos < len(s.tokens) {
		tok := s.tokens[s.pos]
		s.pos++
		return tok, nil
	}
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() {}

// EchoTokens splits text into whitespace-delimited tokens, a convenient way
// to script a stream from a sentence.
func EchoTokens(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			f += " "
		}
		tokens = append(tokens, f)
	}
	return tokens
}
