package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Client abstracts an OpenAI-compatible inference endpoint. The serverless
// GPU backends (vLLM behind Modal/RunPod) all speak this API.
type Client interface {
	// Generate sends a prompt and returns the full completion.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	// GenerateStream sends a prompt and returns a token stream.
	GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error)
}

// Stream is an incremental token stream. Recv returns io.EOF when the
// stream ends cleanly.
type Stream interface {
	Recv() (string, error)
	Close()
}

// GenerateRequest is a single-prompt generation request.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// GenerateResponse holds a completed generation.
type GenerateResponse struct {
	Content string
}

// StreamReader wraps a streaming completion response.
type StreamReader struct {
	stream *openai.ChatCompletionStream
}

// Recv reads the next token chunk. It returns io.EOF when the upstream
// stream ends cleanly.
func (s *StreamReader) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Delta.Content, nil
	}
	return "", nil
}

// Close closes the stream.
func (s *StreamReader) Close() {
	s.stream.Close()
}

// OpenAIClient implements Client against an OpenAI-compatible API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature *float64
	maxTokens   int
}

// NewOpenAIClient creates a client for one upstream endpoint.
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	cfg := &clientConfig{
		baseURL: "http://localhost:8000/v1",
		apiKey:  "not-needed",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	config := openai.DefaultConfig(cfg.apiKey)
	config.BaseURL = cfg.baseURL

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}
}

// Generate sends a non-streaming completion request.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req = c.applyDefaults(req)

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	return &GenerateResponse{Content: resp.Choices[0].Message.Content}, nil
}

// GenerateStream sends a streaming completion request.
func (c *OpenAIClient) GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error) {
	req = c.applyDefaults(req)

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("generation stream failed: %w", err)
	}
	return &StreamReader{stream: stream}, nil
}

func (c *OpenAIClient) buildRequest(req GenerateRequest) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
}

// applyDefaults applies client-level defaults where the request does not
// specify its own values.
func (c *OpenAIClient) applyDefaults(req GenerateRequest) GenerateRequest {
	if req.Model == "" && c.model != "" {
		req.Model = c.model
	}
	if req.Temperature == 0 && c.temperature != nil {
		req.Temperature = *c.temperature
	}
	if req.MaxTokens == 0 && c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	return req
}

// CollectStream reads all chunks from a Stream and returns the full content.
func CollectStream(sr Stream) (string, error) {
	defer sr.Close()
	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
