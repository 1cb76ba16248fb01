package llm

// Default sampling settings applied when neither the client nor the request
// specifies its own values.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// clientConfig holds configuration for an inference client.
type clientConfig struct {
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	maxTokens   int
}

// Option is a functional option for configuring an inference client.
type Option func(*clientConfig)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model name for requests.
// Per-request model settings in GenerateRequest take precedence.
func WithModel(model string) Option {
	return func(c *clientConfig) {
		c.model = model
	}
}

// WithTemperature sets the default temperature for requests.
// Per-request temperature settings in GenerateRequest take precedence.
func WithTemperature(temp float64) Option {
	return func(c *clientConfig) {
		c.temperature = &temp
	}
}

// WithMaxTokens caps generated tokens per request.
// Per-request settings in GenerateRequest take precedence.
func WithMaxTokens(n int) Option {
	return func(c *clientConfig) {
		c.maxTokens = n
	}
}
