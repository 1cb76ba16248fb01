// Package endpoint maps logical model names to upstream inference endpoints.
package endpoint

import (
	"fmt"
	"sort"
	"strings"
)

// Endpoint is an upstream URL + credential pair serving one named model.
type Endpoint struct {
	Model   string
	BaseURL string
	APIKey  string
}

// UnknownModelError is returned when a model has no registered endpoint.
type UnknownModelError struct {
	Model     string
	Available []string
}

func (e *UnknownModelError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown model %q: no endpoints registered", e.Model)
	}
	return fmt.Sprintf("unknown model %q: available models: %s",
		e.Model, strings.Join(e.Available, ", "))
}

// Registry is the model endpoint directory. It is populated once at startup
// and read-only afterward, so lookups need no locking.
type Registry struct {
	endpoints map[string]Endpoint
}

// NewRegistry creates an empty endpoint directory.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]Endpoint)}
}

// Register adds a model endpoint. Call only during startup, before the
// registry is shared; registering the same model twice replaces the entry.
func (r *Registry) Register(model, baseURL, apiKey string) error {
	if model == "" {
		return fmt.Errorf("model name must not be empty")
	}
	if baseURL == "" {
		return fmt.Errorf("endpoint URL for model %q must not be empty", model)
	}
	r.endpoints[model] = Endpoint{Model: model, BaseURL: baseURL, APIKey: apiKey}
	return nil
}

// Resolve returns the endpoint for a model, or an UnknownModelError listing
// the registered models.
func (r *Registry) Resolve(model string) (Endpoint, error) {
	ep, ok := r.endpoints[model]
	if !ok {
		return Endpoint{}, &UnknownModelError{Model: model, Available: r.Models()}
	}
	return ep, nil
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}
