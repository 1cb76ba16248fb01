package server

import (
	"github.com/neuralripper/neuralripper/internal/broker"
	"github.com/neuralripper/neuralripper/internal/dashboard"
	"github.com/neuralripper/neuralripper/internal/endpoint"
)

// ServerContext holds the shared dependencies for HTTP, WebSocket, and MCP
// handlers.
type ServerContext struct {
	Registry *endpoint.Registry
	Broker   *broker.Broker
	Tracker  dashboard.Tracker
}
