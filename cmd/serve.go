package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/neuralripper/neuralripper/internal/broker"
	"github.com/neuralripper/neuralripper/internal/endpoint"
	mcptools "github.com/neuralripper/neuralripper/internal/mcp"
	"github.com/neuralripper/neuralripper/internal/mlflow"
	"github.com/neuralripper/neuralripper/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		httpAddr     string
		mlflowURI    string
		batchWindow  time.Duration
		maxBatchSize int
		enableMCP    bool
		mcpEndpoint  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard and inference server",
		Long: `Start the HTTP server hosting the dashboard query API (under /api), the
token-streaming WebSocket gateway (at /ws/eval), and optionally an MCP
endpoint exposing the same queries as tools.

Model endpoints come from the models config file; the tracking server URI
from --mlflow-uri or MLFLOW_TRACKING_URI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelsConfig, _ := cmd.Flags().GetString("models-config")

			registry, err := endpoint.LoadFile(modelsConfig)
			if err != nil {
				return fmt.Errorf("failed to load model endpoints: %w", err)
			}

			brk, err := broker.New(registry,
				broker.WithWindow(batchWindow),
				broker.WithMaxBatchSize(maxBatchSize),
			)
			if err != nil {
				return fmt.Errorf("failed to start broker: %w", err)
			}
			defer brk.Close()

			sc := &server.ServerContext{
				Registry: registry,
				Broker:   brk,
				Tracker:  mlflow.NewClient(mlflowURI),
			}

			router := server.NewRouter(sc)

			if enableMCP {
				mcpSrv := mcpserver.NewMCPServer("neuralripper", rootCmd.Version,
					mcpserver.WithToolCapabilities(true),
				)
				if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
					return fmt.Errorf("failed to register MCP tools: %w", err)
				}
				mcpHandler := mcpserver.NewStreamableHTTPServer(mcpSrv,
					mcpserver.WithEndpointPath(mcpEndpoint),
				)
				router.PathPrefix(mcpEndpoint).Handler(mcpHandler)
			}

			// Set up graceful shutdown.
			shutdownCtx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			fmt.Printf("Starting neuralripper on %s\n", httpAddr)
			fmt.Printf("  Models: %v\n", registry.Models())
			fmt.Printf("  Tracking server: %s\n", mlflowURI)
			fmt.Printf("  Dashboard API: /api\n")
			fmt.Printf("  Streaming: /ws/eval\n")
			if enableMCP {
				fmt.Printf("  MCP endpoint: %s\n", mcpEndpoint)
			}
			fmt.Printf("  Health: /healthz\n")

			httpServer := &http.Server{
				Addr:    httpAddr,
				Handler: router,
				// No WriteTimeout: WebSocket sessions and MCP streams stay
				// open for as long as the client does.
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			serverDone := make(chan error, 1)
			go func() {
				defer close(serverDone)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serverDone <- err
				}
			}()

			select {
			case <-shutdownCtx.Done():
				fmt.Println("Shutdown signal received, stopping HTTP server...")
				stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
				defer stop()
				if err := httpServer.Shutdown(stopCtx); err != nil {
					return fmt.Errorf("error shutting down: %w", err)
				}
			case err := <-serverDone:
				if err != nil {
					return fmt.Errorf("HTTP server error: %w", err)
				}
			}

			fmt.Println("HTTP server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address")
	cmd.Flags().StringVar(&mlflowURI, "mlflow-uri", envOr("MLFLOW_TRACKING_URI", "http://localhost:5000"),
		"MLflow tracking server URI")
	cmd.Flags().DurationVar(&batchWindow, "batch-window", broker.DefaultWindow,
		"Batch collection window per model")
	cmd.Flags().IntVar(&maxBatchSize, "max-batch-size", broker.DefaultMaxBatchSize,
		"Maximum requests per batch")
	cmd.Flags().BoolVar(&enableMCP, "enable-mcp", false, "Expose dashboard queries as MCP tools")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "/mcp", "MCP endpoint path")

	return cmd
}
