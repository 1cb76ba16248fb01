package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuralripper/neuralripper/internal/broker"
	"github.com/neuralripper/neuralripper/internal/endpoint"
)

func newGenerateCmd() *cobra.Command {
	var (
		model   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Stream a completion from a configured model to stdout",
		Long: `Submit one prompt through the batching broker and print tokens as they
arrive. Useful for smoke-testing an endpoint without the dashboard.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			modelsConfig, _ := cmd.Flags().GetString("models-config")
			registry, err := endpoint.LoadFile(modelsConfig)
			if err != nil {
				return fmt.Errorf("failed to load model endpoints: %w", err)
			}

			brk, err := broker.New(registry)
			if err != nil {
				return fmt.Errorf("failed to start broker: %w", err)
			}
			defer brk.Close()

			events, err := brk.Submit(ctx, model, args[0])
			if err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev := <-events:
					switch {
					case ev.Err != "":
						return fmt.Errorf("generation failed: %s", ev.Err)
					case ev.Done:
						fmt.Println()
						return nil
					default:
						fmt.Print(ev.Token)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model name (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Generation timeout")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}
