package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuralripper/neuralripper/internal/endpoint"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the configured model endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelsConfig, _ := cmd.Flags().GetString("models-config")

			registry, err := endpoint.LoadFile(modelsConfig)
			if err != nil {
				return fmt.Errorf("failed to load model endpoints: %w", err)
			}

			fmt.Printf("Configured models:\n\n")
			for _, name := range registry.Models() {
				ep, err := registry.Resolve(name)
				if err != nil {
					continue
				}
				fmt.Printf("  - %s\n", name)
				fmt.Printf("    Endpoint: %s\n\n", ep.BaseURL)
			}
			return nil
		},
	}
}
