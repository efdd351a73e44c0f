// File: cmd/healthcheck.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/internal/healthcheck"
	"github.com/AnandaIndraTan/CERBERUS/internal/llm"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

// newHealthcheckCmd creates the `healthcheck` command.
func newHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Validates the configuration and probes the model services",
		Long: `Healthcheck validates the loaded configuration and sends a minimal request
to the generation and embedding services, so misconfiguration surfaces before
a long assessment run does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			client, err := llm.NewClient(ctx, cfg.LLM)
			if err != nil {
				return fmt.Errorf("failed to initialize llm client: %w", err)
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn("Error during llm client shutdown.", zap.Error(err))
				}
			}()

			embedder, err := llm.NewEmbedder(ctx, cfg.Embedding)
			if err != nil {
				return fmt.Errorf("failed to initialize embedding client: %w", err)
			}

			checker, err := healthcheck.New(cfg, client, embedder)
			if err != nil {
				return err
			}

			statuses, runErr := checker.Run(ctx)
			printStatuses(cmd.OutOrStdout(), statuses)
			if runErr != nil {
				return runErr
			}

			fmt.Fprintln(cmd.OutOrStdout(), "All services healthy.")
			return nil
		},
	}
}

// printStatuses renders one line per probe.
func printStatuses(out io.Writer, statuses []healthcheck.Status) {
	for _, status := range statuses {
		if status.OK {
			fmt.Fprintf(out, "%-10s ok\n", status.Probe)
		} else {
			fmt.Fprintf(out, "%-10s FAILED: %v\n", status.Probe, status.Err)
		}
	}
}
