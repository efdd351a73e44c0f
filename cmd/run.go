// File: cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/llm"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
	"github.com/AnandaIndraTan/CERBERUS/internal/orchestrator"
	"github.com/AnandaIndraTan/CERBERUS/internal/reporting"
	"github.com/AnandaIndraTan/CERBERUS/internal/threatmap"
	"github.com/AnandaIndraTan/CERBERUS/internal/toolrunner"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Runs a full assessment for the given task prompt",
		Long: `Run drives the complete assessment pipeline: the supervisor picks tools one
at a time, every tool result lands in the threat map, and the final analysis
is written out as a markdown report. The task prompt is taken from the
arguments, or read interactively when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("report-dir") {
				cfg.Report.Folder, _ = cmd.Flags().GetString("report-dir")
			}

			printBanner(cmd.OutOrStdout(), cfg)

			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				prompt, err = readPrompt(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}
			if prompt == "" {
				return fmt.Errorf("no task prompt provided")
			}

			logger.Info("Starting assessment run.",
				zap.String("prompt", prompt),
				zap.Strings("tools", cfg.Suite.ToolList),
				zap.String("model", cfg.LLM.Model),
			)

			// Initialize core components.
			components, err := initializeRunComponents(ctx, cfg)
			if err != nil {
				if components != nil {
					components.Shutdown(ctx)
				}
				return fmt.Errorf("failed to initialize assessment components: %w", err)
			}
			defer components.Shutdown(ctx)

			// Execute the pipeline.
			result, err := components.Digest.Run(ctx, prompt)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Assessment aborted gracefully.")
					return fmt.Errorf("assessment aborted by user signal: %w", err)
				}
				logger.Error("Assessment failed.", zap.Error(err))
				return err
			}

			logger.Info("Assessment run completed successfully.",
				zap.String("report_id", result.ReportID),
				zap.Int("records", result.Records),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nAssessment Complete. Report ID: %s\n", result.ReportID)
			fmt.Fprintf(out, "Report written to: %s\n", result.ReportPath)
			fmt.Fprintf(out, "Scan records ingested: %d\n", result.Records)
			if result.GraphSummary != "" {
				fmt.Fprintf(out, "\nThreat map summary:\n%s\n", result.GraphSummary)
			}
			return nil
		},
	}

	runCmd.Flags().String("report-dir", "", "Directory for the generated report. (Overrides config)")

	return runCmd
}

// readPrompt asks the operator for a task prompt on stdin.
func readPrompt(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter Prompt:")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading prompt: %w", err)
		}
		return "", nil
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// runComponents holds initialized services.
type runComponents struct {
	GraphClient *threatmap.Neo4jClient
	LLMClient   schemas.LLMClient
	Digest      *reporting.Digest
}

// Shutdown gracefully closes all components. The parent context may already
// be canceled when this runs, so shutdown gets its own deadline.
func (rc *runComponents) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if rc.LLMClient != nil {
		if err := rc.LLMClient.Close(); err != nil {
			observability.GetLogger().Warn("Error during llm client shutdown.", zap.Error(err))
		}
	}
	if rc.GraphClient != nil {
		if err := rc.GraphClient.Close(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during threat map store shutdown.", zap.Error(err))
		}
	}
}

// initializeRunComponents handles dependency injection for the pipeline.
func initializeRunComponents(ctx context.Context, cfg *config.Config) (*runComponents, error) {
	components := &runComponents{}

	// 1. Threat map schema and store.
	schema, err := threatmap.LoadGraphSchema(cfg.Suite.SchemaFile)
	if err != nil {
		return components, fmt.Errorf("failed to load graph schema: %w", err)
	}

	graphClient := threatmap.NewNeo4jClient(cfg.Graph)
	if err := graphClient.Connect(ctx); err != nil {
		return components, fmt.Errorf("failed to connect to threat map store: %w", err)
	}
	components.GraphClient = graphClient

	mapper := threatmap.NewThreatMap(schema, graphClient)

	// 2. Model clients.
	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return components, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	components.LLMClient = client

	embedder, err := llm.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return components, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	// 3. Tool runner and orchestration engine.
	runner, err := toolrunner.New(cfg.PenTest, cfg.LLM.Temperature, client)
	if err != nil {
		return components, fmt.Errorf("failed to initialize tool runner: %w", err)
	}

	policy := llm.NewSupervisorPolicy(client)
	engine, err := orchestrator.New(cfg.Suite.ToolList, runner, policy)
	if err != nil {
		return components, fmt.Errorf("failed to initialize orchestration engine: %w", err)
	}

	// 4. Report digest.
	digest, err := reporting.NewDigest(engine, llm.NewNormalizer(client), mapper, client, embedder, cfg.Report, cfg.LLM.Temperature)
	if err != nil {
		return components, fmt.Errorf("failed to initialize report digest: %w", err)
	}
	components.Digest = digest

	return components, nil
}
