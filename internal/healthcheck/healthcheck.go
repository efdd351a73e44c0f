// File: internal/healthcheck/healthcheck.go
// Description: Validates the configuration and live-probes the model services
// before a run. Both probes run concurrently; every probe reports its own
// outcome so a single failure never masks the other service.

package healthcheck

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

// Probe names, in report order.
const (
	ProbeLLM       = "llm"
	ProbeEmbedding = "embedding"
)

// probeText is the minimal embedding input used to exercise the service.
const probeText = "test embedding connection"

// Status is the outcome of one connectivity probe.
type Status struct {
	Probe string
	OK    bool
	Err   error
}

// Checker verifies configuration and connectivity of the model services.
type Checker struct {
	cfg      *config.Config
	client   schemas.LLMClient
	embedder schemas.EmbeddingClient
	logger   *zap.Logger
}

// New wires a checker over already-constructed clients. Construction failures
// of the clients themselves are configuration errors the caller reports.
func New(cfg *config.Config, client schemas.LLMClient, embedder schemas.EmbeddingClient) (*Checker, error) {
	if cfg == nil || client == nil || embedder == nil {
		return nil, fmt.Errorf("cannot initialize health checker with nil dependencies")
	}
	return &Checker{
		cfg:      cfg,
		client:   client,
		embedder: embedder,
		logger:   observability.GetLogger().Named("healthcheck"),
	}, nil
}

// Run validates the configuration, then probes both services concurrently.
// The returned statuses always cover every probe, even on failure; the error
// aggregates the failed probes with their causes.
func (c *Checker) Run(ctx context.Context) ([]Status, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	statuses := make([]Status, 2)
	var g errgroup.Group
	g.Go(func() error {
		statuses[0] = c.probeLLM(ctx)
		return statuses[0].Err
	})
	g.Go(func() error {
		statuses[1] = c.probeEmbedding(ctx)
		return statuses[1].Err
	})

	if err := g.Wait(); err != nil {
		var failed []string
		for _, s := range statuses {
			if s.Err != nil {
				failed = append(failed, fmt.Sprintf("%s (%v)", s.Probe, s.Err))
			}
		}
		return statuses, fmt.Errorf("connection test failed for: %s", strings.Join(failed, "; "))
	}

	c.logger.Info("Health check passed.",
		zap.String("llm_provider", string(c.cfg.LLM.Provider)),
		zap.String("embedding_provider", string(c.cfg.Embedding.Provider)),
	)
	return statuses, nil
}

func (c *Checker) probeLLM(ctx context.Context) Status {
	_, err := c.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: "hi",
		Options:    schemas.GenerationOptions{Temperature: 0},
	})
	if err != nil {
		c.logger.Error("LLM connection test failed.", zap.Error(err))
		return Status{Probe: ProbeLLM, Err: err}
	}
	return Status{Probe: ProbeLLM, OK: true}
}

func (c *Checker) probeEmbedding(ctx context.Context) Status {
	vectors, err := c.embedder.Embed(ctx, []string{probeText})
	if err != nil {
		c.logger.Error("Embedding connection test failed.", zap.Error(err))
		return Status{Probe: ProbeEmbedding, Err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		err := fmt.Errorf("embedding service returned an empty vector")
		c.logger.Error("Embedding connection test failed.", zap.Error(err))
		return Status{Probe: ProbeEmbedding, Err: err}
	}
	return Status{Probe: ProbeEmbedding, OK: true}
}
