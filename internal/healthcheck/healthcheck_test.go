// File: internal/healthcheck/healthcheck_test.go
package healthcheck

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/llm"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

func TestMain(m *testing.M) {
	observability.ResetForTest()
	observability.Initialize(
		config.LoggerConfig{Level: "error", Format: "console"},
		zapcore.AddSync(io.Discard),
	)
	os.Exit(m.Run())
}

func newChecker(t *testing.T, client *llm.MockLLMClient, embedder *llm.MockEmbeddingClient) *Checker {
	t.Helper()
	checker, err := New(config.NewDefaultConfig(), client, embedder)
	require.NoError(t, err)
	return checker
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("should reject nil dependencies", func(t *testing.T) {
		t.Parallel()
		_, err := New(nil, llm.NewMockLLMClient(), &llm.MockEmbeddingClient{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil dependencies")

		_, err = New(config.NewDefaultConfig(), nil, &llm.MockEmbeddingClient{})
		require.Error(t, err)
	})
}

func TestCheckerRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("should pass when both services answer", func(t *testing.T) {
		t.Parallel()
		client := llm.NewMockLLMClient("hello")
		embedder := &llm.MockEmbeddingClient{}
		checker := newChecker(t, client, embedder)

		statuses, err := checker.Run(ctx)
		require.NoError(t, err)
		require.Len(t, statuses, 2)
		assert.Equal(t, ProbeLLM, statuses[0].Probe)
		assert.True(t, statuses[0].OK)
		assert.Equal(t, ProbeEmbedding, statuses[1].Probe)
		assert.True(t, statuses[1].OK)

		requests := client.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, "hi", requests[0].UserPrompt)

		calls := embedder.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, []string{"test embedding connection"}, calls[0])
	})

	t.Run("should report an llm failure without masking the embedding probe", func(t *testing.T) {
		t.Parallel()
		client := &llm.MockLLMClient{Err: errors.New("model offline")}
		embedder := &llm.MockEmbeddingClient{}
		checker := newChecker(t, client, embedder)

		statuses, err := checker.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection test failed for:")
		assert.Contains(t, err.Error(), "llm (model offline)")
		assert.NotContains(t, err.Error(), "embedding (")

		require.Len(t, statuses, 2)
		assert.False(t, statuses[0].OK)
		assert.True(t, statuses[1].OK, "embedding probe must still run")
	})

	t.Run("should reject an empty embedding vector", func(t *testing.T) {
		t.Parallel()
		client := llm.NewMockLLMClient("hello")
		embedder := &llm.MockEmbeddingClient{
			EmbedFunc: func(context.Context, []string) ([][]float32, error) {
				return [][]float32{{}}, nil
			},
		}
		checker := newChecker(t, client, embedder)

		statuses, err := checker.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding (embedding service returned an empty vector)")
		assert.True(t, statuses[0].OK)
		assert.False(t, statuses[1].OK)
	})

	t.Run("should name every failed probe", func(t *testing.T) {
		t.Parallel()
		client := &llm.MockLLMClient{Err: errors.New("model offline")}
		embedder := &llm.MockEmbeddingClient{Err: errors.New("no embeddings")}
		checker := newChecker(t, client, embedder)

		statuses, err := checker.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm (model offline)")
		assert.Contains(t, err.Error(), "no embeddings")
		assert.False(t, statuses[0].OK)
		assert.False(t, statuses[1].OK)
	})

	t.Run("should fail fast on invalid configuration", func(t *testing.T) {
		t.Parallel()
		cfg := config.NewDefaultConfig()
		cfg.Suite.ToolList = nil
		client := llm.NewMockLLMClient("hello")

		checker, err := New(cfg, client, &llm.MockEmbeddingClient{})
		require.NoError(t, err)

		_, err = checker.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Empty(t, client.Requests(), "probes must not run against an invalid configuration")
	})
}

// TestCheckerRunLeaksNoGoroutines runs sequentially so the leak check only
// sees this test's probes.
func TestCheckerRunLeaksNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	checker := newChecker(t, llm.NewMockLLMClient("hello"), &llm.MockEmbeddingClient{})

	_, err := checker.Run(context.Background())
	require.NoError(t, err)
}
