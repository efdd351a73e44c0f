// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

func TestMain(m *testing.M) {
	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "error", Format: "console"}, zapcore.AddSync(io.Discard))
	os.Exit(m.Run())
}

// executeCommand runs a fresh root command with the given args and returns
// the combined output.
func executeCommand(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	if in != nil {
		root.SetIn(in)
	}
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// executeWithProbe attaches a throwaway subcommand that captures the config
// placed in the command context by PersistentPreRunE.
func executeWithProbe(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var captured *config.Config
	probe := &cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			captured, err = getConfigFromContext(cmd.Context())
			return err
		},
	}

	root := NewRootCommand()
	root.AddCommand(probe)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "probe"))
	err := root.ExecuteContext(context.Background())
	return captured, err
}

// writeTempFile drops content into a fresh temp dir and returns the path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// pinEnv blanks the CERBERUS environment so values leaking in from the host
// cannot skew assertions.
func pinEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"CERBERUS_NEO4J_URI",
		"CERBERUS_NEO4J_USER",
		"CERBERUS_NEO4J_PASSWORD",
		"CERBERUS_LLM_API_KEY",
		"CERBERUS_LLM_MODEL",
		"CERBERUS_LLM_PROVIDER",
		"CERBERUS_EMBEDDING_API_KEY",
		"OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, nil, "--version")

	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	pinEnv(t)

	out, err := executeCommand(t, nil)

	require.NoError(t, err)
	assert.Contains(t, out, "CERBERUS orchestrates")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "healthcheck")
}

func TestRootCmd_ConfigFile(t *testing.T) {
	pinEnv(t)

	configFile := writeTempFile(t, "config.toml", `
[llm]
model = "gpt-4o"
temperature = 0.2

[suite]
tool_list = ["nmap"]

[report]
folder = "out/reports"
`)

	cfg, err := executeWithProbe(t, "--config", configFile)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, []string{"nmap"}, cfg.Suite.ToolList)
	assert.Equal(t, "out/reports", cfg.Report.Folder)
	// Untouched sections keep their defaults.
	assert.Equal(t, "threat_map_config.json", cfg.Suite.SchemaFile)
	assert.Equal(t, 7, cfg.Report.TopK)
}

func TestRootCmd_EnvOverridesConfig(t *testing.T) {
	pinEnv(t)
	t.Setenv("CERBERUS_LLM_MODEL", "mistral-large-latest")
	t.Setenv("CERBERUS_NEO4J_PASSWORD", "env-secret")

	cfg, err := executeWithProbe(t)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "mistral-large-latest", cfg.LLM.Model)
	assert.Equal(t, "env-secret", cfg.Graph.Password)
}

func TestRootCmd_CredentialsFile(t *testing.T) {
	pinEnv(t)

	credsFile := writeTempFile(t, "credentials.json", `{
	"neo4j_user": "cerberus",
	"neo4j_password": "from-file",
	"openai_api_key": "sk-from-file"
}`)

	cfg, err := executeWithProbe(t, "--credentials", credsFile)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "cerberus", cfg.Graph.Username)
	assert.Equal(t, "from-file", cfg.Graph.Password)
	assert.Equal(t, "sk-from-file", cfg.LLM.APIKey)
}

func TestRootCmd_EnvWinsOverCredentials(t *testing.T) {
	pinEnv(t)
	t.Setenv("CERBERUS_NEO4J_PASSWORD", "env-secret")

	credsFile := writeTempFile(t, "credentials.json", `{"neo4j_password": "from-file"}`)

	cfg, err := executeWithProbe(t, "--credentials", credsFile)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "env-secret", cfg.Graph.Password)
}

func TestRootCmd_MissingExplicitCredentials(t *testing.T) {
	pinEnv(t)

	missing := filepath.Join(t.TempDir(), "nope.json")
	cfg, err := executeWithProbe(t, "--credentials", missing)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
	assert.Nil(t, cfg)
}

func TestRootCmd_MissingDefaultCredentialsTolerated(t *testing.T) {
	pinEnv(t)

	// The default credentials.json does not exist in the test working
	// directory, and that must not be fatal.
	cfg, err := executeWithProbe(t)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.Graph.Password)
}

func TestRootCmd_MissingExplicitConfig(t *testing.T) {
	pinEnv(t)

	missing := filepath.Join(t.TempDir(), "nope.toml")
	_, err := executeWithProbe(t, "--config", missing)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	pinEnv(t)

	configFile := writeTempFile(t, "config.toml", `
[llm]
provider = "watson"
`)

	cfg, err := executeWithProbe(t, "--config", configFile)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "watson")
	assert.Nil(t, cfg)
}

func TestRootCmd_LogLevelOverride(t *testing.T) {
	pinEnv(t)

	cfg, err := executeWithProbe(t, "--log-level", "debug")

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestGetConfigFromContext(t *testing.T) {
	t.Run("should fail on a bare context", func(t *testing.T) {
		cfg, err := getConfigFromContext(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration missing")
		assert.Nil(t, cfg)
	})

	t.Run("should return the stored config", func(t *testing.T) {
		want := config.NewDefaultConfig()
		ctx := context.WithValue(context.Background(), configKey, want)

		got, err := getConfigFromContext(ctx)

		require.NoError(t, err)
		assert.Same(t, want, got)
	})
}

func TestPrintBanner(t *testing.T) {
	t.Run("should print the banner file", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Interface.BannerFile = writeTempFile(t, "interface.txt", "CERBERUS\n=======\n")

		var buf bytes.Buffer
		printBanner(&buf, cfg)

		assert.Equal(t, "CERBERUS\n=======\n", buf.String())
	})

	t.Run("should stay silent without a configured banner", func(t *testing.T) {
		cfg := config.NewDefaultConfig()

		var buf bytes.Buffer
		printBanner(&buf, cfg)

		assert.Empty(t, buf.String())
	})

	t.Run("should tolerate a missing banner file", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Interface.BannerFile = filepath.Join(t.TempDir(), "missing.txt")

		var buf bytes.Buffer
		printBanner(&buf, cfg)

		assert.Empty(t, buf.String())
	})
}
