// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is assembled once at
// startup (TOML file via viper, credentials JSON, environment overrides) and
// then threaded explicitly through constructors; nothing re-reads it during a
// run.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Suite     SuiteConfig     `mapstructure:"suite"`
	PenTest   PenTestConfig   `mapstructure:"pentest"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Report    ReportConfig    `mapstructure:"report"`
	Interface InterfaceConfig `mapstructure:"interface"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "console" or "json".
	File       string `mapstructure:"file"`   // Empty disables the file sink.
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SuiteConfig configures the orchestration loop: which tools the supervisor
// may select and where the graph schema lives.
type SuiteConfig struct {
	ToolList   []string `mapstructure:"tool_list"`
	SchemaFile string   `mapstructure:"schema_file"`
}

// PenTestConfig carries free-form engagement constraints. Every key under
// [pentest.constraints] is rendered into a numbered instruction line of the
// tool command prompt: booleans become "do/do not <key>", numeric values with
// "time" in the key are reported in milliseconds, everything else is stated
// as "<key> is <value>". Keys use underscores, which render as spaces.
type PenTestConfig struct {
	Constraints map[string]any `mapstructure:"constraints"`
}

// LLMProvider enumerates the supported model providers.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderMistral   LLMProvider = "mistral"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderGoogle    LLMProvider = "googleai"
	ProviderOllama    LLMProvider = "ollama"
)

// supportedProviders is the closed set accepted by Validate.
var supportedProviders = map[LLMProvider]bool{
	ProviderOpenAI:    true,
	ProviderMistral:   true,
	ProviderAnthropic: true,
	ProviderGoogle:    true,
	ProviderOllama:    true,
}

// supportedEmbeddingProviders is narrower: Anthropic exposes no embeddings
// API, so it cannot back the embedding client.
var supportedEmbeddingProviders = map[LLMProvider]bool{
	ProviderOpenAI:  true,
	ProviderMistral: true,
	ProviderGoogle:  true,
	ProviderOllama:  true,
}

// LLMConfig selects and tunes the generation model.
type LLMConfig struct {
	Provider    LLMProvider `mapstructure:"provider"`
	Model       string      `mapstructure:"model"`
	BaseURL     string      `mapstructure:"base_url"` // Optional endpoint override.
	Temperature float64     `mapstructure:"temperature"`
	// APIKey is never read from the TOML file; it arrives via the
	// credentials document or a CERBERUS_* environment variable.
	APIKey string `mapstructure:"-"`
}

// EmbeddingConfig selects the embedding model used by the report digest.
type EmbeddingConfig struct {
	Provider LLMProvider `mapstructure:"provider"`
	Model    string      `mapstructure:"model"`
	APIKey   string      `mapstructure:"-"`
}

// GraphConfig holds the property-graph store connection settings. URI and
// auth normally come from the credentials document.
type GraphConfig struct {
	URI                     string        `mapstructure:"uri"`
	Username                string        `mapstructure:"username"`
	Password                string        `mapstructure:"-"`
	Database                string        `mapstructure:"database"`
	MaxConnectionPoolSize   int           `mapstructure:"max_connection_pool_size"`
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	MaxTransactionRetryTime time.Duration `mapstructure:"max_transaction_retry_time"`
}

// ReportConfig configures the digest output and its reference material.
type ReportConfig struct {
	Folder            string `mapstructure:"folder"`
	SecurityBenchmark string `mapstructure:"security_benchmark"` // Path to the OWASP benchmark PDF.
	TopK              int    `mapstructure:"top_k"`              // Benchmark chunks fed to the analysis prompt.
}

// InterfaceConfig configures the interactive CLI surface.
type InterfaceConfig struct {
	BannerFile string `mapstructure:"banner_file"`
}

// Credentials is the decoded credentials document: a flat map of store
// endpoints and provider tokens, kept out of the TOML config on purpose.
type Credentials struct {
	Neo4jURI        string `json:"neo4j_uri"`
	Neo4jUser       string `json:"neo4j_user"`
	Neo4jPassword   string `json:"neo4j_password"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	MistralAPIKey   string `json:"mistral_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key"`
	GoogleAPIKey    string `json:"google_api_key"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "cerberus.log")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
	v.SetDefault("logger.compress", true)

	// -- Suite --
	v.SetDefault("suite.tool_list", []string{"nmap", "nikto", "whatweb"})
	v.SetDefault("suite.schema_file", "threat_map_config.json")

	// -- LLM --
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)

	// -- Embedding --
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")

	// -- Graph --
	v.SetDefault("graph.uri", "bolt://localhost:7687")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.database", "neo4j")
	v.SetDefault("graph.max_connection_pool_size", 50)
	v.SetDefault("graph.connection_timeout", "30s")
	v.SetDefault("graph.max_transaction_retry_time", "30s")

	// -- Report --
	v.SetDefault("report.folder", "reports")
	v.SetDefault("report.security_benchmark", "")
	v.SetDefault("report.top_k", 7)

	// -- Interface --
	v.SetDefault("interface.banner_file", "")
}

// NewDefaultConfig returns a configuration populated with defaults only.
// Used by tests and as the base for flag-only invocations.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a Config from a prepared viper
// instance. Secrets are bound to environment variables here so they never
// have to appear in the config file.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("graph.uri", "CERBERUS_NEO4J_URI")
	v.BindEnv("graph.username", "CERBERUS_NEO4J_USER")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secret fields are excluded from Unmarshal; pick them up directly.
	cfg.Graph.Password = os.Getenv("CERBERUS_NEO4J_PASSWORD")
	cfg.LLM.APIKey = os.Getenv("CERBERUS_LLM_API_KEY")
	cfg.Embedding.APIKey = os.Getenv("CERBERUS_EMBEDDING_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadCredentials reads and decodes the credentials document.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file %q: %w", path, err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("invalid JSON in credentials file %q: %w", path, err)
	}
	return &creds, nil
}

// ApplyCredentials overlays the credentials document onto the configuration.
// Environment-sourced values already present take precedence, so a deployment
// can omit the file entirely.
func (c *Config) ApplyCredentials(creds *Credentials) {
	if creds == nil {
		return
	}
	if c.Graph.URI == "" || c.Graph.URI == "bolt://localhost:7687" {
		if creds.Neo4jURI != "" {
			c.Graph.URI = creds.Neo4jURI
		}
	}
	if creds.Neo4jUser != "" {
		c.Graph.Username = creds.Neo4jUser
	}
	if c.Graph.Password == "" {
		c.Graph.Password = creds.Neo4jPassword
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = creds.keyFor(c.LLM.Provider)
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = creds.keyFor(c.Embedding.Provider)
	}
}

// keyFor returns the stored API key for a provider, empty when none applies.
func (cr *Credentials) keyFor(p LLMProvider) string {
	switch p {
	case ProviderOpenAI:
		return cr.OpenAIAPIKey
	case ProviderMistral:
		return cr.MistralAPIKey
	case ProviderAnthropic:
		return cr.AnthropicAPIKey
	case ProviderGoogle:
		return cr.GoogleAPIKey
	default:
		return ""
	}
}

// Validate checks the configuration for required fields and sane values.
// A failure here is fatal at startup.
func (c *Config) Validate() error {
	if len(c.Suite.ToolList) == 0 {
		return fmt.Errorf("suite.tool_list must name at least one tool")
	}
	seen := make(map[string]bool, len(c.Suite.ToolList))
	for _, tool := range c.Suite.ToolList {
		if tool == "" {
			return fmt.Errorf("suite.tool_list contains an empty tool name")
		}
		if tool == "FINISH" || tool == "supervisor" {
			return fmt.Errorf("suite.tool_list may not contain the reserved name %q", tool)
		}
		if seen[tool] {
			return fmt.Errorf("suite.tool_list contains duplicate tool %q", tool)
		}
		seen[tool] = true
	}
	if c.Suite.SchemaFile == "" {
		return fmt.Errorf("suite.schema_file is required")
	}
	if !supportedProviders[c.LLM.Provider] {
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if !supportedEmbeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider)
	}
	if c.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required")
	}
	if c.Graph.MaxConnectionPoolSize <= 0 {
		return fmt.Errorf("graph.max_connection_pool_size must be a positive integer")
	}
	if c.Report.TopK <= 0 {
		return fmt.Errorf("report.top_k must be a positive integer")
	}
	return nil
}
