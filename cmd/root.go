// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/AnandaIndraTan/CERBERUS/internal/config"
	"github.com/AnandaIndraTan/CERBERUS/internal/observability"
)

// contextKey keeps the config value private to this package.
type contextKey int

const configKey contextKey = iota

const defaultCredentialsFile = "credentials.json"

// NewRootCommand builds the cerberus command tree. Every invocation gets a
// fresh instance so tests never share cobra or viper state.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile   string
		credsFile string
		logLevel  string
	)

	rootCmd := &cobra.Command{
		Use:   "cerberus",
		Short: "CERBERUS is an LLM-driven penetration testing suite.",
		Long: `CERBERUS orchestrates a fixed suite of security tools through an LLM
supervisor, ingests every result into a Neo4j threat map, and distills the
run into a security assessment report.`,
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, cfgFile, credsFile)
			if err != nil {
				// Initialize a fallback logger so the failure is still visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console"})
				return err
			}
			if logLevel != "" {
				cfg.Logger.Level = logLevel
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting CERBERUS.", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			printBanner(cmd.OutOrStdout(), cfg)
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&credsFile, "credentials", defaultCredentialsFile, "credentials document (JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newHealthcheckCmd())

	return rootCmd
}

// Execute runs the command tree under the process context so signal
// cancellation reaches every blocking operation.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		return err
	}
	return nil
}

// loadConfig layers defaults, the config file, environment variables and the
// credentials document into a validated configuration.
func loadConfig(cmd *cobra.Command, cfgFile, credsFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("toml")
	}

	v.SetEnvPrefix("CERBERUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, err
	}

	creds, err := loadCredentials(credsFile, cmd.Flags().Changed("credentials"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyCredentials(creds)

	return cfg, nil
}

// loadCredentials reads the credentials document. A missing file is only an
// error when the operator pointed at it explicitly; the default path is
// optional because every secret can also arrive through the environment.
func loadCredentials(path string, explicit bool) (*config.Credentials, error) {
	if path == "" {
		return nil, nil
	}
	creds, err := config.LoadCredentials(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil, nil
		}
		return nil, err
	}
	return creds, nil
}

// getConfigFromContext retrieves the validated config stored by the root
// command's PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}

// printBanner writes the configured banner file verbatim. The banner is
// cosmetic, so an unreadable file only logs at debug.
func printBanner(out io.Writer, cfg *config.Config) {
	if cfg.Interface.BannerFile == "" {
		return
	}
	data, err := os.ReadFile(cfg.Interface.BannerFile)
	if err != nil {
		observability.GetLogger().Debug("Banner file not readable.",
			zap.String("path", cfg.Interface.BannerFile),
			zap.Error(err))
		return
	}
	fmt.Fprintln(out, strings.TrimRight(string(data), "\n"))
}
