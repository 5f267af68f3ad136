package main

import (
	"context"
	"fmt"
	"os"

	"github.com/danieldreier/anki-mcp/internal/anki"
	"github.com/danieldreier/anki-mcp/internal/config"
	"github.com/danieldreier/anki-mcp/internal/tools"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anki-mcp",
		Short: "MCP server for Anki decks and notes",
		Long: `anki-mcp exposes an Anki collection as MCP tools.
Anki must be running with the AnkiConnect add-on; every tool call becomes
one or more AnkiConnect requests.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("anki-url", defaults.AnkiConnect.URL, "AnkiConnect endpoint")
	flags.String("api-key", "", "AnkiConnect API key, if the add-on requires one")
	flags.Duration("timeout", 0, "Per-request timeout for AnkiConnect calls (0 disables)")
	flags.String("transport", defaults.Transport.Mode, "MCP transport: stdio or sse")
	flags.String("addr", defaults.Transport.Addr, "Listen address for the sse transport")
	flags.String("base-url", "", "Public base URL advertised to sse clients")
	flags.String("log-level", defaults.Log.Level, "Log level (debug, info, warn, error)")
	flags.Bool("no-rollback", false, "Leave partial state behind when rename_deck fails")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "anki-mcp %s\n", version)
		},
	}
}

// resolveConfig loads the config file and applies the flags the user set
// explicitly on top of it.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("anki-url") {
		cfg.AnkiConnect.URL, _ = flags.GetString("anki-url")
	}
	if flags.Changed("api-key") {
		cfg.AnkiConnect.APIKey, _ = flags.GetString("api-key")
	}
	if flags.Changed("timeout") {
		cfg.AnkiConnect.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("transport") {
		cfg.Transport.Mode, _ = flags.GetString("transport")
	}
	if flags.Changed("addr") {
		cfg.Transport.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("base-url") {
		cfg.Transport.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if noRollback, _ := flags.GetBool("no-rollback"); noRollback {
		cfg.Rename.Rollback = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client := anki.NewClient(cfg.AnkiConnect.URL,
		anki.WithAPIKey(cfg.AnkiConnect.APIKey),
		anki.WithTimeout(cfg.AnkiConnect.Timeout),
		anki.WithLogger(logger),
	)
	svc := tools.NewService(client,
		tools.WithLogger(logger),
		tools.WithRollback(cfg.Rename.Rollback),
	)
	s := tools.NewServer(svc, version)

	logger.Info("Starting anki-mcp",
		zap.String("version", version),
		zap.String("transport", cfg.Transport.Mode),
		zap.String("anki_url", client.Endpoint()),
		zap.Bool("rename_rollback", cfg.Rename.Rollback),
	)

	if cfg.Transport.Mode == config.TransportSSE {
		return serveSSE(ctx, cfg.Transport, s, logger)
	}
	if err := server.ServeStdio(s, server.WithErrorLogger(zap.NewStdLog(logger))); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
