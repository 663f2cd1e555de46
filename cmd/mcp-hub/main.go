// Command mcp-hub connects to every server declared in a settings document,
// keeps those connections reconciled as the file changes on disk, and exposes
// the fleet over a REST and WebSocket control plane.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	hubapi "github.com/caphub/mcp-hub-go/pkg/hub-api"
	"github.com/caphub/mcp-hub-go/pkg/mcphub"
	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

var (
	flagSettings  string
	flagListen    string
	flagLogLevel  string
	flagLogFormat string
	flagLogRPC    bool
	flagCORS      []string
)

var rootCmd = &cobra.Command{
	Use:   "mcp-hub",
	Short: "Run a hub of MCP server connections driven by a settings file",
	Long: `mcp-hub reads a settings document listing MCP servers, connects to each
one over stdio or HTTP, and keeps the live connections reconciled as the
file changes. The fleet is exposed over REST, a WebSocket state feed, a
single aggregated MCP endpoint, and a Prometheus scrape endpoint.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&flagSettings, "settings", "", "settings file path (defaults to the per-user config dir)")
	rootCmd.Flags().StringVar(&flagListen, "listen", ":8700", "control-plane listen address")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, or error")
	rootCmd.Flags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	rootCmd.Flags().BoolVar(&flagLogRPC, "log-rpc", false, "log raw JSON-RPC traffic at debug level")
	rootCmd.Flags().StringArrayVar(&flagCORS, "cors-origin", nil, "allowed CORS origin, repeatable (defaults to *)")
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := buildLogger(flagLogLevel, flagLogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	path := flagSettings
	if path == "" {
		path, err = mcpsettings.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve settings path: %w", err)
		}
	}

	store := mcpsettings.NewStore(path, mcpsettings.StoreOptions{Logger: logger})
	hub := mcphub.NewHub(store, mcphub.Options{
		Logger:     logger,
		LogJSONRPC: flagLogRPC,
	})
	api := hubapi.NewServer(hub, hubapi.Options{
		Addr:           flagListen,
		AllowedOrigins: flagCORS,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	httpDone := make(chan error, 1)
	go func() { httpDone <- api.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info("mcp-hub started", "settings", path, "listen", flagListen)

	select {
	case err := <-httpDone:
		cancel()
		<-hubDone
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	// Stopping the run context disposes every server connection.
	cancel()
	if err := <-hubDone; err != nil {
		return err
	}
	logger.Info("mcp-hub stopped")
	return nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
