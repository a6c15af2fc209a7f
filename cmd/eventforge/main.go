// Eventforge is the synthetic security event daemon.
//
// It serves the HTTP API that manages delivery destinations and streams
// generator runs to HEC collectors and syslog listeners.
//
// Configuration is read from ~/.config/eventforge/config.yaml and
// overridden by environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	eventforge serve
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9000 SECRETS_BACKEND=file eventforge serve
//
//	# Serve MCP tools on stdio for an assistant
//	eventforge mcp
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/eventforge/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventforge",
	Short: "Synthetic security event generation and delivery daemon",
	Long: `eventforge runs event generator scripts and delivers their output to
HEC collectors or syslog listeners, streaming progress back to the caller.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the eventforge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve eventforge tools over MCP on stdio",
	Long: `Serve the destinations_list, generate_events, execute_generator and
normalize_output tools to an MCP client over stdin/stdout. Logs are written
to stderr. The server exits when the client disconnects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, withMCP(cmd.ErrOrStderr()))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/eventforge/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("eventforge by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// serve loads configuration, builds the application and blocks until ctx
// is cancelled.
func serve(ctx context.Context, opts ...appOption) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}
