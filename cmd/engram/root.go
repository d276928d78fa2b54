package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/mcp"
	"github.com/engramhq/engram/pkg/config"
)

// Version is set during build.
var Version = "0.1.0"

var (
	mcpMode  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Cognitive memory engine for AI assistants",
	Long: `Engram is a persistent memory store with spaced-repetition dynamics:
memories carry semantic embeddings and evolving strengths, near-duplicates
collapse through a prediction-error gate, and retrieval blends keyword and
semantic evidence through a seven-stage cognitive pipeline.

Examples:
  engram remember "Go channels are typed conduits between goroutines"
  engram recall "concurrency patterns"
  engram review <memory-id> --rating 3
  engram reviews              # what should I review next?

  engram serve                # run the REST API in the foreground
  engram service start        # run detached
  engram --mcp                # speak MCP over stdin/stdout`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		if mcpMode {
			runMCPServer()
			return
		}
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&mcpMode, "mcp", false, "run as MCP server (JSON-RPC over stdin/stdout)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
}

// loadConfig loads configuration and initialises logging once per command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stderr",
	})
	return cfg, nil
}

// openEngine loads config and wires a full engine.
func openEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureConfigDir(); err != nil {
		return nil, nil, err
	}
	eng, err := engine.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func runMCPServer() {
	eng, cfg, err := openEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	eng.StartBackground(ctx)

	server := mcp.NewServer(eng, cfg)
	if err := server.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
