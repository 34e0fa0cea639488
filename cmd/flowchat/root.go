package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/flowchat"
	"github.com/aretw0/flowchat/internal/config"
	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/observability"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowchat",
	Short: "flowchat runs chat agents defined as flow graphs",
	Long: `flowchat executes flows of begin, interface, generate, categorize and
retrieval nodes, one conversation turn at a time, and serves them over an
OpenAI-compatible chat completions API.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default $FLOWCHAT_CONFIG)")
	rootCmd.PersistentFlags().String("flows", "", "Directory of flow files (overrides flows.dir)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level and trace node execution")
}

// loadConfig reads the configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if dir, _ := cmd.Flags().GetString("flows"); dir != "" {
		cfg.Flows.Dir = dir
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Logger(), nil
}

// newService assembles the service described by cfg. The returned stack must
// be closed by the caller.
func newService(cfg *config.Config, logger *slog.Logger, extra ...flowchat.Option) (*flowchat.Service, *config.Stack, error) {
	stack, err := cfg.Build(logger)
	if err != nil {
		return nil, nil, err
	}
	opts := append(stack.Options, extra...)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		opts = append(opts, flowchat.WithLifecycleHooks(observability.LoggingHooks(logger)))
	}
	svc, err := flowchat.New(stack.Loader, stack.Store, opts...)
	if err != nil {
		_ = stack.Close()
		return nil, nil, err
	}
	return svc, stack, nil
}

// quietLogger keeps stdout-oriented commands free of info chatter.
func quietLogger(cfg *config.Config) *slog.Logger {
	if logging.ParseLevel(cfg.Log.Level) <= slog.LevelDebug {
		return cfg.Logger()
	}
	return logging.NewNop()
}
