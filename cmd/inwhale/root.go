package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/example/go-inwhale/internal/config"
	"github.com/example/go-inwhale/internal/metrics"
	"github.com/example/go-inwhale/internal/runtime/tensor"
)

var (
	cfgFile     string
	dumpMetrics bool
	activeCfg   config.Config
	cfgLoaded   bool
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "inwhale",
		Short:         "Quantize tensors and measure reconstruction error",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			cfgLoaded = true
			setupLogger(loaded.LogLevel)
			tensor.SetWorkers(loaded.Runtime.Workers)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if !dumpMetrics {
				return nil
			}
			return metrics.WriteText(cmd.ErrOrStderr(), prometheus.DefaultGatherer)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	cmd.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false, "Print Prometheus metrics to stderr after the command")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newQuantizeCmd())
	cmd.AddCommand(newDemoCmd())
	cmd.AddCommand(newInspectCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if !cfgLoaded {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}
