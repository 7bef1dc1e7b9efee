package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sprintgate/sprintgate-go/pkg/config"
	"github.com/sprintgate/sprintgate-go/pkg/version"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	ConfigFile string
	EnvFile    string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sprintgate",
		Short:         "Two-gate sprint timer",
		Long:          "Sprintgate times sprints between a start gate (primary) and a finish gate (secondary).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with SPRINTGATE_* overrides")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	cmd.AddCommand(newPrimaryCommand(opts))
	cmd.AddCommand(newSecondaryCommand(opts))
	cmd.AddCommand(newSimulateCommand(opts))
	cmd.AddCommand(newRunnersCommand(opts))
	cmd.AddCommand(newLogCommand())
	cmd.AddCommand(newHashPasswordCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build and protocol versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})

	return cmd
}

// loadConfig layers the config file, the dotenv file, the environment and
// the flags, then validates the result for role. overrides apply command
// flags.
func loadConfig(opts *rootOptions, role string, overrides ...func(*config.Config)) (config.Config, error) {
	if opts.EnvFile != "" {
		if err := config.LoadDotEnv(opts.EnvFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return cfg, err
	}
	if role != "" {
		cfg.Role = role
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	for _, apply := range overrides {
		apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// logOutput is the operational log destination. The interactive console
// swaps it for a writer that keeps the prompt intact.
type logOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func newLogOutput() *logOutput {
	return &logOutput{w: os.Stderr}
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *logOutput) Set(w io.Writer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.w = w
}

func newLogger(cfg config.Config, out io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel()}))
}
