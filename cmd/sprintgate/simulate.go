package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprintgate/sprintgate-go/pkg/config"
	"github.com/sprintgate/sprintgate-go/pkg/gpio"
)

func newSimulateCommand(root *rootOptions) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run both nodes in one process with simulated gates",
		Long: `Run a primary and a secondary in one process, linked over loopback,
with simulated beams and sync pulse. Break the beams from the console with
"trigger start" and "trigger finish".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(root, reset)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the saved node state before starting")
	return cmd
}

func runSimulate(root *rootOptions, reset bool) error {
	cfg, err := loadConfig(root, config.RolePrimary, func(c *config.Config) {
		c.Simulate = true
	})
	if err != nil {
		return err
	}

	out := newLogOutput()
	logger := newLogger(cfg, out)

	start := gpio.NewSimLine("start", nil)
	finish := gpio.NewSimLine("finish", nil)
	pulseOut := gpio.NewSimLine("sync-out", nil)
	pulseIn := gpio.NewSimLine("sync-in", nil)
	pulseOut.Connect(pulseIn)

	primary, err := buildPrimary(cfg, primaryDeps{
		Lines:         gateLines{Beam: start, PulseOut: pulseOut},
		Display:       out,
		ListenAddress: "127.0.0.1:0",
		Reset:         reset,
		Logger:        logger.With("node", "primary"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := primary.Start(ctx); err != nil {
		return err
	}

	secondary, err := buildSecondary(simulatedSecondaryConfig(cfg), secondaryDeps{
		Lines:   gateLines{Beam: finish, PulseIn: pulseIn},
		Display: out,
		Address: primary.node.Addr().String(),
		Logger:  logger.With("node", "secondary"),
	})
	if err != nil {
		primary.Stop()
		return err
	}
	if err := secondary.node.Start(ctx); err != nil {
		primary.Stop()
		return fmt.Errorf("start secondary: %w", err)
	}

	console := primary.Console(map[string]func(){
		"start":  start.Fire,
		"finish": finish.Fire,
	})
	if err := console.Open(); err != nil {
		return err
	}
	out.Set(console.Stdout())
	go console.Run(ctx, cancel)

	waitForShutdown(ctx, logger)
	cancel()
	if err := secondary.node.Stop(); err != nil {
		logger.Warn("stopping secondary", "error", err)
	}
	primary.Stop()
	return nil
}

// simulatedSecondaryConfig derives the in-process secondary's configuration.
// It keeps no state file and captures to its own file next to the
// primary's.
func simulatedSecondaryConfig(cfg config.Config) config.Config {
	sc := cfg
	sc.Role = config.RoleSecondary
	sc.Storage.StatePath = ""
	sc.Network.Discovery = false
	if p := cfg.Log.ProtocolLog; p != "" {
		ext := filepath.Ext(p)
		sc.Log.ProtocolLog = strings.TrimSuffix(p, ext) + "-secondary" + ext
	}
	return sc
}
