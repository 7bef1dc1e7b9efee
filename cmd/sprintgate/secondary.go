package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/sprintgate/sprintgate-go/cmd/sprintgate/interactive"
	"github.com/sprintgate/sprintgate-go/pkg/config"
	"github.com/sprintgate/sprintgate-go/pkg/discovery"
	"github.com/sprintgate/sprintgate-go/pkg/display"
	"github.com/sprintgate/sprintgate-go/pkg/gpio"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/node"
	"github.com/sprintgate/sprintgate-go/pkg/persistence"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
	"github.com/sprintgate/sprintgate-go/pkg/transport"
	"github.com/sprintgate/sprintgate-go/pkg/version"
)

type secondaryOptions struct {
	nodeOptions
	Host string
}

func newSecondaryCommand(root *rootOptions) *cobra.Command {
	opts := &secondaryOptions{}

	cmd := &cobra.Command{
		Use:   "secondary",
		Short: "Run the finish gate",
		Long: `Run the secondary node: finish gate sensor and gate link client.
Without --host (or network.host) the primary is found by mDNS, falling back
to the address of the last successful connection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecondary(root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "primary host name or IP (overrides network.host)")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "use a simulated finish gate instead of GPIO")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "enable the status console")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "forget the saved primary address")

	return cmd
}

func runSecondary(root *rootOptions, opts *secondaryOptions) error {
	cfg, err := loadConfig(root, config.RoleSecondary, func(c *config.Config) {
		if opts.Host != "" {
			c.Network.Host = opts.Host
		}
		c.Simulate = c.Simulate || opts.Simulate
	})
	if err != nil {
		return err
	}

	out := newLogOutput()
	logger := newLogger(cfg, out)
	logger.Info("sprintgate secondary", "version", version.Build, "timing", cfg.Timing.Mode, "simulate", cfg.Simulate)

	var lines gateLines
	var finish *gpio.SimLine
	if cfg.Simulate {
		finish = gpio.NewSimLine("finish", nil)
		lines.Beam = finish
	} else {
		lines = openHardware(cfg, timing.RoleSlave)
	}

	app, err := buildSecondary(cfg, secondaryDeps{
		Lines:   lines,
		Display: out,
		Reset:   opts.Reset,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.node.Start(ctx); err != nil {
		return fmt.Errorf("start secondary: %w", err)
	}

	if opts.Interactive {
		var fire func()
		if finish != nil {
			fire = finish.Fire
		}
		console := interactive.NewSecondary(app.node, fire)
		if err := console.Open(); err != nil {
			return err
		}
		out.Set(console.Stdout())
		go console.Run(ctx, cancel)
	}

	waitForShutdown(ctx, logger)
	cancel()
	if err := app.node.Stop(); err != nil {
		logger.Warn("stopping secondary", "error", err)
	}
	return nil
}

type secondaryDeps struct {
	Lines gateLines

	// Display receives the finish gate display output.
	Display io.Writer

	// Address overrides discovery and the configured host.
	Address string

	Reset  bool
	Clock  clockwork.Clock
	Logger *slog.Logger
}

type secondaryApp struct {
	node   *node.Secondary
	state  *persistence.StateStore
	logger *slog.Logger
}

func buildSecondary(cfg config.Config, deps secondaryDeps) (*secondaryApp, error) {
	logger := deps.Logger
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	capture := openCapture(cfg, logger)
	syncer := newSynchronizer(cfg, timing.RoleSlave, deps.Lines, clock, logger)

	app := &secondaryApp{state: openState(cfg), logger: logger}
	if deps.Reset && app.state != nil {
		if err := app.state.Clear(); err != nil {
			logger.Warn("clearing node state", "error", err)
		}
	}

	sc := node.SecondaryConfig{
		LockTimeout:    cfg.Timing.GPSLockTimeout,
		Sync:           syncer,
		Sensor:         newSensor(cfg, deps.Lines.Beam, syncer, model.SourceRemote, logger),
		Display:        display.NewWriter(deps.Display, "[finish]"),
		Backoff:        cfg.Network.ReconnectBackoff,
		ConnectTimeout: cfg.Network.ConnectTimeout,
		Heartbeat: transport.HeartbeatConfig{
			Interval:  cfg.Network.HeartbeatInterval,
			MaxMissed: transport.DefaultMaxMissed,
		},
		Capture: capture,
		Clock:   clock,
		Logger:  logger,
	}
	sc.Mode, _ = timing.ParseMode(cfg.Timing.Mode)

	switch {
	case deps.Address != "":
		sc.Address = deps.Address
	case cfg.Network.Host != "":
		sc.Address = cfg.PrimaryAddress()
		app.remember(sc.Address)
	default:
		browser := discovery.NewBrowser(discovery.BrowserConfig{})
		sc.Resolve = app.resolver(browser)
	}

	n, err := node.NewSecondary(sc)
	if err != nil {
		return nil, err
	}
	app.node = n
	return app, nil
}

// primaryFinder locates the primary. *discovery.Browser implements it.
type primaryFinder interface {
	FindPrimary(ctx context.Context) (*discovery.GateService, error)
}

// resolver browses for the primary on each connection attempt. When nothing
// answers it falls back to the last address that worked.
func (a *secondaryApp) resolver(finder primaryFinder) node.Resolver {
	return func(ctx context.Context) (string, error) {
		svc, err := finder.FindPrimary(ctx)
		if err == nil {
			addr := svc.Address()
			a.logger.Info("discovered primary", "instance", svc.Instance, "addr", addr)
			a.remember(addr)
			return addr, nil
		}
		if a.state != nil {
			if saved, lerr := a.state.Load(); lerr == nil && saved != nil && saved.PrimaryAddress != "" {
				a.logger.Info("discovery found no primary, using last address", "addr", saved.PrimaryAddress, "error", err)
				return saved.PrimaryAddress, nil
			}
		}
		return "", fmt.Errorf("find primary: %w", err)
	}
}

func (a *secondaryApp) remember(addr string) {
	if a.state == nil {
		return
	}
	err := a.state.Update(func(s *persistence.NodeState) {
		s.Role = config.RoleSecondary
		s.PrimaryAddress = addr
	})
	if err != nil {
		a.logger.Warn("saving node state", "error", err)
	}
}
