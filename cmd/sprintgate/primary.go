package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sprintgate/sprintgate-go/cmd/sprintgate/interactive"
	"github.com/sprintgate/sprintgate-go/pkg/config"
	"github.com/sprintgate/sprintgate-go/pkg/discovery"
	"github.com/sprintgate/sprintgate-go/pkg/display"
	"github.com/sprintgate/sprintgate-go/pkg/gpio"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/node"
	"github.com/sprintgate/sprintgate-go/pkg/persistence"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/results"
	"github.com/sprintgate/sprintgate-go/pkg/store"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
	"github.com/sprintgate/sprintgate-go/pkg/version"
	"github.com/sprintgate/sprintgate-go/pkg/web"
)

type nodeOptions struct {
	Simulate    bool
	Interactive bool
	Reset       bool
}

func newPrimaryCommand(root *rootOptions) *cobra.Command {
	opts := &nodeOptions{}

	cmd := &cobra.Command{
		Use:   "primary",
		Short: "Run the start gate and race controller",
		Long: `Run the primary node: start gate sensor, race controller, runner
database, gate link server and spectator API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimary(root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "use a simulated start gate instead of GPIO")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "enable the operator console")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "clear the saved node state before starting")

	return cmd
}

func runPrimary(root *rootOptions, opts *nodeOptions) error {
	cfg, err := loadConfig(root, config.RolePrimary, func(c *config.Config) {
		c.Simulate = c.Simulate || opts.Simulate
	})
	if err != nil {
		return err
	}

	out := newLogOutput()
	logger := newLogger(cfg, out)
	logger.Info("sprintgate primary", "version", version.Build, "timing", cfg.Timing.Mode, "simulate", cfg.Simulate)

	var lines gateLines
	var start *gpio.SimLine
	if cfg.Simulate {
		start = gpio.NewSimLine("start", nil)
		lines.Beam = start
	} else {
		lines = openHardware(cfg, timing.RoleMaster)
	}

	app, err := buildPrimary(cfg, primaryDeps{
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

	if err := app.Start(ctx); err != nil {
		return err
	}

	if opts.Interactive {
		var triggers map[string]func()
		if start != nil {
			triggers = map[string]func(){"start": start.Fire}
		}
		console := app.Console(triggers)
		if err := console.Open(); err != nil {
			return err
		}
		out.Set(console.Stdout())
		go console.Run(ctx, cancel)
	}

	waitForShutdown(ctx, logger)
	cancel()
	app.Stop()
	return nil
}

// waitForShutdown blocks until a signal arrives or ctx is done.
func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
}

type primaryDeps struct {
	Lines gateLines

	// Display receives the start gate display output.
	Display io.Writer

	// ListenAddress overrides the configured gate link address.
	ListenAddress string

	Reset  bool
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// primaryApp is a fully wired primary node.
type primaryApp struct {
	cfg    config.Config
	logger *slog.Logger

	node  *node.Primary
	ctrl  *race.Controller
	db    *store.Store
	web   *web.Server
	state *persistence.StateStore
	sync  *timing.Synchronizer
}

func buildPrimary(cfg config.Config, deps primaryDeps) (*primaryApp, error) {
	logger := deps.Logger
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	capture := openCapture(cfg, logger)

	syncer := newSynchronizer(cfg, timing.RoleMaster, deps.Lines, clock, logger)

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	atexit.Register(func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing runner database", "error", err)
		}
	})

	sinks := []race.RecordSink{db}
	if pub := connectResults(cfg, clock, logger); pub != nil {
		sinks = append(sinks, pub)
	}

	ctrl := race.NewController(race.Config{
		Status:   syncer,
		Sinks:    sinks,
		Displays: []race.Display{display.NewWriter(deps.Display, "[start]")},
		Clock:    clock,
		Logger:   logger,
		Capture:  capture,
	})

	app := &primaryApp{
		cfg:    cfg,
		logger: logger,
		ctrl:   ctrl,
		db:     db,
		state:  openState(cfg),
		sync:   syncer,
	}
	if err := app.restore(deps.Reset); err != nil {
		logger.Warn("restoring node state", "error", err)
	}
	ctrl.OnEvent(app.saveRunner)

	var adv *discovery.Advertiser
	if cfg.Network.Discovery && !cfg.Simulate {
		adv = discovery.NewAdvertiser(discovery.AdvertiserConfig{Logger: logger})
	}

	listen := deps.ListenAddress
	if listen == "" {
		listen = cfg.ListenAddress()
	}
	mode, _ := timing.ParseMode(cfg.Timing.Mode)
	app.node, err = node.NewPrimary(node.PrimaryConfig{
		ListenAddress: listen,
		Mode:          mode,
		LockTimeout:   cfg.Timing.GPSLockTimeout,
		Sync:          syncer,
		Controller:    ctrl,
		Sensor:        newSensor(cfg, deps.Lines.Beam, syncer, model.SourceLocal, logger),
		Advertiser:    adv,
		Instance:      cfg.Network.Instance,
		Capture:       capture,
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Web.Enabled {
		app.web = web.NewServer(web.Config{
			Address:           cfg.Web.Address,
			Live:              ctrl,
			Store:             db,
			Timing:            syncer,
			AdminUser:         cfg.Web.AdminUser,
			AdminPasswordHash: cfg.Web.AdminPasswordHash,
			AllowedOrigins:    cfg.Web.AllowedOrigins,
			Logger:            logger,
		})
	}
	return app, nil
}

// connectResults connects the NATS result publisher. NATS is optional, so a
// failed connection is logged and the node runs without it.
func connectResults(cfg config.Config, clock clockwork.Clock, logger *slog.Logger) *results.Publisher {
	if cfg.Results.NATSURL == "" {
		return nil
	}
	rc := results.DefaultConfig()
	rc.URL = cfg.Results.NATSURL
	if cfg.Results.Subject != "" {
		rc.Subject = cfg.Results.Subject
	}
	rc.Clock = clock
	rc.Logger = logger

	pub, err := results.Connect(rc)
	if err != nil {
		logger.Warn("results publishing disabled", "url", rc.URL, "error", err)
		return nil
	}
	atexit.Register(func() {
		if err := pub.Close(); err != nil {
			logger.Warn("closing results publisher", "error", err)
		}
	})
	logger.Info("publishing results", "url", rc.URL, "subject", rc.Subject)
	return pub
}

// restore re-arms the runner that was armed at the last shutdown.
func (a *primaryApp) restore(reset bool) error {
	if a.state == nil {
		return nil
	}
	if reset {
		a.logger.Info("clearing node state", "path", a.state.Path())
		return a.state.Clear()
	}
	saved, err := a.state.Load()
	if err != nil || saved == nil || saved.Runner == nil {
		return err
	}
	r, err := a.db.GetRunner(context.Background(), saved.Runner.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := a.ctrl.AssignRunner(r); err != nil {
		return err
	}
	a.logger.Info("restored armed runner", "runner", r.Name)
	return nil
}

func (a *primaryApp) saveRunner(evt race.Event) {
	if a.state == nil {
		return
	}
	if evt.Kind != race.EventArmed && evt.Kind != race.EventReset {
		return
	}
	err := a.state.Update(func(s *persistence.NodeState) {
		s.Role = config.RolePrimary
		s.TimingMode = a.sync.Mode().String()
		s.Runner = evt.Runner
	})
	if err != nil {
		a.logger.Warn("saving node state", "error", err)
	}
}

// Start starts the gate node and the spectator API.
func (a *primaryApp) Start(ctx context.Context) error {
	if err := a.node.Start(ctx); err != nil {
		return fmt.Errorf("start primary: %w", err)
	}
	a.logger.Info("gate link listening", "addr", a.node.Addr(), "timing", a.sync.Mode())
	if a.web != nil {
		if err := a.web.Start(ctx); err != nil {
			_ = a.node.Stop()
			return fmt.Errorf("start web API: %w", err)
		}
	}
	return nil
}

// Stop stops the API and the node. Lines and files are released at exit.
func (a *primaryApp) Stop() {
	if a.web != nil {
		if err := a.web.Stop(); err != nil {
			a.logger.Warn("stopping web API", "error", err)
		}
	}
	if err := a.node.Stop(); err != nil {
		a.logger.Warn("stopping primary", "error", err)
	}
	a.ctrl.Flush()
}

// Console creates the operator console. triggers fire simulated gates.
func (a *primaryApp) Console(triggers map[string]func()) *interactive.Console {
	return interactive.NewPrimary(interactive.PrimaryConfig{
		Race:     a.ctrl,
		Runners:  a.db,
		Triggers: triggers,
		Link:     a.linkStatus,
	})
}

func (a *primaryApp) linkStatus() string {
	peer := a.node.Peer()
	if !peer.Connected {
		return node.LinkDisconnected
	}
	if peer.LastSync.IsZero() {
		return node.LinkConnected
	}
	return fmt.Sprintf("%s (peer %s, %d triggers)", node.LinkConnected, peer.TimingMode, peer.Triggers)
}
