package interactive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/sprintgate/sprintgate-go/pkg/display"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/store"
)

// RaceControl is the controller surface the console drives.
// *race.Controller implements it.
type RaceControl interface {
	AssignRunner(r model.Runner) error
	Reset(keepRunner bool) race.State
	Snapshot() race.Snapshot
	Session() race.Session
	Records() []race.Record
}

// Runners is the runner database. *store.Store implements it.
type Runners interface {
	AddRunner(ctx context.Context, name string) (int64, error)
	GetAllRunners(ctx context.Context) ([]model.Runner, error)
	GetRunner(ctx context.Context, id int64) (model.Runner, error)
	FindRunner(ctx context.Context, name string) (model.Runner, error)
	Leaderboard(ctx context.Context) (store.Leaderboard, error)
}

// PrimaryConfig wires the primary console.
type PrimaryConfig struct {
	Race    RaceControl
	Runners Runners

	// Triggers fire simulated gates by name ("start", "finish"). Empty
	// when running on hardware.
	Triggers map[string]func()

	// Link describes the gate link for the status command.
	Link func() string
}

// NewPrimary creates the primary node console.
func NewPrimary(cfg PrimaryConfig) *Console {
	c := New("sprintgate> ", "Sprintgate Primary Commands:")
	p := &primaryCommands{cfg: cfg, console: c}

	c.Register(Command{Name: "add", Usage: "add <name>", Help: "Register a runner", Run: p.add})
	c.Register(Command{Name: "list", Aliases: []string{"ls"}, Usage: "list", Help: "List runners", Run: p.list})
	c.Register(Command{Name: "select", Aliases: []string{"sel"}, Usage: "select <id|name>", Help: "Arm a runner for the next race", Run: p.selectRunner})
	c.Register(Command{Name: "reset", Usage: "reset [keep]", Help: "Abort the race; keep re-arms the same runner", Run: p.reset})
	c.Register(Command{Name: "status", Aliases: []string{"st"}, Usage: "status", Help: "Show race and link status", Run: p.status})
	c.Register(Command{Name: "records", Usage: "records", Help: "Show runs completed this session", Run: p.records})
	c.Register(Command{Name: "stats", Usage: "stats", Help: "Show the leaderboard", Run: p.stats})
	if len(cfg.Triggers) > 0 {
		c.Register(triggerCommand(c, cfg.Triggers))
	}
	return c
}

type primaryCommands struct {
	cfg     PrimaryConfig
	console *Console
}

func (p *primaryCommands) add(ctx context.Context, args []string) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return ErrUsage
	}
	id, err := p.cfg.Runners.AddRunner(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.console.Out(), "Runner #%d %s\n", id, name)
	return nil
}

func (p *primaryCommands) list(ctx context.Context, _ []string) error {
	runners, err := p.cfg.Runners.GetAllRunners(ctx)
	if err != nil {
		return err
	}
	out := p.console.Out()
	if len(runners) == 0 {
		fmt.Fprintln(out, "No runners registered")
		return nil
	}

	var current int64
	if s := p.cfg.Race.Session(); s.Runner != nil {
		current = s.Runner.ID
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\t")
	for _, r := range runners {
		mark := ""
		if r.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, r.Name, mark)
	}
	return tw.Flush()
}

func (p *primaryCommands) selectRunner(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	r, err := p.lookup(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := p.cfg.Race.AssignRunner(r); err != nil {
		if errors.Is(err, race.ErrInvalidTransition) {
			return fmt.Errorf("a race is in progress, reset first")
		}
		return err
	}
	fmt.Fprintf(p.console.Out(), "Armed %s\n", r.Name)
	return nil
}

func (p *primaryCommands) lookup(ctx context.Context, key string) (model.Runner, error) {
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		return p.cfg.Runners.GetRunner(ctx, id)
	}
	return p.cfg.Runners.FindRunner(ctx, key)
}

func (p *primaryCommands) reset(_ context.Context, args []string) error {
	keep := len(args) > 0 && strings.EqualFold(args[0], "keep")
	state := p.cfg.Race.Reset(keep)
	fmt.Fprintf(p.console.Out(), "Race reset (%s)\n", state)
	return nil
}

func (p *primaryCommands) status(context.Context, []string) error {
	snap := p.cfg.Race.Snapshot()
	out := p.console.Out()
	runner := snap.CurrentRunner
	if runner == "" {
		runner = "-"
	}
	fmt.Fprintf(out, "State:   %s\n", snap.State)
	fmt.Fprintf(out, "Runner:  %s\n", runner)
	fmt.Fprintf(out, "Elapsed: %s\n", display.FormatTime(snap.ElapsedTime))
	if snap.LastRun != nil {
		fmt.Fprintf(out, "Last:    %s %s\n", snap.LastRun.Name, display.FormatTime(snap.LastRun.Time))
	}
	fmt.Fprintf(out, "Timing:  %s (GPS %s)\n", snap.TimingMode, snap.GPSStatus)
	link := snap.LinkStatus
	if p.cfg.Link != nil {
		link = p.cfg.Link()
	}
	fmt.Fprintf(out, "Link:    %s\n", link)
	return nil
}

func (p *primaryCommands) records(context.Context, []string) error {
	recs := p.cfg.Race.Records()
	out := p.console.Out()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No runs yet")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRUNNER\tTIME\tMODE")
	for i, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, r.RunnerName, display.FormatTime(r.Seconds()), r.Finish.Mode)
	}
	return tw.Flush()
}

func (p *primaryCommands) stats(ctx context.Context, _ []string) error {
	lb, err := p.cfg.Runners.Leaderboard(ctx)
	if err != nil {
		return err
	}
	out := p.console.Out()
	if lb.FastestSingle != nil {
		fmt.Fprintf(out, "Fastest run:     %s %s\n", lb.FastestSingle.Name, display.FormatTime(lb.FastestSingle.Time))
	}
	if lb.FastestAverage != nil {
		fmt.Fprintf(out, "Fastest average: %s %s (%d runs)\n", lb.FastestAverage.Name, display.FormatTime(lb.FastestAverage.Average), lb.FastestAverage.Runs)
	}
	if lb.MostRuns != nil {
		fmt.Fprintf(out, "Most runs:       %s (%d)\n", lb.MostRuns.Name, lb.MostRuns.Runs)
	}
	if len(lb.Top) == 0 {
		fmt.Fprintln(out, "No times recorded")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tRUNNER\tTIME")
	for i, e := range lb.Top {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, e.Name, display.FormatTime(e.Time))
	}
	return tw.Flush()
}

func triggerCommand(c *Console, triggers map[string]func()) Command {
	names := make([]string, 0, len(triggers))
	for name := range triggers {
		names = append(names, name)
	}
	sort.Strings(names)
	usage := "trigger [" + strings.Join(names, "|") + "]"

	return Command{
		Name:    "trigger",
		Aliases: []string{"t"},
		Usage:   usage,
		Help:    "Break a simulated beam",
		Run: func(_ context.Context, args []string) error {
			var fire func()
			switch {
			case len(args) == 0 && len(triggers) == 1:
				fire = triggers[names[0]]
			case len(args) == 1:
				fire = triggers[strings.ToLower(args[0])]
			}
			if fire == nil {
				return ErrUsage
			}
			fire()
			fmt.Fprintln(c.Out(), "Beam broken")
			return nil
		},
	}
}
