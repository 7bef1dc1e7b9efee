package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sprintgate/sprintgate-go/pkg/config"
	"github.com/sprintgate/sprintgate-go/pkg/display"
	"github.com/sprintgate/sprintgate-go/pkg/store"
)

func newRunnersCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runners",
		Short: "Add or list runners in the database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Register a runner (no-op if the name exists)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(root, func(db *store.Store) error {
				return addRunner(cmd.Context(), db, strings.Join(args, " "), cmd.OutOrStdout())
			})
		},
	})

	var times bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List runners",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(root, func(db *store.Store) error {
				return listRunners(cmd.Context(), db, times, cmd.OutOrStdout())
			})
		},
	}
	list.Flags().BoolVar(&times, "times", false, "include every recorded time")
	cmd.AddCommand(list)

	return cmd
}

func withStore(root *rootOptions, fn func(*store.Store) error) error {
	cfg, err := loadConfig(root, config.RolePrimary)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func addRunner(ctx context.Context, db *store.Store, name string, w io.Writer) error {
	name = strings.TrimSpace(name)
	id, err := db.AddRunner(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Runner #%d %s\n", id, name)
	return nil
}

func listRunners(ctx context.Context, db *store.Store, withTimes bool, w io.Writer) error {
	runners, err := db.GetAllRunners(ctx)
	if err != nil {
		return err
	}
	if len(runners) == 0 {
		fmt.Fprintln(w, "No runners registered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRUNS\tBEST")
	for _, r := range runners {
		runs, err := db.GetRunnerTimes(ctx, r.ID)
		if err != nil {
			return err
		}
		best := "-"
		if len(runs) > 0 {
			best = display.FormatTime(fastest(runs))
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", r.ID, r.Name, len(runs), best)
		if withTimes {
			for _, rt := range runs {
				fmt.Fprintf(tw, "\t  #%d\t\t%s\n", rt.ID, display.FormatTime(rt.Time))
			}
		}
	}
	return tw.Flush()
}

func fastest(runs []store.RunTime) float64 {
	best := runs[0].Time
	for _, rt := range runs[1:] {
		if rt.Time < best {
			best = rt.Time
		}
	}
	return best
}
