package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprintgate/sprintgate-go/cmd/sprintgate/commands"
	"github.com/sprintgate/sprintgate-go/pkg/web"
)

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol capture files",
		Long: `Inspect capture files written with log.protocol_log.

Captures hold every gate link frame, decoded message, link state change and
race trigger seen by a node.`,
	}
	cmd.AddCommand(newLogViewCommand())
	cmd.AddCommand(newLogStatsCommand())
	cmd.AddCommand(newLogExportCommand())
	cmd.AddCommand(newLogFilterCommand())
	return cmd
}

func newLogViewCommand() *cobra.Command {
	var connID, layer, direction, category, msgType string

	cmd := &cobra.Command{
		Use:   "view <file.glog>",
		Short: "View a capture in human-readable form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := commands.ViewFilter{ConnectionID: connID, MessageType: msgType}
			if layer != "" {
				l, err := commands.ParseLayerFlag(layer)
				if err != nil {
					return err
				}
				filter.Layer = &l
			}
			if direction != "" {
				d, err := commands.ParseDirectionFlag(direction)
				if err != nil {
					return err
				}
				filter.Direction = &d
			}
			if category != "" {
				c, err := commands.ParseCategoryFlag(category)
				if err != nil {
					return err
				}
				filter.Category = &c
			}
			return commands.RunView(args[0], filter, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&connID, "conn", "", "filter by connection ID")
	cmd.Flags().StringVar(&layer, "layer", "", "filter by layer (transport, wire, race)")
	cmd.Flags().StringVar(&direction, "direction", "", "filter by direction (in, out)")
	cmd.Flags().StringVar(&category, "category", "", "filter by category (message, state, trigger, error)")
	cmd.Flags().StringVar(&msgType, "type", "", "filter by message type, e.g. GATE_TRIGGER")
	return cmd
}

func newLogStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.glog>",
		Short: "Summarize a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunStats(args[0], cmd.OutOrStdout())
		},
	}
}

func newLogExportCommand() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export <file.glog>",
		Short: "Export a capture to JSONL or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunExport(args[0], format, output)
		},
	}
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newLogFilterCommand() *cobra.Command {
	var opts commands.FilterOptions

	cmd := &cobra.Command{
		Use:   "filter <file.glog>",
		Short: "Write matching events to a new capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunFilter(args[0], opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (required)")
	cmd.Flags().StringVar(&opts.ConnID, "conn", "", "filter by connection ID")
	cmd.Flags().StringVar(&opts.TimeStart, "time-start", "", "keep events at or after this time (RFC3339)")
	cmd.Flags().StringVar(&opts.TimeEnd, "time-end", "", "keep events before this time (RFC3339)")
	cmd.Flags().StringVar(&opts.Layer, "layer", "", "filter by layer (transport, wire, race)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "filter by direction (in, out)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "filter by category (message, state, trigger, error)")
	cmd.Flags().StringVar(&opts.MessageType, "type", "", "filter by message type")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash for web.admin_password_hash",
		Long: `Print the bcrypt hash for web.admin_password_hash. Without an argument
the password is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return fmt.Errorf("empty password")
			}
			hash, err := web.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
