// Package interactive provides the operator console for sprintgate nodes.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// ErrUsage is returned by a command given the wrong arguments.
var ErrUsage = errors.New("usage")

// Command is one console command.
type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	Run     func(ctx context.Context, args []string) error
}

// Console reads commands from a line editor and dispatches them.
type Console struct {
	prompt   string
	title    string
	commands map[string]*Command
	names    []string

	mu  sync.Mutex
	out io.Writer
	rl  *readline.Instance
}

// New creates a console. Output goes to stdout until Open is called.
func New(prompt, title string) *Console {
	return &Console{
		prompt:   prompt,
		title:    title,
		commands: make(map[string]*Command),
		out:      os.Stdout,
	}
}

// Register adds a command. Later registrations replace earlier ones.
func (c *Console) Register(cmd Command) {
	if _, exists := c.commands[cmd.Name]; !exists {
		c.names = append(c.names, cmd.Name)
	}
	c.commands[cmd.Name] = &cmd
	for _, a := range cmd.Aliases {
		c.commands[a] = &cmd
	}
}

// SetOutput redirects command output.
func (c *Console) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = w
}

// Out returns the current output writer.
func (c *Console) Out() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// Open creates the line editor. Log output written through Stdout after
// Open does not corrupt the prompt.
func (c *Console) Open() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    c.completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	c.mu.Lock()
	c.rl = rl
	c.out = rl.Stdout()
	c.mu.Unlock()
	return nil
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.Out()
}

func (c *Console) completer() readline.AutoCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(c.names))
	for _, name := range c.names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads and executes commands until quit, EOF or ctx is done. cancel
// is called when the operator quits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	if c.rl == nil {
		if err := c.Open(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			cancel()
			return
		}
	}
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.Out(), "Exiting...")
			cancel()
			return
		}

		if c.Execute(ctx, line) {
			fmt.Fprintln(c.Out(), "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the operator asked to
// quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		c.printHelp()
		return false
	}

	cmd, ok := c.commands[name]
	if !ok {
		fmt.Fprintf(c.Out(), "Unknown command: %s (type 'help' for commands)\n", name)
		return false
	}
	if err := cmd.Run(ctx, args); err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintf(c.Out(), "Usage: %s\n", cmd.Usage)
			return false
		}
		fmt.Fprintf(c.Out(), "Error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	out := c.Out()
	fmt.Fprintf(out, "\n%s\n", c.title)
	names := append([]string(nil), c.names...)
	sort.Strings(names)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(out, "  %-22s - %s\n", cmd.Usage, cmd.Help)
	}
	fmt.Fprintf(out, "  %-22s - %s\n", "help", "Show this help")
	fmt.Fprintf(out, "  %-22s - %s\n\n", "quit", "Exit")
}
