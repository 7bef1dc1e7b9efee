package interactive

import (
	"context"
	"fmt"

	"github.com/sprintgate/sprintgate-go/pkg/display"
	"github.com/sprintgate/sprintgate-go/pkg/node"
)

// SecondaryStatus reports the finish node. *node.Secondary implements it.
type SecondaryStatus interface {
	Status() node.SecondaryStatus
}

// NewSecondary creates the secondary node console. fire is nil on
// hardware.
func NewSecondary(status SecondaryStatus, fire func()) *Console {
	c := New("finish> ", "Sprintgate Secondary Commands:")
	c.Register(Command{
		Name:    "status",
		Aliases: []string{"st"},
		Usage:   "status",
		Help:    "Show link and finish gate status",
		Run: func(context.Context, []string) error {
			s := status.Status()
			out := c.Out()
			runner := s.Runner
			if runner == "" {
				runner = "-"
			}
			fmt.Fprintf(out, "Link:    %s\n", s.Link)
			fmt.Fprintf(out, "Display: %s\n", s.Display)
			fmt.Fprintf(out, "Timing:  %s\n", s.TimingMode)
			fmt.Fprintf(out, "Runner:  %s\n", runner)
			if s.LastFinish != nil {
				fmt.Fprintf(out, "Last:    %s %s\n", s.LastFinish.Name, display.FormatTime(s.LastFinish.Duration))
			}
			fmt.Fprintf(out, "Sent:    %d (dropped %d)\n", s.Sent, s.Dropped)
			return nil
		},
	})
	if fire != nil {
		c.Register(triggerCommand(c, map[string]func(){"finish": fire}))
	}
	return c
}
