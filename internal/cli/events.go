package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apruden/wapplibre-server/internal/ir"
)

// PendingEventsResult is the output of events pending.
type PendingEventsResult struct {
	Count  int        `json:"count"`
	Events []ir.Event `json:"events"`
}

func (r PendingEventsResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending event(s)", r.Count)
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "\n%6d  %s  %s", ev.Seq, ev.ID, ev.Data)
	}
	return b.String()
}

// NewEventsCommand creates the events command group.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the propagation queue",
	}
	cmd.AddCommand(newEventsPendingCommand(rootOpts))
	return cmd
}

func newEventsPendingCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show events waiting for delivery",
		Long: `Show the number of undelivered events and the oldest of them, in
delivery order.

Examples:
  wapplibre events pending
  wapplibre events pending --limit 0 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			a, err := openApp(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open stores", err)
			}
			defer a.Close()

			ctx := cmd.Context()
			count, err := a.store.CountEvents(ctx)
			if err != nil {
				return out.Fail("count events", err)
			}

			events := []ir.Event{}
			if limit > 0 {
				events, err = a.store.PendingEvents(ctx, limit)
				if err != nil {
					return out.Fail("list events", err)
				}
			}
			return out.Success(PendingEventsResult{Count: count, Events: events})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of events to show")
	return cmd
}
