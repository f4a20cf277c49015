package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/apruden/wapplibre-server/internal/pipeline"
)

// ReindexResult is the output of reindex.
type ReindexResult struct {
	pipeline.ReconcileReport
}

func (r ReindexResult) String() string {
	return fmt.Sprintf("Reindexed %d of %d entities (%d failed) in %s",
		r.Indexed, r.Scanned, r.Failed, r.Duration.Round(time.Millisecond))
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search projection from the entity store",
		Long: `Project every stored entity into the search index again.

Entities whose projection was lost (for example after an index failure
during a save) become searchable. Running reindex twice is harmless.

Exit codes:
  0 - Every entity was indexed
  1 - Some entities could not be indexed
  2 - Command error (database unavailable, etc.)

Examples:
  wapplibre reindex
  wapplibre reindex --reconcile-batch 1000 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			a, err := openApp(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open stores", err)
			}
			defer a.Close()

			report, err := a.service.Reconcile(cmd.Context(), rootOpts.Config.ReconcileBatch)
			if err != nil {
				return out.Fail("reindex", err)
			}
			if err := out.Success(ReindexResult{report}); err != nil {
				return err
			}
			if report.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d entities could not be indexed", report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().Int(keyReconcileBatch, pipeline.DefaultReconcileBatch, "entities scanned per page")
	return cmd
}
