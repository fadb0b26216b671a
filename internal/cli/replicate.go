package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/replicator"
)

// NewReplicateCommand creates the replicate command.
func NewReplicateCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Replicate master data from the central authority",
		Long: `Fetch reference data (products, customers, price lists, stock levels)
from the central authority and apply it locally.

Nothing is fetched when the central version matches the last complete run,
unless --force is given. Exits with status 1 when some categories failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()

			run := n.replicator.Replicate
			if force {
				run = n.replicator.ForceReplication
			}
			result, err := run(cmd.Context())
			out := rootOpts.formatter(cmd)

			switch {
			case err == nil:
				return out.Success(replicationView(result))
			case replicator.IsPartialFailure(err):
				if perr := out.Success(replicationView(result)); perr != nil {
					return perr
				}
				return WrapExitError(ExitFailure, "replication incomplete", err)
			default:
				return WrapExitError(ExitFailure, "replication failed", err)
			}
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "replicate even if the master data version is unchanged")
	return cmd
}

// ReplicationView is the printable form of a replication run.
type ReplicationView struct {
	Version    string                  `json:"version"`
	UpToDate   bool                    `json:"up_to_date"`
	Forced     bool                    `json:"forced"`
	Changed    int                     `json:"changed"`
	Categories map[string]CategoryView `json:"categories"`
}

// CategoryView is one category's line in a replication report.
type CategoryView struct {
	Fetched   int    `json:"fetched"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Truncated bool   `json:"truncated"`
	Error     string `json:"error,omitempty"`
}

func replicationView(r replicator.Result) ReplicationView {
	v := ReplicationView{
		Version:    r.Version,
		UpToDate:   r.UpToDate,
		Forced:     r.Forced,
		Changed:    r.Changed(),
		Categories: make(map[string]CategoryView, len(r.Categories)),
	}
	for name, c := range r.Categories {
		cv := CategoryView{
			Fetched:   c.Fetched,
			Inserted:  c.Inserted,
			Updated:   c.Updated,
			Unchanged: c.Unchanged,
			Skipped:   c.Skipped,
			Truncated: c.Truncated,
		}
		if c.Err != nil {
			cv.Error = c.Err.Error()
		}
		v.Categories[name] = cv
	}
	return v
}

func (v ReplicationView) RenderText(w io.Writer) {
	if v.UpToDate {
		fmt.Fprintf(w, "Master data up to date (version %s)\n", v.Version)
		return
	}
	fmt.Fprintf(w, "Replicated master data version %s: %d records changed\n", v.Version, v.Changed)
	for _, name := range sortedKeys(v.Categories) {
		c := v.Categories[name]
		if c.Error != "" {
			fmt.Fprintf(w, "  %-14s FAILED: %s\n", name, c.Error)
			continue
		}
		line := fmt.Sprintf("  %-14s %d fetched, %d inserted, %d updated, %d unchanged",
			name, c.Fetched, c.Inserted, c.Updated, c.Unchanged)
		if c.Skipped > 0 {
			line += fmt.Sprintf(", %d skipped", c.Skipped)
		}
		if c.Truncated {
			line += " (truncated)"
		}
		fmt.Fprintln(w, line)
	}
}
