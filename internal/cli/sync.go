package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/engine"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass now",
		Long: `Probe the central authority and run a single upload/download pass.

Exits with status 1 when the pass was skipped or aborted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()

			result := n.engine.ForceSync(cmd.Context())
			out := rootOpts.formatter(cmd)
			if err := out.Success(passView(result)); err != nil {
				return err
			}

			switch {
			case !result.Ran():
				return NewExitError(ExitFailure, "sync skipped: "+result.Skipped)
			case result.Aborted:
				return NewExitError(ExitFailure, "sync aborted: "+result.Err)
			}
			return nil
		},
	}
}

// PassView is the printable form of a sync pass.
type PassView struct {
	Trigger    string            `json:"trigger"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Skipped    string            `json:"skipped,omitempty"`
	Uploaded   int               `json:"uploaded"`
	Retrying   int               `json:"retrying"`
	Parked     int               `json:"parked"`
	Inserted   int               `json:"inserted"`
	Updated    int               `json:"updated"`
	Unchanged  int               `json:"unchanged"`
	Conflicts  int               `json:"conflicts"`
	TypeErrors map[string]string `json:"type_errors,omitempty"`
	Aborted    bool              `json:"aborted"`
	Error      string            `json:"error,omitempty"`
}

func passView(r engine.PassResult) PassView {
	v := PassView{
		Trigger:    string(r.Trigger),
		Skipped:    r.Skipped,
		Uploaded:   r.Uploaded,
		Retrying:   r.Retrying,
		Parked:     r.Parked,
		Inserted:   r.Inserted,
		Updated:    r.Updated,
		Unchanged:  r.Unchanged,
		Conflicts:  r.Conflicts,
		TypeErrors: r.TypeErrors,
		Aborted:    r.Aborted,
		Error:      r.Err,
	}
	if !r.StartedAt.IsZero() {
		v.StartedAt = &r.StartedAt
	}
	if !r.FinishedAt.IsZero() {
		v.FinishedAt = &r.FinishedAt
	}
	return v
}

func (v PassView) RenderText(w io.Writer) {
	if v.Skipped != "" {
		fmt.Fprintf(w, "Sync skipped (%s)\n", v.Skipped)
		return
	}
	status := "completed"
	if v.Aborted {
		status = "aborted"
	}
	fmt.Fprintf(w, "Sync %s\n", status)
	fmt.Fprintf(w, "  upload:   %d sent, %d retrying, %d parked\n", v.Uploaded, v.Retrying, v.Parked)
	fmt.Fprintf(w, "  download: %d inserted, %d updated, %d unchanged, %d conflicts\n",
		v.Inserted, v.Updated, v.Unchanged, v.Conflicts)

	types := make([]string, 0, len(v.TypeErrors))
	for t := range v.TypeErrors {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %s: %s\n", t, v.TypeErrors[t])
	}
	if v.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", v.Error)
	}
}
