package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the sync audit trail, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()

			entries, err := n.engine.AuditTrail(cmd.Context(), limit)
			if err != nil {
				return storeError("failed to read audit trail", err)
			}
			view := AuditView{Entries: make([]AuditEntryView, 0, len(entries))}
			for _, e := range entries {
				view.Entries = append(view.Entries, AuditEntryView{
					At:         e.At,
					Kind:       string(e.Kind),
					EntityType: e.EntityType,
					RecordID:   e.RecordID,
					Message:    e.Message,
					Detail:     e.Detail,
				})
			}
			return rootOpts.formatter(cmd).Success(view)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries (0 for all)")
	return cmd
}

// AuditView lists audit entries, newest first.
type AuditView struct {
	Entries []AuditEntryView `json:"entries"`
}

type AuditEntryView struct {
	At         time.Time      `json:"at"`
	Kind       string         `json:"kind"`
	EntityType string         `json:"entity_type,omitempty"`
	RecordID   string         `json:"record_id,omitempty"`
	Message    string         `json:"message"`
	Detail     map[string]any `json:"detail,omitempty"`
}

func (v AuditView) RenderText(w io.Writer) {
	for _, e := range v.Entries {
		subject := ""
		if e.EntityType != "" {
			subject = " " + e.EntityType + "/" + e.RecordID
		}
		fmt.Fprintf(w, "%s  %-13s%s  %s\n", e.At.Format(time.RFC3339), e.Kind, subject, e.Message)
	}
}
