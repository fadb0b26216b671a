package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue counts and sync watermarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()
			ctx := cmd.Context()

			if !offline {
				n.probe(ctx)
			}
			st, err := n.engine.GetSyncStatus(ctx)
			if err != nil {
				return storeError("failed to read sync status", err)
			}

			view := StatusView{
				StoreID:  n.cfg.StoreID,
				State:    string(st.State),
				Online:   st.Online,
				Policy:   string(st.Policy),
				Pending:  st.Pending,
				Synced:   st.Synced,
				Failed:   st.Failed,
				LastSync: map[string]*time.Time{},
			}
			for _, t := range n.cfg.Sync.WatchedTypes {
				at, err := n.store.LastSyncTime(ctx, t)
				if err != nil {
					return storeError("failed to read watermark", err)
				}
				view.LastSync[t] = nil
				if !at.IsZero() {
					view.LastSync[t] = &at
				}
			}

			marker, found, err := n.store.VersionMarker(ctx, n.cfg.StoreID)
			if err != nil {
				return storeError("failed to read version marker", err)
			}
			if found {
				view.MasterData = &MasterDataView{
					Version:     marker.Version,
					LastUpdated: marker.LastUpdated,
					Partial:     marker.Partial,
				}
			}

			return rootOpts.formatter(cmd).Success(view)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip the connectivity probe")
	return cmd
}

// StatusView is the printable node status.
type StatusView struct {
	StoreID    string                `json:"store_id"`
	State      string                `json:"state"`
	Online     bool                  `json:"online"`
	Policy     string                `json:"policy"`
	Pending    int                   `json:"pending"`
	Synced     int                   `json:"synced"`
	Failed     int                   `json:"failed"`
	LastSync   map[string]*time.Time `json:"last_sync"`
	MasterData *MasterDataView       `json:"master_data,omitempty"`
}

// MasterDataView is the replication marker as shown by status.
type MasterDataView struct {
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	Partial     bool      `json:"partial"`
}

func (v StatusView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Store:   %s\n", v.StoreID)
	fmt.Fprintf(w, "State:   %s\n", v.State)
	fmt.Fprintf(w, "Policy:  %s\n", v.Policy)
	fmt.Fprintf(w, "Queue:   %d pending, %d synced, %d failed\n", v.Pending, v.Synced, v.Failed)

	fmt.Fprintln(w, "Last sync:")
	for _, t := range sortedKeys(v.LastSync) {
		at := "never"
		if v.LastSync[t] != nil {
			at = v.LastSync[t].Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %-12s %s\n", t, at)
	}

	if v.MasterData == nil {
		fmt.Fprintln(w, "Master data: never replicated")
		return
	}
	partial := ""
	if v.MasterData.Partial {
		partial = " (partial)"
	}
	fmt.Fprintf(w, "Master data: version %s%s\n", v.MasterData.Version, partial)
}
