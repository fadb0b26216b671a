package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/record"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the sync queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items in enqueue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := record.QueueStatus(status)
			switch st {
			case "", record.StatusPending, record.StatusSynced, record.StatusFailed:
			default:
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid status %q: must be pending, synced or failed", status))
			}

			n, err := openNode(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()

			items, err := n.store.ListQueue(cmd.Context(), st)
			if err != nil {
				return storeError("failed to list queue", err)
			}
			view := QueueView{Items: make([]QueueItemView, 0, len(items))}
			for _, it := range items {
				view.Items = append(view.Items, queueItemView(it))
			}
			return rootOpts.formatter(cmd).Success(view)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only items with this status (pending|synced|failed)")
	return cmd
}

func newQueueRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Reset a failed queue item to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()
			out := rootOpts.formatter(cmd)

			if err := n.engine.RetryFailed(cmd.Context(), args[0]); err != nil {
				if engine.IsNotRetryable(err) {
					_ = out.Error(ErrCodeNotFound, err.Error(), nil)
					return WrapExitError(ExitFailure, "retry refused", err)
				}
				return storeError("failed to reset queue item", err)
			}
			return out.Success(fmt.Sprintf("Queue item %s reset to pending", args[0]))
		},
	}
}

// QueueView lists queue items.
type QueueView struct {
	Items []QueueItemView `json:"items"`
}

// QueueItemView is one queue item.
type QueueItemView struct {
	ID         string     `json:"id"`
	EntityType string     `json:"entity_type"`
	RecordID   string     `json:"record_id"`
	Operation  string     `json:"operation"`
	Priority   int        `json:"priority"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
}

func queueItemView(it record.QueueItem) QueueItemView {
	v := QueueItemView{
		ID:         it.ID,
		EntityType: it.EntityType,
		RecordID:   it.RecordID,
		Operation:  string(it.Operation),
		Priority:   it.Priority,
		Status:     string(it.Status),
		RetryCount: it.RetryCount,
		MaxRetries: it.MaxRetries,
		LastError:  it.LastError,
		EnqueuedAt: it.EnqueuedAt,
	}
	if !it.SyncedAt.IsZero() {
		v.SyncedAt = &it.SyncedAt
	}
	return v
}

func (v QueueView) RenderText(w io.Writer) {
	if len(v.Items) == 0 {
		fmt.Fprintln(w, "Queue is empty")
		return
	}
	for _, it := range v.Items {
		fmt.Fprintf(w, "%s  %-8s %-7s %s/%s  priority=%d retries=%d/%d",
			it.ID, it.Status, it.Operation, it.EntityType, it.RecordID,
			it.Priority, it.RetryCount, it.MaxRetries)
		if it.LastError != "" {
			fmt.Fprintf(w, "  last_error=%q", it.LastError)
		}
		fmt.Fprintln(w)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
