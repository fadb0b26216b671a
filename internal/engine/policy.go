package engine

import (
	"fmt"
	"time"

	"github.com/roach88/storesync/internal/record"
)

// Policy decides the outcome when a local record is strictly newer than the
// inbound remote version of the same record.
type Policy string

const (
	// PolicyServerWins discards the local version.
	PolicyServerWins Policy = "server_wins"

	// PolicyClientWins keeps the local version and re-enqueues it as an update.
	PolicyClientWins Policy = "client_wins"

	// PolicyMerge keeps each non-empty local field and fills the rest from
	// the remote version.
	PolicyMerge Policy = "merge"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyMerge

// ParsePolicy validates a policy name. The empty string yields DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return DefaultPolicy, nil
	case PolicyServerWins, PolicyClientWins, PolicyMerge:
		return p, nil
	}
	return "", &SyncError{
		Code:    ErrCodeUnknownPolicy,
		Message: fmt.Sprintf("unknown conflict policy %q (want server_wins, client_wins or merge)", s),
	}
}

// Resolution is the outcome of a conflict.
type Resolution struct {
	// Record is the value to persist locally when Store is set.
	Record record.Record

	// Store reports whether Record must be written to the local store.
	Store bool

	// Reenqueue reports whether the local version must be uploaded again.
	Reenqueue bool
}

// Resolve applies p to a conflicting pair. now stamps merged records.
func Resolve(p Policy, local, remote record.Record, now time.Time) (Resolution, error) {
	switch p {
	case PolicyServerWins:
		return Resolution{Record: remote.Clone(), Store: true}, nil

	case PolicyClientWins:
		return Resolution{Record: local.Clone(), Reenqueue: true}, nil

	case PolicyMerge:
		return Resolution{Record: Merge(local, remote, now), Store: true}, nil
	}
	return Resolution{}, NewConflictUnresolvedError(p, local.Type, local.ID)
}

// Merge combines two versions of a record field by field: the local value
// when it is non-empty (see record.IsEmpty), otherwise the remote value.
// Fields present on only one side are kept. The result is stamped with now
// and marked conflictResolved.
func Merge(local, remote record.Record, now time.Time) record.Record {
	fields := record.CloneFields(remote.Fields)
	for k, v := range record.CloneFields(local.Fields) {
		if _, ok := fields[k]; !ok || !record.IsEmpty(v) {
			fields[k] = v
		}
	}
	fields[record.FieldConflictResolved] = true

	return record.Record{
		Type:         local.Type,
		ID:           local.ID,
		Fields:       fields,
		LastModified: now,
		Source:       local.Source,
	}
}
