package engine

import "time"

// State is the engine's connectivity/activity state.
type State string

const (
	StateOffline State = "OFFLINE"
	StateIdle    State = "IDLE"
	StateSyncing State = "SYNCING"
)

// Trigger names what started a pass.
type Trigger string

const (
	TriggerTimer     Trigger = "timer"
	TriggerForced    Trigger = "forced"
	TriggerReconnect Trigger = "reconnect"
)

// Reasons a pass was skipped.
const (
	SkipOffline        = "offline"
	SkipAlreadySyncing = "already syncing"
)

// PassResult summarizes one synchronization pass.
type PassResult struct {
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time

	// Skipped is non-empty when no pass ran (SkipOffline, SkipAlreadySyncing).
	Skipped string

	// Upload phase.
	Uploaded int
	Retrying int
	Parked   int

	// Download phase.
	Inserted  int
	Updated   int
	Unchanged int
	Conflicts int

	// TypeErrors holds entity types whose download was rejected.
	TypeErrors map[string]string

	// Aborted is set when a transport failure or connectivity loss ended the
	// pass early; Err holds the cause.
	Aborted bool
	Err     string
}

// Ran reports whether the pass actually executed.
func (r PassResult) Ran() bool {
	return r.Skipped == ""
}

// Status is the queryable view of the engine for operator diagnostics.
type Status struct {
	State      State
	Online     bool
	Policy     Policy
	LastSyncAt time.Time
	LastPass   *PassResult
	Pending    int
	Synced     int
	Failed     int
}
