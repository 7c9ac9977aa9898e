package model

import "time"

// SessionState is the lifecycle state of an in-flight portal session.
type SessionState string

const (
	StateCreated            SessionState = "created"
	StateAwaitingCompletion SessionState = "awaiting_completion"
	StateSubmitting         SessionState = "submitting"
	StateCompleted          SessionState = "completed"
	StateCancelled          SessionState = "cancelled"
)

// Trigger identifies which event moved a session out of AwaitingCompletion.
type Trigger string

const (
	TriggerSubmit      Trigger = "submit"
	TriggerCancel      Trigger = "cancel"
	TriggerProcessExit Trigger = "process_exit"
)

// SessionInfo is the summary exposed by the list command and the history store.
type SessionInfo struct {
	ID        string
	Portal    string
	Operation string
	Title     string
	Created   time.Time
	Dir       string
}

// AddResult reports how AddEntries changed a submission.
type AddResult struct {
	// Replaced is true when the portal is single-select and the previous
	// submission was overwritten. Appended holds the entry count otherwise.
	Replaced bool
	Appended int
}

// Shim is a command exposed on PATH inside a session's bin directory.
type Shim struct {
	Name string
	// Command is the shell line the shim runs. Empty means the shim
	// forwards to the builtin dispatcher.
	Command string
}

// ReservedShims are always generated and may not be overridden by config.
var ReservedShims = []string{"sel", "desel", "reset", "submit", "cancel", "info"}

// IsReservedShim reports whether name collides with a builtin shim.
func IsReservedShim(name string) bool {
	for _, s := range ReservedShims {
		if s == name {
			return true
		}
	}
	return false
}

// PortalAny is the queue portal tag that matches every portal.
const PortalAny = "any"
