package patch

import (
	"time"

	"example.com/ldxsync/internal/ldx"
)

// State is a step of a single patch operation.
type State int

const (
	Locate State = iota
	Mutate
	Backup
	StageWrite
	Verify
	Commit
	Committed
	Aborted
)

var stateNames = [...]string{"locate", "mutate", "backup", "stage_write", "verify", "commit", "committed", "aborted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// run carries one Apply call through its states.
type run struct {
	path      string
	name      string
	start     time.Time
	state     State
	failedIn  State
	kind      ldx.Kind
	nodeID    string
	before    string
	after     string
	beforeSha string
	afterSha  string
	verified  *bool
}

func (r *run) enter(s State) {
	if s == Aborted {
		r.failedIn = r.state
	}
	r.state = s
}
