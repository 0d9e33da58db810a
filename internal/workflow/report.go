package workflow

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// State is a step of the run state machine.
type State string

const (
	StateStarted       State = "STARTED"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateConnectFailed State = "CONNECT_FAILED"
	StateFetching      State = "FETCHING"
	StateFetched       State = "FETCHED"
	StateFetchFailed   State = "FETCH_FAILED"
	StateExporting     State = "EXPORTING"
	StateDone          State = "DONE"
	StateExportFailed  State = "EXPORT_FAILED"
	// StateSkipped marks layers never fetched because their group did not connect.
	StateSkipped  State = "SKIPPED"
	StateFinished State = "FINISHED"
	// StateCancelled ends a run whose context was cancelled.
	StateCancelled State = "CANCELLED"
)

// Target kinds.
const (
	KindFile     = "file"
	KindTable    = "table"
	KindStyle    = "style"
	KindMetadata = "metadata"
)

// Target outcomes besides export.Outcome values and lifecycle actions.
const (
	OutcomeFailed  = "failed"
	OutcomeNoDB    = "no_database"
	OutcomeEmpty   = "empty"
	OutcomeSkipped = "skipped"
)

// Report is the record of one run.
type Report struct {
	RunID    string
	State    State
	Started  time.Time
	Finished time.Time
	Groups   []*GroupReport
}

// GroupReport covers one service group.
type GroupReport struct {
	URL     string
	Version string
	Title   string
	State   State
	Err     error
	Layers  []*LayerReport
}

// LayerReport covers one layer.
type LayerReport struct {
	Layer    string
	State    State
	Err      error
	Bytes    int
	Duration time.Duration
	Targets  []TargetReport
}

// TargetReport is the outcome of one destination of a layer.
type TargetReport struct {
	Kind    string
	Dest    string
	Outcome string
	Rows    int64
	Err     error
}

// Counts tallies layers by final state: done, failed (fetch or export) and
// skipped (group not connected).
func (r *Report) Counts() (done, failed, skipped int) {
	for _, g := range r.Groups {
		for _, l := range g.Layers {
			switch l.State {
			case StateDone:
				done++
			case StateFetchFailed, StateExportFailed:
				failed++
			case StateSkipped:
				skipped++
			}
		}
	}
	return done, failed, skipped
}

// Summary aggregates every contained failure of the run (connect, fetch,
// export and side-channel errors), or returns nil for a clean run.
func (r *Report) Summary() error {
	var result *multierror.Error
	for _, g := range r.Groups {
		if g.Err != nil {
			result = multierror.Append(result, fmt.Errorf("group %s: %w", g.URL, g.Err))
		}
		for _, l := range g.Layers {
			if l.Err != nil {
				result = multierror.Append(result, fmt.Errorf("layer %s: %w", l.Layer, l.Err))
			}
			for _, t := range l.Targets {
				if t.Err != nil {
					result = multierror.Append(result, fmt.Errorf("layer %s: %s %s: %w", l.Layer, t.Kind, t.Dest, t.Err))
				}
			}
		}
	}
	return result.ErrorOrNil()
}
