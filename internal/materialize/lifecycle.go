// Package materialize turns a decoded feature collection into rows of a
// destination table.
//
// A Materializer probes the table, decides what to do with it under the
// overwrite policy (Decide), prepares the table (schema, drop, create) and
// then loads every feature inside one transaction.
package materialize

import "fmt"

// Action is the lifecycle outcome for one table target.
type Action int

const (
	ActionCreate Action = iota
	ActionSkip
	ActionDropAndCreate
	ActionClearAndReuse
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionSkip:
		return "SKIP"
	case ActionDropAndCreate:
		return "DROP_AND_CREATE"
	case ActionClearAndReuse:
		return "CLEAR_AND_REUSE"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Policy is the overwrite policy for existing tables.
type Policy struct {
	Overwrite       bool
	DropOnOverwrite bool
}

// Decide maps the existence probe and the policy to an Action.
//
//	absent                          -> CREATE
//	present, !Overwrite             -> SKIP
//	present, Overwrite, Drop        -> DROP_AND_CREATE
//	present, Overwrite, !Drop       -> CLEAR_AND_REUSE
//
// DropOnOverwrite has no effect without Overwrite.
func Decide(exists bool, p Policy) Action {
	switch {
	case !exists:
		return ActionCreate
	case !p.Overwrite:
		return ActionSkip
	case p.DropOnOverwrite:
		return ActionDropAndCreate
	default:
		return ActionClearAndReuse
	}
}
