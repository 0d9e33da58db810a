package materialize

import (
	"fmt"
	"strings"

	"wfsetl/internal/feature"
	"wfsetl/internal/schema"
)

// LoadError reports a failed batch load. Nothing from the batch was
// committed. Row is the zero-based feature index, or -1 when the failure
// happened outside the per-feature loop (begin, clear, commit).
type LoadError struct {
	Table string
	Row   int
	Err   error
}

func (e *LoadError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("load %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("load %s: feature %d: %v", e.Table, e.Row, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// DriftError is raised under DriftReject when a feature's value cannot be
// stored losslessly in the column inferred from the first feature.
type DriftError struct {
	Column string
	Want   schema.ColumnType
	Got    feature.Kind
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("schema drift: column %q is %s, feature value is %s", e.Column, e.Want, e.Got)
}

// DriftMode selects how divergent features are handled.
type DriftMode string

const (
	// DriftCoerce stores NULL for missing or unconvertible values and drops
	// unknown properties.
	DriftCoerce DriftMode = "coerce"

	// DriftReject fails the load on the first unconvertible value. Missing
	// properties are still stored as NULL.
	DriftReject DriftMode = "reject"
)

// ParseDriftMode accepts "coerce" (or empty) and "reject".
func ParseDriftMode(s string) (DriftMode, error) {
	switch DriftMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DriftCoerce:
		return DriftCoerce, nil
	case DriftReject:
		return DriftReject, nil
	default:
		return "", fmt.Errorf("unknown schema drift mode %q (want coerce|reject)", s)
	}
}
