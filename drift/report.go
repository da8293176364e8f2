// Package drift watches live AWS resources against the recorded state and
// reports every divergence it finds.
package drift

import (
	"fmt"
	"sort"
	"time"
)

// Severity grades how urgent a drift is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FieldExistence marks drifts about a resource being gone or unmanaged
const FieldExistence = "existence"

// Drift is one detected divergence between state and the live cloud
type Drift struct {
	Address    string
	Field      string
	StateValue string
	LiveValue  string
	Severity   Severity
}

func (d Drift) String() string {
	return fmt.Sprintf("%s: %s drift (state: %q, live: %q, severity: %s)",
		d.Address, d.Field, d.StateValue, d.LiveValue, d.Severity)
}

// Report is the outcome of one drift check run
type Report struct {
	CheckedAt time.Time
	Checked   int
	Drifts    []Drift
}

// Clean reports whether no drift was found
func (r *Report) Clean() bool {
	return len(r.Drifts) == 0
}

// BySeverity counts drifts per severity
func (r *Report) BySeverity() map[Severity]int {
	out := make(map[Severity]int)
	for _, d := range r.Drifts {
		out[d.Severity]++
	}
	return out
}

// sortDrifts orders drifts by address then field so reports are stable
// regardless of goroutine scheduling
func sortDrifts(drifts []Drift) {
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Address != drifts[j].Address {
			return drifts[i].Address < drifts[j].Address
		}
		return drifts[i].Field < drifts[j].Field
	})
}
