// Package quorum computes whether enough members are present to conduct
// business. It holds no state: callers pass the current attendance set and
// the roster size, and the result is always derived fresh.
package quorum

import "plenario/internal/domain"

type Status struct {
	RosterSize int  `json:"roster_size"`
	Present    int  `json:"present"`
	Minimum    int  `json:"minimum"`
	HasQuorum  bool `json:"has_quorum"`
}

// Minimum is the absolute majority of the roster.
func Minimum(rosterSize int) int {
	return rosterSize/2 + 1
}

// Compute derives the quorum status from attendance records.
func Compute(records []domain.AttendanceRecord, rosterSize int) Status {
	present := 0
	for _, r := range records {
		if r.Status == "present" {
			present++
		}
	}
	return FromCounts(present, rosterSize)
}

// FromCounts derives the quorum status from already-counted presences.
func FromCounts(present, rosterSize int) Status {
	min := Minimum(rosterSize)
	return Status{
		RosterSize: rosterSize,
		Present:    present,
		Minimum:    min,
		HasQuorum:  present >= min,
	}
}
