package quorum_test

import (
	"testing"

	"plenario/internal/domain"
	"plenario/internal/engine/quorum"
)

func TestMinimum(t *testing.T) {
	cases := []struct {
		roster, want int
	}{
		{13, 7},
		{12, 7},
		{9, 5},
		{2, 2},
		{1, 1},
	}
	for _, c := range cases {
		if got := quorum.Minimum(c.roster); got != c.want {
			t.Errorf("Minimum(%d) = %d, want %d", c.roster, got, c.want)
		}
	}
}

func TestCompute(t *testing.T) {
	records := []domain.AttendanceRecord{
		{MemberID: "a", Status: "present"},
		{MemberID: "b", Status: "present"},
		{MemberID: "c", Status: "absent"},
		{MemberID: "d", Status: "justified"},
		{MemberID: "e", Status: "present"},
	}
	q := quorum.Compute(records, len(records))
	if q.RosterSize != 5 || q.Present != 3 || q.Minimum != 3 {
		t.Fatalf("unexpected status: %+v", q)
	}
	if !q.HasQuorum {
		t.Fatalf("3 of 5 is quorum")
	}
}

func TestComputeBoundary(t *testing.T) {
	records := []domain.AttendanceRecord{
		{MemberID: "a", Status: "present"},
		{MemberID: "b", Status: "present"},
		{MemberID: "c", Status: "present"},
		{MemberID: "d", Status: "absent"},
		{MemberID: "e", Status: "absent"},
		{MemberID: "f", Status: "absent"},
	}
	q := quorum.Compute(records, len(records))
	if q.HasQuorum {
		t.Fatalf("3 of 6 is below the absolute majority of 4")
	}
	records[3].Status = "present"
	q = quorum.Compute(records, len(records))
	if !q.HasQuorum {
		t.Fatalf("4 of 6 reaches quorum")
	}
}
