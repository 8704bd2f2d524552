package engine

import (
	"context"
	"errors"
	"fmt"

	"plenario/internal/domain"
	"plenario/internal/engine/quorum"
	"plenario/internal/events"
	"plenario/internal/repo"
)

var attendanceStatuses = map[string]bool{
	"present":   true,
	"absent":    true,
	"justified": true,
}

// MarkAttendance sets one member's presence for a session in conduct.
// Attendance can be corrected while the session is in progress or suspended;
// it freezes when the session is realized.
func (e Engine) MarkAttendance(ctx context.Context, sessionID, memberID, status, justification, actorID string) (domain.AttendanceRecord, error) {
	if !attendanceStatuses[status] {
		return domain.AttendanceRecord{}, fmt.Errorf("unknown attendance status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	if s.Status != "in_progress" && s.Status != "suspended" {
		return domain.AttendanceRecord{}, ruleErr(CodeInvalidTransition, "attendance is marked during conduct, session is %s", s.Status).withDetail("status", s.Status)
	}
	rec := domain.AttendanceRecord{SessionID: sessionID, MemberID: memberID, Status: status}
	if justification != "" {
		rec.Justification = &justification
	}
	if err := e.Repo.UpdateAttendanceTx(ctx, tx, rec); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.AttendanceRecord{}, ruleErr(CodeNotEligible, "member %s is not on this session's roster", memberID)
		}
		return domain.AttendanceRecord{}, err
	}
	// A member who leaves present mid-round loses their ballot; only present
	// members count when the round closes.
	if status != "present" {
		open, err := e.Repo.InVotingItemTx(ctx, tx, sessionID)
		switch {
		case err == nil:
			discarded, err := e.Repo.DeleteMemberVoteTx(ctx, tx, sessionID, open.DocumentID, memberID)
			if err != nil {
				return domain.AttendanceRecord{}, err
			}
			if discarded {
				if err := e.Events.Append(ctx, tx, "vote.discarded", sessionID, "agenda_item", open.ID, actorID, events.EventPayload{
					"document_id": open.DocumentID,
					"member_id":   memberID,
				}); err != nil {
					return domain.AttendanceRecord{}, err
				}
			}
		case !errors.Is(err, repo.ErrNotFound):
			return domain.AttendanceRecord{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "attendance.marked", sessionID, "attendance", memberID, actorID, events.EventPayload{
		"member_id": memberID,
		"status":    status,
	}); err != nil {
		return domain.AttendanceRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AttendanceRecord{}, err
	}
	return rec, nil
}

// QuorumStatus recomputes quorum from the stored attendance records. Before
// a session opens there are no records yet; the active roster size is
// reported with zero present.
func (e Engine) QuorumStatus(ctx context.Context, sessionID string) (quorum.Status, error) {
	if _, err := e.Repo.GetSession(ctx, sessionID); err != nil {
		return quorum.Status{}, err
	}
	records, err := e.Repo.ListAttendance(ctx, sessionID)
	if err != nil {
		return quorum.Status{}, err
	}
	if len(records) == 0 {
		roster, err := e.Repo.CountActiveMembers(ctx)
		if err != nil {
			return quorum.Status{}, err
		}
		return quorum.FromCounts(0, roster), nil
	}
	return quorum.Compute(records, len(records)), nil
}
