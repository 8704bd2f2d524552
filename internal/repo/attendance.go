package repo

import (
	"context"
	"database/sql"

	"plenario/internal/domain"
)

func scanAttendance(row rowScanner) (domain.AttendanceRecord, error) {
	var rec domain.AttendanceRecord
	var just sql.NullString
	err := row.Scan(&rec.SessionID, &rec.MemberID, &rec.Status, &just)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if just.Valid {
		rec.Justification = &just.String
	}
	return rec, nil
}

// InitAttendanceTx bulk-creates absent records for the whole roster; called
// once when a session opens.
func (r Repo) InitAttendanceTx(ctx context.Context, tx *sql.Tx, sessionID string, memberIDs []string) error {
	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO attendance(session_id,member_id,status) VALUES (?,?,'absent')`, sessionID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetAttendanceTx(ctx context.Context, tx *sql.Tx, sessionID, memberID string) (domain.AttendanceRecord, error) {
	return scanAttendance(tx.QueryRowContext(ctx, `SELECT session_id,member_id,status,justification FROM attendance WHERE session_id=? AND member_id=?`, sessionID, memberID))
}

func (r Repo) UpdateAttendanceTx(ctx context.Context, tx *sql.Tx, rec domain.AttendanceRecord) error {
	res, err := tx.ExecContext(ctx, `UPDATE attendance SET status=?, justification=? WHERE session_id=? AND member_id=?`,
		rec.Status, nullableStringPtr(rec.Justification), rec.SessionID, rec.MemberID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func listAttendance(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, sessionID string) ([]domain.AttendanceRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT session_id,member_id,status,justification FROM attendance WHERE session_id=? ORDER BY member_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) ListAttendance(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	return listAttendance(ctx, r.DB, sessionID)
}

func (r Repo) ListAttendanceTx(ctx context.Context, tx *sql.Tx, sessionID string) ([]domain.AttendanceRecord, error) {
	return listAttendance(ctx, tx, sessionID)
}

func (r Repo) CountPresentTx(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM attendance WHERE session_id=? AND status='present'`, sessionID).Scan(&n)
	return n, err
}
