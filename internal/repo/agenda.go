package repo

import (
	"context"
	"database/sql"

	"plenario/internal/domain"
)

const agendaColumns = `id,session_id,document_id,section,position,status,report_ref,auto_added`

func scanAgendaItem(row rowScanner) (domain.AgendaItem, error) {
	var it domain.AgendaItem
	var report sql.NullString
	var auto int
	err := row.Scan(&it.ID, &it.SessionID, &it.DocumentID, &it.Section, &it.Position, &it.Status, &report, &auto)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if report.Valid {
		it.ReportRef = &report.String
	}
	it.AutoAdded = auto != 0
	return it, nil
}

func (r Repo) InsertAgendaItemTx(ctx context.Context, tx *sql.Tx, it domain.AgendaItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agenda_items(`+agendaColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.SessionID, it.DocumentID, it.Section, it.Position, it.Status, nullableStringPtr(it.ReportRef), boolToInt(it.AutoAdded))
	return err
}

func (r Repo) GetAgendaItem(ctx context.Context, id string) (domain.AgendaItem, error) {
	return scanAgendaItem(r.DB.QueryRowContext(ctx, `SELECT `+agendaColumns+` FROM agenda_items WHERE id=?`, id))
}

func (r Repo) GetAgendaItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.AgendaItem, error) {
	return scanAgendaItem(tx.QueryRowContext(ctx, `SELECT `+agendaColumns+` FROM agenda_items WHERE id=?`, id))
}

func listAgendaItems(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, sessionID string) ([]domain.AgendaItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+agendaColumns+` FROM agenda_items WHERE session_id=?
ORDER BY CASE section WHEN 'expediente' THEN 0 WHEN 'ordem_do_dia' THEN 1 ELSE 2 END, position ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgendaItem
	for rows.Next() {
		it, err := scanAgendaItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) ListAgendaItems(ctx context.Context, sessionID string) ([]domain.AgendaItem, error) {
	return listAgendaItems(ctx, r.DB, sessionID)
}

func (r Repo) ListAgendaItemsTx(ctx context.Context, tx *sql.Tx, sessionID string) ([]domain.AgendaItem, error) {
	return listAgendaItems(ctx, tx, sessionID)
}

func (r Repo) CountAgendaItemsTx(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM agenda_items WHERE session_id=?`, sessionID).Scan(&n)
	return n, err
}

// NextPositionTx returns the next free ordinal within a section.
func (r Repo) NextPositionTx(ctx context.Context, tx *sql.Tx, sessionID, section string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM agenda_items WHERE session_id=? AND section=?`, sessionID, section).Scan(&n)
	return n, err
}

func (r Repo) DeleteAgendaItemTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM agenda_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetItemPositionTx(ctx context.Context, tx *sql.Tx, id string, position int) error {
	_, err := tx.ExecContext(ctx, `UPDATE agenda_items SET position=? WHERE id=?`, position, id)
	return err
}

// SetItemStatusTx is a guarded status move; false means the precondition
// status no longer held.
func (r Repo) SetItemStatusTx(ctx context.Context, tx *sql.Tx, id, from, to string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE agenda_items SET status=? WHERE id=? AND status=?`, to, id, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) SetItemReportTx(ctx context.Context, tx *sql.Tx, id, reportRef string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agenda_items SET report_ref=? WHERE id=?`, reportRef, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InVotingItemTx returns the session's item currently in voting, if any.
func (r Repo) InVotingItemTx(ctx context.Context, tx *sql.Tx, sessionID string) (domain.AgendaItem, error) {
	return scanAgendaItem(tx.QueryRowContext(ctx, `SELECT `+agendaColumns+` FROM agenda_items WHERE session_id=? AND status='in_voting' LIMIT 1`, sessionID))
}

// HasItemInStatusTx reports whether any item of the session is in the status.
func (r Repo) HasItemInStatusTx(ctx context.Context, tx *sql.Tx, sessionID, status string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM agenda_items WHERE session_id=? AND status=?`, sessionID, status).Scan(&n)
	return n > 0, err
}
