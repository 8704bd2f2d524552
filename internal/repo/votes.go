package repo

import (
	"context"
	"database/sql"

	"plenario/internal/domain"
)

func (r Repo) UpsertVoteTx(ctx context.Context, tx *sql.Tx, v domain.Vote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO votes(session_id,document_id,member_id,choice,cast_at) VALUES (?,?,?,?,?)
ON CONFLICT(session_id,document_id,member_id) DO UPDATE SET choice=excluded.choice, cast_at=excluded.cast_at`,
		v.SessionID, v.DocumentID, v.MemberID, v.Choice, v.CastAt)
	return err
}

func (r Repo) DeleteVotesTx(ctx context.Context, tx *sql.Tx, sessionID, documentID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE session_id=? AND document_id=?`, sessionID, documentID)
	return err
}

// DeleteMemberVoteTx removes one member's ballot from a round. Reports
// whether a ballot existed.
func (r Repo) DeleteMemberVoteTx(ctx context.Context, tx *sql.Tx, sessionID, documentID, memberID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE session_id=? AND document_id=? AND member_id=?`, sessionID, documentID, memberID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ListVotesTx(ctx context.Context, tx *sql.Tx, sessionID, documentID string) ([]domain.Vote, error) {
	rows, err := tx.QueryContext(ctx, `SELECT session_id,document_id,member_id,choice,cast_at FROM votes WHERE session_id=? AND document_id=? ORDER BY member_id ASC`, sessionID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVotes(rows)
}

func (r Repo) ListVotes(ctx context.Context, sessionID, documentID string) ([]domain.Vote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT session_id,document_id,member_id,choice,cast_at FROM votes WHERE session_id=? AND document_id=? ORDER BY member_id ASC`, sessionID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVotes(rows)
}

func collectVotes(rows *sql.Rows) ([]domain.Vote, error) {
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.SessionID, &v.DocumentID, &v.MemberID, &v.Choice, &v.CastAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// ListVoterIDs returns who has voted without exposing choices; the read path
// for secret ballots.
func (r Repo) ListVoterIDs(ctx context.Context, sessionID, documentID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT member_id FROM votes WHERE session_id=? AND document_id=? ORDER BY member_id ASC`, sessionID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const resultColumns = `id,session_id,document_id,yes,no,abstain,absent,casting_vote_used,secret,outcome,remarks,closed_at`

func scanResult(row rowScanner) (domain.VotingResult, error) {
	var res domain.VotingResult
	var casting, secret int
	var remarks sql.NullString
	err := row.Scan(&res.ID, &res.SessionID, &res.DocumentID, &res.Yes, &res.No, &res.Abstain, &res.Absent,
		&casting, &secret, &res.Outcome, &remarks, &res.ClosedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	res.CastingVoteUsed = casting != 0
	res.Secret = secret != 0
	if remarks.Valid {
		res.Remarks = remarks.String
	}
	return res, nil
}

func (r Repo) InsertVotingResultTx(ctx context.Context, tx *sql.Tx, res domain.VotingResult) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO voting_results(`+resultColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.SessionID, res.DocumentID, res.Yes, res.No, res.Abstain, res.Absent,
		boolToInt(res.CastingVoteUsed), boolToInt(res.Secret), res.Outcome, nullable(res.Remarks), res.ClosedAt)
	return err
}

func (r Repo) GetVotingResult(ctx context.Context, sessionID, documentID string) (domain.VotingResult, error) {
	return scanResult(r.DB.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM voting_results WHERE session_id=? AND document_id=?`, sessionID, documentID))
}

func (r Repo) ListVotingResults(ctx context.Context, sessionID string) ([]domain.VotingResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+resultColumns+` FROM voting_results WHERE session_id=? ORDER BY closed_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VotingResult
	for rows.Next() {
		vr, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, vr)
	}
	return res, rows.Err()
}

// HasApprovedResultForDocument reports whether a document was already voted
// and approved in any session; used to decide whether a prior minutes
// document is still pending.
func (r Repo) HasApprovedResultForDocumentTx(ctx context.Context, tx *sql.Tx, documentID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM voting_results WHERE document_id=? AND outcome='approved'`, documentID).Scan(&n)
	return n > 0, err
}
