package repo

import (
	"context"
	"database/sql"
	"strings"

	"plenario/internal/domain"
)

// Members and documents are owned by external services (roster and document
// numbering); the tables here hold the read model this core consumes.

func (r Repo) InsertMember(ctx context.Context, m domain.Member) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(id,name,party,active) VALUES (?,?,?,?)`,
		m.ID, m.Name, nullable(m.Party), boolToInt(m.Active))
	return err
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.Member, error) {
	var m domain.Member
	var party sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,party,active FROM members WHERE id=?`, id).
		Scan(&m.ID, &m.Name, &party, &active)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if party.Valid {
		m.Party = party.String
	}
	m.Active = active != 0
	return m, nil
}

func (r Repo) ListMembers(ctx context.Context, activeOnly bool) ([]domain.Member, error) {
	query := `SELECT id,name,party,active FROM members`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY name ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var party sql.NullString
		var active int
		if err := rows.Scan(&m.ID, &m.Name, &party, &active); err != nil {
			return nil, err
		}
		if party.Valid {
			m.Party = party.String
		}
		m.Active = active != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

// ActiveMemberIDsTx returns the current roster inside a transaction; this is
// the set attendance records are initialized from and the quorum base.
func (r Repo) ActiveMemberIDsTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM members WHERE active=1 ORDER BY name ASC`)
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

func (r Repo) CountActiveMembers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM members WHERE active=1`).Scan(&n)
	return n, err
}

func (r Repo) CountActiveMembersTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM members WHERE active=1`).Scan(&n)
	return n, err
}

// --- documents ---

const documentColumns = `id,protocol_number,kind,summary,author_id,status,created_at`

func scanDocument(row rowScanner) (domain.Document, error) {
	var d domain.Document
	var summary, author sql.NullString
	err := row.Scan(&d.ID, &d.ProtocolNumber, &d.Kind, &summary, &author, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if summary.Valid {
		d.Summary = summary.String
	}
	if author.Valid {
		d.AuthorID = &author.String
	}
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, d domain.Document) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO documents(`+documentColumns+`) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProtocolNumber, d.Kind, nullable(d.Summary), nullableStringPtr(d.AuthorID), d.Status, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

type DocumentFilters struct {
	Kind   string
	Status string
	// Unagendaed restricts to documents not placed on any session's agenda.
	Unagendaed bool
}

func (r Repo) ListDocuments(ctx context.Context, f DocumentFilters) ([]domain.Document, error) {
	var clauses []string
	var args []any
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Unagendaed {
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM agenda_items a WHERE a.document_id=documents.id)")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// UnagendaedByKindTx lists available documents of a kind that sit on no
// agenda yet; the agenda seeding pass feeds from it.
func (r Repo) UnagendaedByKindTx(ctx context.Context, tx *sql.Tx, kind string) ([]domain.Document, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents
WHERE kind=? AND status='available'
AND NOT EXISTS (SELECT 1 FROM agenda_items a WHERE a.document_id=documents.id)
ORDER BY created_at ASC, id ASC`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
