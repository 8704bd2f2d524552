package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"plenario/internal/config"
	"plenario/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type rowScanner interface {
	Scan(dest ...any) error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// --- periods ---

func (r Repo) InsertPeriod(ctx context.Context, p domain.Period) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO periods(id,label,starts_on,ends_on,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Label, p.StartsOn, p.EndsOn, p.CreatedAt)
	return err
}

func (r Repo) GetPeriod(ctx context.Context, id string) (domain.Period, error) {
	var p domain.Period
	err := r.DB.QueryRowContext(ctx, `SELECT id,label,starts_on,ends_on,created_at FROM periods WHERE id=?`, id).
		Scan(&p.ID, &p.Label, &p.StartsOn, &p.EndsOn, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPeriods(ctx context.Context) ([]domain.Period, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,label,starts_on,ends_on,created_at FROM periods ORDER BY starts_on DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Period
	for rows.Next() {
		var p domain.Period
		if err := rows.Scan(&p.ID, &p.Label, &p.StartsOn, &p.EndsOn, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SinglePeriod returns the only period, or an error asking the caller to
// disambiguate.
func (r Repo) SinglePeriod(ctx context.Context) (domain.Period, error) {
	items, err := r.ListPeriods(ctx)
	if err != nil {
		return domain.Period{}, err
	}
	if len(items) == 0 {
		return domain.Period{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.Period{}, fmt.Errorf("multiple periods exist; specify --period")
	}
	return items[0], nil
}

// --- period config ---

func (r Repo) UpsertPeriodConfig(ctx context.Context, periodID string, cfg *config.Config) error {
	return upsertPeriodConfig(ctx, r.DB, nil, periodID, cfg)
}

func (r Repo) UpsertPeriodConfigTx(ctx context.Context, tx *sql.Tx, periodID string, cfg *config.Config) error {
	return upsertPeriodConfig(ctx, nil, tx, periodID, cfg)
}

func upsertPeriodConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, periodID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Chamber.Period = periodID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO period_configs(period_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(period_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, periodID, string(payload), now, now)
	return err
}

func (r Repo) GetPeriodConfig(ctx context.Context, periodID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM period_configs WHERE period_id=?`, periodID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Chamber.Period == "" {
		cfg.Chamber.Period = periodID
	}
	return &cfg, cfg.Validate()
}

// --- sessions ---

const sessionColumns = `id,period_id,seq_number,kind,scheduled_at,opened_at,closed_at,location,notes,cancel_reason,status,presiding_member_id,agenda_published,agenda_seeded,created_at,updated_at`

func scanSession(row rowScanner) (domain.Session, error) {
	var s domain.Session
	var seq sql.NullInt64
	var openedAt, closedAt, location, notes, cancelReason, presiding sql.NullString
	var published, seeded int
	err := row.Scan(&s.ID, &s.PeriodID, &seq, &s.Kind, &s.ScheduledAt, &openedAt, &closedAt,
		&location, &notes, &cancelReason, &s.Status, &presiding, &published, &seeded, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if seq.Valid {
		n := int(seq.Int64)
		s.SeqNumber = &n
	}
	if openedAt.Valid {
		s.OpenedAt = &openedAt.String
	}
	if closedAt.Valid {
		s.ClosedAt = &closedAt.String
	}
	if location.Valid {
		s.Location = location.String
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	if cancelReason.Valid {
		s.CancelReason = &cancelReason.String
	}
	if presiding.Valid {
		s.PresidingMemberID = &presiding.String
	}
	s.AgendaPublished = published != 0
	s.AgendaSeeded = seeded != 0
	return s, nil
}

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.PeriodID, nullableIntPtr(s.SeqNumber), s.Kind, s.ScheduledAt, nullableStringPtr(s.OpenedAt),
		nullableStringPtr(s.ClosedAt), nullable(s.Location), nullable(s.Notes), nullableStringPtr(s.CancelReason),
		s.Status, nullableStringPtr(s.PresidingMemberID), boolToInt(s.AgendaPublished), boolToInt(s.AgendaSeeded),
		s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	return scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
}

type SessionFilters struct {
	PeriodID string
	Status   string
	Kind     string
	Limit    int
}

func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.Session, error) {
	var clauses []string
	var args []any
	if f.PeriodID != "" {
		clauses = append(clauses, "period_id=?")
		args = append(args, f.PeriodID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions ` + where + ` ORDER BY scheduled_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SessionExistsOnDate reports whether the period already has a session
// scheduled on the given calendar date (YYYY-MM-DD).
func (r Repo) SessionExistsOnDate(ctx context.Context, periodID, date string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE period_id=? AND date(scheduled_at)=?`, periodID, date).Scan(&n)
	return n > 0, err
}

// Guarded transitions. Each returns false when the status precondition no
// longer held, so the engine can reject with a conflict.

func (r Repo) SetSessionStatusTx(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) OpenSessionTx(ctx context.Context, tx *sql.Tx, id, openedAt, presidingMemberID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status='in_progress', opened_at=?, presiding_member_id=?, updated_at=? WHERE id=? AND status='scheduled'`,
		openedAt, nullable(presidingMemberID), updatedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CloseSessionTx(ctx context.Context, tx *sql.Tx, id, closedAt string, seq *int, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status='realized', closed_at=?, seq_number=?, updated_at=? WHERE id=? AND status='in_progress'`,
		closedAt, nullableIntPtr(seq), updatedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CancelSessionTx(ctx context.Context, tx *sql.Tx, id, reason, updatedAt string, fromStatuses []string) (bool, error) {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(fromStatuses)), ",")
	args := []any{reason, updatedAt, id}
	for _, s := range fromStatuses {
		args = append(args, s)
	}
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status='not_realized', cancel_reason=?, updated_at=? WHERE id=? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) RescheduleSessionTx(ctx context.Context, tx *sql.Tx, id, scheduledAt, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status='scheduled', scheduled_at=?, updated_at=? WHERE id=? AND status='postponed'`,
		scheduledAt, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) SetAgendaPublishedTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET agenda_published=1, updated_at=? WHERE id=? AND agenda_published=0`, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) SetAgendaSeededTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET agenda_seeded=1, updated_at=? WHERE id=? AND agenda_seeded=0`, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MaxSeqNumberTx returns the highest sequence number assigned in a period.
func (r Repo) MaxSeqNumberTx(ctx context.Context, tx *sql.Tx, periodID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq_number),0) FROM sessions WHERE period_id=?`, periodID).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
