package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"plenario/internal/config"
	"plenario/internal/domain"
	"plenario/internal/events"
	"plenario/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

var sessionKinds = map[string]bool{
	"ordinaria":      true,
	"extraordinaria": true,
	"solene":         true,
}

var documentKinds = map[string]bool{
	"ata":          true,
	"projeto_lei":  true,
	"parecer":      true,
	"requerimento": true,
	"mocao":        true,
	"indicacao":    true,
	"veto":         true,
}

// InitPeriod registers a legislative period and stores its standing-rules
// config, with migrations already run.
func (e Engine) InitPeriod(ctx context.Context, periodID, label, startsOn, endsOn, actorID string) (domain.Period, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Period{}, err
	}
	defer tx.Rollback()

	p := domain.Period{
		ID:        periodID,
		Label:     label,
		StartsOn:  startsOn,
		EndsOn:    endsOn,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO periods(id,label,starts_on,ends_on,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Label, p.StartsOn, p.EndsOn, p.CreatedAt); err != nil {
		return domain.Period{}, fmt.Errorf("insert period: %w", err)
	}
	if err := e.Repo.UpsertPeriodConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Period{}, fmt.Errorf("insert period config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "period.init", "", "period", p.ID, actorID, events.EventPayload{"label": p.Label}); err != nil {
		return domain.Period{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Period{}, err
	}
	return p, nil
}

// RegisterMember adds a member to the roster. Members are deactivated, never
// deleted, so historical attendance stays attributable.
func (e Engine) RegisterMember(ctx context.Context, m domain.Member, actorID string) (domain.Member, error) {
	if m.Name == "" {
		return domain.Member{}, errors.New("member name is required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO members(id,name,party,active) VALUES (?,?,?,?)`,
		m.ID, m.Name, nullable(m.Party), boolToInt(m.Active)); err != nil {
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "member.registered", "", "member", m.ID, actorID, events.EventPayload{"name": m.Name}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// RegisterDocument records a protocoled document as available for agendas.
// Protocol assignment itself belongs to the numbering service; the engine
// only stores the reference.
func (e Engine) RegisterDocument(ctx context.Context, d domain.Document, actorID string) (domain.Document, error) {
	if !documentKinds[d.Kind] {
		return domain.Document{}, fmt.Errorf("unknown document kind %q", d.Kind)
	}
	if d.ProtocolNumber == "" {
		return domain.Document{}, errors.New("protocol number is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = "available"
	}
	d.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents(id,protocol_number,kind,summary,author_id,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProtocolNumber, d.Kind, nullable(d.Summary), nullableStringPtr(d.AuthorID), d.Status, d.CreatedAt); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "document.registered", "", "document", d.ID, actorID, events.EventPayload{"kind": d.Kind, "protocol_number": d.ProtocolNumber}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// ScheduleSessionOptions are parameters for scheduling a plenary session.
type ScheduleSessionOptions struct {
	ID          string
	PeriodID    string
	Kind        string
	ScheduledAt string
	Location    string
	Notes       string
	ActorID     string
}

func (e Engine) ScheduleSession(ctx context.Context, opts ScheduleSessionOptions) (domain.Session, error) {
	if opts.Kind == "" {
		opts.Kind = "ordinaria"
	}
	if !sessionKinds[opts.Kind] {
		return domain.Session{}, fmt.Errorf("unknown session kind %q", opts.Kind)
	}
	if opts.PeriodID == "" {
		return domain.Session{}, errors.New("period is required")
	}
	if _, err := time.Parse(time.RFC3339, opts.ScheduledAt); err != nil {
		return domain.Session{}, fmt.Errorf("scheduled_at must be RFC 3339: %w", err)
	}
	if _, err := e.Repo.GetPeriod(ctx, opts.PeriodID); err != nil {
		return domain.Session{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Location == "" && e.Config != nil {
		opts.Location = e.Config.Sessions.Location
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	nowStr := e.now().UTC().Format(time.RFC3339)
	s := domain.Session{
		ID:          opts.ID,
		PeriodID:    opts.PeriodID,
		Kind:        opts.Kind,
		ScheduledAt: opts.ScheduledAt,
		Location:    opts.Location,
		Notes:       opts.Notes,
		Status:      "scheduled",
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if err := e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "session.scheduled", s.ID, "session", s.ID, opts.ActorID, events.EventPayload{
		"kind":         s.Kind,
		"scheduled_at": s.ScheduledAt,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// OpenSession moves a session from scheduled to in_progress. The agenda must
// be published and non-empty, and the roster's attendance records are bulk
// created here, all absent, so every subsequent quorum computation works off
// the frozen roster.
func (e Engine) OpenSession(ctx context.Context, sessionID, presidingMemberID, actorID string) (domain.Session, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Status != "scheduled" {
		return domain.Session{}, ruleErr(CodeInvalidTransition, "cannot open session in status %s", s.Status).withDetail("status", s.Status)
	}
	if !s.AgendaPublished {
		return domain.Session{}, ruleErr(CodePrecursorNotMet, "agenda must be published before the session can open")
	}
	count, err := e.Repo.CountAgendaItemsTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if count == 0 {
		return domain.Session{}, ruleErr(CodePrecursorNotMet, "agenda has no items")
	}
	if presidingMemberID != "" {
		m, err := e.Repo.GetMember(ctx, presidingMemberID)
		if err != nil {
			return domain.Session{}, fmt.Errorf("presiding member: %w", err)
		}
		if !m.Active {
			return domain.Session{}, ruleErr(CodeNotEligible, "presiding member %s is not active", presidingMemberID)
		}
	}

	memberIDs, err := e.Repo.ActiveMemberIDsTx(ctx, tx)
	if err != nil {
		return domain.Session{}, err
	}
	if len(memberIDs) == 0 {
		return domain.Session{}, ruleErr(CodePrecursorNotMet, "no active members on the roster")
	}
	if err := e.Repo.InitAttendanceTx(ctx, tx, sessionID, memberIDs); err != nil {
		return domain.Session{}, fmt.Errorf("init attendance: %w", err)
	}

	nowStr := e.now().UTC().Format(time.RFC3339)
	applied, err := e.Repo.OpenSessionTx(ctx, tx, sessionID, nowStr, presidingMemberID, nowStr)
	if err != nil {
		return domain.Session{}, err
	}
	if !applied {
		return domain.Session{}, conflictErr("session", sessionID)
	}
	if err := e.Events.Append(ctx, tx, "session.opened", sessionID, "session", sessionID, actorID, events.EventPayload{
		"roster_size": len(memberIDs),
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return e.Repo.GetSession(ctx, sessionID)
}

// SuspendSession pauses an in_progress session. An open voting round blocks
// suspension; it has to be closed or abandoned first.
func (e Engine) SuspendSession(ctx context.Context, sessionID, actorID string) (domain.Session, error) {
	return e.flipSessionStatus(ctx, sessionID, actorID, "in_progress", "suspended", "session.suspended", true, nil)
}

// ResumeSession returns a suspended session to in_progress.
func (e Engine) ResumeSession(ctx context.Context, sessionID, actorID string) (domain.Session, error) {
	return e.flipSessionStatus(ctx, sessionID, actorID, "suspended", "in_progress", "session.resumed", false, nil)
}

// PostponeSession defers a scheduled session. The original date is kept in
// the event log so a reschedule can be audited against it.
func (e Engine) PostponeSession(ctx context.Context, sessionID, reason, actorID string) (domain.Session, error) {
	return e.flipSessionStatus(ctx, sessionID, actorID, "scheduled", "postponed", "session.postponed", false, func(s domain.Session) events.EventPayload {
		return events.EventPayload{"scheduled_at": s.ScheduledAt, "reason": reason}
	})
}

func (e Engine) flipSessionStatus(ctx context.Context, sessionID, actorID, from, to, evtType string, blockOnOpenVote bool, payloadFn func(domain.Session) events.EventPayload) (domain.Session, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Status != from {
		return domain.Session{}, ruleErr(CodeInvalidTransition, "cannot move session from %s to %s", s.Status, to).withDetail("status", s.Status)
	}
	if blockOnOpenVote {
		if item, err := e.Repo.InVotingItemTx(ctx, tx, sessionID); err == nil {
			return domain.Session{}, ruleErr(CodeInvalidTransition, "a vote is open on document %s; close or abandon it first", item.DocumentID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Session{}, err
		}
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	applied, err := e.Repo.SetSessionStatusTx(ctx, tx, sessionID, from, to, nowStr)
	if err != nil {
		return domain.Session{}, err
	}
	if !applied {
		return domain.Session{}, conflictErr("session", sessionID)
	}
	var payload events.EventPayload
	if payloadFn != nil {
		payload = payloadFn(s)
	}
	if err := e.Events.Append(ctx, tx, evtType, sessionID, "session", sessionID, actorID, payload); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return e.Repo.GetSession(ctx, sessionID)
}

// RescheduleSession puts a postponed session back on the calendar at a new
// date.
func (e Engine) RescheduleSession(ctx context.Context, sessionID, scheduledAt, actorID string) (domain.Session, error) {
	if _, err := time.Parse(time.RFC3339, scheduledAt); err != nil {
		return domain.Session{}, fmt.Errorf("scheduled_at must be RFC 3339: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Status != "postponed" {
		return domain.Session{}, ruleErr(CodeInvalidTransition, "only postponed sessions can be rescheduled, status is %s", s.Status).withDetail("status", s.Status)
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	applied, err := e.Repo.RescheduleSessionTx(ctx, tx, sessionID, scheduledAt, nowStr)
	if err != nil {
		return domain.Session{}, err
	}
	if !applied {
		return domain.Session{}, conflictErr("session", sessionID)
	}
	if err := e.Events.Append(ctx, tx, "session.rescheduled", sessionID, "session", sessionID, actorID, events.EventPayload{
		"from": s.ScheduledAt,
		"to":   scheduledAt,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return e.Repo.GetSession(ctx, sessionID)
}

// CloseSession realizes an in_progress session: stamps the close timestamp
// and, for ordinary and extraordinary sessions, assigns the next sequence
// number in the period. From here on the conduct record is frozen and the
// minutes generator may be invoked.
func (e Engine) CloseSession(ctx context.Context, sessionID, actorID string) (domain.Session, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Status != "in_progress" {
		return domain.Session{}, ruleErr(CodeInvalidTransition, "cannot close session in status %s", s.Status).withDetail("status", s.Status)
	}
	if item, err := e.Repo.InVotingItemTx(ctx, tx, sessionID); err == nil {
		return domain.Session{}, ruleErr(CodeInvalidTransition, "a vote is open on document %s; close or abandon it first", item.DocumentID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, err
	}

	var seq *int
	if s.Kind == "ordinaria" || s.Kind == "extraordinaria" {
		max, err := e.Repo.MaxSeqNumberTx(ctx, tx, s.PeriodID)
		if err != nil {
			return domain.Session{}, err
		}
		next := max + 1
		seq = &next
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	applied, err := e.Repo.CloseSessionTx(ctx, tx, sessionID, nowStr, seq, nowStr)
	if err != nil {
		return domain.Session{}, err
	}
	if !applied {
		return domain.Session{}, conflictErr("session", sessionID)
	}
	payload := events.EventPayload{}
	if seq != nil {
		payload["seq_number"] = *seq
	}
	if err := e.Events.Append(ctx, tx, "session.closed", sessionID, "session", sessionID, actorID, payload); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return e.Repo.GetSession(ctx, sessionID)
}

// MarkNotRealized terminally cancels a session that never ran. A reason is
// mandatory because the cancellation goes into the official record.
func (e Engine) MarkNotRealized(ctx context.Context, sessionID, reason, actorID string) (domain.Session, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Session{}, errors.New("a reason is required to mark a session not realized")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	allowed := map[string]bool{"scheduled": true, "suspended": true, "postponed": true}
	if !allowed[s.Status] {
		return domain.Session{}, ruleErr(CodeInvalidTransition, "cannot mark session not realized from status %s", s.Status).withDetail("status", s.Status)
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	applied, err := e.Repo.CancelSessionTx(ctx, tx, sessionID, reason, nowStr, []string{"scheduled", "suspended", "postponed"})
	if err != nil {
		return domain.Session{}, err
	}
	if !applied {
		return domain.Session{}, conflictErr("session", sessionID)
	}
	if err := e.Events.Append(ctx, tx, "session.not_realized", sessionID, "session", sessionID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return e.Repo.GetSession(ctx, sessionID)
}

// SessionSummary assembles the read-only conduct record: session header,
// presiding member, full attendance, and the agenda with each item's document
// and closed result. This is the payload the minutes generator consumes.
func (e Engine) SessionSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	summary := domain.SessionSummary{Session: s}
	if s.PresidingMemberID != nil {
		m, err := e.Repo.GetMember(ctx, *s.PresidingMemberID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.SessionSummary{}, err
		}
		if err == nil {
			summary.Presiding = &m
		}
	}
	summary.Attendance, err = e.Repo.ListAttendance(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	items, err := e.Repo.ListAgendaItems(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	results, err := e.Repo.ListVotingResults(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	byDoc := make(map[string]domain.VotingResult, len(results))
	for _, r := range results {
		byDoc[r.DocumentID] = r
	}
	for _, it := range items {
		doc, err := e.Repo.GetDocument(ctx, it.DocumentID)
		if err != nil {
			return domain.SessionSummary{}, err
		}
		outcome := domain.AgendaOutcome{Item: it, Document: doc}
		if r, ok := byDoc[it.DocumentID]; ok {
			outcome.Result = &r
		}
		summary.Agenda = append(summary.Agenda, outcome)
	}
	return summary, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
