package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"plenario/internal/config"
	"plenario/internal/db"
	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("leg-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitPeriod(ctx, "leg-1", "Legislatura 2025-2028", "2025-01-01", "2028-12-31", "tester"); err != nil {
		t.Fatalf("init period: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func addMembers(t *testing.T, env testEnv, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("m%02d", i)
		_, err := env.Engine.RegisterMember(env.Ctx, domain.Member{ID: id, Name: fmt.Sprintf("Vereador %d", i), Active: true}, "tester")
		if err != nil {
			t.Fatalf("register member %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func registerDoc(t *testing.T, env testEnv, kind, protocol string) domain.Document {
	t.Helper()
	doc, err := env.Engine.RegisterDocument(env.Ctx, domain.Document{ProtocolNumber: protocol, Kind: kind, Summary: protocol}, "tester")
	if err != nil {
		t.Fatalf("register document %s: %v", protocol, err)
	}
	return doc
}

func scheduleSession(t *testing.T, env testEnv) domain.Session {
	t.Helper()
	s, err := env.Engine.ScheduleSession(env.Ctx, engine.ScheduleSessionOptions{
		PeriodID:    "leg-1",
		Kind:        "ordinaria",
		ScheduledAt: "2025-03-10T19:00:00Z",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("schedule session: %v", err)
	}
	return s
}

// openSession schedules a session, places the given documents on the order
// of the day, publishes, and opens with the first member presiding.
func openSession(t *testing.T, env testEnv, presiding string, docs ...domain.Document) (domain.Session, []domain.AgendaItem) {
	t.Helper()
	s := scheduleSession(t, env)
	for _, doc := range docs {
		if _, err := env.Engine.AddAgendaItem(env.Ctx, s.ID, doc.ID, "ordem_do_dia", "tester"); err != nil {
			t.Fatalf("add agenda item: %v", err)
		}
	}
	if _, err := env.Engine.PublishAgenda(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("publish agenda: %v", err)
	}
	s2, err := env.Engine.OpenSession(env.Ctx, s.ID, presiding, "tester")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	items, err := env.Engine.Repo.ListAgendaItems(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	return s2, items
}

func markPresent(t *testing.T, env testEnv, sessionID string, memberIDs ...string) {
	t.Helper()
	for _, id := range memberIDs {
		if _, err := env.Engine.MarkAttendance(env.Ctx, sessionID, id, "present", "", "tester"); err != nil {
			t.Fatalf("mark %s present: %v", id, err)
		}
	}
}

func ruleCode(t *testing.T, err error) string {
	t.Helper()
	var re engine.RuleError
	if !errors.As(err, &re) {
		t.Fatalf("expected rule error, got %v", err)
	}
	return re.Code
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 5)
	doc := registerDoc(t, env, "projeto_lei", "PL-001")
	s, _ := openSession(t, env, members[0], doc)
	if s.Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", s.Status)
	}
	if s.OpenedAt == nil {
		t.Fatalf("expected opened_at stamp")
	}
	s, err := env.Engine.SuspendSession(env.Ctx, s.ID, "tester")
	if err != nil || s.Status != "suspended" {
		t.Fatalf("suspend: %v status=%s", err, s.Status)
	}
	s, err = env.Engine.ResumeSession(env.Ctx, s.ID, "tester")
	if err != nil || s.Status != "in_progress" {
		t.Fatalf("resume: %v status=%s", err, s.Status)
	}
	s, err = env.Engine.CloseSession(env.Ctx, s.ID, "tester")
	if err != nil || s.Status != "realized" {
		t.Fatalf("close: %v status=%s", err, s.Status)
	}
	if s.ClosedAt == nil {
		t.Fatalf("expected closed_at stamp")
	}
	if s.SeqNumber == nil || *s.SeqNumber != 1 {
		t.Fatalf("expected seq 1, got %v", s.SeqNumber)
	}
	// realized is terminal
	if _, err := env.Engine.SuspendSession(env.Ctx, s.ID, "tester"); err == nil {
		t.Fatalf("expected transition error from realized")
	}
}

func TestOpenRequiresPublishedAgenda(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	s := scheduleSession(t, env)
	_, err := env.Engine.OpenSession(env.Ctx, s.ID, members[0], "tester")
	if code := ruleCode(t, err); code != engine.CodePrecursorNotMet {
		t.Fatalf("expected precursor_not_met, got %s", code)
	}
}

func TestOpenInitializesAttendanceAbsent(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 7)
	doc := registerDoc(t, env, "requerimento", "REQ-001")
	s, _ := openSession(t, env, members[0], doc)
	records, err := env.Engine.Repo.ListAttendance(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("list attendance: %v", err)
	}
	if len(records) != 7 {
		t.Fatalf("expected 7 attendance records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Status != "absent" {
			t.Fatalf("expected all absent at open, %s is %s", rec.MemberID, rec.Status)
		}
	}
}

func TestPostponeRescheduleNotRealized(t *testing.T) {
	env := newTestEnv(t)
	s := scheduleSession(t, env)
	s, err := env.Engine.PostponeSession(env.Ctx, s.ID, "falta de pauta", "tester")
	if err != nil || s.Status != "postponed" {
		t.Fatalf("postpone: %v status=%s", err, s.Status)
	}
	s, err = env.Engine.RescheduleSession(env.Ctx, s.ID, "2025-03-17T19:00:00Z", "tester")
	if err != nil || s.Status != "scheduled" {
		t.Fatalf("reschedule: %v status=%s", err, s.Status)
	}
	if s.ScheduledAt != "2025-03-17T19:00:00Z" {
		t.Fatalf("expected new date, got %s", s.ScheduledAt)
	}
	// reason is mandatory for not_realized
	if _, err := env.Engine.MarkNotRealized(env.Ctx, s.ID, "  ", "tester"); err == nil {
		t.Fatalf("expected reason required")
	}
	s, err = env.Engine.MarkNotRealized(env.Ctx, s.ID, "sem quorum na abertura", "tester")
	if err != nil || s.Status != "not_realized" {
		t.Fatalf("not realized: %v status=%s", err, s.Status)
	}
	if s.CancelReason == nil || *s.CancelReason != "sem quorum na abertura" {
		t.Fatalf("expected cancel reason persisted")
	}
	// terminal
	if _, err := env.Engine.RescheduleSession(env.Ctx, s.ID, "2025-03-24T19:00:00Z", "tester"); err == nil {
		t.Fatalf("expected transition error from not_realized")
	}
}

func TestRescheduleOnlyFromPostponed(t *testing.T) {
	env := newTestEnv(t)
	s := scheduleSession(t, env)
	_, err := env.Engine.RescheduleSession(env.Ctx, s.ID, "2025-03-17T19:00:00Z", "tester")
	if code := ruleCode(t, err); code != engine.CodeInvalidTransition {
		t.Fatalf("expected invalid_transition, got %s", code)
	}
}

func TestSoleneSessionHasNoSeqNumber(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "mocao", "MOC-001")
	s, err := env.Engine.ScheduleSession(env.Ctx, engine.ScheduleSessionOptions{
		PeriodID:    "leg-1",
		Kind:        "solene",
		ScheduledAt: "2025-03-12T19:00:00Z",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := env.Engine.AddAgendaItem(env.Ctx, s.ID, doc.ID, "expediente", "tester"); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := env.Engine.PublishAgenda(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := env.Engine.OpenSession(env.Ctx, s.ID, members[0], "tester"); err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err = env.Engine.CloseSession(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.SeqNumber != nil {
		t.Fatalf("solene sessions carry no sequence number, got %d", *s.SeqNumber)
	}
}

func TestSeqNumbersIncrementPerPeriod(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	for i := 1; i <= 3; i++ {
		doc := registerDoc(t, env, "requerimento", fmt.Sprintf("REQ-%03d", i))
		s, err := env.Engine.ScheduleSession(env.Ctx, engine.ScheduleSessionOptions{
			PeriodID:    "leg-1",
			ScheduledAt: fmt.Sprintf("2025-03-%02dT19:00:00Z", i*7),
			ActorID:     "tester",
		})
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		if _, err := env.Engine.AddAgendaItem(env.Ctx, s.ID, doc.ID, "ordem_do_dia", "tester"); err != nil {
			t.Fatalf("add item: %v", err)
		}
		if _, err := env.Engine.PublishAgenda(env.Ctx, s.ID, "tester"); err != nil {
			t.Fatalf("publish: %v", err)
		}
		if _, err := env.Engine.OpenSession(env.Ctx, s.ID, members[0], "tester"); err != nil {
			t.Fatalf("open: %v", err)
		}
		closed, err := env.Engine.CloseSession(env.Ctx, s.ID, "tester")
		if err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
		if closed.SeqNumber == nil || *closed.SeqNumber != i {
			t.Fatalf("expected seq %d, got %v", i, closed.SeqNumber)
		}
	}
}

func TestQuorumStatusBeforeAndAfterOpen(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 13)
	doc := registerDoc(t, env, "projeto_lei", "PL-002")
	s := scheduleSession(t, env)
	q, err := env.Engine.QuorumStatus(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("quorum pre-open: %v", err)
	}
	if q.RosterSize != 13 || q.Minimum != 7 || q.Present != 0 || q.HasQuorum {
		t.Fatalf("unexpected pre-open quorum: %+v", q)
	}
	if _, err := env.Engine.AddAgendaItem(env.Ctx, s.ID, doc.ID, "ordem_do_dia", "tester"); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := env.Engine.PublishAgenda(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := env.Engine.OpenSession(env.Ctx, s.ID, members[0], "tester"); err != nil {
		t.Fatalf("open: %v", err)
	}
	markPresent(t, env, s.ID, members[:9]...)
	q, err = env.Engine.QuorumStatus(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("quorum: %v", err)
	}
	if q.Present != 9 || q.Minimum != 7 || !q.HasQuorum {
		t.Fatalf("unexpected quorum: %+v", q)
	}
}

func TestSessionSummary(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 5)
	doc := registerDoc(t, env, "projeto_lei", "PL-003")
	s, items := openSession(t, env, members[0], doc)
	markPresent(t, env, s.ID, members...)
	if _, err := env.Engine.StartVote(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatalf("start vote: %v", err)
	}
	for _, m := range members {
		if err := env.Engine.CastVote(env.Ctx, items[0].ID, m, "yes", "tester"); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	if _, err := env.Engine.CloseVote(env.Ctx, items[0].ID, "", "", "tester"); err != nil {
		t.Fatalf("close vote: %v", err)
	}
	if _, err := env.Engine.CloseSession(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("close session: %v", err)
	}
	summary, err := env.Engine.SessionSummary(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Session.Status != "realized" {
		t.Fatalf("expected realized session in summary")
	}
	if summary.Presiding == nil || summary.Presiding.ID != members[0] {
		t.Fatalf("expected presiding member in summary")
	}
	if len(summary.Attendance) != 5 {
		t.Fatalf("expected 5 attendance rows, got %d", len(summary.Attendance))
	}
	if len(summary.Agenda) != 1 {
		t.Fatalf("expected 1 agenda outcome, got %d", len(summary.Agenda))
	}
	out := summary.Agenda[0]
	if out.Document.ID != doc.ID {
		t.Fatalf("expected document joined into summary")
	}
	if out.Result == nil || out.Result.Outcome != "approved" {
		t.Fatalf("expected approved result in summary, got %+v", out.Result)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	members := addMembers(t, env, 3)
	doc := registerDoc(t, env, "requerimento", "REQ-009")
	s, _ := openSession(t, env, members[0], doc)
	if _, err := env.Engine.SuspendSession(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE session_id=?`, s.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 4 {
		t.Fatalf("expected scheduled/published/opened/suspended events at least, got %d", count)
	}
}
