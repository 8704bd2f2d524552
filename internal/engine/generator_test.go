package engine_test

import (
	"testing"
	"time"

	"plenario/internal/engine"
)

func TestGenerateOrdinarySessions(t *testing.T) {
	env := newTestEnv(t)
	// March 2025 has five Mondays: 3, 10, 17, 24, 31
	created, err := env.Engine.GenerateOrdinarySessions(env.Ctx, "leg-1", 2025, time.March, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("expected 5 sessions, got %d", len(created))
	}
	for _, s := range created {
		if s.Kind != "ordinaria" || s.Status != "scheduled" {
			t.Fatalf("unexpected session %+v", s)
		}
		at, err := time.Parse(time.RFC3339, s.ScheduledAt)
		if err != nil {
			t.Fatalf("parse scheduled_at: %v", err)
		}
		if at.Weekday() != time.Monday {
			t.Fatalf("expected Monday, got %s", at.Weekday())
		}
		if at.Hour() != 19 || at.Minute() != 0 {
			t.Fatalf("expected 19:00 start, got %s", s.ScheduledAt)
		}
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.GenerateOrdinarySessions(env.Ctx, "leg-1", 2025, time.March, "tester")
	if err != nil || len(first) != 5 {
		t.Fatalf("first run: %v created=%d", err, len(first))
	}
	second, err := env.Engine.GenerateOrdinarySessions(env.Ctx, "leg-1", 2025, time.March, "tester")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second run must create nothing, got %d", len(second))
	}
}

func TestGenerateSkipsExistingDates(t *testing.T) {
	env := newTestEnv(t)
	// an extraordinary session already sits on one of the Mondays
	_, err := env.Engine.ScheduleSession(env.Ctx, engine.ScheduleSessionOptions{
		PeriodID:    "leg-1",
		Kind:        "extraordinaria",
		ScheduledAt: "2025-03-10T15:00:00Z",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	created, err := env.Engine.GenerateOrdinarySessions(env.Ctx, "leg-1", 2025, time.March, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("expected 4 sessions around the occupied date, got %d", len(created))
	}
	for _, s := range created {
		if s.ScheduledAt[:10] == "2025-03-10" {
			t.Fatalf("generated a session on an occupied date")
		}
	}
}

func TestGenerateSkipsRecessMonths(t *testing.T) {
	env := newTestEnv(t)
	// default config flags January and July as recess
	created, err := env.Engine.GenerateOrdinarySessions(env.Ctx, "leg-1", 2025, time.July, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("recess month must generate nothing, got %d", len(created))
	}
}
