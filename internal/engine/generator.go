package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plenario/internal/domain"
)

// GenerateOrdinarySessions proposes one ordinary session per occurrence of
// the chamber's fixed weekday in the given month, skipping dates that
// already hold a session for the period and months flagged as legislative
// recess. Running it twice for the same month creates nothing new.
func (e Engine) GenerateOrdinarySessions(ctx context.Context, periodID string, year int, month time.Month, actorID string) ([]domain.Session, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	if _, err := e.Repo.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	if e.Config.IsRecessMonth(month) {
		return nil, nil
	}
	weekday := e.Config.SessionWeekday()
	hour, minute := e.Config.SessionClock()

	var created []domain.Session
	day := time.Date(year, month, 1, hour, minute, 0, 0, time.UTC)
	for ; day.Month() == month; day = day.AddDate(0, 0, 1) {
		if day.Weekday() != weekday {
			continue
		}
		exists, err := e.Repo.SessionExistsOnDate(ctx, periodID, day.Format("2006-01-02"))
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		s, err := e.ScheduleSession(ctx, ScheduleSessionOptions{
			PeriodID:    periodID,
			Kind:        "ordinaria",
			ScheduledAt: day.Format(time.RFC3339),
			Location:    e.Config.Sessions.Location,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", day.Format("2006-01-02"), err)
		}
		created = append(created, s)
	}
	return created, nil
}
