package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plenario/internal/config"
	"plenario/internal/domain"
	"plenario/internal/repo"
)

// ResolvePeriodAndConfig picks the active legislative period and ensures a
// period + config exist in DB, seeding defaults if missing. It prefers the
// override, then the single-period DB. A plenario.yml in the workspace takes
// precedence over the stored config.
func ResolvePeriodAndConfig(ctx context.Context, workspace, periodOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	periodID := periodOverride
	if periodID == "" {
		if p, err := r.SinglePeriod(ctx); err == nil {
			periodID = p.ID
		} else {
			return "", nil, fmt.Errorf("period not specified; use --period")
		}
	}
	seedCfg := config.Default(periodID)

	if _, err := r.GetPeriod(ctx, periodID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createPeriod(ctx, r, periodID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	if fileCfg, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if fileCfg != nil {
		fileCfg.Chamber.Period = periodID
		return periodID, fileCfg, nil
	}
	cfg, err := r.GetPeriodConfig(ctx, periodID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertPeriodConfig(ctx, periodID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed period config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Chamber.Period = periodID
	return periodID, cfg, nil
}

// createPeriod inserts a minimal period footprint using the seed config. The
// start and end dates default to the current calendar year until the
// operator fills them in.
func createPeriod(ctx context.Context, r repo.Repo, periodID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(periodID)
	}
	now := time.Now().UTC()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Period{
		ID:        periodID,
		Label:     periodID,
		StartsOn:  fmt.Sprintf("%d-01-01", now.Year()),
		EndsOn:    fmt.Sprintf("%d-12-31", now.Year()),
		CreatedAt: now.Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO periods(id,label,starts_on,ends_on,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Label, p.StartsOn, p.EndsOn, p.CreatedAt); err != nil {
		return fmt.Errorf("insert period: %w", err)
	}
	if err := r.UpsertPeriodConfigTx(ctx, tx, periodID, seedCfg); err != nil {
		return fmt.Errorf("insert period config: %w", err)
	}
	return tx.Commit()
}
