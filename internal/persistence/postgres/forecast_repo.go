package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

type forecastRepo Store

func (r *forecastRepo) store() *Store { return (*Store)(r) }

// SaveUnit writes one (epoch, window) unit atomically: scenario rows, the run
// header and its recommendations. Replace semantics per key.
func (r *forecastRepo) SaveUnit(ctx context.Context, unit persistence.ForecastUnit) error {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	scenarioQuery := `
		INSERT INTO forecasts (
			epoch, decision_window, candidate_id, scenario,
			votes_final, rewards_final_usd, expected_return_usd,
			confidence_penalty, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (epoch, decision_window, candidate_id, scenario) DO UPDATE SET
			votes_final = EXCLUDED.votes_final,
			rewards_final_usd = EXCLUDED.rewards_final_usd,
			expected_return_usd = EXCLUDED.expected_return_usd,
			confidence_penalty = EXCLUDED.confidence_penalty,
			computed_at = EXCLUDED.computed_at`

	for _, sc := range unit.Scenarios {
		expectedUSD := 0.0
		if sc.VotesFinalEstimate > 0 {
			expectedUSD = sc.RewardsFinalEstimate / (sc.VotesFinalEstimate + 1.0)
		}
		if _, err := tx.ExecContext(ctx, scenarioQuery,
			unit.Epoch, unit.Window, sc.CandidateID, sc.Scenario,
			sc.VotesFinalEstimate, sc.RewardsFinalEstimate, expectedUSD,
			sc.ConfidencePenalty, now); err != nil {
			return fmt.Errorf("failed to upsert forecast scenario: %w", err)
		}
	}

	runQuery := `
		INSERT INTO forecast_runs (
			epoch, decision_window, run_id, expected_return_bps,
			downside_bps, status, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (epoch, decision_window, run_id) DO UPDATE SET
			expected_return_bps = EXCLUDED.expected_return_bps,
			downside_bps = EXCLUDED.downside_bps,
			status = EXCLUDED.status,
			computed_at = EXCLUDED.computed_at`

	if _, err := tx.ExecContext(ctx, runQuery,
		unit.Epoch, unit.Window, unit.RunID, unit.ExpectedReturnBps,
		unit.DownsideBps, unit.Status, now); err != nil {
		return fmt.Errorf("failed to upsert forecast run: %w", err)
	}

	recQuery := `
		INSERT INTO recommendations (
			epoch, decision_window, run_id, candidate_id, alloc_votes,
			expected_return_usd, downside_p10_usd, inclusion_risk,
			delta_votes, no_change_flag, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (epoch, decision_window, run_id, candidate_id) DO UPDATE SET
			alloc_votes = EXCLUDED.alloc_votes,
			expected_return_usd = EXCLUDED.expected_return_usd,
			downside_p10_usd = EXCLUDED.downside_p10_usd,
			inclusion_risk = EXCLUDED.inclusion_risk,
			delta_votes = EXCLUDED.delta_votes,
			no_change_flag = EXCLUDED.no_change_flag,
			computed_at = EXCLUDED.computed_at`

	for _, rec := range unit.Recommendations {
		if _, err := tx.ExecContext(ctx, recQuery,
			unit.Epoch, unit.Window, unit.RunID, rec.CandidateID, rec.AllocVotes,
			rec.ExpectedReturnUSD, rec.DownsideP10USD, rec.InclusionRisk,
			rec.DeltaVotes, rec.NoChange, now); err != nil {
			return fmt.Errorf("failed to upsert recommendation: %w", err)
		}
	}

	return tx.Commit()
}

// ScenarioRows returns persisted scenario rows for an epoch keyed by window.
func (r *forecastRepo) ScenarioRows(ctx context.Context, epoch int64) (map[domain.Window][]persistence.ForecastRow, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `
		SELECT epoch, decision_window, candidate_id, scenario,
			votes_final, rewards_final_usd, expected_return_usd, confidence_penalty
		FROM forecasts
		WHERE epoch = $1
		ORDER BY decision_window, candidate_id, scenario`

	rows := []persistence.ForecastRow{}
	if err := r.db.SelectContext(ctx, &rows, query, epoch); err != nil {
		return nil, fmt.Errorf("failed to list forecast rows: %w", err)
	}

	byWindow := make(map[domain.Window][]persistence.ForecastRow)
	for _, row := range rows {
		byWindow[row.Window] = append(byWindow[row.Window], row)
	}
	return byWindow, nil
}

// AllocationsByEpoch returns the latest run's allocations per window.
func (r *forecastRepo) AllocationsByEpoch(ctx context.Context, epoch int64) (map[domain.Window]persistence.WindowForecast, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	runQuery := `
		SELECT DISTINCT ON (decision_window)
			decision_window, run_id, expected_return_bps, downside_bps
		FROM forecast_runs
		WHERE epoch = $1
		ORDER BY decision_window, computed_at DESC, run_id DESC`

	var runs []struct {
		Window            domain.Window `db:"decision_window"`
		RunID             string        `db:"run_id"`
		ExpectedReturnBps int64         `db:"expected_return_bps"`
		DownsideBps       int64         `db:"downside_bps"`
	}
	if err := r.db.SelectContext(ctx, &runs, runQuery, epoch); err != nil {
		return nil, fmt.Errorf("failed to list forecast runs: %w", err)
	}

	out := make(map[domain.Window]persistence.WindowForecast, len(runs))
	for _, run := range runs {
		allocQuery := `
			SELECT candidate_id, alloc_votes
			FROM recommendations
			WHERE epoch = $1 AND decision_window = $2 AND run_id = $3
			ORDER BY candidate_id`

		var recs []struct {
			CandidateID string  `db:"candidate_id"`
			AllocVotes  float64 `db:"alloc_votes"`
		}
		if err := r.db.SelectContext(ctx, &recs, allocQuery, epoch, run.Window, run.RunID); err != nil {
			return nil, fmt.Errorf("failed to list recommendations: %w", err)
		}

		wf := persistence.WindowForecast{
			ExpectedReturnBps: run.ExpectedReturnBps,
			DownsideBps:       run.DownsideBps,
		}
		for _, rec := range recs {
			wf.Allocations = append(wf.Allocations, persistence.CandidateAllocation{
				CandidateID: rec.CandidateID,
				Votes:       int64(rec.AllocVotes),
			})
		}
		out[run.Window] = wf
	}
	return out, nil
}

// LatestRun returns the most recent run's allocation map for one window.
func (r *forecastRepo) LatestRun(ctx context.Context, epoch int64, window domain.Window) (map[string]float64, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `
		SELECT rec.candidate_id, rec.alloc_votes
		FROM recommendations rec
		JOIN (
			SELECT run_id FROM forecast_runs
			WHERE epoch = $1 AND decision_window = $2
			ORDER BY computed_at DESC, run_id DESC LIMIT 1
		) latest ON latest.run_id = rec.run_id
		WHERE rec.epoch = $1 AND rec.decision_window = $2
		ORDER BY rec.candidate_id`

	var recs []struct {
		CandidateID string  `db:"candidate_id"`
		AllocVotes  float64 `db:"alloc_votes"`
	}
	if err := r.db.SelectContext(ctx, &recs, query, epoch, window); err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}

	alloc := make(map[string]float64, len(recs))
	for _, rec := range recs {
		alloc[rec.CandidateID] = rec.AllocVotes
	}
	return alloc, nil
}

// Epochs lists distinct forecast epochs ascending.
func (r *forecastRepo) Epochs(ctx context.Context, limit int) ([]int64, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `SELECT DISTINCT epoch FROM forecasts ORDER BY epoch`
	epochs := []int64{}
	var err error
	if limit > 0 {
		query = `SELECT epoch FROM (
			SELECT DISTINCT epoch FROM forecasts ORDER BY epoch DESC LIMIT $1
		) recent ORDER BY epoch`
		err = r.db.SelectContext(ctx, &epochs, query, limit)
	} else {
		err = r.db.SelectContext(ctx, &epochs, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list forecast epochs: %w", err)
	}
	return epochs, nil
}
