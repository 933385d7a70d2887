package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/voterun/voterun/internal/domain"
)

type backtestRepo Store

func (r *backtestRepo) store() *Store { return (*Store)(r) }

// Replace deletes the epoch's previous results and writes the new set in one
// transaction. Backtest output is write-once per run, replaced wholesale.
func (r *backtestRepo) Replace(ctx context.Context, epoch int64, gauge []domain.BacktestResult, portfolio []domain.PortfolioBacktestResult) error {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_gauge_results WHERE epoch = $1`, epoch); err != nil {
		return fmt.Errorf("failed to clear gauge results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_results WHERE epoch = $1`, epoch); err != nil {
		return fmt.Errorf("failed to clear portfolio results: %w", err)
	}

	now := time.Now().Unix()

	gaugeQuery := `
		INSERT INTO backtest_gauge_results (
			epoch, decision_window, candidate_id, votes_allocated,
			final_votes, final_rewards_usd, realized_return_bps,
			is_allocated, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, g := range gauge {
		if _, err := tx.ExecContext(ctx, gaugeQuery,
			g.Epoch, g.Window, g.CandidateID, g.VotesAllocated,
			g.FinalVotes, g.FinalRewardsUSD, g.RealizedReturnBps,
			g.IsAllocated, now); err != nil {
			return fmt.Errorf("failed to insert gauge result: %w", err)
		}
	}

	portfolioQuery := `
		INSERT INTO backtest_results (
			epoch, decision_window, num_candidates_in_forecast,
			num_candidates_allocated, expected_portfolio_return_bps,
			expected_portfolio_downside_bps, realized_portfolio_return_bps,
			baseline_portfolio_return_bps, uplift_vs_baseline_bps,
			baseline_topk_portfolio_return_bps, uplift_vs_topk_baseline_bps,
			portfolio_error_bps, median_realized_return_bps,
			p10_realized_return_bps, min_realized_return_bps,
			max_realized_return_bps, regret_vs_hindsight_bps,
			calibration_score, num_positive_return, num_negative_return,
			num_zero_allocation, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22)`

	for _, p := range portfolio {
		if _, err := tx.ExecContext(ctx, portfolioQuery,
			p.Epoch, p.Window, p.NumCandidatesForecast, p.NumCandidatesAllocated,
			p.ExpectedReturnBps, p.ExpectedDownsideBps, p.RealizedReturnBps,
			p.BaselineAllReturnBps, p.UpliftVsAllBps,
			p.BaselineTopKReturnBps, p.UpliftVsTopKBps,
			p.ForecastErrorBps, p.MedianRealizedBps,
			p.P10RealizedBps, p.MinRealizedBps, p.MaxRealizedBps,
			p.RegretVsHindsightBps, p.CalibrationScore,
			p.NumPositiveReturn, p.NumNegativeReturn,
			p.NumZeroAllocations, now); err != nil {
			return fmt.Errorf("failed to insert portfolio result: %w", err)
		}
	}

	return tx.Commit()
}
