package postgres

import (
	"context"
	"fmt"
)

// Tables are logical per the storage contract: upsert = replace, keyed as
// stated in the primary keys below.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		epoch BIGINT NOT NULL,
		decision_window TEXT NOT NULL,
		decision_timestamp BIGINT NOT NULL,
		decision_block BIGINT NOT NULL,
		boundary_timestamp BIGINT NOT NULL,
		boundary_block BIGINT,
		candidate_id TEXT NOT NULL,
		group_id TEXT,
		votes_now DOUBLE PRECISION NOT NULL,
		rewards_now_usd DOUBLE PRECISION NOT NULL,
		inclusion_prob DOUBLE PRECISION,
		data_quality_score DOUBLE PRECISION,
		source_tag TEXT,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (epoch, decision_window, candidate_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_lookup
		ON snapshots (epoch, decision_window, candidate_id)`,

	`CREATE TABLE IF NOT EXISTS forecasts (
		epoch BIGINT NOT NULL,
		decision_window TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		scenario TEXT NOT NULL,
		votes_final DOUBLE PRECISION NOT NULL,
		rewards_final_usd DOUBLE PRECISION NOT NULL,
		expected_return_usd DOUBLE PRECISION NOT NULL,
		confidence_penalty DOUBLE PRECISION NOT NULL,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (epoch, decision_window, candidate_id, scenario)
	)`,

	`CREATE TABLE IF NOT EXISTS forecast_runs (
		epoch BIGINT NOT NULL,
		decision_window TEXT NOT NULL,
		run_id TEXT NOT NULL,
		expected_return_bps BIGINT NOT NULL,
		downside_bps BIGINT NOT NULL,
		status TEXT NOT NULL,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (epoch, decision_window, run_id)
	)`,

	`CREATE TABLE IF NOT EXISTS recommendations (
		epoch BIGINT NOT NULL,
		decision_window TEXT NOT NULL,
		run_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		alloc_votes DOUBLE PRECISION NOT NULL,
		expected_return_usd DOUBLE PRECISION NOT NULL,
		downside_p10_usd DOUBLE PRECISION,
		inclusion_risk TEXT,
		delta_votes DOUBLE PRECISION,
		no_change_flag BOOLEAN NOT NULL DEFAULT FALSE,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (epoch, decision_window, run_id, candidate_id)
	)`,

	`CREATE TABLE IF NOT EXISTS truth_labels (
		epoch BIGINT NOT NULL,
		vote_epoch BIGINT NOT NULL,
		candidate_id TEXT NOT NULL,
		final_votes_raw DOUBLE PRECISION NOT NULL,
		final_rewards_usd DOUBLE PRECISION NOT NULL,
		source_tag TEXT,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (epoch, vote_epoch, candidate_id)
	)`,

	`CREATE TABLE IF NOT EXISTS backtest_gauge_results (
		epoch BIGINT NOT NULL,
		decision_window TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		votes_allocated BIGINT NOT NULL,
		final_votes DOUBLE PRECISION NOT NULL,
		final_rewards_usd DOUBLE PRECISION NOT NULL,
		realized_return_bps BIGINT NOT NULL,
		is_allocated BOOLEAN NOT NULL,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (epoch, decision_window, candidate_id)
	)`,

	`CREATE TABLE IF NOT EXISTS backtest_results (
		epoch BIGINT NOT NULL,
		decision_window TEXT NOT NULL,
		num_candidates_in_forecast INT NOT NULL,
		num_candidates_allocated INT NOT NULL,
		expected_portfolio_return_bps BIGINT NOT NULL,
		expected_portfolio_downside_bps BIGINT NOT NULL,
		realized_portfolio_return_bps BIGINT NOT NULL,
		baseline_portfolio_return_bps BIGINT NOT NULL,
		uplift_vs_baseline_bps BIGINT NOT NULL,
		baseline_topk_portfolio_return_bps BIGINT NOT NULL,
		uplift_vs_topk_baseline_bps BIGINT NOT NULL,
		portfolio_error_bps BIGINT NOT NULL,
		median_realized_return_bps BIGINT NOT NULL,
		p10_realized_return_bps BIGINT NOT NULL,
		min_realized_return_bps BIGINT NOT NULL,
		max_realized_return_bps BIGINT NOT NULL,
		regret_vs_hindsight_bps BIGINT NOT NULL,
		calibration_score DOUBLE PRECISION NOT NULL,
		num_positive_return INT NOT NULL,
		num_negative_return INT NOT NULL,
		num_zero_allocation INT NOT NULL,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (epoch, decision_window)
	)`,
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
