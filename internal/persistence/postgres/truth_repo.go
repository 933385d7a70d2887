package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/voterun/voterun/internal/domain"
)

type truthRepo Store

func (r *truthRepo) store() *Store { return (*Store)(r) }

// Upsert replaces the label for (epoch, vote_epoch, candidate).
func (r *truthRepo) Upsert(ctx context.Context, label domain.TruthLabel) error {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `
		INSERT INTO truth_labels (
			epoch, vote_epoch, candidate_id, final_votes_raw,
			final_rewards_usd, source_tag, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (epoch, vote_epoch, candidate_id) DO UPDATE SET
			final_votes_raw = EXCLUDED.final_votes_raw,
			final_rewards_usd = EXCLUDED.final_rewards_usd,
			source_tag = EXCLUDED.source_tag,
			computed_at = EXCLUDED.computed_at`

	_, err := r.db.ExecContext(ctx, query,
		label.Epoch, label.VoteEpoch, label.CandidateID,
		label.FinalVotesRaw, label.FinalRewardsUSD, label.SourceTag,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert truth label: %w", err)
	}
	return nil
}

// ByEpoch returns labels keyed by candidate id.
func (r *truthRepo) ByEpoch(ctx context.Context, epoch int64) (map[string]domain.TruthLabel, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `
		SELECT epoch, vote_epoch, candidate_id, final_votes_raw,
			final_rewards_usd, COALESCE(source_tag, '') AS source_tag
		FROM truth_labels
		WHERE epoch = $1
		ORDER BY candidate_id`

	rows := []domain.TruthLabel{}
	if err := r.db.SelectContext(ctx, &rows, query, epoch); err != nil {
		return nil, fmt.Errorf("failed to list truth labels: %w", err)
	}

	labels := make(map[string]domain.TruthLabel, len(rows))
	for _, row := range rows {
		labels[row.CandidateID] = row
	}
	return labels, nil
}
