package postgres

import (
	"context"
	"fmt"

	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

type snapshotRepo Store

func (r *snapshotRepo) store() *Store { return (*Store)(r) }

// Upsert replaces the snapshot row for (epoch, window, candidate).
func (r *snapshotRepo) Upsert(ctx context.Context, row domain.SnapshotRow) error {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `
		INSERT INTO snapshots (
			epoch, decision_window, decision_timestamp, decision_block,
			boundary_timestamp, boundary_block, candidate_id, group_id,
			votes_now, rewards_now_usd, inclusion_prob, data_quality_score,
			source_tag, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (epoch, decision_window, candidate_id) DO UPDATE SET
			decision_timestamp = EXCLUDED.decision_timestamp,
			decision_block = EXCLUDED.decision_block,
			boundary_timestamp = EXCLUDED.boundary_timestamp,
			boundary_block = EXCLUDED.boundary_block,
			group_id = EXCLUDED.group_id,
			votes_now = EXCLUDED.votes_now,
			rewards_now_usd = EXCLUDED.rewards_now_usd,
			inclusion_prob = EXCLUDED.inclusion_prob,
			data_quality_score = EXCLUDED.data_quality_score,
			source_tag = EXCLUDED.source_tag,
			computed_at = EXCLUDED.computed_at`

	_, err := r.db.ExecContext(ctx, query,
		row.Epoch, row.Window, row.DecisionTimestamp, row.DecisionBlock,
		row.BoundaryTimestamp, row.BoundaryBlock, row.CandidateID, row.GroupID,
		row.VotesNow, row.RewardsNowUSD, row.InclusionProb, row.DataQualityScore,
		row.SourceTag, row.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// ListByEpochWindow returns quality-gated rows ordered by candidate id.
func (r *snapshotRepo) ListByEpochWindow(ctx context.Context, epoch int64, window domain.Window, minQuality float64) ([]domain.SnapshotRow, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `
		SELECT epoch, decision_window, decision_timestamp, decision_block,
			boundary_timestamp, COALESCE(boundary_block, 0) AS boundary_block,
			candidate_id, COALESCE(group_id, '') AS group_id,
			votes_now, rewards_now_usd,
			COALESCE(inclusion_prob, 0) AS inclusion_prob,
			COALESCE(data_quality_score, 0) AS data_quality_score,
			COALESCE(source_tag, '') AS source_tag, computed_at
		FROM snapshots
		WHERE epoch = $1 AND decision_window = $2 AND data_quality_score >= $3
		ORDER BY candidate_id`

	rows := []domain.SnapshotRow{}
	if err := r.db.SelectContext(ctx, &rows, query, epoch, window, minQuality); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return rows, nil
}

// WindowStats computes per-window means for one epoch.
func (r *snapshotRepo) WindowStats(ctx context.Context, epoch int64) (map[domain.Window]persistence.WindowStats, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `
		SELECT decision_window,
			COUNT(*) AS count,
			AVG(votes_now) AS mean_votes_now,
			AVG(rewards_now_usd) AS mean_rewards_now_usd,
			AVG(COALESCE(data_quality_score, 0)) AS mean_data_quality_score,
			AVG(COALESCE(inclusion_prob, 0)) AS mean_inclusion_prob
		FROM snapshots
		WHERE epoch = $1
		GROUP BY decision_window`

	var raw []struct {
		Window domain.Window `db:"decision_window"`
		persistence.WindowStats
	}
	if err := r.db.SelectContext(ctx, &raw, query, epoch); err != nil {
		return nil, fmt.Errorf("failed to compute window stats: %w", err)
	}

	stats := make(map[domain.Window]persistence.WindowStats, len(raw))
	for _, s := range raw {
		stats[s.Window] = s.WindowStats
	}
	return stats, nil
}

// Epochs lists distinct snapshot epochs ascending.
func (r *snapshotRepo) Epochs(ctx context.Context, limit int) ([]int64, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	query := `SELECT DISTINCT epoch FROM snapshots ORDER BY epoch`
	if limit > 0 {
		query = `SELECT epoch FROM (
			SELECT DISTINCT epoch FROM snapshots ORDER BY epoch DESC LIMIT $1
		) recent ORDER BY epoch`
	}

	epochs := []int64{}
	var err error
	if limit > 0 {
		err = r.db.SelectContext(ctx, &epochs, query, limit)
	} else {
		err = r.db.SelectContext(ctx, &epochs, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot epochs: %w", err)
	}
	return epochs, nil
}

type historyRepo Store

func (r *historyRepo) store() *Store { return (*Store)(r) }

// ObservationPairs joins snapshots with truth labels for one window. The
// observed column depends on the proxy kind; non-positive observations are
// excluded because the learned scalar divides by them.
func (r *historyRepo) ObservationPairs(ctx context.Context, window domain.Window, kind domain.ProxyKind) ([]persistence.ObservationPair, error) {
	ctx, cancel := r.store().opCtx(ctx)
	defer cancel()

	var observed, realized string
	switch kind {
	case domain.KindDrift:
		observed, realized = "s.votes_now", "t.final_votes_raw"
	case domain.KindUplift:
		observed, realized = "s.rewards_now_usd", "t.final_rewards_usd"
	default:
		return nil, fmt.Errorf("unknown proxy kind: %s", kind)
	}

	query := fmt.Sprintf(`
		SELECT s.candidate_id, COALESCE(s.group_id, '') AS group_id,
			%s AS observed_value, %s AS realized_value
		FROM snapshots s
		JOIN truth_labels t
			ON t.epoch = s.epoch AND t.candidate_id = s.candidate_id
		WHERE s.decision_window = $1 AND %s > 0
		ORDER BY s.candidate_id, s.epoch`, observed, realized, observed)

	pairs := []persistence.ObservationPair{}
	if err := r.db.SelectContext(ctx, &pairs, query, window); err != nil {
		return nil, fmt.Errorf("failed to load observation pairs: %w", err)
	}
	return pairs, nil
}
