package features

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

// Store loads quality-gated snapshot rows from the upstream store. Read-only:
// it never writes back.
type Store struct {
	snapshots persistence.SnapshotRepo
	quality   config.QualitySettings
}

// New creates a feature store over the snapshot repository.
func New(snapshots persistence.SnapshotRepo, quality config.QualitySettings) *Store {
	return &Store{snapshots: snapshots, quality: quality}
}

// Load returns snapshot rows per window for one epoch, filtering rows below
// minQuality. A window with no matching rows maps to an empty slice, not an
// error. Malformed rows (non-finite values) are skipped and logged.
func (s *Store) Load(ctx context.Context, epoch int64, windows []domain.Window, minQuality float64) (map[domain.Window][]domain.SnapshotRow, error) {
	byWindow := make(map[domain.Window][]domain.SnapshotRow, len(windows))

	for _, window := range windows {
		rows, err := s.snapshots.ListByEpochWindow(ctx, epoch, window, minQuality)
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshots for window %s: %w", window, err)
		}

		kept := make([]domain.SnapshotRow, 0, len(rows))
		for _, row := range rows {
			if !row.Complete() {
				log.Warn().
					Int64("epoch", epoch).
					Str("window", string(window)).
					Str("candidate", row.CandidateID).
					Msg("skipping malformed snapshot row")
				continue
			}
			kept = append(kept, row)
		}

		log.Debug().
			Int64("epoch", epoch).
			Str("window", string(window)).
			Int("rows", len(kept)).
			Msg("loaded snapshot features")
		byWindow[window] = kept
	}

	return byWindow, nil
}

// Statistics returns per-window means for diagnostics.
func (s *Store) Statistics(ctx context.Context, epoch int64) (map[domain.Window]persistence.WindowStats, error) {
	stats, err := s.snapshots.WindowStats(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feature statistics: %w", err)
	}
	return stats, nil
}

// Validate checks feature completeness: every window has at least minCount
// rows, every row carries all required fields, no NaN/Inf values. Warnings
// are additive evidence; callers decide what to do with an invalid set.
func Validate(rowsByWindow map[domain.Window][]domain.SnapshotRow, minCount int) (bool, []string) {
	var warnings []string
	ok := true

	windows := make([]domain.Window, 0, len(rowsByWindow))
	for window := range rowsByWindow {
		windows = append(windows, window)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i] < windows[j] })

	for _, window := range windows {
		rows := rowsByWindow[window]
		if len(rows) < minCount {
			warnings = append(warnings, fmt.Sprintf(
				"window %s: only %d rows (expected >= %d)", window, len(rows), minCount))
			ok = false
		}

		for i, row := range rows {
			if row.CandidateID == "" {
				warnings = append(warnings, fmt.Sprintf(
					"window %s, row %d: missing candidate id", window, i))
				ok = false
			}
			fields := []struct {
				name string
				v    float64
			}{
				{"votes_now", row.VotesNow},
				{"rewards_now_usd", row.RewardsNowUSD},
				{"inclusion_prob", row.InclusionProb},
				{"data_quality_score", row.DataQualityScore},
			}
			for _, f := range fields {
				if !domain.IsFinite(f.v) {
					warnings = append(warnings, fmt.Sprintf(
						"window %s, row %d: non-finite %s", window, i, f.name))
					ok = false
				}
			}
		}
	}

	return ok, warnings
}
