package features

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

type fakeSnapshots struct {
	persistence.SnapshotRepo
	rows map[domain.Window][]domain.SnapshotRow
}

func (f *fakeSnapshots) ListByEpochWindow(ctx context.Context, epoch int64, window domain.Window, minQuality float64) ([]domain.SnapshotRow, error) {
	var kept []domain.SnapshotRow
	for _, row := range f.rows[window] {
		if row.DataQualityScore >= minQuality {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

func row(candidate string, quality float64) domain.SnapshotRow {
	return domain.SnapshotRow{
		Epoch:            1,
		Window:           domain.WindowFar,
		CandidateID:      candidate,
		GroupID:          "g1",
		VotesNow:         1000,
		RewardsNowUSD:    100,
		InclusionProb:    0.9,
		DataQualityScore: quality,
	}
}

func TestStore_LoadFiltersQuality(t *testing.T) {
	repo := &fakeSnapshots{rows: map[domain.Window][]domain.SnapshotRow{
		domain.WindowFar: {row("c1", 0.9), row("c2", 0.3), row("c3", 0.6)},
	}}
	store := New(repo, config.QualitySettings{MinQualityScore: 0.5})

	byWindow, err := store.Load(context.Background(), 1, []domain.Window{domain.WindowFar, domain.WindowNear}, 0.5)
	require.NoError(t, err)

	require.Len(t, byWindow[domain.WindowFar], 2)
	assert.Equal(t, "c1", byWindow[domain.WindowFar][0].CandidateID)
	assert.Equal(t, "c3", byWindow[domain.WindowFar][1].CandidateID)

	assert.NotNil(t, byWindow[domain.WindowNear])
	assert.Empty(t, byWindow[domain.WindowNear], "empty window yields empty slice, not error")
}

func TestStore_LoadSkipsMalformedRows(t *testing.T) {
	bad := row("c2", 0.9)
	bad.VotesNow = math.NaN()

	repo := &fakeSnapshots{rows: map[domain.Window][]domain.SnapshotRow{
		domain.WindowFar: {row("c1", 0.9), bad},
	}}
	store := New(repo, config.QualitySettings{MinQualityScore: 0.5})

	byWindow, err := store.Load(context.Background(), 1, []domain.Window{domain.WindowFar}, 0.5)
	require.NoError(t, err)
	require.Len(t, byWindow[domain.WindowFar], 1)
	assert.Equal(t, "c1", byWindow[domain.WindowFar][0].CandidateID)
}

func TestValidate(t *testing.T) {
	t.Run("complete set passes", func(t *testing.T) {
		byWindow := map[domain.Window][]domain.SnapshotRow{
			domain.WindowFar: {row("c1", 0.9), row("c2", 0.8)},
		}
		ok, warnings := Validate(byWindow, 2)
		assert.True(t, ok)
		assert.Empty(t, warnings)
	})

	t.Run("too few rows", func(t *testing.T) {
		byWindow := map[domain.Window][]domain.SnapshotRow{
			domain.WindowFar: {row("c1", 0.9)},
		}
		ok, warnings := Validate(byWindow, 10)
		assert.False(t, ok)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "only 1 rows")
	})

	t.Run("missing candidate id and non-finite field", func(t *testing.T) {
		bad := row("", 0.9)
		bad.RewardsNowUSD = math.Inf(1)
		byWindow := map[domain.Window][]domain.SnapshotRow{
			domain.WindowNear: {bad},
		}
		ok, warnings := Validate(byWindow, 1)
		assert.False(t, ok)
		assert.Len(t, warnings, 2)
	})
}
