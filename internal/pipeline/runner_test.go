package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
	"github.com/voterun/voterun/internal/proxy"
)

type memStore struct {
	snapshots map[domain.Window][]domain.SnapshotRow
	pairs     map[domain.ProxyKind][]persistence.ObservationPair
	saved     []persistence.ForecastUnit
	prior     map[string]float64
}

func (m *memStore) Snapshots() persistence.SnapshotRepo { return (*memSnapshots)(m) }
func (m *memStore) History() persistence.HistoryRepo    { return (*memHistory)(m) }
func (m *memStore) Forecasts() persistence.ForecastRepo { return (*memForecasts)(m) }
func (m *memStore) Truth() persistence.TruthRepo        { return nil }
func (m *memStore) Backtests() persistence.BacktestRepo { return nil }

type memSnapshots memStore

func (s *memSnapshots) Upsert(ctx context.Context, row domain.SnapshotRow) error { return nil }
func (s *memSnapshots) ListByEpochWindow(ctx context.Context, epoch int64, window domain.Window, minQuality float64) ([]domain.SnapshotRow, error) {
	return s.snapshots[window], nil
}
func (s *memSnapshots) WindowStats(ctx context.Context, epoch int64) (map[domain.Window]persistence.WindowStats, error) {
	return nil, nil
}
func (s *memSnapshots) Epochs(ctx context.Context, limit int) ([]int64, error) { return nil, nil }

type memHistory memStore

func (h *memHistory) ObservationPairs(ctx context.Context, window domain.Window, kind domain.ProxyKind) ([]persistence.ObservationPair, error) {
	return h.pairs[kind], nil
}

type memForecasts memStore

func (f *memForecasts) SaveUnit(ctx context.Context, unit persistence.ForecastUnit) error {
	f.saved = append(f.saved, unit)
	return nil
}
func (f *memForecasts) ScenarioRows(ctx context.Context, epoch int64) (map[domain.Window][]persistence.ForecastRow, error) {
	return nil, nil
}
func (f *memForecasts) AllocationsByEpoch(ctx context.Context, epoch int64) (map[domain.Window]persistence.WindowForecast, error) {
	return nil, nil
}
func (f *memForecasts) LatestRun(ctx context.Context, epoch int64, window domain.Window) (map[string]float64, error) {
	return f.prior, nil
}
func (f *memForecasts) Epochs(ctx context.Context, limit int) ([]int64, error) { return nil, nil }

func snapshot(window domain.Window, candidate string, votes, rewards, inclusion float64) domain.SnapshotRow {
	return domain.SnapshotRow{
		Epoch:            42,
		Window:           window,
		CandidateID:      candidate,
		GroupID:          "g1",
		VotesNow:         votes,
		RewardsNowUSD:    rewards,
		InclusionProb:    inclusion,
		DataQualityScore: 0.9,
	}
}

func testSettings() *config.Settings {
	s := config.DefaultSettings()
	s.Windows = []config.WindowSpec{{Name: domain.WindowFar, SecondsBeforeBoundary: 86400}}
	s.Quality.MinRowsPerWindow = 1
	return s
}

func newTestRunner(t *testing.T, store *memStore) *Runner {
	t.Helper()
	cacheCfg := config.CacheSettings{Dir: t.TempDir(), DefaultTTL: time.Minute}
	docs := proxy.NewDocumentStore(cacheCfg, proxy.NewMemoryCache())
	settings := testSettings()
	settings.Cache = cacheCfg
	return New(store, settings, docs)
}

func TestRunner_RunEpochPersistsUnit(t *testing.T) {
	store := &memStore{
		snapshots: map[domain.Window][]domain.SnapshotRow{
			domain.WindowFar: {
				snapshot(domain.WindowFar, "c1", 1000, 100, 0.99),
				snapshot(domain.WindowFar, "c2", 500, 20, 0.85),
				snapshot(domain.WindowFar, "c3", 2000, 10, 0.50),
			},
		},
	}
	runner := newTestRunner(t, store)

	require.NoError(t, runner.RunEpoch(context.Background(), 42))
	require.Len(t, store.saved, 1)

	unit := store.saved[0]
	assert.Equal(t, int64(42), unit.Epoch)
	assert.Equal(t, domain.WindowFar, unit.Window)
	assert.NotEmpty(t, unit.RunID)
	assert.Equal(t, domain.StatusSuccess, unit.Status)

	// Three scenarios per candidate.
	assert.Len(t, unit.Scenarios, 9)

	// One recommendation per forecast candidate, allocated or not.
	require.Len(t, unit.Recommendations, 3)
	var total float64
	for _, rec := range unit.Recommendations {
		total += rec.AllocVotes
	}
	assert.InDelta(t, 1_000_000, total, 1)

	byID := make(map[string]persistence.RecommendationRow)
	for _, rec := range unit.Recommendations {
		byID[rec.CandidateID] = rec
	}
	assert.Equal(t, "Low", byID["c1"].InclusionRisk)
	assert.Equal(t, "Med", byID["c2"].InclusionRisk)
	assert.Equal(t, "High", byID["c3"].InclusionRisk)
	assert.False(t, byID["c1"].NoChange, "no prior run means every allocation is a change")
}

func TestRunner_RevoteGuardrail(t *testing.T) {
	store := &memStore{
		snapshots: map[domain.Window][]domain.SnapshotRow{
			domain.WindowFar: {snapshot(domain.WindowFar, "c1", 1000, 100, 0.99)},
		},
		// Prior run already allocated everything to c1: zero delta.
		prior: map[string]float64{"c1": 1_000_000},
	}
	runner := newTestRunner(t, store)

	require.NoError(t, runner.RunEpoch(context.Background(), 42))
	require.Len(t, store.saved, 1)

	rec := store.saved[0].Recommendations[0]
	assert.Zero(t, rec.DeltaVotes)
	assert.True(t, rec.NoChange, "unchanged allocation must not trigger a revote")
}

func TestRunner_SkipsEmptyWindow(t *testing.T) {
	store := &memStore{snapshots: map[domain.Window][]domain.SnapshotRow{}}
	runner := newTestRunner(t, store)

	require.NoError(t, runner.RunEpoch(context.Background(), 42))
	assert.Empty(t, store.saved)
}

func TestRunner_LearnProxiesWritesDocuments(t *testing.T) {
	store := &memStore{
		snapshots: map[domain.Window][]domain.SnapshotRow{
			domain.WindowFar: {snapshot(domain.WindowFar, "c1", 1000, 100, 0.99)},
		},
		pairs: map[domain.ProxyKind][]persistence.ObservationPair{
			domain.KindDrift: {
				{CandidateID: "c1", GroupID: "g1", ObservedValue: 100, RealizedValue: 110},
			},
		},
	}

	cacheCfg := config.CacheSettings{Dir: t.TempDir(), DefaultTTL: time.Minute}
	docs := proxy.NewDocumentStore(cacheCfg, proxy.NewMemoryCache())
	settings := testSettings()
	settings.Cache = cacheCfg
	runner := New(store, settings, docs)

	require.NoError(t, runner.LearnProxies(context.Background(), 42))

	driftDoc, err := docs.Load(domain.WindowFar, domain.KindDrift)
	require.NoError(t, err)
	require.Len(t, driftDoc.Estimates, 1)
	assert.Equal(t, domain.SourceGlobal, driftDoc.Estimates[0].Source, "one observation falls through to global priors")

	upliftDoc, err := docs.Load(domain.WindowFar, domain.KindUplift)
	require.NoError(t, err)
	assert.Len(t, upliftDoc.Estimates, 1)
}

func TestRunner_BatchIsolatesFailingEpochs(t *testing.T) {
	store := &memStore{
		snapshots: map[domain.Window][]domain.SnapshotRow{
			domain.WindowFar: {snapshot(domain.WindowFar, "c1", 1000, 100, 0.99)},
		},
	}
	runner := newTestRunner(t, store)

	// All epochs share the same fake data; the driver must process each one.
	require.NoError(t, runner.RunEpochs(context.Background(), []int64{1, 2, 3}))
	assert.Len(t, store.saved, 3)
}
