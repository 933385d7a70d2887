package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

type fakeForecasts struct {
	persistence.ForecastRepo
	byWindow map[domain.Window]persistence.WindowForecast
}

func (f *fakeForecasts) AllocationsByEpoch(ctx context.Context, epoch int64) (map[domain.Window]persistence.WindowForecast, error) {
	return f.byWindow, nil
}

type fakeTruth struct {
	persistence.TruthRepo
	labels map[string]domain.TruthLabel
}

func (f *fakeTruth) ByEpoch(ctx context.Context, epoch int64) (map[string]domain.TruthLabel, error) {
	return f.labels, nil
}

type fakeBacktests struct {
	gauge     []domain.BacktestResult
	portfolio []domain.PortfolioBacktestResult
	replaced  bool
}

func (f *fakeBacktests) Replace(ctx context.Context, epoch int64, gauge []domain.BacktestResult, portfolio []domain.PortfolioBacktestResult) error {
	f.gauge = gauge
	f.portfolio = portfolio
	f.replaced = true
	return nil
}

func TestRealizedReturnBps(t *testing.T) {
	tests := []struct {
		name    string
		alloc   int64
		votes   float64
		rewards float64
		want    int64
	}{
		{"basic", 1000, 1000, 100, 500}, // 100 / 2000 * 10000
		{"zero allocation earns zero", 0, 1000, 100, 0},
		{"zero denominator", 0, 0, 100, 0},
		{"floors toward zero", 3, 997, 0.0999, 0}, // 0.999 bps -> 0
		{"large", 50_000, 950_000, 5000, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RealizedReturnBps(tt.alloc, tt.votes, tt.rewards))
		})
	}
}

func TestHarness_EmptyInputs(t *testing.T) {
	sink := &fakeBacktests{}

	t.Run("no forecasts", func(t *testing.T) {
		h := New(
			&fakeForecasts{byWindow: map[domain.Window]persistence.WindowForecast{}},
			&fakeTruth{labels: map[string]domain.TruthLabel{"c1": {}}},
			sink,
		)
		gauge, portfolio, err := h.Run(context.Background(), 7)
		require.NoError(t, err)
		assert.Empty(t, gauge)
		assert.Empty(t, portfolio)
		assert.False(t, sink.replaced, "nothing to persist when skipped")
	})

	t.Run("no truth labels", func(t *testing.T) {
		h := New(
			&fakeForecasts{byWindow: map[domain.Window]persistence.WindowForecast{
				domain.WindowFar: {Allocations: []persistence.CandidateAllocation{{CandidateID: "c1", Votes: 100}}},
			}},
			&fakeTruth{labels: map[string]domain.TruthLabel{}},
			sink,
		)
		gauge, portfolio, err := h.Run(context.Background(), 7)
		require.NoError(t, err)
		assert.Empty(t, gauge)
		assert.Empty(t, portfolio)
	})
}

func TestHarness_Run(t *testing.T) {
	forecasts := &fakeForecasts{byWindow: map[domain.Window]persistence.WindowForecast{
		domain.WindowFar: {
			ExpectedReturnBps: 600,
			DownsideBps:       300,
			Allocations: []persistence.CandidateAllocation{
				{CandidateID: "c1", Votes: 600_000},
				{CandidateID: "c2", Votes: 400_000},
				{CandidateID: "c3", Votes: 0},
			},
		},
	}}
	truth := &fakeTruth{labels: map[string]domain.TruthLabel{
		"c1": {Epoch: 7, CandidateID: "c1", FinalVotesRaw: 400_000, FinalRewardsUSD: 80_000},
		"c2": {Epoch: 7, CandidateID: "c2", FinalVotesRaw: 600_000, FinalRewardsUSD: 30_000},
		"c3": {Epoch: 7, CandidateID: "c3", FinalVotesRaw: 100_000, FinalRewardsUSD: 90_000},
	}}
	sink := &fakeBacktests{}

	h := New(forecasts, truth, sink)
	gauge, portfolio, err := h.Run(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, gauge, 3)
	require.Len(t, portfolio, 1)
	assert.True(t, sink.replaced)

	// c1: 80000 / (400000 + 600000) * 10000 = 800 bps
	assert.Equal(t, int64(800), gauge[0].RealizedReturnBps)
	// c2: 30000 / (600000 + 400000) * 10000 = 300 bps
	assert.Equal(t, int64(300), gauge[1].RealizedReturnBps)
	// c3: unallocated earns zero
	assert.Equal(t, int64(0), gauge[2].RealizedReturnBps)
	assert.False(t, gauge[2].IsAllocated)

	p := portfolio[0]
	assert.Equal(t, domain.WindowFar, p.Window)
	assert.Equal(t, 3, p.NumCandidatesForecast)
	assert.Equal(t, 2, p.NumCandidatesAllocated)
	assert.Equal(t, 1, p.NumZeroAllocations)

	// Allocation-weighted: (600000*800 + 400000*300) / 1000000 = 600 bps
	assert.Equal(t, int64(600), p.RealizedReturnBps)
	assert.Equal(t, int64(0), p.ForecastErrorBps)
	assert.Equal(t, 1.0, p.CalibrationScore, "realized above expected downside")

	// Tails over all three candidates, including c3's definitional zero.
	assert.Equal(t, int64(0), p.P10RealizedBps)
	assert.Equal(t, int64(0), p.MinRealizedBps)
	assert.Equal(t, int64(800), p.MaxRealizedBps)
	assert.Equal(t, int64(300), p.MedianRealizedBps)
	assert.Equal(t, 2, p.NumPositiveReturn)
	assert.Equal(t, 0, p.NumNegativeReturn)

	// Hindsight top-2 by realized return: (800 + 300) / 2 = 550.
	assert.Equal(t, int64(550-600), p.RegretVsHindsightBps)
}

func TestHarness_RegretRanksByRealizedReturn(t *testing.T) {
	// The unallocated candidate finished with enormous rewards, but its
	// realized return is 0 by definition: hindsight must rank on realized
	// returns, so the allocated winner stays on top and regret is zero.
	forecasts := &fakeForecasts{byWindow: map[domain.Window]persistence.WindowForecast{
		domain.WindowFar: {
			Allocations: []persistence.CandidateAllocation{
				{CandidateID: "c1", Votes: 1_000_000},
				{CandidateID: "c2", Votes: 0},
			},
		},
	}}
	truth := &fakeTruth{labels: map[string]domain.TruthLabel{
		"c1": {CandidateID: "c1", FinalVotesRaw: 1_000_000, FinalRewardsUSD: 100_000},
		"c2": {CandidateID: "c2", FinalVotesRaw: 100, FinalRewardsUSD: 10_000_000},
	}}

	h := New(forecasts, truth, &fakeBacktests{})
	_, portfolio, err := h.Run(context.Background(), 11)
	require.NoError(t, err)
	require.Len(t, portfolio, 1)

	assert.Equal(t, int64(0), portfolio[0].RegretVsHindsightBps)
}

func TestHarness_SkipsCandidateWithoutTruthLabel(t *testing.T) {
	forecasts := &fakeForecasts{byWindow: map[domain.Window]persistence.WindowForecast{
		domain.WindowFar: {
			Allocations: []persistence.CandidateAllocation{
				{CandidateID: "c1", Votes: 600_000},
				{CandidateID: "c2", Votes: 400_000},
				{CandidateID: "ghost", Votes: 0},
			},
		},
	}}
	truth := &fakeTruth{labels: map[string]domain.TruthLabel{
		"c1": {CandidateID: "c1", FinalVotesRaw: 400_000, FinalRewardsUSD: 80_000},
		"c2": {CandidateID: "c2", FinalVotesRaw: 600_000, FinalRewardsUSD: 30_000},
	}}

	h := New(forecasts, truth, &fakeBacktests{})
	gauge, portfolio, err := h.Run(context.Background(), 12)
	require.NoError(t, err)

	require.Len(t, gauge, 2, "unlabeled candidate must not enter the gauge set")
	for _, g := range gauge {
		assert.NotEqual(t, "ghost", g.CandidateID)
	}
	require.Len(t, portfolio, 1)
	assert.Equal(t, 2, portfolio[0].NumCandidatesForecast)
	assert.Equal(t, 0, portfolio[0].NumZeroAllocations)
}

func TestHarness_RegretCanBeNegative(t *testing.T) {
	// The actual allocation concentrates on the winner; the equal-weight
	// hindsight portfolio must not be clamped when it scores worse.
	forecasts := &fakeForecasts{byWindow: map[domain.Window]persistence.WindowForecast{
		domain.WindowNear: {
			ExpectedReturnBps: 0,
			DownsideBps:       0,
			Allocations: []persistence.CandidateAllocation{
				{CandidateID: "c1", Votes: 900_000},
				{CandidateID: "c2", Votes: 100_000},
			},
		},
	}}
	truth := &fakeTruth{labels: map[string]domain.TruthLabel{
		"c1": {CandidateID: "c1", FinalVotesRaw: 100_000, FinalRewardsUSD: 500_000},
		"c2": {CandidateID: "c2", FinalVotesRaw: 900_000, FinalRewardsUSD: 1_000},
	}}

	h := New(forecasts, truth, &fakeBacktests{})
	_, portfolio, err := h.Run(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, portfolio, 1)

	assert.Negative(t, portfolio[0].RegretVsHindsightBps)
}
