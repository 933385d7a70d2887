package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

type fakeHistory struct {
	pairs []persistence.ObservationPair
	err   error
}

func (f *fakeHistory) ObservationPairs(ctx context.Context, window domain.Window, kind domain.ProxyKind) ([]persistence.ObservationPair, error) {
	return f.pairs, f.err
}

func pairsFor(candidate, group string, changes ...float64) []persistence.ObservationPair {
	out := make([]persistence.ObservationPair, 0, len(changes))
	for _, c := range changes {
		// observed 100 so realized = 100*(1+c) produces exactly c
		out = append(out, persistence.ObservationPair{
			CandidateID:   candidate,
			GroupID:       group,
			ObservedValue: 100,
			RealizedValue: 100 * (1 + c),
		})
	}
	return out
}

func TestLearner_CandidateLevelPrecedence(t *testing.T) {
	cfg := config.DefaultSettings().Proxy
	history := &fakeHistory{pairs: pairsFor("c1", "g1", -0.1, -0.05, 0.0, 0.05, 0.1, 0.2)}

	learner := NewLearner(history, cfg)
	model, err := learner.Fit(context.Background(), domain.WindowFar, domain.KindDrift)
	require.NoError(t, err)

	est := model.Estimate("c1", "g1")
	assert.Equal(t, domain.SourceCandidate, est.Source)
	assert.Equal(t, 6, est.NumObservations)
	assert.Equal(t, 0.0, est.ConfidencePenalty, "full sample must carry no penalty")
	assert.True(t, est.P25 <= est.P50 && est.P50 <= est.P75)
	assert.True(t, est.Valid(cfg.PenaltyCap))
}

func TestLearner_ClusterFallback(t *testing.T) {
	cfg := config.DefaultSettings().Proxy
	pairs := pairsFor("c1", "g1", 0.1, 0.2)
	pairs = append(pairs, pairsFor("c2", "g1", 0.0, -0.1)...)

	learner := NewLearner(&fakeHistory{pairs: pairs}, cfg)
	model, err := learner.Fit(context.Background(), domain.WindowNear, domain.KindDrift)
	require.NoError(t, err)

	// c1 has 2 own observations, below min 6; pooled g1 has 4, enough for
	// the cluster level. Count, variance and penalty stay the candidate's own.
	est := model.Estimate("c1", "g1")
	assert.Equal(t, domain.SourceCluster, est.Source)
	assert.Equal(t, 2, est.NumObservations)
	assert.InDelta(t, variance([]float64{0.1, 0.2}), est.SampleVariance, 1e-9)
	assert.Greater(t, est.ConfidencePenalty, 0.0)
	assert.LessOrEqual(t, est.ConfidencePenalty, cfg.PenaltyCap)
}

func TestLearner_ClusterFallbackDeepPoolKeepsOwnPenalty(t *testing.T) {
	cfg := config.DefaultSettings().Proxy
	pairs := pairsFor("c1", "g1", 0.1, 0.2)
	pairs = append(pairs, pairsFor("c2", "g1", 0.0, -0.1, 0.05, -0.05)...)

	learner := NewLearner(&fakeHistory{pairs: pairs}, cfg)
	model, err := learner.Fit(context.Background(), domain.WindowNear, domain.KindDrift)
	require.NoError(t, err)

	// The pool has 6 observations, but c1 still only has 2 of its own: the
	// estimate must carry the sparse-history penalty, not masquerade as a
	// full candidate-level sample.
	est := model.Estimate("c1", "g1")
	assert.Equal(t, domain.SourceCluster, est.Source)
	assert.Equal(t, 2, est.NumObservations)
	assert.Equal(t, cfg.Penalty(2, est.SampleVariance), est.ConfidencePenalty)
	assert.Greater(t, est.ConfidencePenalty, 0.0, "sparse candidate must carry a penalty at cluster level")

	// Quantiles come from the pooled sample.
	pool := []float64{0.1, 0.2, 0.0, -0.1, 0.05, -0.05}
	assert.InDelta(t, percentile(pool, 50), est.P50, 1e-9)
}

func TestLearner_GlobalFallback(t *testing.T) {
	cfg := config.DefaultSettings().Proxy
	learner := NewLearner(&fakeHistory{}, cfg)

	model, err := learner.Fit(context.Background(), domain.WindowBoundary, domain.KindDrift)
	require.NoError(t, err)

	est := model.Estimate("unknown", "empty-group")
	assert.Equal(t, domain.SourceGlobal, est.Source)
	assert.Equal(t, 0, est.NumObservations)
	assert.Equal(t, -0.05, est.P25)
	assert.Equal(t, 0.0, est.P50)
	assert.Equal(t, 0.05, est.P75)
	assert.Equal(t, cfg.PenaltyCap, est.ConfidencePenalty)
}

func TestGlobalFallback_UpliftPriors(t *testing.T) {
	cfg := config.DefaultSettings().Proxy
	est := GlobalFallback("c1", domain.WindowFar, domain.KindUplift, cfg)

	assert.Equal(t, 0.0, est.P25)
	assert.Equal(t, 0.0, est.P50)
	assert.Equal(t, 0.10, est.P75)
	assert.Equal(t, domain.SourceGlobal, est.Source)
}

func TestLearner_SkipsNonPositiveObserved(t *testing.T) {
	cfg := config.DefaultSettings().Proxy
	pairs := []persistence.ObservationPair{
		{CandidateID: "c1", GroupID: "g1", ObservedValue: 0, RealizedValue: 50},
		{CandidateID: "c1", GroupID: "g1", ObservedValue: -10, RealizedValue: 50},
	}
	learner := NewLearner(&fakeHistory{pairs: pairs}, cfg)

	model, err := learner.Fit(context.Background(), domain.WindowFar, domain.KindUplift)
	require.NoError(t, err)

	est := model.Estimate("c1", "g1")
	assert.Equal(t, domain.SourceGlobal, est.Source, "unusable observations must not count")
}

func TestPenaltySchedule(t *testing.T) {
	cfg := config.DefaultSettings().Proxy

	tests := []struct {
		name     string
		n        int
		variance float64
		want     float64
	}{
		{"full sample", 6, 0.5, 0.0},
		{"above min", 10, 0.5, 0.0},
		{"one short", 5, 0.0, 0.10},
		{"one short high variance", 5, 0.02, 0.20},
		{"two short", 4, 0.0, 0.20},
		{"clamped to cap", 1, 0.02, 0.30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cfg.Penalty(tt.n, tt.variance), 1e-9)
		})
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2}

	assert.Equal(t, 1.75, percentile(values, 25))
	assert.Equal(t, 2.5, percentile(values, 50))
	assert.Equal(t, 3.25, percentile(values, 75))
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 4.0, percentile(values, 100))
	assert.Equal(t, 7.0, percentile([]float64{7}, 50))
	assert.Equal(t, 0.0, percentile(nil, 50))
}

func TestVariance(t *testing.T) {
	assert.Equal(t, 0.0, variance([]float64{5, 5, 5}))
	assert.InDelta(t, 2.0, variance([]float64{1, 2, 3, 4, 5}), 1e-9)
	assert.Equal(t, 0.0, variance(nil))
}
