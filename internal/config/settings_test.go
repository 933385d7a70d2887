package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voterun/voterun/internal/domain"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	assert.Equal(t, []domain.Window{domain.WindowFar, domain.WindowNear, domain.WindowBoundary}, s.WindowNames())
	assert.Equal(t, 1_000_000.0, s.Optimizer.Budget)
	assert.Equal(t, 5, s.Optimizer.MaxCandidates)
	assert.Equal(t, 50_000.0, s.Optimizer.MinPerCandidate)
	assert.InDelta(t, 1.0, s.Optimizer.Weights.Conservative+s.Optimizer.Weights.Base+s.Optimizer.Weights.Aggressive, 1e-9)
	assert.Equal(t, 6, s.Proxy.MinSampleSize)
	assert.Equal(t, 0.30, s.Proxy.PenaltyCap)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	body := []byte("optimizer:\n  budget: 250000\n  max_candidates: 3\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250_000.0, s.Optimizer.Budget)
	assert.Equal(t, 3, s.Optimizer.MaxCandidates)
	assert.Equal(t, 50_000.0, s.Optimizer.MinPerCandidate, "unset keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"no windows", func(s *Settings) { s.Windows = nil }},
		{"zero weights", func(s *Settings) { s.Optimizer.Weights = ScenarioWeights{} }},
		{"non-positive budget", func(s *Settings) { s.Optimizer.Budget = 0 }},
		{"non-positive cardinality", func(s *Settings) { s.Optimizer.MaxCandidates = 0 }},
		{"negative penalty cap", func(s *Settings) { s.Proxy.PenaltyCap = -0.1 }},
		{"quality out of range", func(s *Settings) { s.Quality.MinQualityScore = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestScenarioWeights_For(t *testing.T) {
	w := ScenarioWeights{Conservative: 0.25, Base: 0.5, Aggressive: 0.25}
	assert.Equal(t, 0.25, w.For(domain.ScenarioConservative))
	assert.Equal(t, 0.5, w.For(domain.ScenarioBase))
	assert.Equal(t, 0.25, w.For(domain.ScenarioAggressive))
	assert.Equal(t, 0.0, w.For(domain.ScenarioName("unknown")))
}

func TestInclusionRiskLevel(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "Low", s.InclusionRiskLevel(0.99))
	assert.Equal(t, "Low", s.InclusionRiskLevel(0.95))
	assert.Equal(t, "Med", s.InclusionRiskLevel(0.85))
	assert.Equal(t, "High", s.InclusionRiskLevel(0.5))
}
