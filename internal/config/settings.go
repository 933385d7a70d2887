package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voterun/voterun/internal/domain"
)

// WindowSpec describes one decision window relative to the boundary.
type WindowSpec struct {
	Name                  domain.Window `yaml:"name"`
	SecondsBeforeBoundary int64         `yaml:"seconds_before_boundary"`
}

// ScenarioWeights are the fixed mixing weights for the three scenarios.
type ScenarioWeights struct {
	Conservative float64 `yaml:"conservative"`
	Base         float64 `yaml:"base"`
	Aggressive   float64 `yaml:"aggressive"`
}

// For returns the weight for a scenario name.
func (w ScenarioWeights) For(name domain.ScenarioName) float64 {
	switch name {
	case domain.ScenarioConservative:
		return w.Conservative
	case domain.ScenarioBase:
		return w.Base
	case domain.ScenarioAggressive:
		return w.Aggressive
	}
	return 0
}

// ProxySettings control the proxy learning engine and its penalty schedule.
type ProxySettings struct {
	MinSampleSize         int     `yaml:"min_sample_size"`
	ClusterMinSample      int     `yaml:"cluster_min_sample"`
	SparsePenalty         float64 `yaml:"sparse_penalty"`
	HighVariancePenalty   float64 `yaml:"high_variance_penalty"`
	HighVarianceThreshold float64 `yaml:"high_variance_threshold"`
	PenaltyCap            float64 `yaml:"penalty_cap"`
}

// Penalty computes the confidence penalty for an estimate fitted on n
// observations with the given sample variance. Sparse history and noisy
// history are penalized additively, clamped to the cap.
func (p ProxySettings) Penalty(n int, sampleVariance float64) float64 {
	if n >= p.MinSampleSize {
		return 0
	}
	penalty := p.SparsePenalty * float64(p.MinSampleSize-n)
	if sampleVariance > p.HighVarianceThreshold {
		penalty += p.HighVariancePenalty
	}
	if penalty > p.PenaltyCap {
		penalty = p.PenaltyCap
	}
	return penalty
}

// OptimizerSettings control the risk-aware allocation optimizer.
type OptimizerSettings struct {
	Budget          float64         `yaml:"budget"`
	RiskLambda      float64         `yaml:"risk_lambda"`
	MaxCandidates   int             `yaml:"max_candidates"`
	MinPerCandidate float64         `yaml:"min_per_candidate"`
	Weights         ScenarioWeights `yaml:"scenario_weights"`
}

// QualitySettings gate snapshot rows before they enter the working set.
type QualitySettings struct {
	MinQualityScore  float64 `yaml:"min_quality_score"`
	MinRowsPerWindow int     `yaml:"min_rows_per_window"`
}

// RevoteSettings are the no-change guardrails for recommendations.
type RevoteSettings struct {
	MinUpliftBps float64 `yaml:"min_uplift_bps"`
	MinUpliftUSD float64 `yaml:"min_uplift_usd"`
}

// InclusionSettings map inclusion probability to a coarse risk level.
type InclusionSettings struct {
	LowMin float64 `yaml:"low_min"` // >= LowMin -> Low
	MedMin float64 `yaml:"med_min"` // >= MedMin -> Med, else High
}

// DBSettings configure the Postgres connection.
type DBSettings struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// CacheSettings configure the proxy estimate caches.
type CacheSettings struct {
	Dir        string        `yaml:"dir"`
	RedisAddr  string        `yaml:"redis_addr"`
	RedisDB    int           `yaml:"redis_db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// Settings is the explicit configuration value object passed into each
// component constructor. No process-wide mutable globals.
type Settings struct {
	Windows   []WindowSpec      `yaml:"windows"`
	Proxy     ProxySettings     `yaml:"proxy"`
	Optimizer OptimizerSettings `yaml:"optimizer"`
	Quality   QualitySettings   `yaml:"quality"`
	Revote    RevoteSettings    `yaml:"revote"`
	Inclusion InclusionSettings `yaml:"inclusion"`
	DB        DBSettings        `yaml:"db"`
	Cache     CacheSettings     `yaml:"cache"`
}

// DefaultSettings returns production defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Windows: []WindowSpec{
			{Name: domain.WindowFar, SecondsBeforeBoundary: 86400},
			{Name: domain.WindowNear, SecondsBeforeBoundary: 60},
			{Name: domain.WindowBoundary, SecondsBeforeBoundary: 0},
		},
		Proxy: ProxySettings{
			MinSampleSize:         6,
			ClusterMinSample:      4,
			SparsePenalty:         0.10,
			HighVariancePenalty:   0.10,
			HighVarianceThreshold: 0.01,
			PenaltyCap:            0.30,
		},
		Optimizer: OptimizerSettings{
			Budget:          1_000_000,
			RiskLambda:      0.20,
			MaxCandidates:   5,
			MinPerCandidate: 50_000,
			Weights: ScenarioWeights{
				Conservative: 0.25,
				Base:         0.50,
				Aggressive:   0.25,
			},
		},
		Quality: QualitySettings{
			MinQualityScore:  0.5,
			MinRowsPerWindow: 10,
		},
		Revote: RevoteSettings{
			MinUpliftBps: 50,
			MinUpliftUSD: 25,
		},
		Inclusion: InclusionSettings{
			LowMin: 0.95,
			MedMin: 0.80,
		},
		DB: DBSettings{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Cache: CacheSettings{
			Dir:        "data/proxy_cache",
			DefaultTTL: time.Hour,
		},
	}
}

// Load reads settings from a yaml file, layered over defaults.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings that would make the pipeline ill-defined.
func (s *Settings) Validate() error {
	if len(s.Windows) == 0 {
		return fmt.Errorf("settings: at least one decision window required")
	}
	sum := s.Optimizer.Weights.Conservative + s.Optimizer.Weights.Base + s.Optimizer.Weights.Aggressive
	if sum <= 0 {
		return fmt.Errorf("settings: scenario weights must sum to a positive value, got %f", sum)
	}
	if s.Optimizer.Budget <= 0 {
		return fmt.Errorf("settings: budget must be positive")
	}
	if s.Optimizer.MaxCandidates <= 0 {
		return fmt.Errorf("settings: max_candidates must be positive")
	}
	if s.Proxy.PenaltyCap < 0 {
		return fmt.Errorf("settings: penalty_cap must be non-negative")
	}
	if s.Quality.MinQualityScore < 0 || s.Quality.MinQualityScore > 1 {
		return fmt.Errorf("settings: min_quality_score must be in [0,1]")
	}
	return nil
}

// WindowNames returns the configured window names in order.
func (s *Settings) WindowNames() []domain.Window {
	names := make([]domain.Window, 0, len(s.Windows))
	for _, w := range s.Windows {
		names = append(names, w.Name)
	}
	return names
}

// InclusionRiskLevel maps an inclusion probability to Low/Med/High.
func (s *Settings) InclusionRiskLevel(prob float64) string {
	switch {
	case prob >= s.Inclusion.LowMin:
		return "Low"
	case prob >= s.Inclusion.MedMin:
		return "Med"
	default:
		return "High"
	}
}
