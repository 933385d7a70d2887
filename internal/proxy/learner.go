package proxy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

// Global priors used when neither the candidate nor its cluster has enough
// history. Drift is assumed roughly symmetric around zero; uplift is assumed
// non-negative with a modest upside.
const (
	globalDriftP25 = -0.05
	globalDriftP50 = 0.0
	globalDriftP75 = 0.05

	globalUpliftP25 = 0.0
	globalUpliftP50 = 0.0
	globalUpliftP75 = 0.10

	globalPriorVariance = 0.001
)

// Learner fits proxy models from historical (observed, realized) pairs.
type Learner struct {
	history persistence.HistoryRepo
	cfg     config.ProxySettings
}

// NewLearner creates a learner over the observation history.
func NewLearner(history persistence.HistoryRepo, cfg config.ProxySettings) *Learner {
	return &Learner{history: history, cfg: cfg}
}

// Model holds per-candidate and per-cluster relative-change samples for one
// (window, kind). Estimation against a fitted model is a pure lookup: two
// calls with the same arguments return identical estimates.
type Model struct {
	window      domain.Window
	kind        domain.ProxyKind
	byCandidate map[string][]float64
	byGroup     map[string][]float64
	cfg         config.ProxySettings
}

// Fit loads the observation history for one (window, kind) and groups the
// relative changes per candidate and per cluster. Candidates with zero or
// non-finite observed values never enter the sample sets.
func (l *Learner) Fit(ctx context.Context, window domain.Window, kind domain.ProxyKind) (*Model, error) {
	pairs, err := l.history.ObservationPairs(ctx, window, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load observation pairs: %w", err)
	}

	m := &Model{
		window:      window,
		kind:        kind,
		byCandidate: make(map[string][]float64),
		byGroup:     make(map[string][]float64),
		cfg:         l.cfg,
	}

	for _, p := range pairs {
		if p.ObservedValue <= 0 {
			continue
		}
		change := (p.RealizedValue - p.ObservedValue) / p.ObservedValue
		if !domain.IsFinite(change) {
			continue
		}
		m.byCandidate[p.CandidateID] = append(m.byCandidate[p.CandidateID], change)
		if p.GroupID != "" {
			m.byGroup[p.GroupID] = append(m.byGroup[p.GroupID], change)
		}
	}

	log.Debug().
		Str("window", string(window)).
		Str("kind", string(kind)).
		Int("pairs", len(pairs)).
		Int("candidates", len(m.byCandidate)).
		Int("clusters", len(m.byGroup)).
		Msg("fitted proxy model")

	return m, nil
}

// Estimate resolves the fallback hierarchy for one candidate: candidate-level
// history first, then the candidate's cluster pool, then global priors. The
// first level with enough observations wins. Cluster estimates borrow only the
// pooled quantiles; observation count, variance and penalty always reflect the
// candidate's own history, so a sparse candidate stays penalized even inside
// a deep pool.
func (m *Model) Estimate(candidateID, groupID string) domain.ProxyEstimate {
	own := m.byCandidate[candidateID]
	if len(own) >= m.cfg.MinSampleSize {
		return m.fromSamples(candidateID, own, own, domain.SourceCandidate)
	}
	if pool := m.byGroup[groupID]; len(pool) >= m.cfg.ClusterMinSample {
		return m.fromSamples(candidateID, pool, own, domain.SourceCluster)
	}
	return GlobalFallback(candidateID, m.window, m.kind, m.cfg)
}

func (m *Model) fromSamples(candidateID string, quantileSamples, own []float64, source domain.EstimateSource) domain.ProxyEstimate {
	v := variance(own)
	return domain.ProxyEstimate{
		CandidateID:       candidateID,
		Window:            m.window,
		Kind:              m.kind,
		P25:               percentile(quantileSamples, 25),
		P50:               percentile(quantileSamples, 50),
		P75:               percentile(quantileSamples, 75),
		NumObservations:   len(own),
		SampleVariance:    v,
		ConfidencePenalty: m.cfg.Penalty(len(own), v),
		Source:            source,
	}
}

// GlobalFallback returns the fixed prior estimate for a candidate with no
// usable history at any level. The penalty is pinned at the cap.
func GlobalFallback(candidateID string, window domain.Window, kind domain.ProxyKind, cfg config.ProxySettings) domain.ProxyEstimate {
	est := domain.ProxyEstimate{
		CandidateID:       candidateID,
		Window:            window,
		Kind:              kind,
		NumObservations:   0,
		SampleVariance:    globalPriorVariance,
		ConfidencePenalty: cfg.PenaltyCap,
		Source:            domain.SourceGlobal,
	}
	switch kind {
	case domain.KindUplift:
		est.P25, est.P50, est.P75 = globalUpliftP25, globalUpliftP50, globalUpliftP75
	default:
		est.P25, est.P50, est.P75 = globalDriftP25, globalDriftP50, globalDriftP75
	}
	return est
}
