package domain

import "math"

// Window names a look-ahead horizon before the boundary at which a
// forecast/allocation snapshot is taken.
type Window string

const (
	WindowFar      Window = "far"      // 24h before boundary
	WindowNear     Window = "near"     // 1min before boundary
	WindowBoundary Window = "boundary" // at boundary timestamp
)

// Windows returns all decision windows in far-to-boundary order.
func Windows() []Window {
	return []Window{WindowFar, WindowNear, WindowBoundary}
}

// ProxyKind distinguishes the two learned drift quantities.
type ProxyKind string

const (
	KindDrift  ProxyKind = "drift"  // relative change of the vote denominator
	KindUplift ProxyKind = "uplift" // relative change of the reward pool
)

// EstimateSource tags which level of the fallback hierarchy produced an estimate.
type EstimateSource string

const (
	SourceCandidate EstimateSource = "candidate_level"
	SourceCluster   EstimateSource = "cluster_fallback"
	SourceGlobal    EstimateSource = "global_fallback"
)

// ScenarioName identifies one of the three forecast scenarios.
type ScenarioName string

const (
	ScenarioConservative ScenarioName = "conservative"
	ScenarioBase         ScenarioName = "base"
	ScenarioAggressive   ScenarioName = "aggressive"
)

// ScenarioNames returns the scenario names in canonical order.
func ScenarioNames() []ScenarioName {
	return []ScenarioName{ScenarioConservative, ScenarioBase, ScenarioAggressive}
}

// SnapshotRow is one pre-boundary observation of a candidate, immutable once
// written for a given (epoch, window, candidate) key.
type SnapshotRow struct {
	Epoch             int64   `json:"epoch" db:"epoch"`
	Window            Window  `json:"decision_window" db:"decision_window"`
	DecisionTimestamp int64   `json:"decision_timestamp" db:"decision_timestamp"`
	DecisionBlock     int64   `json:"decision_block" db:"decision_block"`
	BoundaryTimestamp int64   `json:"boundary_timestamp" db:"boundary_timestamp"`
	BoundaryBlock     int64   `json:"boundary_block" db:"boundary_block"`
	CandidateID       string  `json:"candidate_id" db:"candidate_id"`
	GroupID           string  `json:"group_id" db:"group_id"`
	VotesNow          float64 `json:"votes_now" db:"votes_now"`
	RewardsNowUSD     float64 `json:"rewards_now_usd" db:"rewards_now_usd"`
	InclusionProb     float64 `json:"inclusion_prob" db:"inclusion_prob"`
	DataQualityScore  float64 `json:"data_quality_score" db:"data_quality_score"`
	SourceTag         string  `json:"source_tag" db:"source_tag"`
	ComputedAt        int64   `json:"computed_at" db:"computed_at"`
}

// ProxyEstimate is a learned quantile distribution of drift or uplift for one
// candidate/window, recomputed wholesale on each learning run.
type ProxyEstimate struct {
	CandidateID       string         `json:"candidate_id"`
	Window            Window         `json:"decision_window"`
	Kind              ProxyKind      `json:"kind"`
	P25               float64        `json:"p25"`
	P50               float64        `json:"p50"`
	P75               float64        `json:"p75"`
	NumObservations   int            `json:"num_observations"`
	SampleVariance    float64        `json:"sample_variance"`
	ConfidencePenalty float64        `json:"confidence_penalty"`
	Source            EstimateSource `json:"source"`
}

// ForecastScenario is one named forecast for a candidate/window, derived
// deterministically from a snapshot row and a (drift, uplift) estimate pair.
type ForecastScenario struct {
	Scenario             ScenarioName   `json:"scenario_name"`
	CandidateID          string         `json:"candidate_id"`
	Window               Window         `json:"decision_window"`
	Drift                float64        `json:"drift"`
	Uplift               float64        `json:"uplift"`
	VotesFinalEstimate   float64        `json:"votes_final_estimate"`
	RewardsFinalEstimate float64        `json:"rewards_final_estimate"`
	Source               EstimateSource `json:"source"`
	ConfidencePenalty    float64        `json:"confidence_penalty"`
}

// AllocationStatus is the terminal state of one optimization run.
type AllocationStatus string

const (
	StatusSuccess          AllocationStatus = "success"
	StatusFailedGuardrails AllocationStatus = "failed_guardrails"
	StatusError            AllocationStatus = "error"
)

// AllocationResult holds the outcome of one (epoch, window) optimization run,
// immutable once produced. On failed_guardrails the invalid allocation and the
// violated constraints are still present for diagnostics.
type AllocationResult struct {
	Allocation         map[string]float64 `json:"allocation"`
	ExpectedReturnBps  float64            `json:"expected_return_bps"`
	DownsideReturnBps  float64            `json:"downside_return_bps"`
	RiskAdjustment     float64            `json:"risk_adjustment"`
	NumCandidates      int                `json:"num_candidates"`
	ValidationWarnings []string           `json:"validation_warnings"`
	Status             AllocationStatus   `json:"status"`
	Err                string             `json:"error,omitempty"`
}

// TruthLabel is the realized post-boundary outcome for one candidate,
// populated by the ground-truth materializer and read-only here.
type TruthLabel struct {
	Epoch           int64   `json:"epoch" db:"epoch"`
	VoteEpoch       int64   `json:"vote_epoch" db:"vote_epoch"`
	CandidateID     string  `json:"candidate_id" db:"candidate_id"`
	FinalVotesRaw   float64 `json:"final_votes_raw" db:"final_votes_raw"`
	FinalRewardsUSD float64 `json:"final_rewards_usd" db:"final_rewards_usd"`
	SourceTag       string  `json:"source_tag" db:"source_tag"`
}

// BacktestResult compares forecast vs realized outcome for one
// (epoch, window, candidate).
type BacktestResult struct {
	Epoch             int64   `json:"epoch"`
	Window            Window  `json:"decision_window"`
	CandidateID       string  `json:"candidate_id"`
	VotesAllocated    int64   `json:"votes_allocated"`
	FinalVotes        float64 `json:"final_votes"`
	FinalRewardsUSD   float64 `json:"final_rewards_usd"`
	RealizedReturnBps int64   `json:"realized_return_bps"`
	IsAllocated       bool    `json:"is_allocated"`
}

// PortfolioBacktestResult aggregates backtest metrics for one (epoch, window).
type PortfolioBacktestResult struct {
	Epoch                  int64   `json:"epoch"`
	Window                 Window  `json:"decision_window"`
	NumCandidatesForecast  int     `json:"num_candidates_in_forecast"`
	NumCandidatesAllocated int     `json:"num_candidates_allocated"`

	ExpectedReturnBps   int64 `json:"expected_portfolio_return_bps"`
	ExpectedDownsideBps int64 `json:"expected_portfolio_downside_bps"`
	RealizedReturnBps   int64 `json:"realized_portfolio_return_bps"`

	BaselineAllReturnBps  int64 `json:"baseline_portfolio_return_bps"`
	UpliftVsAllBps        int64 `json:"uplift_vs_baseline_bps"`
	BaselineTopKReturnBps int64 `json:"baseline_topk_portfolio_return_bps"`
	UpliftVsTopKBps       int64 `json:"uplift_vs_topk_baseline_bps"`
	ForecastErrorBps      int64 `json:"portfolio_error_bps"`

	MedianRealizedBps int64 `json:"median_realized_return_bps"`
	P10RealizedBps    int64 `json:"p10_realized_return_bps"`
	MinRealizedBps    int64 `json:"min_realized_return_bps"`
	MaxRealizedBps    int64 `json:"max_realized_return_bps"`

	// Regret can be negative: equal-weight hindsight is an approximation and
	// is not guaranteed to beat the realized allocation-weighted portfolio.
	RegretVsHindsightBps int64   `json:"regret_vs_hindsight_bps"`
	CalibrationScore     float64 `json:"calibration_score"`

	NumPositiveReturn  int `json:"num_positive_return_candidates"`
	NumNegativeReturn  int `json:"num_negative_return_candidates"`
	NumZeroAllocations int `json:"num_zero_allocation_candidates"`
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Valid checks the persisted-estimate invariants: quantile ordering, penalty
// bounds and finite values.
func (e ProxyEstimate) Valid(penaltyCap float64) bool {
	for _, v := range []float64{e.P25, e.P50, e.P75, e.SampleVariance, e.ConfidencePenalty} {
		if !IsFinite(v) {
			return false
		}
	}
	if e.P25 > e.P50 || e.P50 > e.P75 {
		return false
	}
	if e.ConfidencePenalty < 0 || e.ConfidencePenalty > penaltyCap {
		return false
	}
	return e.NumObservations >= 0 && e.SampleVariance >= 0
}

// Complete reports whether a snapshot row carries finite values in every
// numeric field the pipeline consumes.
func (r SnapshotRow) Complete() bool {
	if r.CandidateID == "" {
		return false
	}
	for _, v := range []float64{r.VotesNow, r.RewardsNowUSD, r.InclusionProb, r.DataQualityScore} {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}
