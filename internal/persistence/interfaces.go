package persistence

import (
	"context"

	"github.com/voterun/voterun/internal/domain"
)

// WindowStats summarizes one epoch/window slice of the snapshot table.
type WindowStats struct {
	Count            int     `json:"count" db:"count"`
	MeanVotesNow     float64 `json:"mean_votes_now" db:"mean_votes_now"`
	MeanRewardsUSD   float64 `json:"mean_rewards_now_usd" db:"mean_rewards_now_usd"`
	MeanQualityScore float64 `json:"mean_data_quality_score" db:"mean_data_quality_score"`
	MeanInclusion    float64 `json:"mean_inclusion_prob" db:"mean_inclusion_prob"`
}

// ObservationPair is one historical (pre-boundary observed, post-boundary
// realized) value pair used by the proxy learners.
type ObservationPair struct {
	CandidateID   string  `db:"candidate_id"`
	GroupID       string  `db:"group_id"`
	ObservedValue float64 `db:"observed_value"`
	RealizedValue float64 `db:"realized_value"`
}

// ForecastRow is one persisted scenario row of the forecasts table.
type ForecastRow struct {
	Epoch             int64               `db:"epoch"`
	Window            domain.Window       `db:"decision_window"`
	CandidateID       string              `db:"candidate_id"`
	Scenario          domain.ScenarioName `db:"scenario"`
	VotesFinal        float64             `db:"votes_final"`
	RewardsFinalUSD   float64             `db:"rewards_final_usd"`
	ExpectedReturnUSD float64             `db:"expected_return_usd"`
	ConfidencePenalty float64             `db:"confidence_penalty"`
}

// RecommendationRow is one allocated candidate of an optimizer run.
type RecommendationRow struct {
	Epoch             int64         `db:"epoch"`
	Window            domain.Window `db:"decision_window"`
	RunID             string        `db:"run_id"`
	CandidateID       string        `db:"candidate_id"`
	AllocVotes        float64       `db:"alloc_votes"`
	ExpectedReturnUSD float64       `db:"expected_return_usd"`
	DownsideP10USD    float64       `db:"downside_p10_usd"`
	InclusionRisk     string        `db:"inclusion_risk"`
	DeltaVotes        float64       `db:"delta_votes"`
	NoChange          bool          `db:"no_change_flag"`
}

// ForecastUnit is everything one (epoch, window) pipeline unit persists.
// Written atomically: a unit either lands whole or not at all.
type ForecastUnit struct {
	Epoch             int64
	Window            domain.Window
	RunID             string
	Scenarios         []domain.ForecastScenario
	Recommendations   []RecommendationRow
	ExpectedReturnBps int64
	DownsideBps       int64
	Status            domain.AllocationStatus
}

// WindowForecast is the backtest-facing view of one persisted unit.
type WindowForecast struct {
	ExpectedReturnBps int64
	DownsideBps       int64
	Allocations       []CandidateAllocation
}

// CandidateAllocation pairs a candidate with its recommended votes.
type CandidateAllocation struct {
	CandidateID string
	Votes       int64
}

// SnapshotRepo provides read access to the upstream snapshot table and the
// idempotent replace upsert used by the ingestion collaborator.
type SnapshotRepo interface {
	// Upsert replaces the row for (epoch, window, candidate).
	Upsert(ctx context.Context, row domain.SnapshotRow) error

	// ListByEpochWindow returns quality-gated rows ordered by candidate id.
	// A window with no matching rows yields an empty slice, not an error.
	ListByEpochWindow(ctx context.Context, epoch int64, window domain.Window, minQuality float64) ([]domain.SnapshotRow, error)

	// WindowStats computes per-window statistics for one epoch.
	WindowStats(ctx context.Context, epoch int64) (map[domain.Window]WindowStats, error)

	// Epochs lists distinct snapshot epochs ascending; limit <= 0 means all.
	Epochs(ctx context.Context, limit int) ([]int64, error)
}

// HistoryRepo serves the proxy learners with (observed, realized) pairs
// joined from snapshots and truth labels.
type HistoryRepo interface {
	// ObservationPairs returns pairs for one window and kind, ordered by
	// candidate id. Rows with a non-positive observed value are excluded.
	ObservationPairs(ctx context.Context, window domain.Window, kind domain.ProxyKind) ([]ObservationPair, error)
}

// ForecastRepo persists pipeline output and serves it back to the backtest.
type ForecastRepo interface {
	// SaveUnit writes scenarios and recommendations for one unit in a single
	// transaction with replace semantics per key.
	SaveUnit(ctx context.Context, unit ForecastUnit) error

	// ScenarioRows returns persisted scenario rows for an epoch keyed by window.
	ScenarioRows(ctx context.Context, epoch int64) (map[domain.Window][]ForecastRow, error)

	// AllocationsByEpoch returns, per window, the latest run's allocations and
	// portfolio expectations. Empty map when the epoch has no forecasts.
	AllocationsByEpoch(ctx context.Context, epoch int64) (map[domain.Window]WindowForecast, error)

	// LatestRun returns the most recent run's allocation per candidate for one
	// (epoch, window), used to compute delta votes. Empty map when none.
	LatestRun(ctx context.Context, epoch int64, window domain.Window) (map[string]float64, error)

	// Epochs lists distinct forecast epochs ascending; limit <= 0 means all.
	Epochs(ctx context.Context, limit int) ([]int64, error)
}

// TruthRepo reads the truth labels written by the ground-truth materializer.
type TruthRepo interface {
	// Upsert replaces the label for (epoch, vote_epoch, candidate).
	Upsert(ctx context.Context, label domain.TruthLabel) error

	// ByEpoch returns labels keyed by candidate id; empty map when none.
	ByEpoch(ctx context.Context, epoch int64) (map[string]domain.TruthLabel, error)
}

// BacktestRepo persists backtest output, fully replaced on re-run.
type BacktestRepo interface {
	Replace(ctx context.Context, epoch int64, gauge []domain.BacktestResult, portfolio []domain.PortfolioBacktestResult) error
}

// Store bundles the repositories backing the pipeline.
type Store interface {
	Snapshots() SnapshotRepo
	History() HistoryRepo
	Forecasts() ForecastRepo
	Truth() TruthRepo
	Backtests() BacktestRepo
}
