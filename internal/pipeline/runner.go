package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/features"
	"github.com/voterun/voterun/internal/optimizer"
	"github.com/voterun/voterun/internal/persistence"
	"github.com/voterun/voterun/internal/proxy"
	"github.com/voterun/voterun/internal/scenario"
	"github.com/voterun/voterun/internal/telemetry"
)

// Runner wires the pipeline end to end: feature load, proxy fit, scenario
// build, optimization, and the atomic per-unit persist. One (epoch, window)
// pair is the unit of work; units are independent and failures are isolated.
type Runner struct {
	store     persistence.Store
	settings  *config.Settings
	features  *features.Store
	learner   *proxy.Learner
	docs      *proxy.DocumentStore
	scenarios *scenario.Engine
	optimizer *optimizer.Optimizer
}

// New creates a runner over the store. Snapshot reads go through a circuit
// breaker; all other repositories are used directly.
func New(store persistence.Store, settings *config.Settings, docs *proxy.DocumentStore) *Runner {
	snapshots := newGuardedSnapshots(store.Snapshots())
	return &Runner{
		store:     store,
		settings:  settings,
		features:  features.New(snapshots, settings.Quality),
		learner:   proxy.NewLearner(store.History(), settings.Proxy),
		docs:      docs,
		scenarios: scenario.New(),
		optimizer: optimizer.New(settings.Optimizer),
	}
}

// LearnProxies fits both proxy kinds for every configured window against the
// epoch's candidate set and persists the estimate documents.
func (r *Runner) LearnProxies(ctx context.Context, epoch int64) error {
	rowsByWindow, err := r.features.Load(ctx, epoch, r.settings.WindowNames(), r.settings.Quality.MinQualityScore)
	if err != nil {
		return fmt.Errorf("failed to load features for proxy learning: %w", err)
	}

	for _, window := range r.settings.WindowNames() {
		rows := rowsByWindow[window]
		for _, kind := range []domain.ProxyKind{domain.KindDrift, domain.KindUplift} {
			model, err := r.learner.Fit(ctx, window, kind)
			if err != nil {
				return fmt.Errorf("failed to fit %s model for window %s: %w", kind, window, err)
			}
			estimates := make([]domain.ProxyEstimate, 0, len(rows))
			for _, row := range rows {
				est := model.Estimate(row.CandidateID, row.GroupID)
				telemetry.EstimateProduced(string(window), string(kind), string(est.Source))
				estimates = append(estimates, est)
			}
			if err := r.docs.Save(window, kind, estimates); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunEpoch processes every configured window for one epoch. A failing window
// unit is logged and skipped; the remaining units still run. The returned
// error is reserved for structural failures before any unit starts.
func (r *Runner) RunEpoch(ctx context.Context, epoch int64) error {
	rowsByWindow, err := r.features.Load(ctx, epoch, r.settings.WindowNames(), r.settings.Quality.MinQualityScore)
	if err != nil {
		return fmt.Errorf("failed to load features for epoch %d: %w", epoch, err)
	}

	if ok, warnings := features.Validate(rowsByWindow, r.settings.Quality.MinRowsPerWindow); !ok {
		telemetry.ValidationWarnings("features", len(warnings))
		for _, w := range warnings {
			log.Warn().Int64("epoch", epoch).Str("warning", w).Msg("feature validation")
		}
	}

	for _, window := range r.settings.WindowNames() {
		rows := rowsByWindow[window]
		if len(rows) == 0 {
			log.Info().Int64("epoch", epoch).Str("window", string(window)).Msg("no snapshot rows, skipping unit")
			continue
		}
		if err := r.runUnit(ctx, epoch, window, rows); err != nil {
			log.Error().Err(err).
				Int64("epoch", epoch).
				Str("window", string(window)).
				Msg("forecast unit failed")
			telemetry.UnitProcessed(string(window), "unit_error", 0)
		}
	}
	return nil
}

// RunEpochs is the batch driver: epochs are processed independently and a
// failing epoch never aborts the rest.
func (r *Runner) RunEpochs(ctx context.Context, epochs []int64) error {
	failed := 0
	for _, epoch := range epochs {
		if err := r.RunEpoch(ctx, epoch); err != nil {
			failed++
			log.Error().Err(err).Int64("epoch", epoch).Msg("epoch run failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d epochs failed", failed, len(epochs))
	}
	return nil
}

func (r *Runner) runUnit(ctx context.Context, epoch int64, window domain.Window, rows []domain.SnapshotRow) error {
	start := time.Now()

	driftModel, err := r.learner.Fit(ctx, window, domain.KindDrift)
	if err != nil {
		return fmt.Errorf("failed to fit drift model: %w", err)
	}
	upliftModel, err := r.learner.Fit(ctx, window, domain.KindUplift)
	if err != nil {
		return fmt.Errorf("failed to fit uplift model: %w", err)
	}

	// Every snapshot candidate gets an estimate: the model resolves the
	// fallback chain down to global priors, so scenario coverage is total.
	drift := make(map[string]domain.ProxyEstimate, len(rows))
	uplift := make(map[string]domain.ProxyEstimate, len(rows))
	candidates := make([]string, 0, len(rows))
	rowByID := make(map[string]domain.SnapshotRow, len(rows))
	for _, row := range rows {
		drift[row.CandidateID] = driftModel.Estimate(row.CandidateID, row.GroupID)
		uplift[row.CandidateID] = upliftModel.Estimate(row.CandidateID, row.GroupID)
		candidates = append(candidates, row.CandidateID)
		rowByID[row.CandidateID] = row
	}

	scenarios := r.scenarios.Build(rows, drift, uplift)
	if ok, warnings := scenario.Validate(scenarios); !ok || len(warnings) > 0 {
		telemetry.ValidationWarnings("scenarios", len(warnings))
		for _, w := range warnings {
			log.Warn().Int64("epoch", epoch).Str("window", string(window)).Str("warning", w).Msg("scenario validation")
		}
	}

	result := r.optimizer.Optimize(candidates, scenarios)
	if result.Status == domain.StatusError {
		telemetry.UnitProcessed(string(window), string(result.Status), time.Since(start))
		return fmt.Errorf("optimizer error: %s", result.Err)
	}
	if result.Status == domain.StatusFailedGuardrails {
		telemetry.GuardrailFailure(string(window))
		for _, w := range result.ValidationWarnings {
			log.Warn().Int64("epoch", epoch).Str("window", string(window)).Str("warning", w).Msg("guardrail violation")
		}
	}

	prior, err := r.store.Forecasts().LatestRun(ctx, epoch, window)
	if err != nil {
		return fmt.Errorf("failed to load prior run: %w", err)
	}

	runID := uuid.NewString()
	recs := r.buildRecommendations(epoch, window, runID, candidates, rowByID, scenarios, result, prior)

	var flat []domain.ForecastScenario
	for _, name := range domain.ScenarioNames() {
		flat = append(flat, scenarios[name]...)
	}

	unit := persistence.ForecastUnit{
		Epoch:             epoch,
		Window:            window,
		RunID:             runID,
		Scenarios:         flat,
		Recommendations:   recs,
		ExpectedReturnBps: int64(math.Floor(result.ExpectedReturnBps)),
		DownsideBps:       int64(math.Floor(result.DownsideReturnBps)),
		Status:            result.Status,
	}
	if err := r.store.Forecasts().SaveUnit(ctx, unit); err != nil {
		return fmt.Errorf("failed to persist forecast unit: %w", err)
	}

	telemetry.UnitProcessed(string(window), string(result.Status), time.Since(start))
	log.Info().
		Int64("epoch", epoch).
		Str("window", string(window)).
		Str("run_id", runID).
		Str("status", string(result.Status)).
		Int("candidates", len(candidates)).
		Int("allocated", result.NumCandidates).
		Float64("expected_bps", result.ExpectedReturnBps).
		Msg("forecast unit persisted")
	return nil
}

// buildRecommendations materializes one row per forecast candidate, including
// zero-allocation rows so downstream baselines can see the full candidate set.
func (r *Runner) buildRecommendations(
	epoch int64,
	window domain.Window,
	runID string,
	candidates []string,
	rowByID map[string]domain.SnapshotRow,
	scenarios map[domain.ScenarioName][]domain.ForecastScenario,
	result domain.AllocationResult,
	prior map[string]float64,
) []persistence.RecommendationRow {
	marginal := make(map[string]map[domain.ScenarioName]float64, len(candidates))
	for _, name := range domain.ScenarioNames() {
		for _, sc := range scenarios[name] {
			if marginal[sc.CandidateID] == nil {
				marginal[sc.CandidateID] = make(map[domain.ScenarioName]float64, 3)
			}
			marginal[sc.CandidateID][name] = sc.RewardsFinalEstimate / (sc.VotesFinalEstimate + 1)
		}
	}

	recs := make([]persistence.RecommendationRow, 0, len(candidates))
	for _, id := range candidates {
		alloc := result.Allocation[id]

		var weighted float64
		downside := math.Inf(1)
		for _, name := range domain.ScenarioNames() {
			m := marginal[id][name]
			weighted += r.settings.Optimizer.Weights.For(name) * m
			if m < downside {
				downside = m
			}
		}
		if math.IsInf(downside, 1) {
			downside = 0
		}

		priorAlloc := prior[id]
		delta := alloc - priorAlloc

		// Revote guardrail: a tiny reshuffle is not worth the transaction.
		noChange := false
		if len(prior) > 0 {
			upliftUSD := delta * weighted
			upliftBps := math.Inf(1)
			if priorUSD := priorAlloc * weighted; priorUSD > 0 {
				upliftBps = upliftUSD / priorUSD * 10000
			}
			if math.Abs(upliftUSD) < r.settings.Revote.MinUpliftUSD ||
				math.Abs(upliftBps) < r.settings.Revote.MinUpliftBps {
				noChange = true
			}
		}

		recs = append(recs, persistence.RecommendationRow{
			Epoch:             epoch,
			Window:            window,
			RunID:             runID,
			CandidateID:       id,
			AllocVotes:        alloc,
			ExpectedReturnUSD: alloc * weighted,
			DownsideP10USD:    alloc * downside,
			InclusionRisk:     r.settings.InclusionRiskLevel(rowByID[id].InclusionProb),
			DeltaVotes:        delta,
			NoChange:          noChange,
		})
	}
	return recs
}
