package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

// Harness replays persisted forecasts against realized truth labels and
// produces gauge- and portfolio-level calibration results.
type Harness struct {
	forecasts persistence.ForecastRepo
	truth     persistence.TruthRepo
	results   persistence.BacktestRepo
}

// New creates a backtest harness over the store.
func New(forecasts persistence.ForecastRepo, truth persistence.TruthRepo, results persistence.BacktestRepo) *Harness {
	return &Harness{forecasts: forecasts, truth: truth, results: results}
}

// RealizedReturnBps is the per-candidate realized return: reward captured per
// unit of final denominator, floored to whole basis points. Zero allocation
// earns zero by definition.
func RealizedReturnBps(votesAllocated int64, finalVotes, finalRewardsUSD float64) int64 {
	if votesAllocated == 0 || finalVotes+float64(votesAllocated) == 0 {
		return 0
	}
	return int64(math.Floor(finalRewardsUSD / (finalVotes + float64(votesAllocated)) * 10000))
}

// Run replays one epoch. Epochs with no forecasts or no truth labels return
// empty result sets, distinct from zero-valued results. Computed results
// replace any previous run for the epoch.
func (h *Harness) Run(ctx context.Context, epoch int64) ([]domain.BacktestResult, []domain.PortfolioBacktestResult, error) {
	byWindow, err := h.forecasts.AllocationsByEpoch(ctx, epoch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load forecasts for backtest: %w", err)
	}
	labels, err := h.truth.ByEpoch(ctx, epoch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load truth labels for backtest: %w", err)
	}

	if len(byWindow) == 0 || len(labels) == 0 {
		log.Info().
			Int64("epoch", epoch).
			Int("forecast_windows", len(byWindow)).
			Int("truth_labels", len(labels)).
			Msg("skipping backtest: missing forecasts or truth")
		return []domain.BacktestResult{}, []domain.PortfolioBacktestResult{}, nil
	}

	var gauge []domain.BacktestResult
	var portfolio []domain.PortfolioBacktestResult

	for _, window := range domain.Windows() {
		wf, ok := byWindow[window]
		if !ok {
			continue
		}

		windowGauge := make([]domain.BacktestResult, 0, len(wf.Allocations))
		for _, alloc := range wf.Allocations {
			label, hasLabel := labels[alloc.CandidateID]
			if !hasLabel {
				log.Warn().
					Int64("epoch", epoch).
					Str("window", string(window)).
					Str("candidate", alloc.CandidateID).
					Msg("missing truth label for candidate, skipping")
				continue
			}
			windowGauge = append(windowGauge, domain.BacktestResult{
				Epoch:             epoch,
				Window:            window,
				CandidateID:       alloc.CandidateID,
				VotesAllocated:    alloc.Votes,
				FinalVotes:        label.FinalVotesRaw,
				FinalRewardsUSD:   label.FinalRewardsUSD,
				RealizedReturnBps: RealizedReturnBps(alloc.Votes, label.FinalVotesRaw, label.FinalRewardsUSD),
				IsAllocated:       alloc.Votes > 0,
			})
		}

		portfolio = append(portfolio, aggregate(epoch, window, wf, windowGauge))
		gauge = append(gauge, windowGauge...)
	}

	if err := h.results.Replace(ctx, epoch, gauge, portfolio); err != nil {
		return nil, nil, fmt.Errorf("failed to persist backtest results: %w", err)
	}

	log.Info().
		Int64("epoch", epoch).
		Int("gauge_results", len(gauge)).
		Int("windows", len(portfolio)).
		Msg("backtest complete")
	return gauge, portfolio, nil
}

// aggregate folds one window's gauge results into portfolio-level metrics.
func aggregate(epoch int64, window domain.Window, wf persistence.WindowForecast, gauge []domain.BacktestResult) domain.PortfolioBacktestResult {
	out := domain.PortfolioBacktestResult{
		Epoch:                 epoch,
		Window:                window,
		NumCandidatesForecast: len(gauge),
		ExpectedReturnBps:     wf.ExpectedReturnBps,
		ExpectedDownsideBps:   wf.DownsideBps,
	}

	var totalAlloc float64
	allReturns := make([]int64, 0, len(gauge))
	for _, g := range gauge {
		allReturns = append(allReturns, g.RealizedReturnBps)
		switch {
		case g.RealizedReturnBps > 0:
			out.NumPositiveReturn++
		case g.RealizedReturnBps < 0:
			out.NumNegativeReturn++
		}
		if g.IsAllocated {
			out.NumCandidatesAllocated++
			totalAlloc += float64(g.VotesAllocated)
		} else {
			out.NumZeroAllocations++
		}
	}

	if totalAlloc > 0 {
		var weighted float64
		for _, g := range gauge {
			weighted += float64(g.VotesAllocated) * float64(g.RealizedReturnBps)
		}
		out.RealizedReturnBps = int64(math.Floor(weighted / totalAlloc))
	}
	out.ForecastErrorBps = out.ExpectedReturnBps - out.RealizedReturnBps

	out.BaselineAllReturnBps = equalWeightReturn(gauge, totalAlloc, len(gauge))
	out.UpliftVsAllBps = out.RealizedReturnBps - out.BaselineAllReturnBps
	out.BaselineTopKReturnBps = equalWeightReturnAllocated(gauge, totalAlloc)
	out.UpliftVsTopKBps = out.RealizedReturnBps - out.BaselineTopKReturnBps

	// Tails cover the full forecast set: unallocated candidates contribute
	// their definitional zeros.
	if n := len(allReturns); n > 0 {
		sorted := append([]int64(nil), allReturns...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out.MedianRealizedBps = sorted[n/2]
		out.P10RealizedBps = sorted[n/10]
		out.MinRealizedBps = sorted[0]
		out.MaxRealizedBps = sorted[n-1]
	}

	out.RegretVsHindsightBps = regret(allReturns, out.NumCandidatesAllocated, out.RealizedReturnBps)

	if out.RealizedReturnBps >= out.ExpectedDownsideBps {
		out.CalibrationScore = 1.0
	}
	return out
}

// equalWeightReturn is the baseline that splits the allocated budget evenly
// across every candidate in the forecast, allocated or not.
func equalWeightReturn(gauge []domain.BacktestResult, totalAlloc float64, n int) int64 {
	if n == 0 || totalAlloc <= 0 {
		return 0
	}
	share := int64(totalAlloc / float64(n))
	if share == 0 {
		return 0
	}
	var sum float64
	for _, g := range gauge {
		sum += float64(RealizedReturnBps(share, g.FinalVotes, g.FinalRewardsUSD))
	}
	return int64(math.Floor(sum / float64(n)))
}

// equalWeightReturnAllocated is the baseline that splits the same budget
// evenly across only the candidates that actually received an allocation.
func equalWeightReturnAllocated(gauge []domain.BacktestResult, totalAlloc float64) int64 {
	var k int
	for _, g := range gauge {
		if g.IsAllocated {
			k++
		}
	}
	if k == 0 || totalAlloc <= 0 {
		return 0
	}
	share := int64(totalAlloc / float64(k))
	if share == 0 {
		return 0
	}
	var sum float64
	for _, g := range gauge {
		if g.IsAllocated {
			sum += float64(RealizedReturnBps(share, g.FinalVotes, g.FinalRewardsUSD))
		}
	}
	return int64(math.Floor(sum / float64(k)))
}

// regret compares the realized portfolio to the hindsight portfolio built from
// the top-k candidates by realized return, equal-weighted over those realized
// values. It can be negative: equal weighting is an approximation, not a
// dominance bound.
func regret(returns []int64, k int, realizedBps int64) int64 {
	if k == 0 || len(returns) == 0 {
		return 0
	}
	hindsight := append([]int64(nil), returns...)
	sort.Slice(hindsight, func(i, j int) bool { return hindsight[i] > hindsight[j] })
	if k > len(hindsight) {
		k = len(hindsight)
	}
	var sum float64
	for _, r := range hindsight[:k] {
		sum += float64(r)
	}
	return int64(math.Floor(sum/float64(k))) - realizedBps
}
