package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
)

// Optimizer turns scenario forecasts into a bounded-cardinality vote
// allocation maximizing the scenario-weighted return under a fixed budget.
type Optimizer struct {
	cfg config.OptimizerSettings
}

// New creates an optimizer with the given settings.
func New(cfg config.OptimizerSettings) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// marginalReturn is the reward captured per additional allocated unit. The +1
// models the marginal vote itself joining the denominator.
func marginalReturn(sc domain.ForecastScenario) float64 {
	return sc.RewardsFinalEstimate / (sc.VotesFinalEstimate + 1)
}

// Optimize ranks candidates by scenario-weighted marginal return and greedily
// fills floor-sized slots, assigning leftover budget to the top rank. Ties in
// weighted return keep the input candidate order. On guardrail failure the
// invalid allocation is still returned with the violations attached; a
// numeric anomaly in the objective aborts the run with status error.
func (o *Optimizer) Optimize(candidates []string, scenarios map[domain.ScenarioName][]domain.ForecastScenario) domain.AllocationResult {
	returns := make(map[string]map[domain.ScenarioName]float64, len(candidates))
	for _, name := range domain.ScenarioNames() {
		for _, sc := range scenarios[name] {
			if returns[sc.CandidateID] == nil {
				returns[sc.CandidateID] = make(map[domain.ScenarioName]float64, 3)
			}
			returns[sc.CandidateID][name] = marginalReturn(sc)
		}
	}

	type ranked struct {
		id       string
		weighted float64
	}
	rankedSet := make([]ranked, 0, len(candidates))
	for _, id := range candidates {
		perScenario, ok := returns[id]
		if !ok || len(perScenario) != 3 {
			log.Warn().Str("candidate", id).Msg("candidate missing scenario coverage, excluded from ranking")
			continue
		}
		var weighted float64
		for _, name := range domain.ScenarioNames() {
			weighted += o.cfg.Weights.For(name) * perScenario[name]
		}
		if !domain.IsFinite(weighted) {
			return domain.AllocationResult{
				Status: domain.StatusError,
				Err:    fmt.Sprintf("non-finite weighted return for candidate %s", id),
			}
		}
		rankedSet = append(rankedSet, ranked{id: id, weighted: weighted})
	}

	sort.SliceStable(rankedSet, func(i, j int) bool {
		return rankedSet[i].weighted > rankedSet[j].weighted
	})

	allocation := make(map[string]float64, o.cfg.MaxCandidates)
	remaining := o.cfg.Budget
	var selected []string
	for _, r := range rankedSet {
		if len(selected) >= o.cfg.MaxCandidates || remaining < o.cfg.MinPerCandidate {
			break
		}
		allocation[r.id] = o.cfg.MinPerCandidate
		remaining -= o.cfg.MinPerCandidate
		selected = append(selected, r.id)
	}
	if remaining > 0 && len(selected) > 0 {
		allocation[selected[0]] += remaining
		remaining = 0
	}

	warnings := Guardrails(allocation, candidates, o.cfg)

	expectedBps, downsideBps, err := o.portfolioReturns(allocation, returns)
	if err != nil {
		return domain.AllocationResult{
			Status: domain.StatusError,
			Err:    err.Error(),
		}
	}
	riskAdjustment := o.cfg.RiskLambda * math.Max(0, expectedBps-downsideBps)

	status := domain.StatusSuccess
	if len(warnings) > 0 {
		status = domain.StatusFailedGuardrails
	}

	return domain.AllocationResult{
		Allocation:         allocation,
		ExpectedReturnBps:  expectedBps,
		DownsideReturnBps:  downsideBps,
		RiskAdjustment:     riskAdjustment,
		NumCandidates:      len(selected),
		ValidationWarnings: warnings,
		Status:             status,
	}
}

// portfolioReturns computes the allocation-weighted return per scenario in
// basis points, returning the scenario-weighted mean and the worst scenario.
func (o *Optimizer) portfolioReturns(allocation map[string]float64, returns map[string]map[domain.ScenarioName]float64) (weighted, downside float64, err error) {
	var total float64
	for _, v := range allocation {
		total += v
	}
	if total <= 0 {
		return 0, 0, nil
	}

	downside = math.Inf(1)
	for _, name := range domain.ScenarioNames() {
		var sum float64
		for id, alloc := range allocation {
			sum += alloc * returns[id][name]
		}
		scenarioBps := sum / total * 10000
		if !domain.IsFinite(scenarioBps) {
			return 0, 0, fmt.Errorf("non-finite portfolio return for scenario %s", name)
		}
		weighted += o.cfg.Weights.For(name) * scenarioBps
		if scenarioBps < downside {
			downside = scenarioBps
		}
	}
	return weighted, downside, nil
}

// Guardrails validates an allocation against the hard constraints: budget
// conservation within one unit, non-negativity, the per-candidate floor,
// the cardinality limit, and domain closure. One warning per violation.
func Guardrails(allocation map[string]float64, candidates []string, cfg config.OptimizerSettings) []string {
	var warnings []string

	var total float64
	nonzero := 0
	for _, v := range allocation {
		total += v
		if v != 0 {
			nonzero++
		}
	}
	if math.Abs(total-cfg.Budget) > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"budget not conserved: allocated %.2f of %.2f", total, cfg.Budget))
	}

	known := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		known[id] = true
	}

	ids := make([]string, 0, len(allocation))
	for id := range allocation {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		v := allocation[id]
		if v < 0 {
			warnings = append(warnings, fmt.Sprintf(
				"negative allocation for %s: %.2f", id, v))
		}
		if v != 0 && v < cfg.MinPerCandidate {
			warnings = append(warnings, fmt.Sprintf(
				"allocation for %s below floor: %.2f < %.2f", id, v, cfg.MinPerCandidate))
		}
		if !known[id] {
			warnings = append(warnings, fmt.Sprintf(
				"allocated candidate %s not in input set", id))
		}
	}

	if nonzero > cfg.MaxCandidates {
		warnings = append(warnings, fmt.Sprintf(
			"cardinality exceeded: %d nonzero allocations, limit %d", nonzero, cfg.MaxCandidates))
	}

	return warnings
}
