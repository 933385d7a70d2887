package scenario

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/domain"
)

// Engine derives the three named forecast scenarios from snapshot rows and
// fitted proxy estimates. Pure: no I/O, deterministic for a given input.
type Engine struct{}

// New creates a scenario engine.
func New() *Engine { return &Engine{} }

// quantilePick returns (drift, uplift) for a scenario. Conservative pairs the
// worst dilution with the worst reward outcome; aggressive the reverse.
func quantilePick(name domain.ScenarioName, drift, uplift domain.ProxyEstimate) (float64, float64) {
	switch name {
	case domain.ScenarioConservative:
		return drift.P75, uplift.P25
	case domain.ScenarioAggressive:
		return drift.P25, uplift.P75
	default:
		return drift.P50, uplift.P50
	}
}

// Build produces all three scenarios for every candidate that has both a
// drift and an uplift estimate. Candidates missing either estimate are
// skipped and logged; callers wanting full coverage pre-fill estimates first.
func (e *Engine) Build(rows []domain.SnapshotRow, drift, uplift map[string]domain.ProxyEstimate) map[domain.ScenarioName][]domain.ForecastScenario {
	out := make(map[domain.ScenarioName][]domain.ForecastScenario, 3)
	for _, name := range domain.ScenarioNames() {
		out[name] = []domain.ForecastScenario{}
	}

	for _, row := range rows {
		d, okD := drift[row.CandidateID]
		u, okU := uplift[row.CandidateID]
		if !okD || !okU {
			log.Warn().
				Str("window", string(row.Window)).
				Str("candidate", row.CandidateID).
				Bool("has_drift", okD).
				Bool("has_uplift", okU).
				Msg("skipping candidate without both proxy estimates")
			continue
		}

		penalty := d.ConfidencePenalty
		if u.ConfidencePenalty > penalty {
			penalty = u.ConfidencePenalty
		}

		for _, name := range domain.ScenarioNames() {
			dq, uq := quantilePick(name, d, u)
			votes := row.VotesNow * (1 + dq)
			rewards := row.RewardsNowUSD * (1 + uq)
			out[name] = append(out[name], domain.ForecastScenario{
				Scenario:             name,
				CandidateID:          row.CandidateID,
				Window:               row.Window,
				Drift:                dq,
				Uplift:               uq,
				VotesFinalEstimate:   votes,
				RewardsFinalEstimate: rewards,
				Source:               d.Source,
				ConfidencePenalty:    penalty,
			})
		}
	}

	return out
}

// Validate checks scenario-set invariants. Missing coverage, negative values
// and non-finite values are hard failures; ordering anomalies between the
// scenarios only produce warnings.
func Validate(scenarios map[domain.ScenarioName][]domain.ForecastScenario) (bool, []string) {
	var warnings []string
	ok := true

	base := scenarios[domain.ScenarioBase]
	for _, name := range domain.ScenarioNames() {
		if len(scenarios[name]) != len(base) {
			warnings = append(warnings, fmt.Sprintf(
				"scenario %s covers %d candidates, base covers %d",
				name, len(scenarios[name]), len(base)))
			ok = false
		}
	}

	byCandidate := make(map[string]map[domain.ScenarioName]domain.ForecastScenario)
	for _, name := range domain.ScenarioNames() {
		for _, sc := range scenarios[name] {
			if !domain.IsFinite(sc.VotesFinalEstimate) || !domain.IsFinite(sc.RewardsFinalEstimate) {
				warnings = append(warnings, fmt.Sprintf(
					"scenario %s, candidate %s: non-finite estimate", name, sc.CandidateID))
				ok = false
				continue
			}
			if sc.VotesFinalEstimate <= 0 {
				warnings = append(warnings, fmt.Sprintf(
					"scenario %s, candidate %s: votes_final must be positive", name, sc.CandidateID))
				ok = false
			}
			if sc.RewardsFinalEstimate < 0 {
				warnings = append(warnings, fmt.Sprintf(
					"scenario %s, candidate %s: negative rewards_final", name, sc.CandidateID))
				ok = false
			}
			if byCandidate[sc.CandidateID] == nil {
				byCandidate[sc.CandidateID] = make(map[domain.ScenarioName]domain.ForecastScenario, 3)
			}
			byCandidate[sc.CandidateID][name] = sc
		}
	}

	candidates := make([]string, 0, len(byCandidate))
	for id := range byCandidate {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)

	for _, id := range candidates {
		set := byCandidate[id]
		if len(set) != 3 {
			warnings = append(warnings, fmt.Sprintf(
				"candidate %s: present in %d of 3 scenarios", id, len(set)))
			ok = false
			continue
		}
		cons := set[domain.ScenarioConservative]
		mid := set[domain.ScenarioBase]
		aggr := set[domain.ScenarioAggressive]

		// Quantile ordering implies conservative dilutes most and rewards
		// least. A violation means the estimates were degenerate, not
		// necessarily wrong, so keep it soft.
		if cons.VotesFinalEstimate < mid.VotesFinalEstimate || mid.VotesFinalEstimate < aggr.VotesFinalEstimate {
			warnings = append(warnings, fmt.Sprintf(
				"candidate %s: vote estimates out of scenario order", id))
		}
		if cons.RewardsFinalEstimate > mid.RewardsFinalEstimate || mid.RewardsFinalEstimate > aggr.RewardsFinalEstimate {
			warnings = append(warnings, fmt.Sprintf(
				"candidate %s: reward estimates out of scenario order", id))
		}
	}

	return ok, warnings
}
