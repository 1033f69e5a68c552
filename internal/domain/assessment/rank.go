package assessment

// aneuploidyPenalty is the fixed deduction applied to high-risk embryos when
// ranking a cohort. Display affordance only, not a validated clinical score.
const aneuploidyPenalty = 50

// EffectiveScore returns the comparison score used to pick the best
// candidate in a cohort view.
func (r *Result) EffectiveScore() float64 {
	score := r.ImplantationProbability
	if r.AneuploidyRisk == RiskHigh {
		score -= aneuploidyPenalty
	}
	return score
}

// Ranked pairs a caller-supplied key with a result for cohort comparison.
type Ranked struct {
	Key    string
	Result *Result
}

// BestCandidate picks the entry with the maximum effective score. Entries
// without a result are skipped. Strict greater-than comparison, so the
// earliest maximal entry wins ties. Returns ok=false when nothing in the
// cohort carries a result.
func BestCandidate(cohort []Ranked) (Ranked, bool) {
	var best Ranked
	found := false
	for _, c := range cohort {
		if c.Result == nil {
			continue
		}
		if !found || c.Result.EffectiveScore() > best.Result.EffectiveScore() {
			best = c
			found = true
		}
	}
	return best, found
}
