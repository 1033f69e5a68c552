package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveScorePenalizesHighRisk(t *testing.T) {
	a := &Result{ImplantationProbability: 80, AneuploidyRisk: RiskLow}
	b := &Result{ImplantationProbability: 90, AneuploidyRisk: RiskHigh}

	assert.InDelta(t, 80, a.EffectiveScore(), 1e-9)
	assert.InDelta(t, 40, b.EffectiveScore(), 1e-9)
}

func TestBestCandidatePrefersLowRisk(t *testing.T) {
	// 80 low-risk beats 90 high-risk once the penalty applies.
	cohort := []Ranked{
		{Key: "A", Result: &Result{ImplantationProbability: 80, AneuploidyRisk: RiskLow}},
		{Key: "B", Result: &Result{ImplantationProbability: 90, AneuploidyRisk: RiskHigh}},
	}

	best, ok := BestCandidate(cohort)
	require.True(t, ok)
	assert.Equal(t, "A", best.Key)
}

func TestBestCandidateTieBreaksLeftToRight(t *testing.T) {
	cohort := []Ranked{
		{Key: "first", Result: &Result{ImplantationProbability: 75}},
		{Key: "second", Result: &Result{ImplantationProbability: 75}},
	}

	best, ok := BestCandidate(cohort)
	require.True(t, ok)
	assert.Equal(t, "first", best.Key)
}

func TestBestCandidateSkipsMissingResults(t *testing.T) {
	cohort := []Ranked{
		{Key: "pending", Result: nil},
		{Key: "graded", Result: &Result{ImplantationProbability: 10}},
	}

	best, ok := BestCandidate(cohort)
	require.True(t, ok)
	assert.Equal(t, "graded", best.Key)
}

func TestBestCandidateEmptyCohort(t *testing.T) {
	_, ok := BestCandidate(nil)
	assert.False(t, ok)

	_, ok = BestCandidate([]Ranked{{Key: "x", Result: nil}})
	assert.False(t, ok)
}
