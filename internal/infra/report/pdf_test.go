package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxbio/embryograde/internal/domain/assessment"
	"github.com/calyxbio/embryograde/internal/domain/review"
)

func gradedItem() *review.Item {
	return &review.Item{
		ID:        "e1",
		ClinicID:  "ivf-lab",
		Name:      "Embryo 7",
		MediaKind: review.MediaImage,
		Status:    review.StatusComplete,
		Patient:   &review.Patient{Name: "Doe", MaternalAge: 36, RetrievalDate: "2026-07-14"},
		Result: &assessment.Result{
			GardnerScore:            "4AB",
			Grade:                   "good",
			ImplantationProbability: 68,
			ViabilityScore:          74,
			AneuploidyRisk:          assessment.RiskHigh,
			Morphology:              assessment.Morphology{ICMGrade: "A", TEGrade: "B", Expansion: 4, CellCount: 96, Fragmentation: 6.5, SymmetryScore: 0.82},
			Timeline: []assessment.TimelineEvent{
				{HPI: 25.5, Stage: "2-cell", Description: "first cleavage"},
				{HPI: 104, Stage: "expanded blastocyst"},
			},
			Findings:       "Expanded blastocyst, minor fragmentation.",
			Recommendation: "Consider PGT-A before transfer.",
			Anomalies:      []string{"minor fragmentation"},
		},
	}
}

func TestRenderProducesPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewGenerator().Render(&buf, gradedItem()))

	assert.Greater(t, buf.Len(), 500)
	assert.Equal(t, "%PDF", buf.String()[:4])
}

func TestRenderHandlesSparseResult(t *testing.T) {
	it := gradedItem()
	it.Patient = nil
	it.Result = &assessment.Result{}

	var buf bytes.Buffer
	require.NoError(t, NewGenerator().Render(&buf, it))
	assert.Greater(t, buf.Len(), 0)
}

func TestGenerateRequiresResult(t *testing.T) {
	it := gradedItem()
	it.Result = nil

	_, err := NewGenerator().Generate(it)
	assert.Error(t, err)
}
