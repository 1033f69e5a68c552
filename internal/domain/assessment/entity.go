package assessment

// Risk labels returned by the grading model.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Morphology is the categorical + numeric morphology record of an embryo.
type Morphology struct {
	ICMGrade       string  `json:"icm_grade,omitempty"`
	TEGrade        string  `json:"te_grade,omitempty"`
	Expansion      int     `json:"expansion,omitempty"` // 1-6 blastocyst expansion degree
	CellCount      int     `json:"cell_count,omitempty"`
	Fragmentation  float64 `json:"fragmentation_pct,omitempty"`
	SymmetryScore  float64 `json:"symmetry_score,omitempty"`
	ZonaThickness  float64 `json:"zona_thickness_um,omitempty"`
	Multinucleated bool    `json:"multinucleated,omitempty"`
}

// TimelineEvent is one developmental milestone, timestamped in hours
// post-insemination.
type TimelineEvent struct {
	HPI         float64 `json:"hpi"`
	Stage       string  `json:"stage"`
	Description string  `json:"description,omitempty"`
}

// Region is a labeled region of interest over the media, box coordinates
// normalized to [0,1].
type Region struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result is the structured assessment returned by the grading model.
// Immutable once received; never mutated after it is attached to an item.
type Result struct {
	GardnerScore            string          `json:"gardner_score,omitempty"` // e.g. "4AA"
	Grade                   string          `json:"grade,omitempty"`         // excellent | good | fair | poor
	ImplantationProbability float64         `json:"implantation_probability"`
	ViabilityScore          float64         `json:"viability_score"`
	AneuploidyRisk          string          `json:"aneuploidy_risk,omitempty"` // Low | Medium | High
	Morphology              Morphology      `json:"morphology"`
	Timeline                []TimelineEvent `json:"timeline,omitempty"`
	Regions                 []Region        `json:"regions,omitempty"`
	Findings                string          `json:"findings,omitempty"`
	Recommendation          string          `json:"recommendation,omitempty"`
	Anomalies               []string        `json:"anomalies,omitempty"`
}
