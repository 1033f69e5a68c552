package assessment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses the grading model's JSON payload into a Result. Every field
// is optional on the wire; absent fields keep their zero values. Numeric
// fields are clamped into their documented ranges so a misbehaving model
// cannot push an out-of-range probability or ROI box into the store.
func Decode(raw string) (*Result, error) {
	cleaned := stripCodeFence(raw)

	var res Result
	if err := json.Unmarshal([]byte(cleaned), &res); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}

	res.ImplantationProbability = clamp(res.ImplantationProbability, 0, 100)
	res.ViabilityScore = clamp(res.ViabilityScore, 0, 100)
	res.AneuploidyRisk = normalizeRisk(res.AneuploidyRisk)
	res.Morphology.Fragmentation = clamp(res.Morphology.Fragmentation, 0, 100)

	for i := range res.Regions {
		r := &res.Regions[i]
		r.X = clamp(r.X, 0, 1)
		r.Y = clamp(r.Y, 0, 1)
		r.Width = clamp(r.Width, 0, 1)
		r.Height = clamp(r.Height, 0, 1)
		r.Confidence = clamp(r.Confidence, 0, 1)
	}

	return &res, nil
}

// stripCodeFence removes a markdown fence some models wrap around JSON
// despite the response-format instruction.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalizeRisk(risk string) string {
	switch strings.ToLower(strings.TrimSpace(risk)) {
	case "low":
		return RiskLow
	case "medium", "moderate":
		return RiskMedium
	case "high":
		return RiskHigh
	case "":
		return ""
	default:
		return strings.TrimSpace(risk)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
