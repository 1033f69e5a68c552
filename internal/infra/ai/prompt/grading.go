package prompt

import (
	"fmt"
	"strings"
)

// GradingSystemPrompt provides strict directions and schema for JSON output.
func GradingSystemPrompt() string {
	return `You are a senior clinical embryologist grading IVF embryos from micrographs or time-lapse frames. You must produce one valid JSON object only (no markdown, no commentary). Do not include code fences.

Requirements:
- Output must be a single JSON object following the schema below.
- gardner_score uses Gardner notation, e.g. "4AA" (expansion digit + ICM letter + TE letter).
- grade is one of: excellent, good, fair, poor.
- implantation_probability and viability_score are percentages in [0,100].
- aneuploidy_risk is one of: Low, Medium, High.
- timeline entries are ordered by hpi (hours post-insemination) ascending.
- regions are bounding boxes normalized to [0,1] with a short anatomical label (e.g. ICM, TE, fragmentation site) and confidence in [0,1].
- Keep findings and recommendation concise and clinical. List anomalies as short phrases; use an empty array when none are visible.

Schema (example with empty values):
{
  "gardner_score": "<string>",
  "grade": "<excellent|good|fair|poor>",
  "implantation_probability": 0,
  "viability_score": 0,
  "aneuploidy_risk": "<Low|Medium|High>",
  "morphology": {
    "icm_grade": "<A|B|C>",
    "te_grade": "<A|B|C>",
    "expansion": 0,
    "cell_count": 0,
    "fragmentation_pct": 0,
    "symmetry_score": 0,
    "zona_thickness_um": 0,
    "multinucleated": false
  },
  "timeline": [
    {"hpi": 0, "stage": "<string>", "description": "<string>"}
  ],
  "regions": [
    {"x": 0, "y": 0, "width": 0, "height": 0, "label": "<string>", "confidence": 0}
  ],
  "findings": "<string>",
  "recommendation": "<string>",
  "anomalies": ["<string>"]
}`
}

// GradingUserPrompt builds the user message for one grading call.
func GradingUserPrompt(mediaKind string, frameCount, maternalAge int, retrievalDate string) string {
	var b strings.Builder
	if mediaKind == "video" {
		fmt.Fprintf(&b, "The %d attached frames are sampled in order from a time-lapse video of a single embryo. ", frameCount)
		b.WriteString("Use the sequence to reconstruct the development timeline. ")
	} else {
		b.WriteString("The attached image is a single micrograph of an embryo. ")
	}
	if maternalAge > 0 {
		fmt.Fprintf(&b, "Maternal age: %d. ", maternalAge)
	}
	if retrievalDate != "" {
		fmt.Fprintf(&b, "Oocyte retrieval date: %s. ", retrievalDate)
	}
	b.WriteString("Grade the embryo and respond with the JSON per schema.")
	return b.String()
}
