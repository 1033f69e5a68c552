package prompt

import "fmt"

// ChatSystemPrompt grounds the assistant in the active item's assessment.
// The grounding string is the serialized assessment JSON; it may be empty
// when the item has not finished grading.
func ChatSystemPrompt(grounding string) string {
	base := `You are an embryology review assistant embedded in a clinical imaging workstation. Answer the operator's questions about the embryo under review. Be concise and clinical. You are not a substitute for clinical judgement; say so when asked for a treatment decision.`
	if grounding == "" {
		return base + "\n\nNo assessment is available yet for this embryo; answer from general embryology knowledge and say the grading is still pending."
	}
	return fmt.Sprintf("%s\n\nCurrent assessment for the embryo under review:\n%s", base, grounding)
}
