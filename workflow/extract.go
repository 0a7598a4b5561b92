package workflow

import "strings"

// ExtractFinalAnswer returns the demarcated answer inside text: the body of the
// first ``` fence (skipping the info string line when present), a <code> element, or a
// <<< >>> span. Text without a marker is returned trimmed.
func ExtractFinalAnswer(text string) string {
	switch {
	case strings.Contains(text, "```"):
		_, after, _ := strings.Cut(text, "```")
		if _, body, ok := strings.Cut(after, "\n"); ok {
			after = body
		}
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	case strings.Contains(text, "<code>"):
		_, after, _ := strings.Cut(text, "<code>")
		body, _, _ := strings.Cut(after, "</code>")
		return strings.TrimSpace(body)
	case strings.Contains(text, "<<<"):
		_, after, _ := strings.Cut(text, "<<<")
		body, _, _ := strings.Cut(after, ">>>")
		return strings.TrimSpace(body)
	default:
		return strings.TrimSpace(text)
	}
}
