package transcript

import "strings"

// PreviewLength bounds ExtractTextPreview's output.
const PreviewLength = 200

// ExtractTextPreview returns a truncated, whitespace-collapsed preview of
// a message entry's text payload (or its content string when text is
// missing or empty), for UI listings and log lines. Returns "" for
// non-message entries or entries with neither field.
func ExtractTextPreview(e Entry) string {
	if e.Kind != KindMessage {
		return ""
	}
	text, ok := e.Raw["text"].(string)
	if !ok || text == "" {
		if content, ok := e.Raw["content"].(string); ok {
			text = content
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= PreviewLength {
		return text
	}
	return text[:PreviewLength] + "…"
}
