package report

import "regexp"

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	boldMarker = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// Sanitize strips <think>...</think> spans (which may cover several lines)
// and turns **text** into <strong>text</strong>. Bold pairs never span a
// newline. No HTML escaping is performed.
func Sanitize(text string) string {
	// Removing one block can splice a new one together, so repeat until none
	// remain.
	for thinkBlock.MatchString(text) {
		text = thinkBlock.ReplaceAllString(text, "")
	}
	return boldMarker.ReplaceAllString(text, "<strong>$1</strong>")
}
