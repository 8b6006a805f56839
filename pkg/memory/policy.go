package memory

import "strings"

// retrievalKeywords are topics plausibly anchored in stored memory.
var retrievalKeywords = []string{
	"preference", "preferences", "favorite", "favourite", "brother", "sister",
}

// Policy decides when a memory search is worth its network round trip.
// Retrieval is gated purely on the utterance text, trading recall for
// latency and search-call volume.
type Policy struct{}

func NewPolicy() *Policy { return &Policy{} }

// ShouldRetrieve reports whether the utterance plausibly refers to stored
// memory. Rules are evaluated in order; first match wins.
func (p *Policy) ShouldRetrieve(utterance string) bool {
	text := normalizeUtterance(utterance)
	if text == "" {
		return false
	}

	if strings.HasPrefix(text, "remember") ||
		strings.Contains(text, "do you remember") ||
		strings.Contains(text, "what do you know about me") ||
		strings.Contains(text, "what do you remember") {
		return true
	}

	if strings.Contains(text, "my ") && strings.Contains(text, "?") {
		return true
	}

	for _, kw := range retrievalKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}

	return false
}

func normalizeUtterance(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}
