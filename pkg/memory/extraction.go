package memory

import (
	"regexp"
	"strings"
)

var (
	relationshipRegex = regexp.MustCompile(`(?i)\bmy\s+(brother|sister|mom|mother|dad|father|partner|wife|husband|girlfriend|boyfriend)\s+(?:is\s+named|is\s+called|is|named|called)\s+([A-Za-z][A-Za-z0-9_\-']{1,40})\b`)

	likeRegex     = regexp.MustCompile(`(?i)\bI\s+(love|like|enjoy)\s+(.+)$`)
	dislikeRegex  = regexp.MustCompile(`(?i)\bI\s+(hate|dislike)\s+(.+)$`)
	preferRegex   = regexp.MustCompile(`(?i)\bI\s+prefer\s+(.+)$`)
	favoriteRegex = regexp.MustCompile(`(?i)\bmy\s+favorite\s+([^\n]{1,40})\s+is\s+(.+)$`)

	goalRegex       = regexp.MustCompile(`(?i)\bmy\s+goal\s+is\s+(.+)$`)
	wantToRegex     = regexp.MustCompile(`(?i)\bI\s+want\s+to\s+(.+)$`)
	tryingToRegex   = regexp.MustCompile(`(?i)\bI\s+am\s+trying\s+to\s+(.+)$`)
	rememberToRegex = regexp.MustCompile(`(?i)\bremember\s+to\s+(.+)$`)

	nameRegex   = regexp.MustCompile(`(?i)\bmy\s+name\s+is\s+([A-Za-z][A-Za-z0-9_\-']{1,40})\b`)
	liveInRegex = regexp.MustCompile(`(?i)\bI\s+live\s+in\s+([^\n]{2,60})$`)
	fromRegex   = regexp.MustCompile(`(?i)\bI\s+am\s+from\s+([^\n]{2,60})$`)
	workAsRegex = regexp.MustCompile(`(?i)\bI\s+work\s+as\s+([^\n]{2,60})$`)

	chunkSplitRegex = regexp.MustCompile(`[.!?]+`)
)

// Extract classifies an utterance into durable memory candidates. Pure and
// deterministic: no I/O, same input always yields the same decision.
func Extract(utterance string) Decision {
	original := strings.TrimSpace(utterance)
	if original == "" {
		return Decision{Reason: ReasonEmpty}
	}

	text := strings.TrimRight(original, ".!?")
	text = strings.TrimSpace(text)

	chunks := []string{}
	for _, c := range chunkSplitRegex.Split(text, -1) {
		if c = strings.TrimSpace(c); c != "" {
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	items := []Item{}
	for _, chunk := range chunks {
		items = append(items, extractRelationships(chunk)...)
		items = append(items, extractPreferences(chunk)...)
		items = append(items, extractGoals(chunk)...)
		items = append(items, extractPersonalFacts(chunk)...)
	}

	deduped := dedupeItems(items)
	if len(deduped) == 0 {
		return Decision{Reason: ReasonNoDurableMatch}
	}
	return Decision{Items: deduped, Reason: ReasonDurableMatch}
}

func extractRelationships(chunk string) []Item {
	m := relationshipRegex.FindStringSubmatch(chunk)
	if m == nil {
		return nil
	}
	relation := strings.ToLower(m[1])
	switch relation {
	case "mom", "mother":
		relation = "mother"
	case "dad", "father":
		relation = "father"
	}
	name := titlecaseName(m[2])
	if name == "" {
		return nil
	}
	return []Item{{Text: "Has a " + relation + " named " + name + ".", Category: CategoryRelationships}}
}

func extractPreferences(chunk string) []Item {
	out := []Item{}

	if m := likeRegex.FindStringSubmatch(chunk); m != nil {
		if tail := compactFragment(m[2]); tail != "" {
			out = append(out, Item{Text: "Likes " + tail + ".", Category: CategoryPreferences})
		}
	}
	if m := dislikeRegex.FindStringSubmatch(chunk); m != nil {
		if tail := compactFragment(m[2]); tail != "" {
			out = append(out, Item{Text: "Dislikes " + tail + ".", Category: CategoryPreferences})
		}
	}
	if m := preferRegex.FindStringSubmatch(chunk); m != nil {
		if tail := compactFragment(m[1]); tail != "" {
			out = append(out, Item{Text: "Prefers " + tail + ".", Category: CategoryPreferences})
		}
	}
	if m := favoriteRegex.FindStringSubmatch(chunk); m != nil {
		thing := compactFragment(m[1])
		value := compactFragment(m[2])
		if thing != "" && value != "" {
			out = append(out, Item{Text: "Favorite " + thing + ": " + value + ".", Category: CategoryPreferences})
		}
	}

	return out
}

func extractGoals(chunk string) []Item {
	out := []Item{}
	for _, re := range []*regexp.Regexp{goalRegex, wantToRegex, tryingToRegex, rememberToRegex} {
		m := re.FindStringSubmatch(chunk)
		if m == nil {
			continue
		}
		if goal := compactFragment(m[1]); goal != "" {
			out = append(out, Item{Text: "Goal: " + goal + ".", Category: CategoryGoals})
		}
	}
	return out
}

func extractPersonalFacts(chunk string) []Item {
	out := []Item{}

	if m := nameRegex.FindStringSubmatch(chunk); m != nil {
		if name := titlecaseName(m[1]); name != "" {
			out = append(out, Item{Text: "Name is " + name + ".", Category: CategoryPersonalFacts})
		}
	}
	if m := liveInRegex.FindStringSubmatch(chunk); m != nil {
		if fact := compactFragment(m[1]); fact != "" {
			out = append(out, Item{Text: "Lives in " + fact + ".", Category: CategoryPersonalFacts})
		}
	}
	if m := fromRegex.FindStringSubmatch(chunk); m != nil {
		if fact := compactFragment(m[1]); fact != "" {
			out = append(out, Item{Text: "From " + fact + ".", Category: CategoryPersonalFacts})
		}
	}
	if m := workAsRegex.FindStringSubmatch(chunk); m != nil {
		if fact := compactFragment(m[1]); fact != "" {
			out = append(out, Item{Text: "Works as " + fact + ".", Category: CategoryPersonalFacts})
		}
	}

	return out
}

func dedupeItems(items []Item) []Item {
	seen := map[string]struct{}{}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		key := strings.TrimSpace(item.Text) + "|" + string(item.Category)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// compactFragment collapses whitespace, strips surrounding quote characters
// and caps free text at 120 runes with an ellipsis.
func compactFragment(in string) string {
	value := strings.Join(strings.Fields(strings.TrimSpace(in)), " ")
	value = strings.Trim(value, " \t\n\r\"'“”‘’")
	if value == "" {
		return ""
	}
	runes := []rune(value)
	if len(runes) > 120 {
		value = strings.TrimRight(string(runes[:117]), " ") + "..."
	}
	return value
}

func titlecaseName(in string) string {
	cleaned := compactFragment(in)
	if cleaned == "" {
		return ""
	}
	runes := []rune(cleaned)
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}
