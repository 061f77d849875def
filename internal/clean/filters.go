package clean

import "strings"

// TopicRelated is the broad filter: at least one include keyword must
// appear in the title and description combined, and no exclude keyword may.
// Matching is case-insensitive substring matching.
func TopicRelated(title, description string, include, exclude []string) bool {
	text := strings.ToLower(title + " " + description)

	matched := false
	for _, kw := range include {
		if strings.Contains(text, strings.ToLower(kw)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, kw := range exclude {
		if strings.Contains(text, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

// TopicRelevant is the strict filter: the article must be primarily about
// the topic, not mention it in passing. An article passes when any topic
// keyword appears in the title, or at least twice in the description. No
// configured keywords means no filtering.
func TopicRelevant(title, description string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}

	title = strings.ToLower(title)
	description = strings.ToLower(description)
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		if strings.Contains(title, k) {
			return true
		}
		if strings.Count(description, k) >= 2 {
			return true
		}
	}
	return false
}
