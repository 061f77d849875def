package models

import "strings"

// Story is one raw article-metadata record, as returned by the search API or
// synthesized from an RSS item. Stories are appended to
// raw/<topic>/<run-day>/urls.jsonl during collection. Unknown upstream fields
// are dropped on decode.
type Story struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	MediaName   string `json:"media_name,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
	Language    string `json:"language,omitempty"`
	IndexedDate string `json:"indexed_date,omitempty"`
	Description string `json:"description,omitempty"` // RSS items only; the API omits it
	Topic       string `json:"my_topic,omitempty"`    // injected at collection time
}

// PublishDay returns the YYYY-MM-DD portion of the publish date, tolerating
// full timestamps. Empty when the story has no publish date.
func (s *Story) PublishDay() string {
	if len(s.PublishDate) < 10 {
		return s.PublishDate
	}
	return s.PublishDate[:10]
}

// FromOutlet reports whether the story belongs to the given outlet domain.
// Matching is substring-based against both the media URL and the media name,
// since either may carry the domain depending on how the source was indexed.
func (s *Story) FromOutlet(domain string) bool {
	if domain == "" {
		return false
	}
	return strings.Contains(s.MediaURL, domain) || strings.Contains(s.MediaName, domain)
}
