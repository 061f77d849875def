package models

// ScrapeResult is one page-scrape outcome, appended to
// raw/<topic>/<run-day>/articles.jsonl. Success means the page was fetched
// and parsed; a false value keeps the record out of the published output but
// preserves the attempt for later inspection.
type ScrapeResult struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	Description string `json:"description,omitempty"`
	Title       string `json:"title,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ScrapedAt   string `json:"scraped_at"`
	Topic       string `json:"my_topic,omitempty"`
}
