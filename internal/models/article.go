package models

// Article is one published record in clean/articles-<topic>.jsonl.
// Field order is load-bearing: encoding/json serializes struct fields in
// declaration order, and downstream consumers diff output files keyed on a
// stable column order.
type Article struct {
	MediaURL    string `json:"media_url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PublishDate string `json:"publish_date"`
	URL         string `json:"url"`
	Topic       string `json:"topic"`
}
