package config

import (
	"fmt"
	"path/filepath"
)

// Path helpers for the per-topic layout:
//
//	raw/<topic>/<run-day>/urls.jsonl
//	raw/<topic>/<run-day>/articles.jsonl
//	raw/<topic>/_combined.jsonl
//	.fetch-checkpoint-<topic>.json
//	clean/articles-<topic>.jsonl

// TopicRawDir returns the directory holding all raw run-day dirs of a topic.
func (d DataConfig) TopicRawDir(topic string) string {
	return filepath.Join(d.Dir, "raw", topic)
}

// RunDir returns the raw directory for one collection day of a topic.
func (d DataConfig) RunDir(topic, day string) string {
	return filepath.Join(d.TopicRawDir(topic), day)
}

// URLsFile returns the raw story file for one collection day.
func (d DataConfig) URLsFile(topic, day string) string {
	return filepath.Join(d.RunDir(topic, day), "urls.jsonl")
}

// ArticlesFile returns the raw scrape-result file for one collection day.
func (d DataConfig) ArticlesFile(topic, day string) string {
	return filepath.Join(d.RunDir(topic, day), "articles.jsonl")
}

// CombinedFile returns the merged raw artifact regenerated by the clean
// stage and pushed alongside the published file.
func (d DataConfig) CombinedFile(topic string) string {
	return filepath.Join(d.TopicRawDir(topic), "_combined.jsonl")
}

// CheckpointFile returns the per-topic collection checkpoint path.
func (d DataConfig) CheckpointFile(topic string) string {
	return filepath.Join(d.Dir, fmt.Sprintf(".fetch-checkpoint-%s.json", topic))
}

// CleanFile returns the published article file for a topic.
func (d DataConfig) CleanFile(topic string) string {
	return filepath.Join(d.Dir, "clean", fmt.Sprintf("articles-%s.jsonl", topic))
}
