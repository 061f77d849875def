package config

import (
	"path/filepath"
	"testing"
)

func TestDataConfigPaths(t *testing.T) {
	d := DataConfig{Dir: "/data"}

	tests := []struct {
		got  string
		want string
	}{
		{d.TopicRawDir("greenland"), "/data/raw/greenland"},
		{d.RunDir("greenland", "2025-06-01"), "/data/raw/greenland/2025-06-01"},
		{d.URLsFile("greenland", "2025-06-01"), "/data/raw/greenland/2025-06-01/urls.jsonl"},
		{d.ArticlesFile("greenland", "2025-06-01"), "/data/raw/greenland/2025-06-01/articles.jsonl"},
		{d.CombinedFile("greenland"), "/data/raw/greenland/_combined.jsonl"},
		{d.CheckpointFile("greenland"), "/data/.fetch-checkpoint-greenland.json"},
		{d.CleanFile("greenland"), "/data/clean/articles-greenland.jsonl"},
	}

	for _, tt := range tests {
		if filepath.ToSlash(tt.got) != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
