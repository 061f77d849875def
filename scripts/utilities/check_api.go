//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/search"
)

// Probes the search API with the configured key: one count query per
// outlet of the default topic, for yesterday. Run this when collection
// suddenly returns nothing and you want to know whether the problem is
// the key, the network, or the outlets.
//
//	go run scripts/utilities/check_api.go
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.API.Key == "" {
		log.Fatalf("MEDIACLOUD_API_KEY is not set")
	}

	topics, err := config.LoadTopics(cfg.Data.TopicsFile)
	if err != nil {
		log.Fatalf("Failed to load topics: %v", err)
	}
	topic, err := topics.Get("")
	if err != nil {
		log.Fatalf("Failed to resolve default topic: %v", err)
	}
	if topic.Query == "" {
		log.Fatalf("Topic %q has no search query, nothing to probe", topic.Name)
	}

	logger := slog.New(slog.NewTextHandler(log.Writer(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := search.NewClient(cfg.API, logger)

	day := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	fmt.Printf("Checking %s against %s for %s\n\n", topic.Name, cfg.API.BaseURL, day)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var reachable, failed int
	for _, outlet := range topic.Outlets {
		result, err := client.Count(ctx, search.Query{
			Text:      topic.Query,
			StartDate: day,
			EndDate:   day,
			SourceIDs: []int64{outlet.ID},
		})
		if err != nil {
			fmt.Printf("✗ %s (id %d): %v\n", outlet.Domain, outlet.ID, err)
			failed++
			continue
		}
		mark := ""
		if !result.Confident {
			mark = " (estimate)"
		}
		fmt.Printf("✓ %s (id %d): %d relevant of %d total%s\n",
			outlet.Domain, outlet.ID, result.Relevant, result.Total, mark)
		reachable++
	}

	fmt.Printf("\n%d outlets reachable, %d failed\n", reachable, failed)
	if failed > 0 && reachable == 0 {
		log.Fatalf("No outlet responded, check the API key and network")
	}
}
