package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/config"
)

// Fetches every feed configured for a topic and reports, item by item,
// what the RSS collector would do with it: kept, filtered by keywords, or
// skipped for a bad link.
//
//	go run scripts/verify_feeds.go [topic]
func main() {
	topicsFile := os.Getenv("MINA_TOPICS_FILE")
	if topicsFile == "" {
		topicsFile = "topics.yaml"
	}
	topics, err := config.LoadTopics(topicsFile)
	if err != nil {
		fmt.Printf("ERROR loading topics: %v\n", err)
		os.Exit(1)
	}

	name := ""
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	topic, err := topics.Get(name)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if len(topic.Feeds) == 0 {
		fmt.Printf("Topic %q has no feeds configured\n", topic.Name)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	parser := gofeed.NewParser()

	for _, feedURL := range topic.Feeds {
		fmt.Printf("\nFeed: %s\n", feedURL)

		req, err := http.NewRequest(http.MethodGet, feedURL, nil)
		if err != nil {
			fmt.Printf("  ERROR building request: %v\n", err)
			continue
		}
		req.Header.Set("User-Agent", "mina-pipeline/1.0")

		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("  ERROR fetching: %v\n", err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("  ERROR: HTTP %d\n", resp.StatusCode)
			resp.Body.Close()
			continue
		}

		feed, err := parser.Parse(resp.Body)
		resp.Body.Close()
		if err != nil {
			fmt.Printf("  ERROR parsing: %v\n", err)
			continue
		}

		fmt.Printf("  Title: %s\n", feed.Title)
		fmt.Printf("  Items: %d\n", len(feed.Items))

		var kept, filtered, badLink int
		for i, item := range feed.Items {
			link := strings.TrimSpace(item.Link)
			if link == "" {
				link = strings.TrimSpace(item.GUID)
			}

			fmt.Printf("\n  [%d] %s\n", i+1, item.Title)
			fmt.Printf("      %s\n", link)

			if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
				fmt.Println("      ✗ SKIPPED: no usable link")
				badLink++
				continue
			}
			if len(topic.FilterKeywords) > 0 &&
				!clean.TopicRelated(item.Title, item.Description, topic.FilterKeywords, topic.ExcludeKeywords) {
				fmt.Println("      ✗ FILTERED: no topic keyword")
				filtered++
				continue
			}
			fmt.Println("      ✓ would be kept")
			kept++
		}

		fmt.Printf("\n  Summary: %d kept, %d filtered, %d bad links\n", kept, filtered, badLink)
	}
}
