package clean

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/jsonl"
)

// ErrNoRawData means a topic has nothing collected yet.
var ErrNoRawData = errors.New("no raw data collected")

// ErrNoOutput means the topic has no published clean file yet.
var ErrNoOutput = errors.New("clean output not found")

// CountRow is one line of a count breakdown.
type CountRow struct {
	Key   string
	Count int
}

// OutputStats describes the published clean file.
type OutputStats struct {
	Path    string
	Entries int
	ByMedia []CountRow // count descending, then key
	ByDate  []CountRow // date ascending
}

// RawStats describes everything collected for a topic, before filtering.
type RawStats struct {
	URLs         int
	Articles     int
	Successes    int
	English      int
	NonEnglish   int
	TopicRelated int
	ByMedia      []CountRow
	ByDate       []CountRow
}

// OutputStats reads the published clean file and breaks it down by outlet
// and publish date.
func (c *Cleaner) OutputStats(topic config.Topic) (*OutputStats, error) {
	path := c.paths.CleanFile(topic.Name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoOutput, path)
		}
		return nil, err
	}

	entries, err := jsonl.ReadArticles(path)
	if err != nil {
		return nil, err
	}

	media := map[string]int{}
	dates := map[string]int{}
	for _, a := range entries {
		media[orUnknown(a.MediaURL)]++
		dates[orUnknown(a.PublishDate)]++
	}

	return &OutputStats{
		Path:    path,
		Entries: len(entries),
		ByMedia: byCountDesc(media),
		ByDate:  byKeyAsc(dates),
	}, nil
}

// RawStats aggregates every collected story and scrape result for a topic
// and reports how the filters would cut them.
func (c *Cleaner) RawStats(topic config.Topic) (*RawStats, error) {
	stories, err := c.loadAllStories(topic.Name)
	if err != nil {
		return nil, err
	}
	if len(stories) == 0 {
		return nil, fmt.Errorf("%w for topic %q", ErrNoRawData, topic.Name)
	}
	results, err := c.loadAllResults(topic.Name)
	if err != nil {
		return nil, err
	}

	stats := &RawStats{URLs: len(stories), Articles: len(results)}

	byURL := make(map[string]int, len(results))
	for i, res := range results {
		if res.Success {
			stats.Successes++
		}
		byURL[res.URL] = i
	}

	media := map[string]int{}
	dates := map[string]int{}
	for _, s := range stories {
		media[orUnknown(s.MediaURL)]++
		if day := s.PublishDay(); day != "" {
			dates[day]++
		} else {
			dates["unknown"]++
		}

		if strings.EqualFold(s.Language, "en") {
			stats.English++
		} else {
			stats.NonEnglish++
		}

		// The scraped title and description stand in for the story's own
		// when the URL has been scraped, matching what the clean run sees.
		title, description := s.Title, s.Description
		if i, ok := byURL[s.URL]; ok {
			title, description = results[i].Title, results[i].Description
		}
		if TopicRelated(title, description, topic.FilterKeywords, topic.ExcludeKeywords) {
			stats.TopicRelated++
		}
	}

	stats.ByMedia = byCountDesc(media)
	stats.ByDate = byKeyAsc(dates)
	return stats, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func byCountDesc(m map[string]int) []CountRow {
	rows := make([]CountRow, 0, len(m))
	for k, v := range m {
		rows = append(rows, CountRow{Key: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

func byKeyAsc(m map[string]int) []CountRow {
	rows := make([]CountRow, 0, len(m))
	for k, v := range m {
		rows = append(rows, CountRow{Key: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}
