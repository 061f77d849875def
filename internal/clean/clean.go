// Package clean joins scraped articles with their collected metadata,
// filters them down to topic-relevant English records, and publishes the
// result as a sorted, manifest-headed JSONL file. The publish step is
// atomic; a failed run leaves the previous output untouched.
package clean

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/jsonl"
	"github.com/cstaal88/mina-pipeline/internal/manifest"
	"github.com/cstaal88/mina-pipeline/internal/models"
)

// maxDescriptionWords caps published descriptions. Some outlets put the
// whole article into the meta description.
const maxDescriptionWords = 50

// IntegrityError means scraped URLs exist that no collected record explains.
// The run is aborted without writing; the raw data needs fixing first.
type IntegrityError struct {
	MissingURLs []string
}

func (e *IntegrityError) Error() string {
	shown := e.MissingURLs
	more := ""
	if len(shown) > 10 {
		more = fmt.Sprintf(" ... and %d more", len(shown)-10)
		shown = shown[:10]
	}
	return fmt.Sprintf("%d scraped url(s) have no collected record: %s%s",
		len(e.MissingURLs), strings.Join(shown, ", "), more)
}

// Cleaner builds the published clean file for a topic.
type Cleaner struct {
	paths  config.DataConfig
	logger *slog.Logger
	now    func() time.Time
}

// New builds a cleaner.
func New(paths config.DataConfig, logger *slog.Logger) *Cleaner {
	return &Cleaner{paths: paths, logger: logger, now: time.Now}
}

// Options selects the topic and write mode for one clean run.
type Options struct {
	Topic   config.Topic
	Append  bool           // keep existing output entries instead of rebuilding
	NoWrite bool           // report what would happen, write nothing
	Mode    models.RunMode // recorded in the manifest's daily-run entry
}

// Summary is what one clean run did, mirroring the skip reasons in the
// order they are applied.
type Summary struct {
	Articles           int
	URLs               int
	Existing           int
	Added              int
	SkippedNotSuccess  int
	SkippedExists      int
	SkippedNonEnglish  int
	SkippedOffTopic    int
	SkippedNotRelevant int
	Problems           []string
	Total              int
}

// Run executes one clean pass. Entries are processed in collection order
// and each skip reason is checked before the next: scrape success, URL
// presence, dedup against the output, the collected-record join, language,
// the broad topic filter, then after truncation the strict relevance
// filter.
func (c *Cleaner) Run(opts Options) (*Summary, error) {
	topic := opts.Topic
	summary := &Summary{}

	results, err := c.loadAllResults(topic.Name)
	if err != nil {
		return summary, err
	}
	stories, err := c.loadAllStories(topic.Name)
	if err != nil {
		return summary, err
	}

	var existing []models.Article
	cleanPath := c.paths.CleanFile(topic.Name)
	if opts.Append {
		existing, err = jsonl.ReadArticles(cleanPath)
		if err != nil {
			return summary, err
		}
	}

	summary.Articles = len(results)
	summary.URLs = len(stories)
	summary.Existing = len(existing)

	byURL := indexStories(stories)
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		if a.URL != "" {
			seen[a.URL] = true
		}
	}

	c.logger.Info("clean starting",
		"topic", topic.Name,
		"articles", summary.Articles,
		"urls", summary.URLs,
		"existing", summary.Existing,
		"append", opts.Append)

	var added []models.Article
	var missing []string
	for _, res := range results {
		if !res.Success {
			summary.SkippedNotSuccess++
			continue
		}
		if res.URL == "" {
			summary.Problems = append(summary.Problems, "entry missing url field")
			continue
		}
		if seen[res.URL] {
			summary.SkippedExists++
			continue
		}
		story, ok := byURL[res.URL]
		if !ok {
			missing = append(missing, res.URL)
			continue
		}
		if !strings.EqualFold(story.Language, "en") {
			summary.SkippedNonEnglish++
			continue
		}
		if len(topic.FilterKeywords) > 0 &&
			!TopicRelated(res.Title, res.Description, topic.FilterKeywords, topic.ExcludeKeywords) {
			summary.SkippedOffTopic++
			continue
		}

		article := models.Article{
			MediaURL:    story.MediaURL,
			Title:       res.Title,
			Description: truncateWords(res.Description, maxDescriptionWords),
			PublishDate: story.PublishDate,
			URL:         res.URL,
			Topic:       topic.Name,
		}

		// The strict filter sees the truncated description, same as readers.
		if !TopicRelevant(article.Title, article.Description, topic.TopicKeywords) {
			summary.SkippedNotRelevant++
			continue
		}

		added = append(added, article)
		seen[res.URL] = true
		summary.Added++
	}

	if len(missing) > 0 {
		for _, u := range missing {
			c.logger.Error("scraped url missing from collected set", "url", u)
		}
		return summary, &IntegrityError{MissingURLs: missing}
	}

	summary.Total = summary.Existing + summary.Added
	c.logSummary(topic.Name, summary)

	if summary.Added == 0 {
		c.logger.Info("no new entries to add", "topic", topic.Name)
		return summary, nil
	}
	if opts.NoWrite {
		c.logger.Info("no-write mode, skipping output", "topic", topic.Name, "would_add", summary.Added)
		return summary, nil
	}

	all := append(existing, added...)
	sortArticles(all)

	if err := c.writeClean(cleanPath, topic, all, added, opts.Mode); err != nil {
		return summary, err
	}
	if err := c.writeCombined(topic.Name, results, byURL); err != nil {
		return summary, err
	}

	c.logger.Info("clean finished", "topic", topic.Name, "added", summary.Added, "total", len(all))
	return summary, nil
}

func (c *Cleaner) logSummary(topic string, s *Summary) {
	c.logger.Info("clean summary",
		"topic", topic,
		"articles", s.Articles,
		"urls", s.URLs,
		"existing", s.Existing,
		"skipped_not_success", s.SkippedNotSuccess,
		"skipped_non_english", s.SkippedNonEnglish,
		"skipped_off_topic", s.SkippedOffTopic,
		"skipped_not_relevant", s.SkippedNotRelevant,
		"skipped_exists", s.SkippedExists,
		"added", s.Added,
		"total", s.Total)
	for _, p := range s.Problems {
		c.logger.Warn("problem", "detail", p)
	}
}

// writeClean publishes the sorted entries under an updated manifest header.
// The manifest survives rebuilds: record_count is corrected to the file's
// actual size while daily-run history accumulates.
func (c *Cleaner) writeClean(path string, topic config.Topic, all, added []models.Article, mode models.RunMode) error {
	m, err := manifest.ReadFile(path)
	if err != nil {
		return err
	}
	if m == nil {
		m = manifest.New(topic.Name, topic.StartDate)
	}

	m.UpdateAfterRun(publishDays(added), len(all)-m.RecordCount, mode, c.now())

	line, err := m.Line()
	if err != nil {
		return err
	}
	return jsonl.WriteAtomic(path, func(w io.Writer) error {
		if _, err := w.Write(line); err != nil {
			return err
		}
		for _, a := range all {
			if err := jsonl.EncodeLine(w, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// metaHeader is the first line of the combined raw file.
type metaHeader struct {
	Meta           bool      `json:"_meta"`
	Topic          string    `json:"topic"`
	RecordCount    int       `json:"record_count"`
	DatesCollected []string  `json:"dates_collected"`
	DateRange      dateRange `json:"date_range"`
	LastUpdated    string    `json:"last_updated"`
}

type dateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CombinedRecord is one line of the combined raw file: the collected story
// overlaid with its scrape result, unfiltered.
type CombinedRecord struct {
	ID          string `json:"id,omitempty"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	MediaName   string `json:"media_name,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
	Language    string `json:"language,omitempty"`
	IndexedDate string `json:"indexed_date,omitempty"`
	Topic       string `json:"my_topic,omitempty"`
	FinalURL    string `json:"final_url,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	Description string `json:"description,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ScrapedAt   string `json:"scraped_at,omitempty"`
}

// writeCombined rebuilds the self-contained raw export: every scrape result
// joined with its story, no filtering, under a _meta header.
func (c *Cleaner) writeCombined(topic string, results []models.ScrapeResult, byURL map[string]models.Story) error {
	var records []CombinedRecord
	for _, res := range results {
		if res.URL == "" {
			continue
		}
		story := byURL[res.URL]
		records = append(records, CombinedRecord{
			ID:          story.ID,
			URL:         res.URL,
			Title:       res.Title,
			MediaName:   story.MediaName,
			MediaURL:    story.MediaURL,
			PublishDate: story.PublishDate,
			Language:    story.Language,
			IndexedDate: story.IndexedDate,
			Topic:       story.Topic,
			FinalURL:    res.FinalURL,
			HTTPStatus:  res.HTTPStatus,
			Description: res.Description,
			Success:     res.Success,
			Error:       res.Error,
			ScrapedAt:   res.ScrapedAt,
		})
	}

	dates, err := c.datesCollected(topic)
	if err != nil {
		return err
	}
	header := metaHeader{
		Meta:           true,
		Topic:          topic,
		RecordCount:    len(records),
		DatesCollected: dates,
		LastUpdated:    c.now().UTC().Format(time.RFC3339),
	}
	if len(dates) > 0 {
		header.DateRange = dateRange{Start: dates[0], End: dates[len(dates)-1]}
	}

	return jsonl.WriteAtomic(c.paths.CombinedFile(topic), func(w io.Writer) error {
		if err := jsonl.EncodeLine(w, header); err != nil {
			return err
		}
		for _, rec := range records {
			if err := jsonl.EncodeLine(w, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// loadAllResults reads scraped articles across every run-day directory, in
// directory order.
func (c *Cleaner) loadAllResults(topic string) ([]models.ScrapeResult, error) {
	var all []models.ScrapeResult
	err := c.eachRunDay(topic, func(day string) error {
		results, err := jsonl.ReadResults(c.paths.ArticlesFile(topic, day))
		if err != nil {
			return err
		}
		all = append(all, results...)
		return nil
	})
	return all, err
}

// loadAllStories reads collected stories across every run-day directory.
func (c *Cleaner) loadAllStories(topic string) ([]models.Story, error) {
	var all []models.Story
	err := c.eachRunDay(topic, func(day string) error {
		stories, err := jsonl.ReadStories(c.paths.URLsFile(topic, day))
		if err != nil {
			return err
		}
		all = append(all, stories...)
		return nil
	})
	return all, err
}

func (c *Cleaner) eachRunDay(topic string, fn func(day string) error) error {
	entries, err := os.ReadDir(c.paths.TopicRawDir(topic))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing run days: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := fn(entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

// datesCollected lists run-day directories that hold scraped articles.
func (c *Cleaner) datesCollected(topic string) ([]string, error) {
	var dates []string
	err := c.eachRunDay(topic, func(day string) error {
		if strings.HasPrefix(day, "_") {
			return nil
		}
		if _, err := os.Stat(c.paths.ArticlesFile(topic, day)); err == nil {
			dates = append(dates, day)
		}
		return nil
	})
	return dates, err
}

// indexStories maps URL to story; a later duplicate wins, so re-collected
// records supersede older ones.
func indexStories(stories []models.Story) map[string]models.Story {
	byURL := make(map[string]models.Story, len(stories))
	for _, s := range stories {
		if s.URL != "" {
			byURL[s.URL] = s
		}
	}
	return byURL
}

// publishDays returns the distinct publish days of the given articles.
func publishDays(articles []models.Article) []string {
	seen := map[string]bool{}
	var days []string
	for _, a := range articles {
		day := a.PublishDate
		if len(day) > 10 {
			day = day[:10]
		}
		if day == "" || seen[day] {
			continue
		}
		seen[day] = true
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// truncateWords keeps the first max words, marking the cut with a trailing
// ellipsis. Short texts come back untouched, original whitespace included.
func truncateWords(text string, max int) string {
	if text == "" {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ") + "..."
}

// sortArticles orders entries newest publish day first, then by URL hash,
// so the order is stable across runs and oldest entries sit at the tail
// where a size cap would cut them.
func sortArticles(articles []models.Article) {
	sort.Slice(articles, func(i, j int) bool {
		di, hi := sortKey(articles[i])
		dj, hj := sortKey(articles[j])
		if di != dj {
			return di < dj
		}
		return hi < hj
	})
}

func sortKey(a models.Article) (string, string) {
	day := a.PublishDate
	if day == "" {
		day = "0000-00-00"
	}
	sum := md5.Sum([]byte(a.URL))
	return invertDigits(day), hex.EncodeToString(sum[:])
}

// invertDigits maps each digit d to 9-d, so lexically ascending order walks
// dates newest first.
func invertDigits(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= '0' && c <= '9' {
			out[i] = '9' - (c - '0')
		}
	}
	return string(out)
}
