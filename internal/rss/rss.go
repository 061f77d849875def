// Package rss collects stories from a topic's configured RSS feeds into the
// same raw run-day layout the search collector writes. Feed items become
// Story records with an id derived from the url, so feed-collected and
// API-collected records dedup against each other uniformly downstream.
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/jsonl"
	"github.com/cstaal88/mina-pipeline/internal/models"
)

const (
	dayFormat    = "2006-01-02"
	fetchTimeout = 15 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ErrNoFeeds is returned when the topic configures no feed URLs.
var ErrNoFeeds = errors.New("no feeds configured")

// Collector fetches a topic's feeds and appends new stories to the current
// run-day urls file.
type Collector struct {
	client    *http.Client
	parser    *gofeed.Parser
	paths     config.DataConfig
	logger    *slog.Logger
	userAgent string
	now       func() time.Time
}

// New creates a Collector writing under the given data layout.
func New(paths config.DataConfig, logger *slog.Logger) *Collector {
	return &Collector{
		client:    &http.Client{Timeout: fetchTimeout},
		parser:    gofeed.NewParser(),
		paths:     paths,
		logger:    logger,
		userAgent: defaultUserAgent,
		now:       time.Now,
	}
}

// Options control one collection pass.
type Options struct {
	Topic config.Topic

	// DaysBack drops items published more than this many days before the
	// run. Items without a parseable date always pass. Zero disables the
	// cutoff.
	DaysBack int

	// Limit caps the records kept per feed, for trial runs. Zero means no
	// cap.
	Limit int
}

// Summary reports what one collection pass did.
type Summary struct {
	Feeds       int
	FeedsFailed int
	Items       int
	New         int
	Skipped     int // already present in the output file
	Filtered    int // dropped by the topic's loose keyword filter
}

// Run fetches every configured feed once. A feed that fails to fetch or
// parse is logged and skipped; the pass continues with the remaining feeds.
func (c *Collector) Run(ctx context.Context, opts Options) (*Summary, error) {
	topic := opts.Topic
	if len(topic.Feeds) == 0 {
		return nil, fmt.Errorf("topic %q: %w", topic.Name, ErrNoFeeds)
	}

	today := c.now().UTC().Format(dayFormat)
	outPath := c.paths.URLsFile(topic.Name, today)

	existing, err := loadExistingIDs(outPath)
	if err != nil {
		return nil, fmt.Errorf("reading existing records: %w", err)
	}

	var cutoff time.Time
	if opts.DaysBack > 0 {
		cutoff = c.now().UTC().AddDate(0, 0, -opts.DaysBack)
	}

	writer, err := jsonl.NewWriter(outPath)
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	defer writer.Close()

	summary := &Summary{Feeds: len(topic.Feeds)}
	for _, feedURL := range topic.Feeds {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		c.logger.Info("fetching feed", "topic", topic.Name, "feed", feedURL)
		if err := c.collectFeed(ctx, feedURL, opts, cutoff, existing, writer, summary); err != nil {
			c.logger.Error("feed failed", "feed", feedURL, "error", err)
			summary.FeedsFailed++
		}
	}

	c.logger.Info("rss collection finished",
		"topic", topic.Name,
		"feeds", summary.Feeds,
		"failed", summary.FeedsFailed,
		"items", summary.Items,
		"new", summary.New,
		"skipped", summary.Skipped,
		"filtered", summary.Filtered)
	return summary, nil
}

func (c *Collector) collectFeed(ctx context.Context, feedURL string, opts Options, cutoff time.Time, existing map[string]bool, writer *jsonl.Writer, summary *Summary) error {
	feed, err := c.fetchFeed(ctx, feedURL)
	if err != nil {
		return err
	}

	topic := opts.Topic
	kept := 0
	for _, item := range feed.Items {
		if opts.Limit > 0 && kept >= opts.Limit {
			break
		}
		summary.Items++

		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.GUID)
		}
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}

		day, published := itemPublishDay(item)
		if !cutoff.IsZero() && published != nil && published.Before(cutoff) {
			continue
		}

		title := strings.TrimSpace(item.Title)
		description := stripHTML(item.Description)
		if len(topic.FilterKeywords) > 0 &&
			!clean.TopicRelated(title, description, topic.FilterKeywords, topic.ExcludeKeywords) {
			summary.Filtered++
			continue
		}

		kept++
		id := storyID(link)
		if existing[id] {
			summary.Skipped++
			continue
		}

		story := models.Story{
			ID:          id,
			URL:         link,
			Title:       title,
			MediaName:   strings.TrimSpace(feed.Title),
			MediaURL:    linkHost(link),
			PublishDate: day,
			Language:    "en",
			Description: description,
			Topic:       topic.Name,
		}
		if err := writer.Write(story); err != nil {
			return fmt.Errorf("writing story: %w", err)
		}
		existing[id] = true
		summary.New++
	}

	c.logger.Info("feed collected", "feed", feedURL, "items", len(feed.Items), "kept", kept)
	return nil
}

func (c *Collector) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	feed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return feed, nil
}

// rssDateFormats covers date strings some feeds use that gofeed does not
// parse itself.
var rssDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// itemPublishDay normalizes an item's publish date to YYYY-MM-DD, returning
// the parsed time alongside for cutoff checks. Both are zero when the item
// carries no parseable date.
func itemPublishDay(item *gofeed.Item) (string, *time.Time) {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return t.Format(dayFormat), &t
	}

	raw := strings.TrimSpace(item.Published)
	if raw == "" {
		return "", nil
	}
	for _, format := range rssDateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			t = t.UTC()
			return t.Format(dayFormat), &t
		}
	}
	return "", nil
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// stripHTML flattens an HTML fragment to plain text: tags removed, entities
// decoded, whitespace collapsed.
func stripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// storyID derives a record id from the url. Feed items have no upstream id,
// so the url hash stands in and doubles as the dedup key.
func storyID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// linkHost extracts the article's host for the media_url field. The www
// prefix is dropped so feed records group with API records for the same
// outlet.
func linkHost(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

func loadExistingIDs(path string) (map[string]bool, error) {
	stories, err := jsonl.ReadStories(path)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(stories))
	for _, s := range stories {
		ids[s.ID] = true
	}
	return ids, nil
}
