// Package scrape fetches article pages for collected URLs and pulls their
// meta description and title. Results are appended as they arrive, so an
// interrupted run resumes where it stopped.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/cstaal88/mina-pipeline/internal/jsonl"
	"github.com/cstaal88/mina-pipeline/internal/models"
	"github.com/cstaal88/mina-pipeline/internal/retry"
)

// DefaultUserAgent is a plain desktop browser signature. News sites serve
// stripped or blocked pages to obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBodySize bounds how much of a page is read. The metadata lives in
// <head>; anything past a few megabytes is video embeds and ad scripts.
const maxBodySize = 8 << 20

// ErrNoURLs means the input held no usable records.
var ErrNoURLs = errors.New("no urls found in input")

// Options tunes one scrape run. Retries counts total attempts per URL,
// including the first.
type Options struct {
	Workers    int
	DelayMin   time.Duration
	DelayMax   time.Duration
	Timeout    time.Duration
	Retries    int
	BackoffMax time.Duration
	RPS        float64
	UserAgent  string
	Resume     bool
	Limit      int
}

// DefaultOptions returns the tuning used by scheduled runs: two polite
// workers with a short random delay between requests.
func DefaultOptions() Options {
	return Options{
		Workers:    2,
		DelayMin:   300 * time.Millisecond,
		DelayMax:   800 * time.Millisecond,
		Timeout:    20 * time.Second,
		Retries:    5,
		BackoffMax: 60 * time.Second,
		UserAgent:  DefaultUserAgent,
		Resume:     true,
	}
}

// Scraper fetches pages with a bounded worker pool.
type Scraper struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a scraper. A zero RPS leaves the global request rate capped
// only by the worker count and delays.
func New(opts Options, logger *slog.Logger) *Scraper {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	return &Scraper{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Summary is what one scrape run did.
type Summary struct {
	Scraped int
	OK      int
	Failed  int
	Skipped int
}

// Run scrapes every URL in inputPath that is not already in outputPath,
// appending one result per URL. Failed fetches are recorded too, so the
// downstream stage can see what went wrong.
func (s *Scraper) Run(ctx context.Context, inputPath, outputPath string) (*Summary, error) {
	urls, err := loadURLs(inputPath, s.opts.Limit)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}

	summary := &Summary{}
	if s.opts.Resume {
		done, err := scrapedURLs(outputPath)
		if err != nil {
			return nil, err
		}
		pending := urls[:0]
		for _, u := range urls {
			if done[u] {
				summary.Skipped++
				continue
			}
			pending = append(pending, u)
		}
		urls = pending
	} else if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clearing output: %w", err)
	}

	if len(urls) == 0 {
		s.logger.Info("nothing to scrape", "skipped", summary.Skipped)
		return summary, nil
	}

	writer, err := jsonl.NewWriter(outputPath)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	s.logger.Info("scrape starting", "urls", len(urls), "workers", s.opts.Workers, "skipped", summary.Skipped)

	jobs := make(chan string)
	results := make(chan models.ScrapeResult)

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				results <- s.scrapeOne(ctx, u)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, u := range urls {
			select {
			case jobs <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var writeErr error
	for res := range results {
		summary.Scraped++
		if res.Success {
			summary.OK++
		} else {
			summary.Failed++
		}
		if writeErr == nil {
			writeErr = writer.Write(res)
		}
	}
	if writeErr != nil {
		return summary, fmt.Errorf("writing results: %w", writeErr)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	s.logger.Info("scrape finished",
		"scraped", summary.Scraped, "ok", summary.OK,
		"failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// Sample scrapes up to n randomly chosen URLs from inputPath and returns
// the results without writing anything. Used to spot-check a topic's
// outlets before a long run.
func (s *Scraper) Sample(ctx context.Context, inputPath string, n int) ([]models.ScrapeResult, error) {
	urls, err := loadURLs(inputPath, s.opts.Limit)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	if n < 1 {
		n = 3
	}
	if len(urls) > n {
		rand.Shuffle(len(urls), func(i, j int) { urls[i], urls[j] = urls[j], urls[i] })
		urls = urls[:n]
	}

	results := make([]models.ScrapeResult, 0, len(urls))
	for _, u := range urls {
		results = append(results, s.scrapeOne(ctx, u))
	}
	return results, nil
}

// scrapeOne fetches a single URL and always produces a result record,
// successful or not. ScrapedAt marks when the attempt started.
func (s *Scraper) scrapeOne(ctx context.Context, rawURL string) models.ScrapeResult {
	result := models.ScrapeResult{
		URL:       rawURL,
		ScrapedAt: s.now().UTC().Format(time.RFC3339),
	}

	s.pause(ctx)
	if err := s.limiter.Wait(ctx); err != nil {
		result.Error = err.Error()
		return result
	}

	body, finalURL, status, err := s.fetch(ctx, rawURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.FinalURL = finalURL
	result.HTTPStatus = status

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return result
	}
	result.Description = Description(doc)
	result.Title = Title(doc)
	return result
}

// fetch retrieves a page, following redirects, with exponential backoff on
// connection failures and HTTP errors. Responses are decoded to UTF-8 from
// whatever charset the page declares.
func (s *Scraper) fetch(ctx context.Context, rawURL string) (string, string, int, error) {
	policy := retry.Policy{
		MaxRetries:     s.opts.Retries - 1,
		InitialBackoff: time.Second,
		MaxBackoff:     s.opts.BackoffMax,
		BackoffFactor:  2.0,
	}

	var body, finalURL string
	var status int
	err := retry.Do(ctx, policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", s.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return retry.Retryable(fmt.Errorf("http %d", resp.StatusCode))
		}

		reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
		if err != nil {
			return retry.Retryable(fmt.Errorf("decoding body: %w", err))
		}
		data, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
		if err != nil {
			return retry.Retryable(fmt.Errorf("reading body: %w", err))
		}

		body = string(data)
		finalURL = resp.Request.URL.String()
		status = resp.StatusCode
		return nil
	})
	if err != nil {
		return "", "", 0, err
	}
	return body, finalURL, status, nil
}

// pause sleeps a random interval inside the configured delay window.
func (s *Scraper) pause(ctx context.Context) {
	lo, hi := s.opts.DelayMin, s.opts.DelayMax
	if hi < lo {
		hi = lo
	}
	if hi <= 0 {
		return
	}
	d := lo
	if hi > lo {
		d = lo + time.Duration(rand.Int63n(int64(hi-lo)))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// urlRecord matches the keys a collected record may carry its URL under.
type urlRecord struct {
	URL  string `json:"url"`
	Link string `json:"link"`
	URI  string `json:"uri"`
}

func recordURL(line []byte) string {
	var rec urlRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return ""
	}
	for _, v := range []string{rec.URL, rec.Link, rec.URI} {
		if u := strings.TrimSpace(v); u != "" {
			return u
		}
	}
	return ""
}

var errStopScan = errors.New("stop scan")

// loadURLs reads the input records and returns their URLs, first occurrence
// first, duplicates dropped. A positive limit caps how many records are
// considered, not how many URLs come back.
func loadURLs(path string, limit int) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	var urls []string
	seen := map[string]bool{}
	records := 0
	err := jsonl.Scan(path, func(line []byte) error {
		if limit > 0 && records >= limit {
			return errStopScan
		}
		records++
		u := recordURL(line)
		if u == "" || seen[u] {
			return nil
		}
		seen[u] = true
		urls = append(urls, u)
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return urls, nil
}

// scrapedURLs returns every URL already present in the output, successful
// or failed. Resume never re-fetches a URL that produced a failure record.
func scrapedURLs(path string) (map[string]bool, error) {
	done := map[string]bool{}
	err := jsonl.Scan(path, func(line []byte) error {
		if u := recordURL(line); u != "" {
			done[u] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}
