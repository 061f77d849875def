package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/jsonl"
	"github.com/cstaal88/mina-pipeline/internal/models"
)

const pageHTML = `<!DOCTYPE html>
<html><head>
<meta property="og:description" content="greenland mining news">
<meta property="og:title" content="Mine Opens">
<title>Mine Opens | Example Paper</title>
</head><body>story text</body></html>`

func testOptions() Options {
	opts := DefaultOptions()
	opts.DelayMin = 0
	opts.DelayMax = 0
	opts.BackoffMax = time.Millisecond
	opts.Timeout = 5 * time.Second
	return opts
}

func testScraper(t *testing.T, opts Options) *Scraper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(opts, logger)
}

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	return path
}

func urlLine(u string) string {
	return fmt.Sprintf(`{"id":"x","url":%q,"title":"t"}`, u)
}

func TestRunScrapesAndWrites(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, pageHTML)
	}))
	defer srv.Close()

	input := writeInput(t,
		urlLine(srv.URL+"/a"),
		urlLine(srv.URL+"/b"),
		urlLine(srv.URL+"/a")) // duplicate
	output := filepath.Join(t.TempDir(), "articles.jsonl")

	s := testScraper(t, testOptions())
	summary, err := s.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Scraped != 2 || summary.OK != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 scraped, 2 ok", summary)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}

	results, err := jsonl.ReadResults(output)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("output has %d records, want 2", len(results))
	}
	for _, res := range results {
		if !res.Success {
			t.Errorf("result %s not successful: %s", res.URL, res.Error)
		}
		if res.Description != "greenland mining news" {
			t.Errorf("description = %q", res.Description)
		}
		if res.Title != "Mine Opens" {
			t.Errorf("title = %q", res.Title)
		}
		if res.HTTPStatus != http.StatusOK {
			t.Errorf("http status = %d", res.HTTPStatus)
		}
		if _, err := time.Parse(time.RFC3339, res.ScrapedAt); err != nil {
			t.Errorf("scraped_at %q not RFC 3339: %v", res.ScrapedAt, err)
		}
	}
}

func TestRunResumeSkipsScrapedURLs(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, pageHTML)
	}))
	defer srv.Close()

	input := writeInput(t, urlLine(srv.URL+"/a"), urlLine(srv.URL+"/b"))
	output := filepath.Join(t.TempDir(), "articles.jsonl")

	// A prior run already recorded /a, and a failure still counts.
	w, err := jsonl.NewWriter(output)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(models.ScrapeResult{URL: srv.URL + "/a", Success: false, Error: "http 403", ScrapedAt: "2025-06-10T00:00:00Z"})
	w.Close()

	s := testScraper(t, testOptions())
	summary, err := s.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Skipped != 1 || summary.Scraped != 1 {
		t.Errorf("summary = %+v, want 1 skipped, 1 scraped", summary)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}

	results, _ := jsonl.ReadResults(output)
	if len(results) != 2 {
		t.Errorf("output has %d records, want 2 (old plus new)", len(results))
	}
}

func TestRunNoResumeStartsFresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML)
	}))
	defer srv.Close()

	input := writeInput(t, urlLine(srv.URL+"/a"))
	output := filepath.Join(t.TempDir(), "articles.jsonl")

	w, err := jsonl.NewWriter(output)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(models.ScrapeResult{URL: srv.URL + "/a", Success: true, ScrapedAt: "2025-06-10T00:00:00Z"})
	w.Close()

	opts := testOptions()
	opts.Resume = false
	s := testScraper(t, opts)
	if _, err := s.Run(context.Background(), input, output); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results, _ := jsonl.ReadResults(output)
	if len(results) != 1 {
		t.Fatalf("output has %d records, want 1 (old run discarded)", len(results))
	}
	if results[0].ScrapedAt == "2025-06-10T00:00:00Z" {
		t.Error("old record survived a no-resume run")
	}
}

func TestRunRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, pageHTML)
	}))
	defer srv.Close()

	input := writeInput(t, urlLine(srv.URL+"/flaky"))
	output := filepath.Join(t.TempDir(), "articles.jsonl")

	s := testScraper(t, testOptions())
	summary, err := s.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.OK != 1 {
		t.Errorf("OK = %d, want 1", summary.OK)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRunRecordsFailureAfterExhaustion(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	input := writeInput(t, urlLine(srv.URL+"/gone"))
	output := filepath.Join(t.TempDir(), "articles.jsonl")

	opts := testOptions()
	opts.Retries = 2
	s := testScraper(t, opts)
	summary, err := s.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (retries is total attempts)", got)
	}

	results, _ := jsonl.ReadResults(output)
	if len(results) != 1 {
		t.Fatalf("output has %d records, want 1", len(results))
	}
	if results[0].Success {
		t.Error("failed fetch recorded as success")
	}
	if !strings.Contains(results[0].Error, "http 404") {
		t.Errorf("error = %q, want mention of http 404", results[0].Error)
	}
	if results[0].HTTPStatus != 0 {
		t.Errorf("http status = %d, want unset", results[0].HTTPStatus)
	}
}

func TestRunFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML)
	})

	input := writeInput(t, urlLine(srv.URL+"/old"))
	output := filepath.Join(t.TempDir(), "articles.jsonl")

	s := testScraper(t, testOptions())
	if _, err := s.Run(context.Background(), input, output); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results, _ := jsonl.ReadResults(output)
	if len(results) != 1 {
		t.Fatalf("output has %d records, want 1", len(results))
	}
	if results[0].URL != srv.URL+"/old" {
		t.Errorf("url = %q, want the requested url", results[0].URL)
	}
	if results[0].FinalURL != srv.URL+"/new" {
		t.Errorf("final_url = %q, want %q", results[0].FinalURL, srv.URL+"/new")
	}
}

func TestRunNoURLs(t *testing.T) {
	input := writeInput(t, `{"id":"x","title":"no url here"}`)
	s := testScraper(t, testOptions())
	_, err := s.Run(context.Background(), input, filepath.Join(t.TempDir(), "out.jsonl"))
	if !errors.Is(err, ErrNoURLs) {
		t.Fatalf("err = %v, want ErrNoURLs", err)
	}
}

func TestRunMissingInput(t *testing.T) {
	s := testScraper(t, testOptions())
	_, err := s.Run(context.Background(), filepath.Join(t.TempDir(), "absent.jsonl"), filepath.Join(t.TempDir(), "out.jsonl"))
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if errors.Is(err, ErrNoURLs) {
		t.Fatal("missing input must not read as an empty one")
	}
}

func TestLoadURLs(t *testing.T) {
	input := writeInput(t,
		`{"url":"https://a.example/1"}`,
		`{"link":"https://a.example/2"}`,
		`{"uri":"https://a.example/3"}`,
		`{"url":"https://a.example/1"}`,
		`{"url":"  https://a.example/4  "}`,
	)

	urls, err := loadURLs(input, 0)
	if err != nil {
		t.Fatalf("loadURLs: %v", err)
	}
	want := []string{"https://a.example/1", "https://a.example/2", "https://a.example/3", "https://a.example/4"}
	if len(urls) != len(want) {
		t.Fatalf("urls = %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Fatalf("urls = %v, want %v", urls, want)
		}
	}

	// The limit caps records read, before deduplication.
	limited, err := loadURLs(input, 2)
	if err != nil {
		t.Fatalf("loadURLs limited: %v", err)
	}
	if len(limited) != 2 || limited[0] != "https://a.example/1" || limited[1] != "https://a.example/2" {
		t.Errorf("limited urls = %v", limited)
	}
}

func TestSampleScrapesWithoutWriting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML)
	}))
	defer srv.Close()

	input := writeInput(t,
		urlLine(srv.URL+"/a"),
		urlLine(srv.URL+"/b"),
		urlLine(srv.URL+"/c"))

	s := testScraper(t, testOptions())
	results, err := s.Sample(context.Background(), input, 2)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if !res.Success || res.Description == "" {
			t.Errorf("sample result = %+v, want scraped description", res)
		}
	}
}
