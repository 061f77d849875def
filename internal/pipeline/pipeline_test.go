package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/collect"
	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/models"
	"github.com/cstaal88/mina-pipeline/internal/rss"
	"github.com/cstaal88/mina-pipeline/internal/scrape"
	"github.com/cstaal88/mina-pipeline/internal/snapshot"
)

type fakeFetcher struct {
	summary *collect.Summary
	err     error
	calls   int
	gotOpts collect.Options
}

func (f *fakeFetcher) Run(_ context.Context, opts collect.Options) (*collect.Summary, error) {
	f.calls++
	f.gotOpts = opts
	return f.summary, f.err
}

type fakeFeeds struct {
	summary *rss.Summary
	err     error
	calls   int
	gotOpts rss.Options
}

func (f *fakeFeeds) Run(_ context.Context, opts rss.Options) (*rss.Summary, error) {
	f.calls++
	f.gotOpts = opts
	return f.summary, f.err
}

type fakeScraper struct {
	summary *scrape.Summary
	err     error
	calls   int
	gotIn   string
	gotOut  string
}

func (f *fakeScraper) Run(_ context.Context, inputPath, outputPath string) (*scrape.Summary, error) {
	f.calls++
	f.gotIn = inputPath
	f.gotOut = outputPath
	return f.summary, f.err
}

type fakeCleaner struct {
	summary *clean.Summary
	err     error
	calls   int
	gotOpts clean.Options
}

func (f *fakeCleaner) Run(opts clean.Options) (*clean.Summary, error) {
	f.calls++
	f.gotOpts = opts
	return f.summary, f.err
}

type fakeLedger struct {
	records []*models.RunRecord
	err     error
}

func (f *fakeLedger) Record(_ context.Context, r *models.RunRecord) error {
	f.records = append(f.records, r)
	return f.err
}

type fakeSnapshots struct {
	uploads   []string
	uploadErr error
}

func (f *fakeSnapshots) Upload(_ context.Context, gistID, name, path string) error {
	f.uploads = append(f.uploads, gistID+"/"+name+"/"+filepath.Base(path))
	return f.uploadErr
}

func (f *fakeSnapshots) History(context.Context, string, int) ([]snapshot.Revision, error) {
	return nil, nil
}

func (f *fakeSnapshots) Fetch(context.Context, string, string, string) ([]byte, error) {
	return nil, nil
}

func pipelineTopic() config.Topic {
	return config.Topic{
		Name:      "greenland",
		StartDate: "2025-06-01",
		Query:     "greenland OR arctic",
		Outlets:   []config.Outlet{{Domain: "nytimes.com", ID: 1}},
		GistID:    "gist123",
	}
}

// workingDeps returns stage fakes that all succeed with fixed counts.
func workingDeps() (Deps, *fakeFetcher, *fakeScraper, *fakeCleaner, *fakeLedger) {
	fetcher := &fakeFetcher{summary: &collect.Summary{New: 5, Skipped: 2}}
	scraper := &fakeScraper{summary: &scrape.Summary{Scraped: 5, OK: 3, Failed: 2}}
	cleaner := &fakeCleaner{summary: &clean.Summary{Added: 2}}
	ledger := &fakeLedger{}
	deps := Deps{Fetcher: fetcher, Scraper: scraper, Cleaner: cleaner, Ledger: ledger}
	return deps, fetcher, scraper, cleaner, ledger
}

func newTestRunner(t *testing.T, deps Deps) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	r := New(deps, config.DataConfig{Dir: t.TempDir()}, logger)

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	r.sleep = func(context.Context, time.Duration) error { return nil }
	r.otherRunning = func() bool { return false }
	return r
}

func stepNames(record *models.RunRecord) string {
	names := make([]string, 0, len(record.Steps))
	for _, s := range record.Steps {
		names = append(names, s.Name)
	}
	return strings.Join(names, ",")
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	deps, fetcher, scraper, cleaner, ledger := workingDeps()
	r := newTestRunner(t, deps)

	record, err := r.Run(context.Background(), Options{Topic: pipelineTopic()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := stepNames(record); got != "fetch,scrape,clean" {
		t.Fatalf("steps = %s, want fetch,scrape,clean", got)
	}
	for _, s := range record.Steps {
		if s.Seconds <= 0 {
			t.Errorf("step %s has no timing", s.Name)
		}
	}

	if record.Fetched != 5 || record.Skipped != 2 || record.Scraped != 3 || record.Added != 2 {
		t.Errorf("counts = %d/%d/%d/%d, want 5/2/3/2",
			record.Fetched, record.Skipped, record.Scraped, record.Added)
	}
	if record.Mode != models.RunModeManual {
		t.Errorf("mode = %q, want manual default", record.Mode)
	}
	if !record.Succeeded() {
		t.Errorf("record not marked successful: %q", record.Error)
	}
	if !record.FinishedAt.After(record.StartedAt) {
		t.Errorf("finished %v not after started %v", record.FinishedAt, record.StartedAt)
	}

	if fetcher.calls != 1 || scraper.calls != 1 || cleaner.calls != 1 {
		t.Errorf("stage calls = %d/%d/%d, want 1 each", fetcher.calls, scraper.calls, cleaner.calls)
	}
	if fetcher.gotOpts.Topic.Name != "greenland" {
		t.Errorf("fetcher topic = %q", fetcher.gotOpts.Topic.Name)
	}
	wantIn := r.paths.URLsFile("greenland", "2025-06-10")
	if scraper.gotIn != wantIn {
		t.Errorf("scrape input = %q, want %q", scraper.gotIn, wantIn)
	}
	wantOut := r.paths.ArticlesFile("greenland", "2025-06-10")
	if scraper.gotOut != wantOut {
		t.Errorf("scrape output = %q, want %q", scraper.gotOut, wantOut)
	}
	if cleaner.gotOpts.Append || cleaner.gotOpts.Mode != models.RunModeManual {
		t.Errorf("clean opts = %+v", cleaner.gotOpts)
	}

	if len(ledger.records) != 1 || ledger.records[0] != record {
		t.Fatalf("ledger got %d records", len(ledger.records))
	}
}

func TestRunFeedOnlyTopicUsesRSSStep(t *testing.T) {
	topic := pipelineTopic()
	topic.Query = ""
	topic.Outlets = nil
	topic.Feeds = []string{"https://feeds.example/arctic.xml"}

	feeds := &fakeFeeds{summary: &rss.Summary{Feeds: 1, New: 4, Skipped: 1}}
	scraper := &fakeScraper{summary: &scrape.Summary{OK: 4}}
	cleaner := &fakeCleaner{summary: &clean.Summary{Added: 3}}
	r := newTestRunner(t, Deps{Feeds: feeds, Scraper: scraper, Cleaner: cleaner})

	record, err := r.Run(context.Background(), Options{Topic: topic, Days: 7})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := stepNames(record); got != "rss,scrape,clean" {
		t.Fatalf("steps = %s, want rss,scrape,clean", got)
	}
	if record.Fetched != 4 || record.Skipped != 1 {
		t.Errorf("fetched/skipped = %d/%d, want 4/1", record.Fetched, record.Skipped)
	}
	if feeds.gotOpts.DaysBack != 7 {
		t.Errorf("feeds DaysBack = %d, want 7", feeds.gotOpts.DaysBack)
	}
}

func TestRunStepFailureAbortsRemainder(t *testing.T) {
	deps, _, scraper, cleaner, ledger := workingDeps()
	scraper.summary = nil
	scraper.err = errors.New("connection refused")
	r := newTestRunner(t, deps)

	record, err := r.Run(context.Background(), Options{Topic: pipelineTopic()})
	if err == nil {
		t.Fatal("Run succeeded, want scrape failure")
	}
	if !strings.Contains(err.Error(), "scrape: connection refused") {
		t.Errorf("error = %v, want scrape step wrap", err)
	}

	if cleaner.calls != 0 {
		t.Errorf("clean ran %d times after scrape failure", cleaner.calls)
	}
	if got := stepNames(record); got != "fetch,scrape" {
		t.Errorf("steps = %s, want fetch,scrape", got)
	}
	if record.Succeeded() {
		t.Error("failed run marked successful")
	}
	if record.Error == "" {
		t.Error("record has no error text")
	}
	if len(ledger.records) != 1 {
		t.Fatalf("failed run not recorded: %d records", len(ledger.records))
	}
}

func TestRunIntegrityFaultSurfaces(t *testing.T) {
	deps, _, _, cleaner, _ := workingDeps()
	cleaner.summary = nil
	cleaner.err = &clean.IntegrityError{MissingURLs: []string{"https://x.example/a"}}
	r := newTestRunner(t, deps)

	_, err := r.Run(context.Background(), Options{Topic: pipelineTopic()})
	var fault *clean.IntegrityError
	if !errors.As(err, &fault) {
		t.Fatalf("error = %v, want IntegrityError through the step wrap", err)
	}
}

func TestRunQuietDayContinuesToClean(t *testing.T) {
	deps, _, scraper, cleaner, _ := workingDeps()
	scraper.summary = nil
	scraper.err = scrape.ErrNoURLs
	r := newTestRunner(t, deps)

	record, err := r.Run(context.Background(), Options{Topic: pipelineTopic()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cleaner.calls != 1 {
		t.Errorf("clean calls = %d, want 1", cleaner.calls)
	}
	if got := stepNames(record); got != "fetch,scrape,clean" {
		t.Errorf("steps = %s", got)
	}
	if record.Scraped != 0 {
		t.Errorf("scraped = %d, want 0", record.Scraped)
	}
}

func TestRunCollectOnlySkipsCleanAndPush(t *testing.T) {
	deps, _, _, cleaner, _ := workingDeps()
	snapshots := &fakeSnapshots{}
	deps.Snapshots = snapshots
	r := newTestRunner(t, deps)

	record, err := r.Run(context.Background(), Options{
		Topic:       pipelineTopic(),
		CollectOnly: true,
		Push:        true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := stepNames(record); got != "fetch,scrape" {
		t.Fatalf("steps = %s, want fetch,scrape", got)
	}
	if cleaner.calls != 0 {
		t.Errorf("clean ran in collect-only mode")
	}
	if len(snapshots.uploads) != 0 {
		t.Errorf("push ran in collect-only mode: %v", snapshots.uploads)
	}
}

func TestRunCleanOnlySkipsCollection(t *testing.T) {
	deps, fetcher, scraper, _, _ := workingDeps()
	r := newTestRunner(t, deps)

	record, err := r.Run(context.Background(), Options{
		Topic:     pipelineTopic(),
		CleanOnly: true,
		Append:    true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := stepNames(record); got != "clean" {
		t.Fatalf("steps = %s, want clean", got)
	}
	if fetcher.calls != 0 || scraper.calls != 0 {
		t.Errorf("collection ran in clean-only mode: %d/%d", fetcher.calls, scraper.calls)
	}
}

func TestRunPushUploadsBothFiles(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	snapshots := &fakeSnapshots{}
	deps.Snapshots = snapshots
	r := newTestRunner(t, deps)

	for _, path := range []string{
		r.paths.CombinedFile("greenland"),
		r.paths.CleanFile("greenland"),
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	record, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), Push: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := stepNames(record); got != "fetch,scrape,clean,push" {
		t.Fatalf("steps = %s", got)
	}

	want := "gist123/raw.jsonl/_combined.jsonl,gist123/clean.jsonl/articles-greenland.jsonl"
	if got := strings.Join(snapshots.uploads, ","); got != want {
		t.Errorf("uploads = %s, want %s", got, want)
	}
}

func TestRunPushSkipsMissingFiles(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	snapshots := &fakeSnapshots{}
	deps.Snapshots = snapshots
	r := newTestRunner(t, deps)

	path := r.paths.CleanFile("greenland")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), Push: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snapshots.uploads) != 1 || !strings.Contains(snapshots.uploads[0], "clean.jsonl") {
		t.Errorf("uploads = %v, want only the clean file", snapshots.uploads)
	}
}

func TestRunPushWithoutGistIDSkips(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	snapshots := &fakeSnapshots{}
	deps.Snapshots = snapshots
	r := newTestRunner(t, deps)

	topic := pipelineTopic()
	topic.GistID = ""

	record, err := r.Run(context.Background(), Options{Topic: topic, Push: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snapshots.uploads) != 0 {
		t.Errorf("uploads = %v, want none without a gist id", snapshots.uploads)
	}
	if got := stepNames(record); got != "fetch,scrape,clean,push" {
		t.Errorf("steps = %s, push step should still run", got)
	}
}

func TestRunPushUploadErrorDoesNotFailRun(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	snapshots := &fakeSnapshots{uploadErr: errors.New("gh: network down")}
	deps.Snapshots = snapshots
	r := newTestRunner(t, deps)

	path := r.paths.CleanFile("greenland")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	record, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), Push: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !record.Succeeded() {
		t.Errorf("upload failure marked the run failed: %q", record.Error)
	}
}

func TestRunAutomatedModeFlowsThrough(t *testing.T) {
	deps, _, _, cleaner, _ := workingDeps()
	r := newTestRunner(t, deps)

	record, err := r.Run(context.Background(), Options{
		Topic: pipelineTopic(),
		Mode:  models.RunModeAutomated,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Mode != models.RunModeAutomated {
		t.Errorf("record mode = %q", record.Mode)
	}
	if cleaner.gotOpts.Mode != models.RunModeAutomated {
		t.Errorf("clean mode = %q", cleaner.gotOpts.Mode)
	}
}

func TestRunCanceledContextRecordsTheRun(t *testing.T) {
	deps, fetcher, _, _, ledger := workingDeps()
	r := newTestRunner(t, deps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record, err := r.Run(ctx, Options{Topic: pipelineTopic()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch ran under a canceled context")
	}
	if len(record.Steps) != 0 {
		t.Errorf("steps = %s, want none", stepNames(record))
	}
	if len(ledger.records) != 1 {
		t.Errorf("canceled run not recorded")
	}
}

func TestWaitForClearRechecksUntilClear(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	r := newTestRunner(t, deps)

	checks := 0
	r.otherRunning = func() bool {
		checks++
		return checks <= 2
	}
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), Wait: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(slept))
	}
	for _, d := range slept {
		if d != processCheckInterval {
			t.Errorf("slept %v, want %v", d, processCheckInterval)
		}
	}
}

func TestWaitUntilSleepsToNextOccurrence(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	r := newTestRunner(t, deps)

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	var slept time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	if _, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), At: "13:30"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if slept != 90*time.Minute {
		t.Errorf("slept %v, want 90m", slept)
	}
}

func TestWaitCombinedStartsAtTargetTime(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	r := newTestRunner(t, deps)

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.otherRunning = func() bool { return true }
	sleeps := 0
	r.sleep = func(_ context.Context, d time.Duration) error {
		sleeps++
		now = now.Add(d)
		return nil
	}

	if _, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), Wait: true, At: "12:05"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sleeps != 5 {
		t.Errorf("slept %d times, want 5 one-minute polls", sleeps)
	}
}

func TestWaitCombinedStartsWhenClear(t *testing.T) {
	deps, _, _, _, _ := workingDeps()
	r := newTestRunner(t, deps)

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	checks := 0
	r.otherRunning = func() bool {
		checks++
		return checks <= 2
	}
	sleeps := 0
	r.sleep = func(_ context.Context, d time.Duration) error {
		sleeps++
		now = now.Add(d)
		return nil
	}

	if _, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), Wait: true, At: "23:00"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sleeps != 2 {
		t.Errorf("slept %d times, want 2 before the clear check passed", sleeps)
	}
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		at      string
		want    time.Time
		wantErr bool
	}{
		{at: "13:30", want: time.Date(2025, 6, 10, 13, 30, 0, 0, time.UTC)},
		{at: "02:00", want: time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC)},
		{at: "12:00", want: time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)},
		{at: "25:99", wantErr: true},
		{at: "7pm", wantErr: true},
	}
	for _, tt := range tests {
		got, err := nextOccurrence(now, tt.at)
		if tt.wantErr {
			if err == nil {
				t.Errorf("nextOccurrence(%q) accepted invalid input", tt.at)
			}
			continue
		}
		if err != nil {
			t.Errorf("nextOccurrence(%q): %v", tt.at, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("nextOccurrence(%q) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestRunInvalidStartTimeFails(t *testing.T) {
	deps, fetcher, _, _, _ := workingDeps()
	r := newTestRunner(t, deps)

	_, err := r.Run(context.Background(), Options{Topic: pipelineTopic(), At: "noon"})
	if err == nil {
		t.Fatal("Run accepted an invalid start time")
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch ran despite the invalid start time")
	}
}
