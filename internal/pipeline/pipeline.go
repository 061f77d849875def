// Package pipeline chains the collection stages into a single run: fetch,
// scrape, clean and optionally push, in that order. A step failure aborts
// the remainder; every run is timed per step and written to the run ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/collect"
	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/metrics"
	"github.com/cstaal88/mina-pipeline/internal/models"
	"github.com/cstaal88/mina-pipeline/internal/rss"
	"github.com/cstaal88/mina-pipeline/internal/scrape"
	"github.com/cstaal88/mina-pipeline/internal/snapshot"
)

const dayFormat = "2006-01-02"

const (
	// processCheckInterval is how often a waiting run re-checks for a
	// competing collection process.
	processCheckInterval = 5 * time.Minute

	// combinedCheckInterval is the poll rate when both a process wait and
	// a start time are configured.
	combinedCheckInterval = time.Minute
)

// Fetcher collects new story records for a topic from the search API.
type Fetcher interface {
	Run(ctx context.Context, opts collect.Options) (*collect.Summary, error)
}

// FeedReader collects new story records from a topic's RSS feeds.
type FeedReader interface {
	Run(ctx context.Context, opts rss.Options) (*rss.Summary, error)
}

// Scraper fetches the article page for every collected URL.
type Scraper interface {
	Run(ctx context.Context, inputPath, outputPath string) (*scrape.Summary, error)
}

// Cleaner joins, filters and publishes the collected records.
type Cleaner interface {
	Run(opts clean.Options) (*clean.Summary, error)
}

// Ledger stores finished run records.
type Ledger interface {
	Record(ctx context.Context, r *models.RunRecord) error
}

// Deps are the stage implementations a Runner drives. Any of them may be
// nil; the corresponding stage is then skipped.
type Deps struct {
	Fetcher   Fetcher
	Feeds     FeedReader
	Scraper   Scraper
	Cleaner   Cleaner
	Snapshots snapshot.Store
	Ledger    Ledger
	Metrics   *metrics.Collector
}

// Options selects the topic and shape of one pipeline run.
type Options struct {
	Topic config.Topic

	// Days restricts collection to the most recent N days, for trial runs.
	Days int

	CollectOnly bool // stop after fetch and scrape
	CleanOnly   bool // skip collection, only republish
	Append      bool // clean in append mode instead of regenerating
	Push        bool // upload snapshots after the clean step

	// Mode is recorded with the run. Defaults to manual.
	Mode models.RunMode

	// Wait delays the start until no other collection process is visible.
	Wait bool

	// At delays the start until the next occurrence of this HH:MM wall
	// time. Combined with Wait, whichever condition clears first starts
	// the run.
	At string
}

// Runner executes pipeline runs for one data directory.
type Runner struct {
	fetcher   Fetcher
	feeds     FeedReader
	scraper   Scraper
	cleaner   Cleaner
	snapshots snapshot.Store
	ledger    Ledger
	metrics   *metrics.Collector
	paths     config.DataConfig
	logger    *slog.Logger

	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	otherRunning func() bool
}

// New returns a Runner over the given stage implementations.
func New(deps Deps, paths config.DataConfig, logger *slog.Logger) *Runner {
	return &Runner{
		fetcher:      deps.Fetcher,
		feeds:        deps.Feeds,
		scraper:      deps.Scraper,
		cleaner:      deps.Cleaner,
		snapshots:    deps.Snapshots,
		ledger:       deps.Ledger,
		metrics:      deps.Metrics,
		paths:        paths,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepContext,
		otherRunning: otherCollectorRunning,
	}
}

// Run executes one pipeline run and returns its record. The record is
// written to the ledger and observed by metrics whether or not the run
// succeeded; the returned error is the first step failure, if any.
func (r *Runner) Run(ctx context.Context, opts Options) (*models.RunRecord, error) {
	if err := r.delayStart(ctx, opts); err != nil {
		return nil, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = models.RunModeManual
	}

	record := &models.RunRecord{
		Topic:     opts.Topic.Name,
		Mode:      mode,
		StartedAt: r.now().UTC(),
	}

	r.logger.Info("pipeline starting", "topic", record.Topic, "mode", record.Mode)

	runErr := r.runSteps(ctx, opts, record)

	record.FinishedAt = r.now().UTC()
	if runErr != nil {
		record.Error = runErr.Error()
		r.logger.Error("pipeline failed",
			"topic", record.Topic,
			"duration", record.Duration().Round(time.Millisecond),
			"error", runErr)
	} else {
		r.logger.Info("pipeline finished",
			"topic", record.Topic,
			"duration", record.Duration().Round(time.Millisecond),
			"fetched", record.Fetched,
			"scraped", record.Scraped,
			"added", record.Added)
	}

	if r.ledger != nil {
		// The record must survive a canceled run context.
		if err := r.ledger.Record(context.WithoutCancel(ctx), record); err != nil {
			r.logger.Error("recording run failed", "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.ObserveRun(record)
	}

	return record, runErr
}

func (r *Runner) runSteps(ctx context.Context, opts Options, record *models.RunRecord) error {
	topic := opts.Topic

	if !opts.CleanOnly {
		if topic.Query != "" && r.fetcher != nil {
			err := r.step(ctx, record, "fetch", func(ctx context.Context) error {
				summary, err := r.fetcher.Run(ctx, collect.Options{Topic: topic, Days: opts.Days})
				if summary != nil {
					record.Fetched += summary.New
					record.Skipped += summary.Skipped
				}
				return err
			})
			if err != nil {
				return err
			}
		}

		if len(topic.Feeds) > 0 && r.feeds != nil {
			err := r.step(ctx, record, "rss", func(ctx context.Context) error {
				summary, err := r.feeds.Run(ctx, rss.Options{Topic: topic, DaysBack: opts.Days})
				if summary != nil {
					record.Fetched += summary.New
					record.Skipped += summary.Skipped
				}
				return err
			})
			if err != nil {
				return err
			}
		}

		if r.scraper != nil {
			err := r.step(ctx, record, "scrape", func(ctx context.Context) error {
				day := r.now().UTC().Format(dayFormat)
				summary, err := r.scraper.Run(ctx,
					r.paths.URLsFile(topic.Name, day),
					r.paths.ArticlesFile(topic.Name, day))
				if summary != nil {
					record.Scraped += summary.OK
				}
				if errors.Is(err, scrape.ErrNoURLs) {
					// A quiet day is not a failure; clean still runs so
					// the manifest gets its daily-run entry.
					r.logger.Info("nothing to scrape", "topic", topic.Name)
					return nil
				}
				return err
			})
			if err != nil {
				return err
			}
		}
	}

	if !opts.CollectOnly {
		if r.cleaner != nil {
			err := r.step(ctx, record, "clean", func(ctx context.Context) error {
				summary, err := r.cleaner.Run(clean.Options{
					Topic:  topic,
					Append: opts.Append,
					Mode:   record.Mode,
				})
				if summary != nil {
					record.Added += summary.Added
				}
				return err
			})
			if err != nil {
				return err
			}
		}

		if opts.Push {
			err := r.step(ctx, record, "push", func(ctx context.Context) error {
				return r.push(ctx, topic)
			})
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// step times one stage. The timing is appended to the record whether or
// not the stage succeeds.
func (r *Runner) step(ctx context.Context, record *models.RunRecord, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := r.now()
	r.logger.Info("step starting",
		"step", name,
		"elapsed", start.Sub(record.StartedAt).Round(time.Second))

	err := fn(ctx)

	elapsed := r.now().Sub(start)
	record.Steps = append(record.Steps, models.StepTiming{Name: name, Seconds: elapsed.Seconds()})

	if err != nil {
		r.logger.Error("step failed",
			"step", name,
			"duration", elapsed.Round(time.Millisecond),
			"error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger.Info("step finished",
		"step", name,
		"duration", elapsed.Round(time.Millisecond))
	return nil
}

// push uploads the raw combined export and the published clean file to the
// topic's gist. Upload problems are logged, never failed: the next push
// carries the same files again.
func (r *Runner) push(ctx context.Context, topic config.Topic) error {
	if r.snapshots == nil {
		r.logger.Warn("no snapshot store configured, skipping push", "topic", topic.Name)
		return nil
	}
	if topic.GistID == "" {
		r.logger.Warn("topic has no gist_id, skipping push", "topic", topic.Name)
		return nil
	}

	uploads := []struct {
		name string
		path string
	}{
		{"raw.jsonl", r.paths.CombinedFile(topic.Name)},
		{"clean.jsonl", r.paths.CleanFile(topic.Name)},
	}
	for _, up := range uploads {
		if _, err := os.Stat(up.path); err != nil {
			r.logger.Warn("snapshot source missing, skipping",
				"file", up.name, "path", up.path)
			continue
		}
		if err := r.snapshots.Upload(ctx, topic.GistID, up.name, up.path); err != nil {
			r.logger.Warn("snapshot upload failed", "file", up.name, "error", err)
		}
	}
	return nil
}

func (r *Runner) delayStart(ctx context.Context, opts Options) error {
	switch {
	case opts.Wait && opts.At != "":
		return r.waitForClearOrTime(ctx, opts.At)
	case opts.Wait:
		return r.waitForClear(ctx)
	case opts.At != "":
		return r.waitUntil(ctx, opts.At)
	}
	return nil
}

// waitForClear blocks until no other collection process is visible. The
// check is advisory, not a lock: a run that starts anyway is safe, only
// wasteful.
func (r *Runner) waitForClear(ctx context.Context) error {
	if !r.otherRunning() {
		return nil
	}
	r.logger.Info("another collection process is running, waiting",
		"recheck", processCheckInterval)
	for r.otherRunning() {
		if err := r.sleep(ctx, processCheckInterval); err != nil {
			return err
		}
	}
	r.logger.Info("process wait over, starting")
	return nil
}

// waitUntil blocks until the next occurrence of the HH:MM wall time.
func (r *Runner) waitUntil(ctx context.Context, at string) error {
	target, err := nextOccurrence(r.now(), at)
	if err != nil {
		return err
	}
	r.logger.Info("waiting for scheduled start",
		"at", target.Format("2006-01-02 15:04"),
		"wait", target.Sub(r.now()).Round(time.Second))
	return r.sleep(ctx, target.Sub(r.now()))
}

// waitForClearOrTime starts as soon as either no other collection process
// is visible or the start time arrives, whichever happens first.
func (r *Runner) waitForClearOrTime(ctx context.Context, at string) error {
	target, err := nextOccurrence(r.now(), at)
	if err != nil {
		return err
	}
	r.logger.Info("waiting for a clear slot or the scheduled start",
		"at", target.Format("2006-01-02 15:04"))
	for {
		if !r.otherRunning() {
			return nil
		}
		if !r.now().Before(target) {
			r.logger.Info("scheduled start reached with another process still running")
			return nil
		}
		if err := r.sleep(ctx, combinedCheckInterval); err != nil {
			return err
		}
	}
}

// nextOccurrence resolves an HH:MM wall time to the next time it occurs,
// today or tomorrow.
func nextOccurrence(now time.Time, at string) (time.Time, error) {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q (want HH:MM): %w", at, err)
	}
	target := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target, nil
}

// otherCollectorRunning looks for another mina collection process with
// pgrep. A missing pgrep or a lookup error counts as nothing running.
func otherCollectorRunning() bool {
	out, err := exec.Command("pgrep", "-f", "mina (run|fetch|rss|scrape)").Output()
	if err != nil {
		return false
	}
	self := strconv.Itoa(os.Getpid())
	for _, pid := range strings.Fields(string(out)) {
		if pid != self {
			return true
		}
	}
	return false
}

// sleepContext waits for the duration unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
