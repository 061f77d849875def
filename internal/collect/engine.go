// Package collect implements the incremental collection engine: it walks the
// (day, source) grid for a topic, fetches story metadata through the search
// port, deduplicates by story id, and checkpoints completed units so repeated
// runs never re-fetch or re-emit data.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/checkpoint"
	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/jsonl"
	"github.com/cstaal88/mina-pipeline/internal/retry"
	"github.com/cstaal88/mina-pipeline/internal/search"
)

const (
	dayFormat = "2006-01-02"

	// Transient fetch failures back off 40s, 80s, ... capped at 10 minutes,
	// for as long as it takes. Losing a unit to a rate-limit window costs
	// more than waiting it out.
	initialWait = 40 * time.Second
	maxWait     = 600 * time.Second
)

// Engine drives collection for one run. It is not safe for concurrent use;
// the grid walk is deliberately sequential so a single checkpoint file can
// describe progress exactly.
type Engine struct {
	searcher    search.Searcher
	checkpoints checkpoint.Store
	paths       config.DataConfig
	pageSize    int
	logger      *slog.Logger

	now         func() time.Time
	fetchPolicy retry.Policy
	countDelay  func(attempt int) time.Duration
}

// New builds a collection engine. pageSize bounds each story-list request.
func New(searcher search.Searcher, checkpoints checkpoint.Store, paths config.DataConfig, pageSize int, logger *slog.Logger) *Engine {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Engine{
		searcher:    searcher,
		checkpoints: checkpoints,
		paths:       paths,
		pageSize:    pageSize,
		logger:      logger,
		now:         time.Now,
		fetchPolicy: retry.Policy{
			MaxRetries:     -1,
			InitialBackoff: initialWait,
			MaxBackoff:     maxWait,
			BackoffFactor:  2.0,
		},
		countDelay: func(attempt int) time.Duration {
			return time.Duration(attempt) * 30 * time.Second
		},
	}
}

// Options selects the topic and date window for one run.
type Options struct {
	Topic     config.Topic
	StartDate string // overrides the topic start date
	EndDate   string // defaults to today
	Days      int    // trial mode: only the N most recent days
}

// Summary is what a run did. It is reported even when the run ends early.
type Summary struct {
	New            int
	Skipped        int
	UnitsCompleted int
	UnitsSkipped   int
	UnitsFailed    int
}

// Run executes one collection pass. New records land in the current run
// day's urls.jsonl; the checkpoint is saved after every completed unit and
// once more at the end so the expected-count cache survives partial runs.
func (e *Engine) Run(ctx context.Context, opts Options) (*Summary, error) {
	summary := &Summary{}

	start, end, err := e.resolveWindow(opts)
	if err != nil {
		return summary, err
	}

	topic := opts.Topic
	today := e.now().UTC().Format(dayFormat)
	outPath := e.paths.URLsFile(topic.Name, today)

	existing, err := loadExistingIDs(outPath)
	if err != nil {
		return summary, fmt.Errorf("seeding id set: %w", err)
	}

	queryHash := checkpoint.QueryHash(topic.Query)
	cp, err := e.checkpoints.Load(topic.Name, queryHash)
	if err != nil {
		return summary, fmt.Errorf("loading checkpoint: %w", err)
	}

	e.logger.Info("collection starting",
		"topic", topic.Name,
		"start", start.Format(dayFormat),
		"end", end.Format(dayFormat),
		"outlets", len(topic.Outlets),
		"existing_ids", len(existing),
		"output", outPath)

	e.prescan(ctx, cp, topic, outPath, start, end)

	writer, err := jsonl.NewWriter(outPath)
	if err != nil {
		return summary, fmt.Errorf("opening output: %w", err)
	}
	defer writer.Close()

	// Newest first: recent days are the ones operators are waiting on.
	for day := end; !day.Before(start); day = day.AddDate(0, 0, -1) {
		dayStr := day.Format(dayFormat)
		for _, outlet := range topic.Outlets {
			if err := ctx.Err(); err != nil {
				e.finish(topic.Name, cp, summary)
				return summary, err
			}

			if cp.IsComplete(dayStr, outlet.Domain) {
				summary.UnitsSkipped++
				e.logger.Debug("unit already complete", "day", dayStr, "outlet", outlet.Domain)
				continue
			}

			unitNew, unitSkipped, err := e.fetchUnit(ctx, writer, topic, dayStr, outlet, existing)
			summary.New += unitNew
			summary.Skipped += unitSkipped
			if err != nil {
				summary.UnitsFailed++
				e.logger.Error("unit failed, moving on",
					"day", dayStr, "outlet", outlet.Domain, "error", err)
				continue
			}

			e.logger.Info("unit fetched",
				"day", dayStr, "outlet", outlet.Domain,
				"new", unitNew, "skipped", unitSkipped)

			expected := e.expectedCached(ctx, cp, topic.Query, dayStr, outlet.ID)
			have := unitNew + unitSkipped
			if expected >= 0 && have >= expected {
				cp.MarkComplete(dayStr, outlet.Domain)
				summary.UnitsCompleted++
				if err := e.checkpoints.Save(topic.Name, cp); err != nil {
					return summary, fmt.Errorf("saving checkpoint: %w", err)
				}
			}
		}
	}

	e.finish(topic.Name, cp, summary)
	return summary, nil
}

// finish persists the checkpoint (the expected-count cache is worth keeping
// even when nothing completed) and logs the run summary.
func (e *Engine) finish(topic string, cp *checkpoint.Checkpoint, summary *Summary) {
	if err := e.checkpoints.Save(topic, cp); err != nil {
		e.logger.Error("final checkpoint save failed", "topic", topic, "error", err)
	}
	e.logger.Info("collection finished",
		"topic", topic,
		"new", summary.New,
		"skipped", summary.Skipped,
		"units_completed", summary.UnitsCompleted,
		"units_skipped", summary.UnitsSkipped,
		"units_failed", summary.UnitsFailed)
}

// fetchUnit pages through one (day, outlet) unit, appending new stories and
// counting duplicates. Transient failures retry indefinitely with backoff;
// anything else aborts just this unit.
func (e *Engine) fetchUnit(ctx context.Context, writer *jsonl.Writer, topic config.Topic, day string, outlet config.Outlet, existing map[string]bool) (int, int, error) {
	var unitNew, unitSkipped int

	token := ""
	for {
		var page *search.Page
		err := retry.Do(ctx, e.fetchPolicy, func() error {
			p, err := e.searcher.Stories(ctx, search.Query{
				Text:      topic.Query,
				StartDate: day,
				EndDate:   day,
				SourceIDs: []int64{outlet.ID},
				PageSize:  e.pageSize,
				PageToken: token,
			})
			if err != nil {
				var apiErr *search.APIError
				if errors.As(err, &apiErr) && apiErr.Temporary() {
					e.logger.Warn("transient fetch failure, backing off",
						"day", day, "outlet", outlet.Domain, "kind", apiErr.Kind)
					if apiErr.RetryAfter > 0 {
						return retry.RetryableAfter(err, apiErr.RetryAfter)
					}
					return retry.Retryable(err)
				}
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return unitNew, unitSkipped, err
		}

		if len(page.Stories) == 0 {
			break
		}

		for _, story := range page.Stories {
			if existing[story.ID] {
				unitSkipped++
				continue
			}
			story.Topic = topic.Name
			if err := writer.Write(story); err != nil {
				return unitNew, unitSkipped, fmt.Errorf("appending story: %w", err)
			}
			existing[story.ID] = true
			unitNew++
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	return unitNew, unitSkipped, nil
}

// expectedCached returns the expected story count for a unit, consulting the
// checkpoint cache first. Only successful lookups are cached; -1 means
// unknown and can never complete a unit.
func (e *Engine) expectedCached(ctx context.Context, cp *checkpoint.Checkpoint, query, day string, sourceID int64) int {
	if cached, ok := cp.ExpectedCount(day, sourceID); ok {
		return cached
	}

	count, confident := e.lookupExpected(ctx, query, day, sourceID)
	if count >= 0 {
		cp.SetExpectedCount(day, sourceID, count)
		if !confident {
			e.logger.Warn("expected count fell back to zero",
				"day", day, "source_id", sourceID)
		}
	}
	return count
}

// lookupExpected asks the API how many stories a unit should hold. Rate
// limits get three attempts with a growing pause; any other failure means
// the count is unknown this run.
func (e *Engine) lookupExpected(ctx context.Context, query, day string, sourceID int64) (int, bool) {
	attempt := 0
	var result *search.CountResult

	err := retry.Do(ctx, retry.Policy{MaxRetries: 2}, func() error {
		attempt++
		r, err := e.searcher.Count(ctx, search.Query{
			Text:      query,
			StartDate: day,
			EndDate:   day,
			SourceIDs: []int64{sourceID},
		})
		if err != nil {
			var apiErr *search.APIError
			if errors.As(err, &apiErr) && apiErr.Kind == search.KindRateLimited {
				return retry.RetryableAfter(err, e.countDelay(attempt))
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return -1, false
	}
	return result.Relevant, result.Confident
}

// prescan reconciles the checkpoint with records already on disk: units whose
// held count reaches the expected count are marked complete without
// refetching. Only units with at least one held record are checked, so a
// fresh topic costs no API calls here.
func (e *Engine) prescan(ctx context.Context, cp *checkpoint.Checkpoint, topic config.Topic, outPath string, start, end time.Time) {
	counts, err := countByOutletDay(outPath, topic.Outlets)
	if err != nil {
		e.logger.Warn("prescan skipped, output unreadable", "error", err)
		return
	}

	newlyMarked := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dayStr := day.Format(dayFormat)
		for _, outlet := range topic.Outlets {
			if ctx.Err() != nil {
				return
			}
			if cp.IsComplete(dayStr, outlet.Domain) {
				continue
			}
			have := counts[outlet.Domain][dayStr]
			if have == 0 {
				continue
			}

			expected := e.expectedCached(ctx, cp, topic.Query, dayStr, outlet.ID)
			if expected >= 0 && have >= expected {
				cp.MarkComplete(dayStr, outlet.Domain)
				newlyMarked++
			}
		}
	}

	if newlyMarked > 0 {
		if err := e.checkpoints.Save(topic.Name, cp); err != nil {
			e.logger.Error("saving checkpoint after prescan failed", "error", err)
			return
		}
		e.logger.Info("prescan marked units complete from existing data", "units", newlyMarked)
	}
}

// resolveWindow works out the date range for a run: explicit flags win, then
// the topic start date, with the end defaulting to today. A Days limit
// clamps the start for trial runs.
func (e *Engine) resolveWindow(opts Options) (time.Time, time.Time, error) {
	end, _ := time.Parse(dayFormat, e.now().UTC().Format(dayFormat))
	if opts.EndDate != "" {
		parsed, err := time.Parse(dayFormat, opts.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", opts.EndDate, err)
		}
		end = parsed
	}

	start := opts.Topic.Start()
	if opts.StartDate != "" {
		parsed, err := time.Parse(dayFormat, opts.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", opts.StartDate, err)
		}
		start = parsed
	}

	if opts.Days > 0 {
		clamp := end.AddDate(0, 0, -(opts.Days - 1))
		if clamp.After(start) {
			start = clamp
		}
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s precedes start date %s",
			end.Format(dayFormat), start.Format(dayFormat))
	}
	return start, end, nil
}

// loadExistingIDs seeds the dedup set from the current run day's output.
func loadExistingIDs(path string) (map[string]bool, error) {
	stories, err := jsonl.ReadStories(path)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(stories))
	for _, story := range stories {
		if story.ID != "" {
			ids[story.ID] = true
		}
	}
	return ids, nil
}

// countByOutletDay tallies held records per (outlet, publish day). A story
// counts toward the first configured outlet whose domain it matches.
func countByOutletDay(path string, outlets []config.Outlet) (map[string]map[string]int, error) {
	counts := make(map[string]map[string]int, len(outlets))
	for _, outlet := range outlets {
		counts[outlet.Domain] = map[string]int{}
	}

	stories, err := jsonl.ReadStories(path)
	if err != nil {
		return nil, err
	}
	for _, story := range stories {
		day := story.PublishDay()
		if day == "" {
			continue
		}
		for _, outlet := range outlets {
			if story.FromOutlet(outlet.Domain) {
				counts[outlet.Domain][day]++
				break
			}
		}
	}
	return counts, nil
}
