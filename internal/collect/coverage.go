package collect

import (
	"context"
	"fmt"
	"os"

	"github.com/cstaal88/mina-pipeline/internal/config"
)

// DayCoverage is one row of the per-day coverage report: how many records
// are held across every configured outlet versus how many the API says
// exist. Available is -1 when any outlet's count could not be resolved.
type DayCoverage struct {
	Day           string
	Downloaded    int
	Available     int
	LowConfidence bool
}

// Complete reports whether the day needs no further fetching.
func (d DayCoverage) Complete() bool {
	return d.Available >= 0 && d.Downloaded >= d.Available
}

// Cell is one (day, outlet) entry of the coverage grid. Avail is -1 when
// the count lookup failed; LowConfidence marks counts the API reported
// without a usable total.
type Cell struct {
	Have          int
	Avail         int
	LowConfidence bool
}

// Complete reports whether the cell's unit needs no further fetching.
func (c Cell) Complete() bool {
	return c.Avail >= 0 && c.Have >= c.Avail
}

// CoverageTable is the full grid for one topic: days down, outlets across.
type CoverageTable struct {
	Days    []string
	Outlets []config.Outlet
	Cells   map[string]map[string]Cell // day -> outlet domain -> cell
}

// Coverage builds the per-day report for a topic. Counts come fresh from
// the API each time; held records are tallied across every run day on disk,
// not just the current one.
func (e *Engine) Coverage(ctx context.Context, opts Options) ([]DayCoverage, error) {
	start, end, err := e.resolveWindow(opts)
	if err != nil {
		return nil, err
	}

	counts, err := e.heldCounts(opts.Topic)
	if err != nil {
		return nil, err
	}

	var rows []DayCoverage
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		dayStr := day.Format(dayFormat)
		row := DayCoverage{Day: dayStr}
		for _, outlet := range opts.Topic.Outlets {
			row.Downloaded += counts[outlet.Domain][dayStr]
		}
		for _, outlet := range opts.Topic.Outlets {
			avail, confident := e.lookupExpected(ctx, opts.Topic.Query, dayStr, outlet.ID)
			if avail < 0 {
				row.Available = -1
				break
			}
			row.Available += avail
			if !confident {
				row.LowConfidence = true
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CoverageGrid builds the per-outlet grid for a topic, one cell per
// (day, outlet) unit.
func (e *Engine) CoverageGrid(ctx context.Context, opts Options) (*CoverageTable, error) {
	start, end, err := e.resolveWindow(opts)
	if err != nil {
		return nil, err
	}

	counts, err := e.heldCounts(opts.Topic)
	if err != nil {
		return nil, err
	}

	table := &CoverageTable{
		Outlets: opts.Topic.Outlets,
		Cells:   map[string]map[string]Cell{},
	}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return table, err
		}

		dayStr := day.Format(dayFormat)
		table.Days = append(table.Days, dayStr)
		table.Cells[dayStr] = map[string]Cell{}
		for _, outlet := range opts.Topic.Outlets {
			avail, confident := e.lookupExpected(ctx, opts.Topic.Query, dayStr, outlet.ID)
			table.Cells[dayStr][outlet.Domain] = Cell{
				Have:          counts[outlet.Domain][dayStr],
				Avail:         avail,
				LowConfidence: avail >= 0 && !confident,
			}
		}
	}
	return table, nil
}

// heldCounts tallies records per (outlet, publish day) across every run-day
// directory for the topic. A missing topic directory simply means nothing
// has been collected yet.
func (e *Engine) heldCounts(topic config.Topic) (map[string]map[string]int, error) {
	merged := make(map[string]map[string]int, len(topic.Outlets))
	for _, outlet := range topic.Outlets {
		merged[outlet.Domain] = map[string]int{}
	}

	entries, err := os.ReadDir(e.paths.TopicRawDir(topic.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return merged, nil
		}
		return nil, fmt.Errorf("listing run days: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		counts, err := countByOutletDay(e.paths.URLsFile(topic.Name, entry.Name()), topic.Outlets)
		if err != nil {
			return nil, err
		}
		for domain, days := range counts {
			for day, n := range days {
				merged[domain][day] += n
			}
		}
	}
	return merged, nil
}
