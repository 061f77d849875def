package collect

import (
	"context"
	"testing"

	"github.com/cstaal88/mina-pipeline/internal/search"
)

func TestCoverageAggregatesAcrossRunDays(t *testing.T) {
	topic := testTopic()
	fake := newFakeSearcher()
	fake.counts["2025-06-09/1"] = search.CountResult{Relevant: 2, Total: 2, Confident: true}
	fake.counts["2025-06-09/2"] = search.CountResult{Relevant: 1, Total: 1, Confident: true}
	fake.counts["2025-06-10/1"] = search.CountResult{Relevant: 1, Total: 1, Confident: true}
	fake.counts["2025-06-10/2"] = search.CountResult{Confident: true}

	e, _, paths := newTestEngine(t, fake)
	seedStories(t, paths.URLsFile(topic.Name, "2025-06-09"),
		story("n1", "2025-06-09", "nytimes.com"),
		story("w1", "2025-06-09", "wsj.com"))
	seedStories(t, paths.URLsFile(topic.Name, "2025-06-10"),
		story("n2", "2025-06-09", "nytimes.com"),
		story("n3", "2025-06-10", "nytimes.com"))

	rows, err := e.Coverage(context.Background(), Options{Topic: topic, StartDate: "2025-06-09"})
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	if rows[0].Day != "2025-06-09" || rows[0].Downloaded != 3 || rows[0].Available != 3 {
		t.Errorf("day one = %+v, want 3 downloaded of 3 available", rows[0])
	}
	if !rows[0].Complete() {
		t.Error("day one should be complete")
	}
	if rows[1].Day != "2025-06-10" || rows[1].Downloaded != 1 || rows[1].Available != 1 {
		t.Errorf("day two = %+v, want 1 downloaded of 1 available", rows[1])
	}
}

func TestCoverageUnknownCountShortCircuits(t *testing.T) {
	topic := testTopic()
	fake := newFakeSearcher()
	fake.counts["2025-06-09/1"] = search.CountResult{Relevant: 1, Total: 1, Confident: true}
	fake.counts["2025-06-09/2"] = search.CountResult{Confident: true}
	// Both 2025-06-10 lookups are unscripted; the first failure must stop
	// the day's availability sum.

	e, _, _ := newTestEngine(t, fake)
	rows, err := e.Coverage(context.Background(), Options{Topic: topic, StartDate: "2025-06-09"})
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}

	if rows[1].Available != -1 {
		t.Errorf("Available = %d, want -1", rows[1].Available)
	}
	if rows[1].Complete() {
		t.Error("day with unknown availability reported complete")
	}

	calls := 0
	for _, q := range fake.countCalls {
		if q.StartDate == "2025-06-10" {
			calls++
		}
	}
	if calls != 1 {
		t.Errorf("count calls for the unknown day = %d, want 1", calls)
	}
}

func TestCoverageMarksLowConfidenceDays(t *testing.T) {
	topic := testTopic()
	fake := newFakeSearcher()
	fake.counts["2025-06-10/1"] = search.CountResult{Relevant: 0, Total: 0, Confident: false}
	fake.counts["2025-06-10/2"] = search.CountResult{Relevant: 1, Total: 1, Confident: true}

	e, _, paths := newTestEngine(t, fake)
	seedStories(t, paths.URLsFile(topic.Name, "2025-06-10"),
		story("w1", "2025-06-10", "wsj.com"))

	rows, err := e.Coverage(context.Background(), Options{Topic: topic, StartDate: "2025-06-10"})
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if !rows[0].LowConfidence {
		t.Error("fallback-zero count not flagged low confidence")
	}
	if rows[0].Downloaded != 1 || rows[0].Available != 1 {
		t.Errorf("row = %+v, want 1 of 1", rows[0])
	}
}

func TestCoverageGridCells(t *testing.T) {
	topic := testTopic()
	fake := newFakeSearcher()
	fake.counts["2025-06-09/1"] = search.CountResult{Relevant: 2, Total: 2, Confident: true}
	fake.counts["2025-06-09/2"] = search.CountResult{Relevant: 1, Total: 1, Confident: true}
	// 2025-06-10/1 unscripted: unknown availability.
	fake.counts["2025-06-10/2"] = search.CountResult{Relevant: 0, Total: 0, Confident: false}

	e, _, paths := newTestEngine(t, fake)
	seedStories(t, paths.URLsFile(topic.Name, "2025-06-10"),
		story("n1", "2025-06-09", "nytimes.com"),
		story("n2", "2025-06-09", "nytimes.com"),
		story("w1", "2025-06-09", "wsj.com"))

	grid, err := e.CoverageGrid(context.Background(), Options{Topic: topic, StartDate: "2025-06-09"})
	if err != nil {
		t.Fatalf("CoverageGrid: %v", err)
	}

	if len(grid.Days) != 2 || grid.Days[0] != "2025-06-09" || grid.Days[1] != "2025-06-10" {
		t.Fatalf("Days = %v", grid.Days)
	}
	if len(grid.Outlets) != 2 {
		t.Fatalf("Outlets = %v", grid.Outlets)
	}

	nyt := grid.Cells["2025-06-09"]["nytimes.com"]
	if nyt.Have != 2 || nyt.Avail != 2 || !nyt.Complete() {
		t.Errorf("nytimes day-one cell = %+v, want complete 2/2", nyt)
	}
	wsj := grid.Cells["2025-06-09"]["wsj.com"]
	if wsj.Have != 1 || wsj.Avail != 1 {
		t.Errorf("wsj day-one cell = %+v, want 1/1", wsj)
	}

	unknown := grid.Cells["2025-06-10"]["nytimes.com"]
	if unknown.Avail != -1 || unknown.Complete() {
		t.Errorf("unknown cell = %+v, want avail -1 and incomplete", unknown)
	}
	fallback := grid.Cells["2025-06-10"]["wsj.com"]
	if !fallback.LowConfidence {
		t.Errorf("fallback cell = %+v, want low confidence", fallback)
	}
	if !fallback.Complete() {
		t.Errorf("fallback cell = %+v, zero of zero should read complete", fallback)
	}
}

func TestCoverageFreshTopic(t *testing.T) {
	topic := testTopic()
	fake := newFakeSearcher()
	for _, day := range []string{"2025-06-08", "2025-06-09", "2025-06-10"} {
		fake.counts[day+"/1"] = search.CountResult{Confident: true}
		fake.counts[day+"/2"] = search.CountResult{Confident: true}
	}

	e, _, _ := newTestEngine(t, fake)
	rows, err := e.Coverage(context.Background(), Options{Topic: topic})
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for _, row := range rows {
		if row.Downloaded != 0 || row.Available != 0 || !row.Complete() {
			t.Errorf("row %s = %+v, want empty and complete", row.Day, row)
		}
	}
}
