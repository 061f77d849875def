package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cstaal88/mina-pipeline/internal/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func sampleRun(topic string, started time.Time) *models.RunRecord {
	return &models.RunRecord{
		Topic:      topic,
		Mode:       models.RunModeManual,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Fetched:    40,
		Skipped:    5,
		Scraped:    35,
		Added:      20,
		Steps: []models.StepTiming{
			{Name: "fetch", Seconds: 30},
			{Name: "scrape", Seconds: 50},
			{Name: "clean", Seconds: 10},
		},
	}
}

func TestRecordAssignsID(t *testing.T) {
	s, _ := openTestStore(t)
	r := sampleRun("greenland", time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC))

	if err := s.Record(context.Background(), r); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if r.ID == "" {
		t.Fatal("id not assigned")
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		t.Errorf("id %q is not a uuid: %v", r.ID, err)
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	for i, topic := range []string{"greenland", "greenland", "panama"} {
		if err := s.Record(ctx, sampleRun(topic, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	runs, err := s.RecentRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].Topic != "panama" {
		t.Errorf("newest run topic = %q, want panama", runs[0].Topic)
	}
	if !runs[0].StartedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("newest started_at = %v", runs[0].StartedAt)
	}
	if len(runs[0].Steps) != 3 || runs[0].Steps[1].Name != "scrape" || runs[0].Steps[1].Seconds != 50 {
		t.Errorf("steps did not round-trip: %+v", runs[0].Steps)
	}
	if runs[0].Duration() != 90*time.Second {
		t.Errorf("duration = %v", runs[0].Duration())
	}
}

func TestRecentRunsTopicFilter(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	s.Record(ctx, sampleRun("greenland", base))
	s.Record(ctx, sampleRun("panama", base.Add(time.Hour)))

	runs, err := s.RecentRuns(ctx, "greenland", 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Topic != "greenland" {
		t.Errorf("runs = %+v, want only greenland", runs)
	}
}

func TestRecentRunsLimit(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Record(ctx, sampleRun("greenland", base.Add(time.Duration(i)*time.Minute)))
	}

	runs, err := s.RecentRuns(ctx, "", 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}

func TestRecordsFailedRun(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	r := sampleRun("greenland", time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC))
	r.Error = "clean: join integrity fault"
	r.Steps = nil
	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := s.RecentRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if runs[0].Succeeded() {
		t.Error("failed run reported as succeeded")
	}
	if runs[0].Error != "clean: join integrity fault" {
		t.Errorf("error = %q", runs[0].Error)
	}
	if runs[0].Steps != nil {
		t.Errorf("steps = %+v, want none", runs[0].Steps)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, sampleRun("greenland", time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	runs, err := reopened.RecentRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs after reopen, want 1", len(runs))
	}
}
