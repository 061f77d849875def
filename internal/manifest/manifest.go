// Package manifest tracks collection coverage for a published article file.
// The manifest rides as the first line of the JSONL file it describes, marked
// with "_manifest": true so record readers can skip it.
package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/models"
)

const dayFormat = "2006-01-02"

// DailyRun summarizes the runs that touched the file on one calendar day.
// Count is the number of runs, not records; First and Last are UTC clock
// times of the earliest and latest run.
type DailyRun struct {
	Count int            `json:"count"`
	First string         `json:"first"`
	Last  string         `json:"last"`
	Mode  models.RunMode `json:"mode"`
}

// Coverage describes the date range the file spans.
type Coverage struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// Manifest is the typed header record. IsManifest is always true on write;
// it exists so the marker key appears first in the serialized line.
type Manifest struct {
	IsManifest     bool                `json:"_manifest"`
	Topic          string              `json:"topic"`
	Coverage       Coverage            `json:"coverage"`
	DatesCollected []string            `json:"dates_collected"`
	DailyRuns      map[string]DailyRun `json:"daily_runs"`
	RecordCount    int                 `json:"record_count"`
	Gaps           []string            `json:"gaps"`
}

// New creates an empty manifest for a topic starting at startDate.
func New(topic, startDate string) *Manifest {
	return &Manifest{
		IsManifest:     true,
		Topic:          topic,
		Coverage:       Coverage{StartDate: startDate},
		DatesCollected: []string{},
		DailyRuns:      map[string]DailyRun{},
		Gaps:           []string{},
	}
}

// Parse decodes a manifest from a single line. The second return is false
// when the line is not a manifest record.
func Parse(line []byte) (*Manifest, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, false
	}

	var m Manifest
	if err := json.Unmarshal(trimmed, &m); err != nil || !m.IsManifest {
		return nil, false
	}
	if m.DailyRuns == nil {
		m.DailyRuns = map[string]DailyRun{}
	}
	return &m, true
}

// ReadFile loads the manifest from the first line of a JSONL file. A missing
// file or a file without a manifest header yields (nil, nil).
func ReadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return nil, scanner.Err()
	}
	m, ok := Parse(scanner.Bytes())
	if !ok {
		return nil, nil
	}
	return m, nil
}

// Line serializes the manifest as one JSONL line, newline included.
func (m *Manifest) Line() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	m.IsManifest = true
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UpdateAfterRun records one completed run: the days it touched, how many
// records it added, and its mode. Coverage, run tallies, and gaps are all
// recomputed. The daily run entry is keyed by the wall-clock day of now, and
// its count is the number of runs that day.
func (m *Manifest) UpdateAfterRun(datesAdded []string, newRecords int, mode models.RunMode, now time.Time) {
	now = now.UTC()
	today := now.Format(dayFormat)
	clock := now.Format("15:04:05Z")

	seen := make(map[string]bool, len(m.DatesCollected)+len(datesAdded))
	for _, d := range m.DatesCollected {
		seen[d] = true
	}
	for _, d := range datesAdded {
		seen[d] = true
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	m.DatesCollected = dates

	if m.DailyRuns == nil {
		m.DailyRuns = map[string]DailyRun{}
	}
	run, ok := m.DailyRuns[today]
	if !ok {
		run = DailyRun{First: clock, Mode: mode}
	}
	run.Count++
	run.Last = clock
	m.DailyRuns[today] = run

	if len(m.DatesCollected) > 0 {
		m.Coverage.EndDate = m.DatesCollected[len(m.DatesCollected)-1]
	}
	m.Coverage.LastUpdated = now.Format(time.RFC3339)
	m.RecordCount += newRecords

	if start, err := time.Parse(dayFormat, m.Coverage.StartDate); err == nil && m.Coverage.EndDate != "" {
		if end, err := time.Parse(dayFormat, m.Coverage.EndDate); err == nil {
			m.Gaps = DetectGaps(m.DatesCollected, start, end)
		}
	}
}

// DetectGaps returns every day between start and end inclusive that is not
// in datesCollected. An empty collection has no gaps by definition.
func DetectGaps(datesCollected []string, start, end time.Time) []string {
	if len(datesCollected) == 0 {
		return []string{}
	}

	collected := make(map[string]bool, len(datesCollected))
	for _, d := range datesCollected {
		collected[d] = true
	}

	gaps := []string{}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if s := day.Format(dayFormat); !collected[s] {
			gaps = append(gaps, s)
		}
	}
	return gaps
}

// DatesToCollect returns the days from topicStart through today that the
// manifest has not yet seen, ascending. A nil manifest means nothing has
// been collected.
func DatesToCollect(m *Manifest, topicStart, today time.Time) []string {
	collected := map[string]bool{}
	if m != nil {
		for _, d := range m.DatesCollected {
			collected[d] = true
		}
	}

	var missing []string
	for day := topicStart; !day.After(today); day = day.AddDate(0, 0, 1) {
		if s := day.Format(dayFormat); !collected[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
