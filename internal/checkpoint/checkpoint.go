// Package checkpoint tracks which (day, source) collection units have been
// fully fetched, so interrupted runs resume without re-fetching. The
// checkpoint is bound to the query that produced it: a changed query
// invalidates everything.
package checkpoint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Checkpoint is the persisted completion state for one topic.
type Checkpoint struct {
	Completed      map[string][]string `json:"completed"`
	ExpectedCounts map[string]int      `json:"expected_counts"`
	QueryHash      string              `json:"query_hash"`
}

// New returns an empty checkpoint bound to the given query hash.
func New(queryHash string) *Checkpoint {
	return &Checkpoint{
		Completed:      map[string][]string{},
		ExpectedCounts: map[string]int{},
		QueryHash:      queryHash,
	}
}

// QueryHash fingerprints a query string. Only the first 12 hex characters
// are kept; the hash gates checkpoint reuse, nothing more.
func QueryHash(query string) string {
	sum := md5.Sum([]byte(query))
	return hex.EncodeToString(sum[:])[:12]
}

// IsComplete reports whether the (day, source) unit has been fully fetched.
func (c *Checkpoint) IsComplete(day, source string) bool {
	for _, d := range c.Completed[source] {
		if d == day {
			return true
		}
	}
	return false
}

// MarkComplete records a fully fetched unit. Marking twice is a no-op.
func (c *Checkpoint) MarkComplete(day, source string) {
	if c.IsComplete(day, source) {
		return
	}
	if c.Completed == nil {
		c.Completed = map[string][]string{}
	}
	c.Completed[source] = append(c.Completed[source], day)
}

// ExpectedCount returns the cached expected story count for a unit.
func (c *Checkpoint) ExpectedCount(day string, sourceID int64) (int, bool) {
	count, ok := c.ExpectedCounts[expectedKey(day, sourceID)]
	return count, ok
}

// SetExpectedCount caches the expected story count for a unit. Negative
// values mean the count is unknown and are never cached, so the unit cannot
// complete off a failed lookup.
func (c *Checkpoint) SetExpectedCount(day string, sourceID int64, count int) {
	if count < 0 {
		return
	}
	if c.ExpectedCounts == nil {
		c.ExpectedCounts = map[string]int{}
	}
	c.ExpectedCounts[expectedKey(day, sourceID)] = count
}

// CompletedUnits returns the total number of completed (day, source) units.
func (c *Checkpoint) CompletedUnits() int {
	total := 0
	for _, days := range c.Completed {
		total += len(days)
	}
	return total
}

func expectedKey(day string, sourceID int64) string {
	return fmt.Sprintf("%s_%d", day, sourceID)
}
