package models

import "time"

// RunMode distinguishes operator-initiated pipeline runs from scheduled ones.
type RunMode string

const (
	RunModeManual    RunMode = "manual"
	RunModeAutomated RunMode = "automated"
)

// StepTiming records how long one pipeline step took.
type StepTiming struct {
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
}

// RunRecord is the ledger entry for one pipeline run. The orchestrator fills
// it in as steps complete; the run ledger persists it and the daemon serves
// recent entries over HTTP.
type RunRecord struct {
	ID         string       `json:"id"`
	Topic      string       `json:"topic"`
	Mode       RunMode      `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Fetched    int          `json:"fetched"`
	Skipped    int          `json:"skipped"`
	Scraped    int          `json:"scraped"`
	Added      int          `json:"added"`
	Steps      []StepTiming `json:"steps,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Duration returns total wall-clock time for the run.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run completed without a recorded error.
func (r *RunRecord) Succeeded() bool {
	return r.Error == ""
}
