package domain

import "time"

// Group outcome statuses.
const (
	StatusCommitted  = "committed"
	StatusConflict   = "conflict"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// GroupOutcome is the result of processing one time-group in a run.
type GroupOutcome struct {
	Key       string    `json:"key"`
	Product   string    `json:"product"`
	Format    string    `json:"format,omitempty"`
	ValidTime time.Time `json:"valid_time"`
	Files     []string  `json:"files"`
	Dropped   []string  `json:"dropped,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Created   bool      `json:"created_group,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`
}

// Report summarizes one ingestion run.
type Report struct {
	RunID           string         `json:"run_id"`
	Target          time.Time      `json:"target"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	FilesDiscovered int            `json:"files_discovered"`
	FilesStaged     int            `json:"files_staged"`
	FetchFailures   int            `json:"fetch_failures"`
	ListingErrors   []string       `json:"listing_errors,omitempty"`
	Skipped         []string       `json:"skipped,omitempty"`
	Groups          []GroupOutcome `json:"groups"`
}

// Committed counts the groups that reached the store.
func (r Report) Committed() int {
	n := 0
	for _, g := range r.Groups {
		if g.Status == StatusCommitted {
			n++
		}
	}
	return n
}
