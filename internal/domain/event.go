package domain

import "time"

// CommitEvent announces one time-group appended to the store.
type CommitEvent struct {
	RunID           string    `json:"run_id"`
	Key             string    `json:"key"`
	Product         string    `json:"product"`
	Format          string    `json:"format"`
	ValidTime       time.Time `json:"valid_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	Heights         []float64 `json:"heights_km"`
	Rows            int       `json:"rows"`
	Cols            int       `json:"cols"`
	Created         bool      `json:"created_group"`
	Sources         []string  `json:"sources"`
	Summary         Summary   `json:"summary"`
	CommittedAt     time.Time `json:"committed_at"`
}

// NewCommitEvent describes ds as committed now.
func NewCommitEvent(runID string, ds Dataset, created bool, summary Summary) CommitEvent {
	return CommitEvent{
		RunID:           runID,
		Key:             ds.Key(),
		Product:         ds.Name,
		Format:          ds.Format.String(),
		ValidTime:       ds.ValidTime,
		DurationSeconds: int64(ds.Duration / time.Second),
		Heights:         ds.Heights,
		Rows:            ds.Grid.Rows,
		Cols:            ds.Grid.Cols,
		Created:         created,
		Sources:         ds.Sources,
		Summary:         summary,
		CommittedAt:     Now(),
	}
}
