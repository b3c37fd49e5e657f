package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary is the durable output artifact of one collection run.
type RunSummary struct {
	ID         int64      `json:"id" db:"id"`
	StartDate  string     `json:"start_date" db:"start_date"`
	EndDate    string     `json:"end_date" db:"end_date"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     RunStatus  `json:"status" db:"status"`

	PagesFetched  int `json:"pages_fetched" db:"pages_fetched"`
	PagesFailed   int `json:"pages_failed" db:"pages_failed"`
	CacheHits     int `json:"cache_hits" db:"cache_hits"`
	RecordsStaged int `json:"records_staged" db:"records_staged"`
	Dropped       int `json:"dropped" db:"dropped"`

	GamesStored int `json:"games_stored" db:"games_stored"`
	LinesStored int `json:"lines_stored" db:"lines_stored"`
	Duplicates  int `json:"duplicates" db:"duplicates"`
	Failures    int `json:"failures" db:"failures"`
	Correlated  int `json:"correlated" db:"correlated"`

	Errors []string `json:"errors" db:"-"`
}

// FetchSuccessRate is pages fetched over pages attempted, 1.0 when nothing
// was attempted.
func (s *RunSummary) FetchSuccessRate() float64 {
	attempted := s.PagesFetched + s.PagesFailed
	if attempted == 0 {
		return 1.0
	}
	return float64(s.PagesFetched) / float64(attempted)
}

// CorrelationRate is confident matches over games stored.
func (s *RunSummary) CorrelationRate() float64 {
	if s.GamesStored == 0 {
		return 0
	}
	return float64(s.Correlated) / float64(s.GamesStored)
}

func (s *RunSummary) ErrorsJSON() json.RawMessage {
	data, err := json.Marshal(s.Errors)
	if err != nil {
		return json.RawMessage("[]")
	}
	return data
}

// Checkpoint records which dates of a multi-day run completed the fetch+stage
// phase, so a restarted run with resume enabled can skip them.
type Checkpoint struct {
	RunKey         string     `json:"run_key"`
	ProcessedDates []string   `json:"processed_dates"` // YYYY-MM-DD, in completion order
	Stats          RunSummary `json:"stats"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Contains reports whether date (YYYY-MM-DD) already completed fetch+stage.
func (c *Checkpoint) Contains(date string) bool {
	for _, d := range c.ProcessedDates {
		if d == date {
			return true
		}
	}
	return false
}
