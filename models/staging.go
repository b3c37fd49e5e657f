package models

import (
	"encoding/json"
	"time"
)

type CaptureStatus string

const (
	CaptureStatusNew       CaptureStatus = "new"
	CaptureStatusProcessed CaptureStatus = "processed"
	CaptureStatusFailed    CaptureStatus = "failed"
)

// RawCapture is one fetched page body keyed by URL. Re-fetching the same URL
// overwrites the body and fetch time and resets status to new.
type RawCapture struct {
	URL       string        `json:"url" db:"url"`
	Body      []byte        `json:"-" db:"body"`
	BetType   BetType       `json:"bet_type" db:"bet_type"`
	FetchedAt time.Time     `json:"fetched_at" db:"fetched_at"`
	Status    CaptureStatus `json:"status" db:"status"`
}

type StagedStatus string

const (
	StagedStatusNew       StagedStatus = "new"
	StagedStatusParsed    StagedStatus = "parsed"
	StagedStatusLoaded    StagedStatus = "loaded"
	StagedStatusDuplicate StagedStatus = "duplicate"
	StagedStatusFailed    StagedStatus = "failed"
)

// Terminal reports whether a staged row has reached a final status and must
// never be picked up by promotion again.
func (s StagedStatus) Terminal() bool {
	switch s {
	case StagedStatusLoaded, StagedStatusDuplicate, StagedStatusFailed:
		return true
	}
	return false
}

// StagedRecord is one parsed candidate waiting for promotion. Odds holds the
// JSON-encoded []OddsEntry exactly as the parser produced it.
type StagedRecord struct {
	ID           int64           `json:"id" db:"id"`
	SourceGameID string          `json:"source_game_id" db:"source_game_id"`
	HomeTeam     string          `json:"home_team" db:"home_team"`
	AwayTeam     string          `json:"away_team" db:"away_team"`
	ScheduledAt  time.Time       `json:"scheduled_at" db:"scheduled_at"`
	BetType      BetType         `json:"bet_type" db:"bet_type"`
	Odds         json.RawMessage `json:"odds" db:"odds"`
	SourceURL    string          `json:"source_url" db:"source_url"`
	CaptureURL   string          `json:"capture_url" db:"capture_url"`
	Status       StagedStatus    `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at" db:"processed_at"`
}

// OddsEntries decodes the stored odds payload.
func (r *StagedRecord) OddsEntries() ([]OddsEntry, error) {
	var entries []OddsEntry
	if err := json.Unmarshal(r.Odds, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
