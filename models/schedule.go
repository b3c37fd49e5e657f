package models

import "time"

// ScheduleEntry is one externally-scheduled game from the authoritative source.
// Read-only; fetched and cached per date.
type ScheduleEntry struct {
	GameID       string    `json:"game_id"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Venue        string    `json:"venue"`
	DoubleHeader bool      `json:"double_header"`
	GameNumber   int       `json:"game_number"` // 1 or 2 within a double-header
	HomeScore    *int      `json:"home_score"`
	AwayScore    *int      `json:"away_score"`
	Final        bool      `json:"final"`
}

// DetailedGameData is the per-game detail payload used for enrichment past
// what correlation itself needs.
type DetailedGameData struct {
	GameID         string `json:"game_id"`
	Venue          string `json:"venue"`
	Weather        string `json:"weather"`
	Wind           string `json:"wind"`
	HomeProbable   string `json:"home_probable_pitcher"`
	AwayProbable   string `json:"away_probable_pitcher"`
	AttendanceNote string `json:"attendance_note"`
}

// CorrelationResult is the outcome of matching a candidate game against the
// schedule for its date. Matched is nil when no entry scored above zero.
type CorrelationResult struct {
	Confidence float64        `json:"confidence"`
	Matched    *ScheduleEntry `json:"matched"`
	Reasons    []string       `json:"reasons"`
}

// Confident reports whether the result is strong enough to attach as
// enrichment. Lower-confidence results are valid non-error outcomes.
func (r CorrelationResult) Confident(threshold float64) bool {
	return r.Matched != nil && r.Confidence >= threshold
}
