package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Game is the canonical, deduplicated representation of one real-world game.
// SourceGameID is the odds site's id and is unique across the table; ScheduleGameID
// is filled in when correlation against the authoritative schedule is confident.
type Game struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	SourceGameID   string          `json:"source_game_id" db:"source_game_id"`
	ScheduleGameID *string         `json:"schedule_game_id" db:"schedule_game_id"`
	HomeTeam       string          `json:"home_team" db:"home_team"`
	AwayTeam       string          `json:"away_team" db:"away_team"`
	ScheduledAt    time.Time       `json:"scheduled_at" db:"scheduled_at"`
	Venue          string          `json:"venue" db:"venue"`
	HomeScore      *int            `json:"home_score" db:"home_score"`
	AwayScore      *int            `json:"away_score" db:"away_score"`
	Confidence     *float64        `json:"correlation_confidence" db:"correlation_confidence"`
	Details        json.RawMessage `json:"details" db:"details"`
	DetailedAt     *time.Time      `json:"detailed_at" db:"detailed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// BettingLine is one sportsbook's quote for one bet type at one observed time.
// Rows are append-only; a correction from upstream arrives as a new row with a
// later ObservedAt, never as an update.
type BettingLine struct {
	ID         int64     `json:"id" db:"id"`
	GameID     uuid.UUID `json:"game_id" db:"game_id"`
	Sportsbook string    `json:"sportsbook" db:"sportsbook"`
	BetType    BetType   `json:"bet_type" db:"bet_type"`

	// Moneyline
	HomeMoneyline *int `json:"home_moneyline" db:"home_moneyline"`
	AwayMoneyline *int `json:"away_moneyline" db:"away_moneyline"`

	// Spread (line is from the home side's perspective)
	HomeSpread      *float64 `json:"home_spread" db:"home_spread"`
	HomeSpreadPrice *int     `json:"home_spread_price" db:"home_spread_price"`
	AwaySpreadPrice *int     `json:"away_spread_price" db:"away_spread_price"`

	// Total
	Total      *float64 `json:"total" db:"total"`
	OverPrice  *int     `json:"over_price" db:"over_price"`
	UnderPrice *int     `json:"under_price" db:"under_price"`

	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
