package models

import "time"

// BetType determines which fields a BettingLine carries.
type BetType string

const (
	BetMoneyline BetType = "moneyline"
	BetSpread    BetType = "spread"
	BetTotal     BetType = "total"
)

// KnownBetType reports whether t is one of the three supported markets.
func KnownBetType(t BetType) bool {
	switch t {
	case BetMoneyline, BetSpread, BetTotal:
		return true
	}
	return false
}

// OddsEntry is one sportsbook's raw quote as extracted from a page, before
// normalization. Field names upstream vary between page revisions, so the
// parser maps whatever it finds into this shape; nil means absent.
type OddsEntry struct {
	Sportsbook string  `json:"sportsbook"`
	BetType    BetType `json:"bet_type,omitempty"` // may be empty when the record-level tag applies

	HomeMoneyline *int `json:"home_moneyline,omitempty"`
	AwayMoneyline *int `json:"away_moneyline,omitempty"`

	HomeSpread      *float64 `json:"home_spread,omitempty"`
	HomeSpreadPrice *int     `json:"home_spread_price,omitempty"`
	AwaySpreadPrice *int     `json:"away_spread_price,omitempty"`

	Total      *float64 `json:"total,omitempty"`
	OverPrice  *int     `json:"over_price,omitempty"`
	UnderPrice *int     `json:"under_price,omitempty"`
}

// CandidateRecord is the parser's output contract: one game plus the odds
// entries found for it on a single page. Construct via parser.NewCandidateRecord
// so the invariants (non-empty id, distinct teams, sane datetime, odds present)
// hold before anything reaches staging.
type CandidateRecord struct {
	SourceGameID string      `json:"source_game_id"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	ScheduledAt  time.Time   `json:"scheduled_at"`
	BetType      BetType     `json:"bet_type"`
	Odds         []OddsEntry `json:"odds"`
	SourceURL    string      `json:"source_url"`
}
