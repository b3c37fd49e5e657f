package parser

import (
	"errors"
	"strings"
	"time"

	"odds_harvester/models"
)

// Earliest scheduled datetime a candidate may carry. Anything older is a
// parse artifact, not a game.
var historicalLowerBound = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	errMissingID   = errors.New("candidate: empty source game id")
	errBadTeams    = errors.New("candidate: missing or identical teams")
	errBadDatetime = errors.New("candidate: scheduled datetime out of range")
	errEmptyOdds   = errors.New("candidate: no odds entries for declared bet type")
)

// rawCandidate is a strategy's unvalidated output.
type rawCandidate struct {
	SourceGameID string
	HomeTeam     string
	AwayTeam     string
	ScheduledAt  time.Time
	BetType      models.BetType
	Odds         []models.OddsEntry
	SourceURL    string
}

// NewCandidateRecord validates a raw candidate and returns it in the contract
// shape, failing on the first violated invariant.
func NewCandidateRecord(raw rawCandidate) (models.CandidateRecord, error) {
	var rec models.CandidateRecord

	id := strings.TrimSpace(raw.SourceGameID)
	if id == "" {
		return rec, errMissingID
	}

	home := NormalizeTeam(raw.HomeTeam)
	away := NormalizeTeam(raw.AwayTeam)
	if home == "" || away == "" || home == away {
		return rec, errBadTeams
	}

	if raw.ScheduledAt.Before(historicalLowerBound) {
		return rec, errBadDatetime
	}

	if len(raw.Odds) == 0 {
		return rec, errEmptyOdds
	}

	return models.CandidateRecord{
		SourceGameID: id,
		HomeTeam:     home,
		AwayTeam:     away,
		ScheduledAt:  raw.ScheduledAt,
		BetType:      raw.BetType,
		Odds:         raw.Odds,
		SourceURL:    raw.SourceURL,
	}, nil
}

// NormalizeTeam collapses whitespace and case so the same club seen on
// different pages compares equal. Correlation relies on this form too.
func NormalizeTeam(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, " ")
}
