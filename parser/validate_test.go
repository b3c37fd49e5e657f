package parser

import (
	"testing"
	"time"

	"odds_harvester/models"
)

func validRaw() rawCandidate {
	ml := -110
	return rawCandidate{
		SourceGameID: "mlb-1",
		HomeTeam:     "Boston Red Sox",
		AwayTeam:     "New York Yankees",
		ScheduledAt:  time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC),
		BetType:      models.BetMoneyline,
		Odds: []models.OddsEntry{
			{Sportsbook: "fanduel", HomeMoneyline: &ml},
		},
		SourceURL: "https://example.test",
	}
}

func TestNewCandidateRecordValid(t *testing.T) {
	rec, err := NewCandidateRecord(validRaw())
	if err != nil {
		t.Fatalf("expected valid record: %v", err)
	}
	if rec.HomeTeam != "boston red sox" {
		t.Fatalf("team not normalized: %s", rec.HomeTeam)
	}
}

func TestNewCandidateRecordEmptyOddsDropped(t *testing.T) {
	raw := validRaw()
	raw.Odds = nil

	_, err := NewCandidateRecord(raw)
	if err != errEmptyOdds {
		t.Fatalf("expected errEmptyOdds, got %v", err)
	}

	var stats DropStats
	stats.count(err)
	if stats.EmptyOdds != 1 || stats.Total() != 1 {
		t.Fatalf("drop not counted: %+v", stats)
	}
}

func TestNewCandidateRecordInvariants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*rawCandidate)
		want   error
	}{
		{"empty id", func(r *rawCandidate) { r.SourceGameID = "  " }, errMissingID},
		{"missing home", func(r *rawCandidate) { r.HomeTeam = "" }, errBadTeams},
		{"identical teams", func(r *rawCandidate) { r.AwayTeam = "Boston  RED sox" }, errBadTeams},
		{"ancient datetime", func(r *rawCandidate) { r.ScheduledAt = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC) }, errBadDatetime},
	}

	for _, tc := range cases {
		raw := validRaw()
		tc.mutate(&raw)
		if _, err := NewCandidateRecord(raw); err != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestNormalizeTeam(t *testing.T) {
	if got := NormalizeTeam("  New   York  Yankees "); got != "new york yankees" {
		t.Fatalf("unexpected normalization %q", got)
	}
}
