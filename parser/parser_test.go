package parser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"odds_harvester/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func TestParseJSONPayload(t *testing.T) {
	p := New()
	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	data := loadFixture(t, "odds_payload.json")

	records, drops, err := p.Parse(data, models.BetMoneyline, date, "https://example.test/ml")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.SourceGameID != "mlb-401568" {
		t.Fatalf("unexpected game id %s", first.SourceGameID)
	}
	if first.HomeTeam != "boston red sox" || first.AwayTeam != "new york yankees" {
		t.Fatalf("unexpected teams %s / %s", first.HomeTeam, first.AwayTeam)
	}
	if !first.ScheduledAt.Equal(time.Date(2024, 6, 1, 23, 10, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start time %s", first.ScheduledAt)
	}
	if len(first.Odds) != 2 {
		t.Fatalf("expected 2 odds entries, got %d", len(first.Odds))
	}
	if first.Odds[0].Sportsbook != "fanduel" {
		t.Fatalf("unexpected book %s", first.Odds[0].Sportsbook)
	}
	if first.Odds[0].HomeMoneyline == nil || *first.Odds[0].HomeMoneyline != -120 {
		t.Fatal("homeMl variant not resolved")
	}
	if first.Odds[1].HomeMoneyline == nil || *first.Odds[1].HomeMoneyline != -118 {
		t.Fatal("home_moneyline variant not resolved")
	}

	second := records[1]
	if second.Odds[0].Total == nil || *second.Odds[0].Total != 8.5 {
		t.Fatal("overUnder variant not resolved")
	}

	// Third game has empty id, identical teams, and no odds: dropped.
	if drops.Total() != 1 {
		t.Fatalf("expected 1 drop, got %d", drops.Total())
	}
}

func TestParseHTMLFallback(t *testing.T) {
	p := New()
	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	data := loadFixture(t, "odds_table.html")

	records, drops, err := p.Parse(data, models.BetSpread, date, "https://example.test/spread")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if drops.Total() != 0 {
		t.Fatalf("expected no drops, got %d", drops.Total())
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.SourceGameID != "mlb-401570" {
		t.Fatalf("unexpected game id %s", rec.SourceGameID)
	}
	if rec.HomeTeam != "san francisco giants" {
		t.Fatalf("unexpected home team %s", rec.HomeTeam)
	}
	if !rec.ScheduledAt.Equal(time.Date(2024, 6, 1, 20, 5, 0, 0, time.UTC)) {
		t.Fatalf("start time attr not used: %s", rec.ScheduledAt)
	}
	if len(rec.Odds) != 2 {
		t.Fatalf("expected 2 books, got %d", len(rec.Odds))
	}
	fd := rec.Odds[0]
	if fd.Sportsbook != "fanduel" {
		t.Fatalf("unexpected book %s", fd.Sportsbook)
	}
	if fd.HomeSpread == nil || *fd.HomeSpread != -1.5 {
		t.Fatal("home spread not extracted")
	}
	if fd.HomeSpreadPrice == nil || *fd.HomeSpreadPrice != 124 {
		t.Fatal("home spread price not extracted")
	}
}

func TestParseUnrecognizedContent(t *testing.T) {
	p := New()
	_, _, err := p.Parse([]byte("plain text garbage"), models.BetTotal, time.Now(), "u")
	if err == nil {
		t.Fatal("expected error for unrecognized content")
	}
}
