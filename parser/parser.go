package parser

import (
	"bytes"
	"fmt"
	"time"

	"odds_harvester/models"
)

// Strategy turns one page body into candidate records. Two implementations
// exist: a JSON extractor for the embedded data payload and an HTML table
// fallback. Callers never see which one ran.
type Strategy interface {
	Name() string
	Extract(page []byte, betType models.BetType, date time.Time, sourceURL string) ([]rawCandidate, error)
}

// DropStats counts candidates rejected before staging, by reason.
type DropStats struct {
	MissingID   int
	BadTeams    int
	BadDatetime int
	EmptyOdds   int
}

func (d *DropStats) Total() int {
	return d.MissingID + d.BadTeams + d.BadDatetime + d.EmptyOdds
}

// Parser selects a strategy by sniffing the page content, then validates
// every extracted candidate through the fallible builder. Invalid candidates
// are dropped and counted, never staged.
type Parser struct {
	json Strategy
	html Strategy
}

func New() *Parser {
	return &Parser{
		json: &jsonStrategy{},
		html: &htmlStrategy{},
	}
}

// Parse returns only valid candidates plus drop counts. A page that fits
// neither strategy is an error; an empty result is not.
func (p *Parser) Parse(page []byte, betType models.BetType, date time.Time, sourceURL string) ([]models.CandidateRecord, DropStats, error) {
	var stats DropStats

	strategy := p.pickStrategy(page)
	if strategy == nil {
		return nil, stats, fmt.Errorf("parse %s: unrecognized content", sourceURL)
	}

	raws, err := strategy.Extract(page, betType, date, sourceURL)
	if err != nil {
		return nil, stats, fmt.Errorf("parse %s (%s): %w", sourceURL, strategy.Name(), err)
	}

	var records []models.CandidateRecord
	for _, raw := range raws {
		rec, err := NewCandidateRecord(raw)
		if err != nil {
			stats.count(err)
			continue
		}
		records = append(records, rec)
	}
	return records, stats, nil
}

// pickStrategy sniffs the body: JSON payloads first, HTML fallback.
func (p *Parser) pickStrategy(page []byte) Strategy {
	trimmed := bytes.TrimLeft(page, " \t\r\n")
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return p.json
	}
	if trimmed[0] == '<' {
		return p.html
	}
	return nil
}

func (d *DropStats) count(err error) {
	switch err {
	case errMissingID:
		d.MissingID++
	case errBadTeams:
		d.BadTeams++
	case errBadDatetime:
		d.BadDatetime++
	case errEmptyOdds:
		d.EmptyOdds++
	default:
		d.EmptyOdds++
	}
}
