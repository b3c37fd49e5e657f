package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"odds_harvester/models"
)

// htmlStrategy is the fallback for dates where the site serves rendered
// tables instead of the data payload. One .game-row per game, one
// .odds-cell per sportsbook.
type htmlStrategy struct{}

func (s *htmlStrategy) Name() string { return "html" }

func (s *htmlStrategy) Extract(page []byte, betType models.BetType, date time.Time, sourceURL string) ([]rawCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []rawCandidate
	doc.Find("[data-game-id]").Each(func(_ int, row *goquery.Selection) {
		gameID, _ := row.Attr("data-game-id")

		cand := rawCandidate{
			SourceGameID: gameID,
			HomeTeam:     strings.TrimSpace(row.Find(".home-team").First().Text()),
			AwayTeam:     strings.TrimSpace(row.Find(".away-team").First().Text()),
			ScheduledAt:  date,
			BetType:      betType,
			SourceURL:    sourceURL,
		}

		if raw, ok := row.Attr("data-start-time"); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				cand.ScheduledAt = t
			}
		}

		row.Find(".odds-cell").Each(func(_ int, cell *goquery.Selection) {
			entry := extractOddsCell(cell, betType)
			if entry.Sportsbook != "" {
				cand.Odds = append(cand.Odds, entry)
			}
		})

		out = append(out, cand)
	})

	return out, nil
}

func extractOddsCell(cell *goquery.Selection, betType models.BetType) models.OddsEntry {
	book, _ := cell.Attr("data-book")
	entry := models.OddsEntry{Sportsbook: book, BetType: betType}

	switch betType {
	case models.BetMoneyline:
		entry.HomeMoneyline = cellInt(cell, ".home-price")
		entry.AwayMoneyline = cellInt(cell, ".away-price")
	case models.BetSpread:
		entry.HomeSpread = cellFloat(cell, ".home-line")
		entry.HomeSpreadPrice = cellInt(cell, ".home-price")
		entry.AwaySpreadPrice = cellInt(cell, ".away-price")
	case models.BetTotal:
		entry.Total = cellFloat(cell, ".line")
		entry.OverPrice = cellInt(cell, ".over-price")
		entry.UnderPrice = cellInt(cell, ".under-price")
	}
	return entry
}

func cellInt(cell *goquery.Selection, selector string) *int {
	text := cleanNumber(cell.Find(selector).First().Text())
	if text == "" {
		return nil
	}
	if v, err := strconv.Atoi(text); err == nil {
		return &v
	}
	return nil
}

func cellFloat(cell *goquery.Selection, selector string) *float64 {
	text := cleanNumber(cell.Find(selector).First().Text())
	if text == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return &v
	}
	return nil
}

// cleanNumber strips the display decorations sites put on prices ("+110",
// "o8.5", non-breaking spaces).
func cleanNumber(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, " ", " "))
	text = strings.TrimPrefix(text, "o")
	text = strings.TrimPrefix(text, "u")
	text = strings.TrimPrefix(text, "+")
	return strings.TrimSpace(text)
}
