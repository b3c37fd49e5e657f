package services

import (
	"time"

	"github.com/google/uuid"

	"odds_harvester/models"
)

// NormalizeStats counts what happened to a record's odds entries during
// normalization.
type NormalizeStats struct {
	Lines       int // betting lines produced
	Substituted int // spread entries downgraded to moneyline
	Dropped     int // entries with no resolvable market
}

// NormalizeOdds turns raw odds entries into append-only betting lines. The
// record-level bet type applies to every entry unless the entry carries its
// own known tag; entries whose resolved type has no usable fields are dropped.
//
// Upstream sometimes serves a moneyline pair where a spread was requested.
// Those entries become moneyline lines rather than being dropped, and the
// substitution is counted so the run summary surfaces it.
func NormalizeOdds(gameID uuid.UUID, recordType models.BetType, entries []models.OddsEntry, observedAt time.Time) ([]models.BettingLine, NormalizeStats) {
	var lines []models.BettingLine
	var stats NormalizeStats

	for i := range entries {
		entry := &entries[i]
		betType := recordType
		if entry.BetType != "" && models.KnownBetType(entry.BetType) {
			betType = entry.BetType
		}

		line := models.BettingLine{
			GameID:     gameID,
			Sportsbook: entry.Sportsbook,
			BetType:    betType,
			ObservedAt: observedAt,
		}

		switch betType {
		case models.BetMoneyline:
			if entry.HomeMoneyline == nil && entry.AwayMoneyline == nil {
				stats.Dropped++
				continue
			}
			line.HomeMoneyline = entry.HomeMoneyline
			line.AwayMoneyline = entry.AwayMoneyline

		case models.BetSpread:
			if entry.HomeSpread == nil {
				if entry.HomeMoneyline == nil && entry.AwayMoneyline == nil {
					stats.Dropped++
					continue
				}
				line.BetType = models.BetMoneyline
				line.HomeMoneyline = entry.HomeMoneyline
				line.AwayMoneyline = entry.AwayMoneyline
				stats.Substituted++
				break
			}
			line.HomeSpread = entry.HomeSpread
			line.HomeSpreadPrice = entry.HomeSpreadPrice
			line.AwaySpreadPrice = entry.AwaySpreadPrice

		case models.BetTotal:
			if entry.Total == nil {
				stats.Dropped++
				continue
			}
			line.Total = entry.Total
			line.OverPrice = entry.OverPrice
			line.UnderPrice = entry.UnderPrice

		default:
			stats.Dropped++
			continue
		}

		lines = append(lines, line)
		stats.Lines++
	}

	return lines, stats
}
