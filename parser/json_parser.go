package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"odds_harvester/models"
)

// jsonStrategy reads the embedded data payload the odds site ships on its
// JSON endpoints. Field names drift between page revisions, so lookups go
// through variant lists rather than a fixed struct.
type jsonStrategy struct{}

func (s *jsonStrategy) Name() string { return "json" }

type jsonPayload struct {
	Games []map[string]any `json:"games"`
}

func (s *jsonStrategy) Extract(page []byte, betType models.BetType, date time.Time, sourceURL string) ([]rawCandidate, error) {
	var payload jsonPayload
	if err := json.Unmarshal(page, &payload); err != nil {
		// Some revisions ship a bare array of games.
		var games []map[string]any
		if err2 := json.Unmarshal(page, &games); err2 != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		payload.Games = games
	}

	var out []rawCandidate
	for _, g := range payload.Games {
		cand := rawCandidate{
			SourceGameID: pickString(g, "gameId", "game_id", "eventId", "id"),
			HomeTeam:     pickString(g, "homeTeam", "home_team", "home"),
			AwayTeam:     pickString(g, "awayTeam", "away_team", "away"),
			BetType:      betType,
			SourceURL:    sourceURL,
		}

		cand.ScheduledAt = pickTime(g, date, "startTime", "start_time", "gameTime", "commenceTime")

		for _, rawEntry := range pickSlice(g, "odds", "lines", "books") {
			entry, ok := decodeOddsEntry(rawEntry)
			if ok {
				cand.Odds = append(cand.Odds, entry)
			}
		}

		out = append(out, cand)
	}
	return out, nil
}

func decodeOddsEntry(raw any) (models.OddsEntry, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return models.OddsEntry{}, false
	}

	entry := models.OddsEntry{
		Sportsbook: pickString(m, "sportsbook", "book", "provider"),
		BetType:    models.BetType(pickString(m, "betType", "bet_type", "market")),

		HomeMoneyline: pickInt(m, "homeMl", "home_ml", "homeMoneyline", "home_moneyline"),
		AwayMoneyline: pickInt(m, "awayMl", "away_ml", "awayMoneyline", "away_moneyline"),

		HomeSpread:      pickFloat(m, "homeSpread", "home_spread", "spread"),
		HomeSpreadPrice: pickInt(m, "homeSpreadPrice", "home_spread_price", "homeSpreadOdds"),
		AwaySpreadPrice: pickInt(m, "awaySpreadPrice", "away_spread_price", "awaySpreadOdds"),

		Total:      pickFloat(m, "total", "overUnder", "over_under"),
		OverPrice:  pickInt(m, "overPrice", "over_price", "overOdds"),
		UnderPrice: pickInt(m, "underPrice", "under_price", "underOdds"),
	}

	if entry.Sportsbook == "" {
		return models.OddsEntry{}, false
	}
	return entry, true
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func pickInt(m map[string]any, keys ...string) *int {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			i := int(n)
			return &i
		case json.Number:
			if f, err := n.Float64(); err == nil {
				i := int(f)
				return &i
			}
		}
	}
	return nil
}

func pickFloat(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := v.(float64); ok {
			return &f
		}
	}
	return nil
}

func pickSlice(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.([]any); ok {
				return s
			}
		}
	}
	return nil
}

func pickTime(m map[string]any, fallback time.Time, keys ...string) time.Time {
	for _, k := range keys {
		raw := pickString(m, k)
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	return fallback
}
