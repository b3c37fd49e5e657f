package services

import (
	"strings"
	"time"

	"odds_harvester/models"
)

// Correlator matches harvested games against the authoritative schedule for
// their date and scores how confident the match is. A low score is a normal
// outcome, not an error: the line still loads, it just stays unenriched.
type Correlator struct {
	toleranceHours  float64
	attachThreshold float64
}

func NewCorrelator(toleranceHours, attachThreshold float64) *Correlator {
	if toleranceHours <= 0 {
		toleranceHours = 6
	}
	return &Correlator{toleranceHours: toleranceHours, attachThreshold: attachThreshold}
}

func (c *Correlator) AttachThreshold() float64 {
	return c.attachThreshold
}

// Correlate scores every schedule entry against the candidate and returns the
// best one. Matched is nil when nothing scored above zero.
func (c *Correlator) Correlate(game *models.Game, schedule []models.ScheduleEntry) models.CorrelationResult {
	best := models.CorrelationResult{}
	for i := range schedule {
		score, reasons := c.score(game, &schedule[i])
		if score > best.Confidence {
			best = models.CorrelationResult{
				Confidence: score,
				Matched:    &schedule[i],
				Reasons:    reasons,
			}
		}
	}
	return best
}

// score builds a confidence value from independent evidence:
//
//	0.70  both teams match in the same home/away orientation
//	0.50  both teams match with home and away swapped
//	0.25  scaled by start-time closeness, full credit within an hour,
//	      nothing at the tolerance bound
//	0.05  flat bonus when the entry is part of a double-header
func (c *Correlator) score(game *models.Game, entry *models.ScheduleEntry) (float64, []string) {
	reasons := []string{}
	score := 0.0

	home := normalizeTeamName(game.HomeTeam)
	away := normalizeTeamName(game.AwayTeam)
	entryHome := normalizeTeamName(entry.HomeTeam)
	entryAway := normalizeTeamName(entry.AwayTeam)

	teamsMatch := false
	switch {
	case home == entryHome && away == entryAway:
		score += 0.70
		teamsMatch = true
		reasons = append(reasons, "teams_exact")
	case home == entryAway && away == entryHome:
		score += 0.50
		teamsMatch = true
		reasons = append(reasons, "teams_swapped")
	}
	if !teamsMatch {
		return 0, nil
	}

	gap := game.ScheduledAt.Sub(entry.ScheduledAt)
	if gap < 0 {
		gap = -gap
	}
	if closeness := c.timeCloseness(gap); closeness > 0 {
		score += 0.25 * closeness
		if gap <= time.Hour {
			reasons = append(reasons, "time_close")
		} else {
			reasons = append(reasons, "time_within_tolerance")
		}
	}

	if entry.DoubleHeader {
		score += 0.05
		reasons = append(reasons, "double_header_slot")
	}

	return score, reasons
}

// timeCloseness maps a start-time gap to [0, 1]: 1.0 within an hour, falling
// linearly to 0 at the tolerance bound.
func (c *Correlator) timeCloseness(gap time.Duration) float64 {
	hours := gap.Hours()
	if hours <= 1 {
		return 1.0
	}
	if hours >= c.toleranceHours {
		return 0
	}
	return (c.toleranceHours - hours) / (c.toleranceHours - 1)
}

// normalizeTeamName lowercases and collapses whitespace so source spellings
// like "Boston  Red Sox" and "boston red sox" compare equal.
func normalizeTeamName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
