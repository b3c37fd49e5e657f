package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"odds_harvester/models"
)

// CanonicalStore is the slice of the Postgres store promotion needs.
type CanonicalStore interface {
	PromoteGame(ctx context.Context, g *models.Game, lines []models.BettingLine) (created bool, inserted int, err error)
}

// StagingSource is the slice of the staging store promotion needs.
type StagingSource interface {
	EligibleRecords(limit int) ([]models.StagedRecord, error)
	MarkStagedStatus(id int64, status models.StagedStatus) error
}

// ScheduleSource provides the authoritative schedule for one date
// (YYYY-MM-DD).
type ScheduleSource interface {
	ScheduleForDate(ctx context.Context, date string) ([]models.ScheduleEntry, error)
}

// PromoteStats aggregates one promotion pass.
type PromoteStats struct {
	Records       int
	GamesCreated  int
	LinesInserted int
	Loaded        int
	Duplicates    int
	Failures      int
	Substituted   int
	Dropped       int
	Correlated    int
}

func (s *PromoteStats) add(o PromoteStats) {
	s.Records += o.Records
	s.GamesCreated += o.GamesCreated
	s.LinesInserted += o.LinesInserted
	s.Loaded += o.Loaded
	s.Duplicates += o.Duplicates
	s.Failures += o.Failures
	s.Substituted += o.Substituted
	s.Dropped += o.Dropped
	s.Correlated += o.Correlated
}

// Promoter moves eligible staged records into the canonical store. Every
// record ends in exactly one terminal status: loaded when at least one new
// betting line landed, duplicate when the game and all its lines already
// existed, failed when nothing usable could be written.
type Promoter struct {
	store      CanonicalStore
	staging    StagingSource
	schedule   ScheduleSource // nil disables correlation
	correlator *Correlator
	batchSize  int
	onBatch    func(total PromoteStats)
}

func NewPromoter(store CanonicalStore, staging StagingSource, schedule ScheduleSource, correlator *Correlator, batchSize int) *Promoter {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Promoter{
		store:      store,
		staging:    staging,
		schedule:   schedule,
		correlator: correlator,
		batchSize:  batchSize,
	}
}

// OnBatch registers a callback invoked with the running totals after each
// batch PromoteAll drains. Must not block.
func (p *Promoter) OnBatch(fn func(total PromoteStats)) {
	p.onBatch = fn
}

// PromoteBatch consumes one batch of eligible records. It returns the number
// of records it saw so the caller can loop until the staging table drains.
func (p *Promoter) PromoteBatch(ctx context.Context) (PromoteStats, error) {
	var stats PromoteStats

	records, err := p.staging.EligibleRecords(p.batchSize)
	if err != nil {
		return stats, fmt.Errorf("load eligible records: %w", err)
	}

	for i := range records {
		rec := &records[i]
		recStats, err := p.promoteOne(ctx, rec)
		stats.add(recStats)
		if err != nil {
			// A row whose status cannot be written stays eligible, so the
			// drain must surface the store error instead of spinning on it.
			return stats, err
		}
	}
	return stats, nil
}

// PromoteAll loops PromoteBatch until a pass sees no records.
func (p *Promoter) PromoteAll(ctx context.Context) (PromoteStats, error) {
	var total PromoteStats
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stats, err := p.PromoteBatch(ctx)
		if err != nil {
			return total, err
		}
		total.add(stats)
		if stats.Records == 0 {
			return total, nil
		}
		if p.onBatch != nil {
			p.onBatch(total)
		}
	}
}

// promoteOne handles a single staged record. A record-level failure marks the
// record and moves on; only a staging-store error writing the status escapes,
// because an unmarked row would be picked up again by the next batch.
func (p *Promoter) promoteOne(ctx context.Context, rec *models.StagedRecord) (PromoteStats, error) {
	stats := PromoteStats{Records: 1}

	fail := func(reason string, err error) (PromoteStats, error) {
		log.Printf("Promotion failed for staged record %d (%s): %s: %v", rec.ID, rec.SourceGameID, reason, err)
		stats.Failures++
		if markErr := p.staging.MarkStagedStatus(rec.ID, models.StagedStatusFailed); markErr != nil {
			return stats, fmt.Errorf("mark record %d failed: %w", rec.ID, markErr)
		}
		return stats, nil
	}

	entries, err := rec.OddsEntries()
	if err != nil {
		return fail("decode odds", err)
	}

	now := time.Now().UTC()
	game := &models.Game{
		ID:           uuid.New(),
		SourceGameID: rec.SourceGameID,
		HomeTeam:     rec.HomeTeam,
		AwayTeam:     rec.AwayTeam,
		ScheduledAt:  rec.ScheduledAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if p.schedule != nil && p.correlator != nil {
		p.enrich(ctx, game, rec, &stats)
	}

	lines, norm := NormalizeOdds(game.ID, rec.BetType, entries, rec.CreatedAt)
	stats.Substituted += norm.Substituted
	stats.Dropped += norm.Dropped
	if norm.Substituted > 0 {
		log.Printf("Substituted moneyline for %d spread entries on game %s", norm.Substituted, rec.SourceGameID)
	}
	if len(lines) == 0 {
		return fail("normalize odds", fmt.Errorf("no resolvable entries out of %d", len(entries)))
	}

	created, inserted, err := p.store.PromoteGame(ctx, game, lines)
	if err != nil {
		return fail("store", err)
	}
	if created {
		stats.GamesCreated++
	}
	stats.LinesInserted += inserted

	status := models.StagedStatusDuplicate
	if inserted > 0 {
		status = models.StagedStatusLoaded
		stats.Loaded++
	} else {
		stats.Duplicates++
	}
	if err := p.staging.MarkStagedStatus(rec.ID, status); err != nil {
		return stats, fmt.Errorf("mark record %d %s: %w", rec.ID, status, err)
	}
	return stats, nil
}

// enrich correlates the game against the schedule for its date and attaches
// the authoritative identity when the match is confident. A schedule fetch
// failure downgrades to no enrichment; it never fails the record.
func (p *Promoter) enrich(ctx context.Context, game *models.Game, rec *models.StagedRecord, stats *PromoteStats) {
	date := rec.ScheduledAt.UTC().Format("2006-01-02")
	schedule, err := p.schedule.ScheduleForDate(ctx, date)
	if err != nil {
		log.Printf("Schedule unavailable for %s, promoting %s without enrichment: %v", date, rec.SourceGameID, err)
		return
	}

	result := p.correlator.Correlate(game, schedule)
	if !result.Confident(p.correlator.AttachThreshold()) {
		if result.Matched != nil {
			log.Printf("Correlation below threshold for %s (%.2f vs %s), leaving unenriched",
				rec.SourceGameID, result.Confidence, result.Matched.GameID)
		}
		return
	}

	entry := result.Matched
	scheduleID := entry.GameID
	confidence := result.Confidence
	game.ScheduleGameID = &scheduleID
	game.Confidence = &confidence
	game.Venue = entry.Venue
	game.HomeScore = entry.HomeScore
	game.AwayScore = entry.AwayScore
	stats.Correlated++
}
