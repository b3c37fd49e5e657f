package collector

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"odds_harvester/config"
	"odds_harvester/fetch"
	"odds_harvester/models"
	"odds_harvester/parser"
	"odds_harvester/services"
	"odds_harvester/storage"
)

// PageFetcher is the slice of the fetch client the collector needs.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Staging is what the collector needs from the staging store.
type Staging interface {
	UpsertRawCapture(c *models.RawCapture) error
	MarkCaptureStatus(url string, status models.CaptureStatus) error
	StageCandidate(rec *models.CandidateRecord, captureURL string) error
	LoadCheckpoint(runKey string) (*models.Checkpoint, error)
	SaveCheckpoint(cp *models.Checkpoint) error
	DeleteCheckpoint(runKey string) error
}

// RunRecorder persists run summaries. Nil disables persistence.
type RunRecorder interface {
	CreateRunSummary(ctx context.Context, run *models.RunSummary) error
	UpdateRunSummary(ctx context.Context, run *models.RunSummary) error
}

// BatchPromoter drains the staging table after fetching.
type BatchPromoter interface {
	PromoteAll(ctx context.Context) (services.PromoteStats, error)
}

// Progress receives a completion estimate in [0, 100] and a short message.
// It is called after the probe, after every date, and around promotion.
// Callbacks must return promptly; anything slow belongs on a channel.
type Progress func(percent float64, message string)

// Orchestrator drives one collection run: probe the source, fetch and stage
// every date in the range, promote everything staged, and record the outcome.
// Dates that completed fetch+stage are checkpointed so an interrupted run can
// resume without refetching them.
type Orchestrator struct {
	fetcher  PageFetcher
	parser   *parser.Parser
	staging  Staging
	promoter BatchPromoter
	runs     RunRecorder
	archiver storage.Archiver
	source   *config.SourceConfig
	cfg      config.CollectorConfig

	pageConcurrency int
	concurrentDates int
	progress        Progress
	totalDates      int
	doneDates       int
	failedDates     int
	baseCacheHits   int
	now             func() time.Time

	mu sync.Mutex // guards the shared run summary and checkpoint
}

func NewOrchestrator(
	fetcher PageFetcher,
	p *parser.Parser,
	staging Staging,
	promoter BatchPromoter,
	runs RunRecorder,
	archiver storage.Archiver,
	source *config.SourceConfig,
	cfg config.CollectorConfig,
	pageConcurrency int,
) *Orchestrator {
	if archiver == nil {
		archiver = storage.NoopArchiver{}
	}
	if pageConcurrency <= 0 {
		pageConcurrency = 3
	}
	return &Orchestrator{
		fetcher:         fetcher,
		parser:          p,
		staging:         staging,
		promoter:        promoter,
		runs:            runs,
		archiver:        archiver,
		source:          source,
		cfg:             cfg,
		pageConcurrency: pageConcurrency,
		now:             time.Now,
	}
}

// OnProgress registers a progress callback.
func (o *Orchestrator) OnProgress(fn Progress) {
	o.progress = fn
}

// EnableConcurrentDates fans the date loop out across up to n workers, with
// the fan-out shrinking automatically when dates start failing.
func (o *Orchestrator) EnableConcurrentDates(n int) {
	o.concurrentDates = n
}

// datesSequential walks the range one date at a time, checkpointing each
// date that completes cleanly.
func (o *Orchestrator) datesSequential(ctx context.Context, start, end time.Time, cp *models.Checkpoint, summary *models.RunSummary) error {
	for date := start.UTC().Truncate(24 * time.Hour); !date.After(end.UTC()); date = date.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}

		dateStr := date.Format("2006-01-02")
		if cp.Contains(dateStr) {
			o.dateFinished("skipped " + dateStr + " (already checkpointed)")
			continue
		}

		if err := o.harvestDate(ctx, date, summary); err != nil {
			// Absorbed: an open circuit fails the remaining pages fast and
			// promotion's dedup makes a retry of this date safe. The date is
			// left out of the checkpoint so a resumed run fetches it again.
			recordError(summary, fmt.Errorf("date %s: %w", dateStr, err))
			o.noteDateFailed()
			o.dateFinished("failed " + dateStr)
			continue
		}

		o.checkpointDate(cp, dateStr, summary)
		o.dateFinished("completed " + dateStr)
	}
	return nil
}

func (o *Orchestrator) checkpointDate(cp *models.Checkpoint, dateStr string, summary *models.RunSummary) {
	o.mu.Lock()
	cp.ProcessedDates = append(cp.ProcessedDates, dateStr)
	cp.Stats = *summary
	snapshot := *cp
	o.mu.Unlock()
	if err := o.staging.SaveCheckpoint(&snapshot); err != nil {
		log.Printf("Failed to save checkpoint for %s: %v", cp.RunKey, err)
	}
}

func (o *Orchestrator) report(percent float64, message string) {
	if o.progress != nil {
		o.progress(percent, message)
	}
}

// dateFinished advances the completion estimate. Dates account for the first
// 90% of a run; promotion takes the rest.
func (o *Orchestrator) dateFinished(msg string) {
	o.mu.Lock()
	o.doneDates++
	percent := 90 * float64(o.doneDates) / float64(o.totalDates)
	o.mu.Unlock()

	o.report(percent, msg)
}

func (o *Orchestrator) noteDateFailed() {
	o.mu.Lock()
	o.failedDates++
	o.mu.Unlock()
}

const maxRecordedErrors = 50

// Run executes a full collection over [start, end] inclusive. With resume set,
// dates already checkpointed under the same range are skipped.
func (o *Orchestrator) Run(ctx context.Context, start, end time.Time, resume bool) (*models.RunSummary, error) {
	startStr := start.UTC().Format("2006-01-02")
	endStr := end.UTC().Format("2006-01-02")
	if start.After(end) {
		return nil, fmt.Errorf("start %s is after end %s", startStr, endStr)
	}

	runKey := o.cfg.RunKey
	if runKey == "" || runKey == "default" {
		runKey = startStr + "_" + endStr
	}

	summary := &models.RunSummary{
		StartDate: startStr,
		EndDate:   endStr,
		StartedAt: o.now().UTC(),
		Status:    models.RunStatusRunning,
	}
	if o.runs != nil {
		if err := o.runs.CreateRunSummary(ctx, summary); err != nil {
			return nil, fmt.Errorf("create run summary: %w", err)
		}
	}

	cp, err := o.loadOrStartCheckpoint(runKey, resume, summary)
	if err != nil {
		return o.finish(ctx, summary, err)
	}

	first := start.UTC().Truncate(24 * time.Hour)
	last := end.UTC().Truncate(24 * time.Hour)
	o.totalDates = int(last.Sub(first)/(24*time.Hour)) + 1
	o.doneDates = 0
	o.failedDates = 0

	// Cache hits are counted against this run only, on top of whatever a
	// resumed checkpoint carried over.
	o.baseCacheHits = 0
	if c, ok := o.fetcher.(*fetch.Client); ok {
		_, _, o.baseCacheHits, _ = c.Stats().Snapshot()
	}

	// Probe phase: one fetch against the source landing page. A dead source
	// fails the whole run before any date work starts.
	if o.source.ProbePage != "" {
		if _, err := o.fetcher.Fetch(ctx, o.source.ProbePage); err != nil {
			recordError(summary, fmt.Errorf("probe %s: %w", o.source.ProbePage, err))
			return o.finish(ctx, summary, fmt.Errorf("source probe failed: %w", err))
		}
		o.report(0, "source probe ok")
	}

	var datesErr error
	if o.concurrentDates > 1 {
		datesErr = o.datesConcurrent(ctx, start, end, cp, summary)
	} else {
		datesErr = o.datesSequential(ctx, start, end, cp, summary)
	}
	if datesErr != nil {
		return o.finish(ctx, summary, datesErr)
	}

	o.report(90, "promoting staged records")
	if pr, ok := o.promoter.(*services.Promoter); ok {
		pr.OnBatch(func(total services.PromoteStats) {
			o.report(95, fmt.Sprintf("promoted %d staged records", total.Records))
		})
	}
	stats, err := o.promoter.PromoteAll(ctx)
	summary.GamesStored += stats.GamesCreated
	summary.LinesStored += stats.LinesInserted
	summary.Duplicates += stats.Duplicates
	summary.Failures += stats.Failures
	summary.Correlated += stats.Correlated
	if err != nil {
		recordError(summary, fmt.Errorf("promotion: %w", err))
		return o.finish(ctx, summary, err)
	}

	// The checkpoint is only removed after a fully clean date phase; failed
	// dates were left out of it, so keeping it lets a resume retry exactly
	// those dates.
	o.mu.Lock()
	failedDates := o.failedDates
	o.mu.Unlock()
	if failedDates == 0 {
		if err := o.staging.DeleteCheckpoint(runKey); err != nil {
			log.Printf("Failed to delete checkpoint %s: %v", runKey, err)
		}
	} else {
		log.Printf("Keeping checkpoint %s: %d dates failed and can be resumed", runKey, failedDates)
	}
	return o.finish(ctx, summary, nil)
}

func (o *Orchestrator) loadOrStartCheckpoint(runKey string, resume bool, summary *models.RunSummary) (*models.Checkpoint, error) {
	if resume {
		cp, err := o.staging.LoadCheckpoint(runKey)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", runKey, err)
		}
		if cp != nil {
			log.Printf("Resuming run %s: %d dates already done", runKey, len(cp.ProcessedDates))
			restoreStats(summary, &cp.Stats)
			return cp, nil
		}
	}
	return &models.Checkpoint{RunKey: runKey}, nil
}

// restoreStats carries fetch-phase counters from a checkpoint into a fresh
// summary. Promotion counters are not restored: the staging table still holds
// the eligible rows and promotion will recount them.
func restoreStats(summary *models.RunSummary, prev *models.RunSummary) {
	summary.PagesFetched = prev.PagesFetched
	summary.PagesFailed = prev.PagesFailed
	summary.CacheHits = prev.CacheHits
	summary.RecordsStaged = prev.RecordsStaged
	summary.Dropped = prev.Dropped
	summary.Errors = append(summary.Errors, prev.Errors...)
}

// harvestDate fetches every bet-type page for one date, bounded by the page
// concurrency limit, and stages whatever parses.
func (o *Orchestrator) harvestDate(ctx context.Context, date time.Time, summary *models.RunSummary) error {
	types := make([]string, 0, len(o.source.Pages))
	for t := range o.source.Pages {
		types = append(types, t)
	}
	sort.Strings(types)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, o.pageConcurrency)

	for _, t := range types {
		betType := models.BetType(t)
		if !models.KnownBetType(betType) {
			log.Printf("Skipping unknown bet type %q in source config", t)
			continue
		}
		url := fmt.Sprintf(o.source.Pages[t], date.Format("2006-01-02"))

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := o.harvestPage(ctx, url, betType, date, summary); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// harvestPage fetches one page, records the capture, parses it, and stages
// the candidates.
func (o *Orchestrator) harvestPage(ctx context.Context, url string, betType models.BetType, date time.Time, summary *models.RunSummary) error {
	body, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		o.mu.Lock()
		summary.PagesFailed++
		recordError(summary, fmt.Errorf("fetch %s: %w", url, err))
		o.mu.Unlock()
		return err
	}
	o.mu.Lock()
	summary.PagesFetched++
	o.mu.Unlock()

	capture := &models.RawCapture{
		URL:       url,
		Body:      body,
		BetType:   betType,
		FetchedAt: o.now().UTC(),
		Status:    models.CaptureStatusNew,
	}
	if err := o.staging.UpsertRawCapture(capture); err != nil {
		return fmt.Errorf("store capture %s: %w", url, err)
	}
	if _, err := o.archiver.ArchiveCapture(ctx, capture); err != nil {
		log.Printf("Archive failed for %s: %v", url, err)
	}

	records, drops, err := o.parser.Parse(body, betType, date, url)
	if err != nil {
		if markErr := o.staging.MarkCaptureStatus(url, models.CaptureStatusFailed); markErr != nil {
			log.Printf("Failed to mark capture %s: %v", url, markErr)
		}
		o.mu.Lock()
		recordError(summary, fmt.Errorf("parse %s: %w", url, err))
		o.mu.Unlock()
		return fmt.Errorf("parse %s: %w", url, err)
	}

	staged := 0
	for i := range records {
		if err := o.staging.StageCandidate(&records[i], url); err != nil {
			o.mu.Lock()
			recordError(summary, fmt.Errorf("stage %s game %s: %w", url, records[i].SourceGameID, err))
			o.mu.Unlock()
			continue
		}
		staged++
	}

	o.mu.Lock()
	summary.RecordsStaged += staged
	summary.Dropped += drops.Total()
	o.mu.Unlock()

	if err := o.staging.MarkCaptureStatus(url, models.CaptureStatusProcessed); err != nil {
		log.Printf("Failed to mark capture %s: %v", url, err)
	}
	return nil
}

// finish closes out the summary, syncing cache-hit counts from the fetch
// client when it exposes them.
func (o *Orchestrator) finish(ctx context.Context, summary *models.RunSummary, runErr error) (*models.RunSummary, error) {
	if c, ok := o.fetcher.(*fetch.Client); ok {
		_, _, cacheHits, _ := c.Stats().Snapshot()
		summary.CacheHits += cacheHits - o.baseCacheHits
	}

	finished := o.now().UTC()
	summary.FinishedAt = &finished
	if runErr != nil {
		summary.Status = models.RunStatusFailed
	} else {
		summary.Status = models.RunStatusCompleted
	}

	if o.runs != nil {
		if err := o.runs.UpdateRunSummary(ctx, summary); err != nil {
			log.Printf("Failed to update run summary: %v", err)
		}
	}
	if _, err := o.archiver.ArchiveRunSummary(ctx, summary); err != nil {
		log.Printf("Failed to archive run summary: %v", err)
	}

	o.report(100, fmt.Sprintf("run %s", summary.Status))
	log.Printf("Run %s..%s %s: %d pages fetched, %d failed, %d staged, %d games, %d lines, %d correlated",
		summary.StartDate, summary.EndDate, summary.Status,
		summary.PagesFetched, summary.PagesFailed, summary.RecordsStaged,
		summary.GamesStored, summary.LinesStored, summary.Correlated)

	return summary, runErr
}

func recordError(summary *models.RunSummary, err error) {
	if len(summary.Errors) < maxRecordedErrors {
		summary.Errors = append(summary.Errors, err.Error())
	}
}
