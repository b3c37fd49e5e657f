package collector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"odds_harvester/config"
	"odds_harvester/fetch"
	"odds_harvester/models"
	"odds_harvester/parser"
	"odds_harvester/services"
)

const pageFixture = `{"games": [
	{
		"gameId": "sbr-%d",
		"homeTeam": "Boston Red Sox",
		"awayTeam": "New York Yankees",
		"startTime": "2025-06-14T23:10:00Z",
		"odds": [{"sportsbook": "fanduel", "homeMl": -150, "awayMl": 130}]
	}
]}`

// fakePager serves a canned page per URL and can fail specific URLs.
type fakePager struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	nextID  int
	failAll error
}

func newFakePager() *fakePager {
	return &fakePager{fail: map[string]error{}}
}

func (f *fakePager) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.failAll != nil {
		return nil, f.failAll
	}
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	f.nextID++
	return []byte(fmt.Sprintf(pageFixture, f.nextID)), nil
}

func (f *fakePager) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// memStaging implements the Staging interface in memory.
type memStaging struct {
	mu          sync.Mutex
	captures    map[string]*models.RawCapture
	statuses    map[string]models.CaptureStatus
	staged      []models.CandidateRecord
	checkpoints map[string]*models.Checkpoint
}

func newMemStaging() *memStaging {
	return &memStaging{
		captures:    map[string]*models.RawCapture{},
		statuses:    map[string]models.CaptureStatus{},
		checkpoints: map[string]*models.Checkpoint{},
	}
}

func (m *memStaging) UpsertRawCapture(c *models.RawCapture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures[c.URL] = c
	m.statuses[c.URL] = models.CaptureStatusNew
	return nil
}

func (m *memStaging) MarkCaptureStatus(url string, status models.CaptureStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[url] = status
	return nil
}

func (m *memStaging) StageCandidate(rec *models.CandidateRecord, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = append(m.staged, *rec)
	return nil
}

func (m *memStaging) LoadCheckpoint(runKey string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[runKey]
	if !ok {
		return nil, nil
	}
	copied := *cp
	return &copied, nil
}

func (m *memStaging) SaveCheckpoint(cp *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *cp
	copied.ProcessedDates = append([]string(nil), cp.ProcessedDates...)
	m.checkpoints[cp.RunKey] = &copied
	return nil
}

func (m *memStaging) DeleteCheckpoint(runKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, runKey)
	return nil
}

type fakePromoter struct {
	stats services.PromoteStats
	err   error
	calls int
}

func (f *fakePromoter) PromoteAll(context.Context) (services.PromoteStats, error) {
	f.calls++
	return f.stats, f.err
}

func testSource() *config.SourceConfig {
	return &config.SourceConfig{
		ID:   "sbr",
		Name: "test source",
		Pages: map[string]string{
			"moneyline": "https://odds.test/ml?date=%s",
			"total":     "https://odds.test/total?date=%s",
		},
		ProbePage: "https://odds.test/probe",
	}
}

func newTestOrchestrator(pager PageFetcher, staging Staging, promoter BatchPromoter) *Orchestrator {
	return NewOrchestrator(
		pager, parser.New(), staging, promoter, nil, nil,
		testSource(), config.CollectorConfig{BatchSize: 50}, 3,
	)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRunHarvestsRangeAndPromotes(t *testing.T) {
	pager := newFakePager()
	staging := newMemStaging()
	promoter := &fakePromoter{stats: services.PromoteStats{GamesCreated: 2, LinesInserted: 2, Loaded: 2}}

	o := newTestOrchestrator(pager, staging, promoter)
	summary, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-15"), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// 1 probe + 2 dates x 2 bet types.
	if calls := pager.fetched(); len(calls) != 5 {
		t.Fatalf("expected 5 fetches, got %d: %v", len(calls), calls)
	}
	if summary.PagesFetched != 4 || summary.PagesFailed != 0 {
		t.Fatalf("unexpected page counts: %+v", summary)
	}
	if summary.RecordsStaged != 4 {
		t.Fatalf("expected 4 staged records, got %d", summary.RecordsStaged)
	}
	if summary.GamesStored != 2 || summary.LinesStored != 2 {
		t.Fatalf("promotion stats not merged: %+v", summary)
	}
	if summary.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %q", summary.Status)
	}
	if promoter.calls != 1 {
		t.Fatalf("expected one promotion drain, got %d", promoter.calls)
	}
	if len(staging.checkpoints) != 0 {
		t.Fatal("checkpoint must be deleted after a successful run")
	}
	for url, status := range staging.statuses {
		if status != models.CaptureStatusProcessed {
			t.Fatalf("capture %s left in status %q", url, status)
		}
	}
}

func TestRunProbeFailureIsFatal(t *testing.T) {
	pager := newFakePager()
	pager.fail["https://odds.test/probe"] = fmt.Errorf("blocked")
	staging := newMemStaging()

	o := newTestOrchestrator(pager, staging, &fakePromoter{})
	summary, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-15"), false)
	if err == nil {
		t.Fatal("expected probe failure to abort the run")
	}
	if summary.Status != models.RunStatusFailed {
		t.Fatalf("expected failed status, got %q", summary.Status)
	}
	if calls := pager.fetched(); len(calls) != 1 {
		t.Fatalf("no date pages may be fetched after a failed probe, got %v", calls)
	}
}

func TestRunResumeSkipsCheckpointedDates(t *testing.T) {
	pager := newFakePager()
	staging := newMemStaging()
	staging.checkpoints["2025-06-14_2025-06-16"] = &models.Checkpoint{
		RunKey:         "2025-06-14_2025-06-16",
		ProcessedDates: []string{"2025-06-14", "2025-06-15"},
		Stats:          models.RunSummary{PagesFetched: 4, RecordsStaged: 4},
	}

	o := newTestOrchestrator(pager, staging, &fakePromoter{})
	summary, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-16"), true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, url := range pager.fetched() {
		if url == "https://odds.test/probe" {
			continue
		}
		if url != "https://odds.test/ml?date=2025-06-16" && url != "https://odds.test/total?date=2025-06-16" {
			t.Fatalf("fetched a checkpointed date: %s", url)
		}
	}
	// Restored counters plus the one remaining date.
	if summary.PagesFetched != 6 {
		t.Fatalf("expected 4 restored + 2 new pages, got %d", summary.PagesFetched)
	}
	if summary.RecordsStaged != 6 {
		t.Fatalf("expected 4 restored + 2 new records, got %d", summary.RecordsStaged)
	}
}

func TestRunWithoutResumeRefetchesEverything(t *testing.T) {
	pager := newFakePager()
	staging := newMemStaging()
	staging.checkpoints["2025-06-14_2025-06-14"] = &models.Checkpoint{
		RunKey:         "2025-06-14_2025-06-14",
		ProcessedDates: []string{"2025-06-14"},
	}

	o := newTestOrchestrator(pager, staging, &fakePromoter{})
	if _, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-14"), false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls := pager.fetched(); len(calls) != 3 { // probe + 2 pages
		t.Fatalf("expected a full refetch, got %v", calls)
	}
}

func TestRunAbsorbsOpenCircuit(t *testing.T) {
	pager := newFakePager()
	open := &fetch.CircuitOpenError{RetryAt: time.Now().Add(time.Minute)}
	pager.fail["https://odds.test/ml?date=2025-06-15"] = open
	pager.fail["https://odds.test/total?date=2025-06-15"] = open
	staging := newMemStaging()

	o := newTestOrchestrator(pager, staging, &fakePromoter{})
	summary, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-17"), false)
	if err != nil {
		t.Fatalf("an open circuit is a per-page failure, not a run failure: %v", err)
	}
	if summary.Status != models.RunStatusCompleted {
		t.Fatalf("the run must still complete with a summary, got %q", summary.Status)
	}
	if summary.PagesFailed != 2 {
		t.Fatalf("expected 2 failed pages, got %d", summary.PagesFailed)
	}
	if len(summary.Errors) == 0 {
		t.Fatal("circuit-open pages must land in the error list")
	}

	// Every later date was still attempted: probe + 4 dates x 2 pages.
	if calls := pager.fetched(); len(calls) != 9 {
		t.Fatalf("expected 9 fetches, got %d: %v", len(calls), calls)
	}

	// The checkpoint survives, covering the clean dates but not the failed
	// one, so a resume retries exactly 2025-06-15.
	cp := staging.checkpoints["2025-06-14_2025-06-17"]
	if cp == nil {
		t.Fatal("checkpoint must be kept when a date failed")
	}
	for _, d := range []string{"2025-06-14", "2025-06-16", "2025-06-17"} {
		if !cp.Contains(d) {
			t.Fatalf("clean date %s not checkpointed: %v", d, cp.ProcessedDates)
		}
	}
	if cp.Contains("2025-06-15") {
		t.Fatalf("failed date must not be checkpointed: %v", cp.ProcessedDates)
	}
}

func TestRunPartialPageFailureContinues(t *testing.T) {
	pager := newFakePager()
	pager.fail["https://odds.test/total?date=2025-06-14"] = fmt.Errorf("http 500")
	staging := newMemStaging()

	o := newTestOrchestrator(pager, staging, &fakePromoter{})
	summary, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-15"), false)
	if err != nil {
		t.Fatalf("a single failed page must not fail the run: %v", err)
	}
	if summary.PagesFetched != 3 || summary.PagesFailed != 1 {
		t.Fatalf("unexpected page counts: fetched=%d failed=%d", summary.PagesFetched, summary.PagesFailed)
	}
	if len(summary.Errors) == 0 {
		t.Fatal("failed page must be recorded in the error list")
	}
	if summary.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %q", summary.Status)
	}

	// The date with the failed page stays out of the checkpoint so a resume
	// retries it; the clean date is recorded.
	cp := staging.checkpoints["2025-06-14_2025-06-15"]
	if cp == nil {
		t.Fatal("checkpoint must be kept when a date failed")
	}
	if cp.Contains("2025-06-14") {
		t.Fatalf("partially failed date must not be checkpointed: %v", cp.ProcessedDates)
	}
	if !cp.Contains("2025-06-15") {
		t.Fatalf("clean date not checkpointed: %v", cp.ProcessedDates)
	}
}

func TestRunConcurrentDatesMatchesSequential(t *testing.T) {
	pager := newFakePager()
	staging := newMemStaging()

	o := newTestOrchestrator(pager, staging, &fakePromoter{})
	o.EnableConcurrentDates(4)

	summary, err := o.Run(context.Background(), day("2025-06-10"), day("2025-06-15"), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.PagesFetched != 12 { // 6 dates x 2 bet types
		t.Fatalf("expected 12 pages, got %d", summary.PagesFetched)
	}
	if summary.RecordsStaged != 12 {
		t.Fatalf("expected 12 staged records, got %d", summary.RecordsStaged)
	}
	if summary.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %q", summary.Status)
	}
}

func TestDateGateResize(t *testing.T) {
	gate := newDateGate(2)
	if !gate.Acquire(context.Background()) || !gate.Acquire(context.Background()) {
		t.Fatal("acquire within window must succeed")
	}

	done := make(chan struct{})
	go func() {
		gate.Acquire(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("third acquire must block at window 2")
	case <-time.After(20 * time.Millisecond):
	}

	gate.SetWindow(3)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("widening the window must release a waiter")
	}
}

func TestDateTunerShrinksAndRecovers(t *testing.T) {
	gate := newDateGate(4)
	tuner := newDateTuner(gate, 4)

	tuner.Observe(true)
	if w := gate.Window(); w != 2 {
		t.Fatalf("expected shrink to 2, got %d", w)
	}

	for i := 0; i < 3; i++ {
		tuner.Observe(false)
	}
	if w := gate.Window(); w != 3 {
		t.Fatalf("expected growth to 3, got %d", w)
	}
}

func TestProgressReportsPercentAndCompletes(t *testing.T) {
	pager := newFakePager()
	staging := newMemStaging()
	promoter := &fakePromoter{}

	o := newTestOrchestrator(pager, staging, promoter)

	var percents []float64
	var messages []string
	o.OnProgress(func(percent float64, message string) {
		percents = append(percents, percent)
		messages = append(messages, message)
	})

	if _, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-15"), false); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Probe, two dates, promotion start, done.
	if len(percents) < 5 {
		t.Fatalf("expected at least 5 progress reports, got %d: %v", len(percents), messages)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards at %d: %v", i, percents)
		}
	}
	if got := percents[len(percents)-1]; got != 100 {
		t.Fatalf("expected final report at 100, got %v", got)
	}
	// Two dates split the fetch phase evenly.
	if percents[1] != 45 || percents[2] != 90 {
		t.Fatalf("unexpected date percents: %v", percents)
	}
	if messages[1] != "completed 2025-06-14" {
		t.Fatalf("unexpected date message %q", messages[1])
	}
}

func TestRunResumeKeepsRestoredCacheHits(t *testing.T) {
	pager := newFakePager()
	client := fetch.NewClient(pager, &config.FetchConfig{CacheTTL: time.Minute})

	// Hits from before the run must not leak into its summary either.
	for i := 0; i < 2; i++ {
		if _, err := client.Fetch(context.Background(), "https://odds.test/warm"); err != nil {
			t.Fatalf("warm fetch: %v", err)
		}
	}

	staging := newMemStaging()
	staging.checkpoints["2025-06-14_2025-06-15"] = &models.Checkpoint{
		RunKey:         "2025-06-14_2025-06-15",
		ProcessedDates: []string{"2025-06-14"},
		Stats:          models.RunSummary{CacheHits: 3},
	}

	o := NewOrchestrator(
		client, parser.New(), staging, &fakePromoter{}, nil, nil,
		testSource(), config.CollectorConfig{BatchSize: 50}, 3,
	)
	summary, err := o.Run(context.Background(), day("2025-06-14"), day("2025-06-15"), true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.CacheHits != 3 {
		t.Fatalf("restored cache hits lost: got %d, want 3", summary.CacheHits)
	}
}
