package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"odds_harvester/models"
)

// StagingStore holds everything that is not canonical: raw page captures,
// parsed candidates awaiting promotion, run checkpoints, and the durable
// schedule cache. SQLite keeps it on one file so a crashed run leaves its
// state behind for resume.
type StagingStore struct {
	db *sql.DB
}

func NewStagingStore(dbPath string) (*StagingStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &StagingStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *StagingStore) Close() error {
	return s.db.Close()
}

func (s *StagingStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS raw_captures (
		url TEXT PRIMARY KEY,
		body BLOB,
		bet_type TEXT,
		fetched_at DATETIME,
		status TEXT DEFAULT 'new'
	);

	CREATE TABLE IF NOT EXISTS staged_records (
		id INTEGER PRIMARY KEY,
		source_game_id TEXT NOT NULL,
		home_team TEXT NOT NULL,
		away_team TEXT NOT NULL,
		scheduled_at DATETIME NOT NULL,
		bet_type TEXT NOT NULL,
		odds JSON NOT NULL,
		source_url TEXT,
		capture_url TEXT,
		status TEXT DEFAULT 'new',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_key TEXT PRIMARY KEY,
		processed_dates JSON NOT NULL,
		stats JSON NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS schedule_cache (
		cache_date TEXT PRIMARY KEY,
		payload JSON NOT NULL,
		cached_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_staged_status ON staged_records(status);
	CREATE INDEX IF NOT EXISTS idx_staged_game ON staged_records(source_game_id, bet_type);
	CREATE INDEX IF NOT EXISTS idx_captures_status ON raw_captures(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Raw captures
// =============================================================================

// UpsertRawCapture stores one fetched page. Re-fetching a URL overwrites the
// body and fetch time and resets status to new.
func (s *StagingStore) UpsertRawCapture(c *models.RawCapture) error {
	_, err := s.db.Exec(`
		INSERT INTO raw_captures (url, body, bet_type, fetched_at, status)
		VALUES (?, ?, ?, ?, 'new')
		ON CONFLICT(url) DO UPDATE SET
			body = excluded.body,
			bet_type = excluded.bet_type,
			fetched_at = excluded.fetched_at,
			status = 'new'`,
		c.URL, c.Body, c.BetType, c.FetchedAt)
	return err
}

func (s *StagingStore) GetRawCapture(url string) (*models.RawCapture, error) {
	row := s.db.QueryRow(`
		SELECT url, body, bet_type, fetched_at, status
		FROM raw_captures WHERE url = ?`, url)

	var c models.RawCapture
	err := row.Scan(&c.URL, &c.Body, &c.BetType, &c.FetchedAt, &c.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StagingStore) MarkCaptureStatus(url string, status models.CaptureStatus) error {
	_, err := s.db.Exec(`UPDATE raw_captures SET status = ? WHERE url = ?`, status, url)
	return err
}

// =============================================================================
// Staged records
// =============================================================================

func (s *StagingStore) InsertStagedRecord(r *models.StagedRecord) error {
	res, err := s.db.Exec(`
		INSERT INTO staged_records (
			source_game_id, home_team, away_team, scheduled_at, bet_type,
			odds, source_url, capture_url, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SourceGameID, r.HomeTeam, r.AwayTeam, r.ScheduledAt, r.BetType,
		string(r.Odds), r.SourceURL, r.CaptureURL, r.Status)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

// StageCandidate converts a parser candidate into a staged row.
func (s *StagingStore) StageCandidate(rec *models.CandidateRecord, captureURL string) error {
	odds, err := json.Marshal(rec.Odds)
	if err != nil {
		return fmt.Errorf("encode odds: %w", err)
	}
	return s.InsertStagedRecord(&models.StagedRecord{
		SourceGameID: rec.SourceGameID,
		HomeTeam:     rec.HomeTeam,
		AwayTeam:     rec.AwayTeam,
		ScheduledAt:  rec.ScheduledAt,
		BetType:      rec.BetType,
		Odds:         odds,
		SourceURL:    rec.SourceURL,
		CaptureURL:   captureURL,
		Status:       models.StagedStatusNew,
	})
}

// EligibleRecords returns rows promotion may consume: status new or parsed.
// Terminal rows are never returned, which is what makes replays safe.
func (s *StagingStore) EligibleRecords(limit int) ([]models.StagedRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, source_game_id, home_team, away_team, scheduled_at, bet_type,
			odds, source_url, capture_url, status, created_at, processed_at
		FROM staged_records
		WHERE status IN ('new', 'parsed')
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.StagedRecord
	for rows.Next() {
		var r models.StagedRecord
		var odds string
		if err := rows.Scan(
			&r.ID, &r.SourceGameID, &r.HomeTeam, &r.AwayTeam, &r.ScheduledAt, &r.BetType,
			&odds, &r.SourceURL, &r.CaptureURL, &r.Status, &r.CreatedAt, &r.ProcessedAt,
		); err != nil {
			return nil, err
		}
		r.Odds = json.RawMessage(odds)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *StagingStore) CountEligible() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM staged_records WHERE status IN ('new', 'parsed')`).Scan(&n)
	return n, err
}

// MarkStagedStatus moves a row to a terminal status exactly once. Marking an
// already-terminal row is an error, not a silent overwrite.
func (s *StagingStore) MarkStagedStatus(id int64, status models.StagedStatus) error {
	res, err := s.db.Exec(`
		UPDATE staged_records SET status = ?, processed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('new', 'parsed')`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("staged record %d is already terminal", id)
	}
	return nil
}

// =============================================================================
// Checkpoints
// =============================================================================

func (s *StagingStore) SaveCheckpoint(cp *models.Checkpoint) error {
	dates, err := json.Marshal(cp.ProcessedDates)
	if err != nil {
		return err
	}
	stats, err := json.Marshal(cp.Stats)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO checkpoints (run_key, processed_dates, stats, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_key) DO UPDATE SET
			processed_dates = excluded.processed_dates,
			stats = excluded.stats,
			updated_at = CURRENT_TIMESTAMP`,
		cp.RunKey, string(dates), string(stats))
	return err
}

func (s *StagingStore) LoadCheckpoint(runKey string) (*models.Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT run_key, processed_dates, stats, updated_at
		FROM checkpoints WHERE run_key = ?`, runKey)

	var cp models.Checkpoint
	var dates, stats string
	err := row.Scan(&cp.RunKey, &dates, &stats, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dates), &cp.ProcessedDates); err != nil {
		return nil, fmt.Errorf("decode checkpoint dates: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &cp.Stats); err != nil {
		return nil, fmt.Errorf("decode checkpoint stats: %w", err)
	}
	return &cp, nil
}

func (s *StagingStore) DeleteCheckpoint(runKey string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE run_key = ?`, runKey)
	return err
}

// =============================================================================
// Durable schedule cache
// =============================================================================

func (s *StagingStore) GetCachedSchedule(date string, ttl time.Duration) ([]models.ScheduleEntry, bool) {
	row := s.db.QueryRow(`
		SELECT payload, cached_at FROM schedule_cache WHERE cache_date = ?`, date)

	var payload string
	var cachedAt time.Time
	if err := row.Scan(&payload, &cachedAt); err != nil {
		return nil, false
	}
	if time.Since(cachedAt) > ttl {
		return nil, false
	}

	var entries []models.ScheduleEntry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (s *StagingStore) PutCachedSchedule(date string, entries []models.ScheduleEntry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO schedule_cache (cache_date, payload, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_date) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at`,
		date, string(payload), time.Now().UTC())
	return err
}
