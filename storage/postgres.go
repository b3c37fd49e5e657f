package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"odds_harvester/models"
)

// PostgresStore is the canonical store: deduplicated games, append-only
// betting lines, and run summaries. Reporting consumers read these tables
// directly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id UUID PRIMARY KEY,
		source_game_id TEXT NOT NULL UNIQUE,
		schedule_game_id TEXT,
		home_team TEXT NOT NULL,
		away_team TEXT NOT NULL,
		scheduled_at TIMESTAMPTZ NOT NULL,
		venue TEXT NOT NULL DEFAULT '',
		home_score INT,
		away_score INT,
		correlation_confidence DOUBLE PRECISION,
		details JSONB,
		detailed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS betting_lines (
		id BIGSERIAL PRIMARY KEY,
		game_id UUID NOT NULL REFERENCES games(id),
		sportsbook TEXT NOT NULL,
		bet_type TEXT NOT NULL,
		home_moneyline INT,
		away_moneyline INT,
		home_spread DOUBLE PRECISION,
		home_spread_price INT,
		away_spread_price INT,
		total DOUBLE PRECISION,
		over_price INT,
		under_price INT,
		observed_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (game_id, sportsbook, bet_type, observed_at)
	);

	CREATE TABLE IF NOT EXISTS collection_runs (
		id BIGSERIAL PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		pages_fetched INT NOT NULL DEFAULT 0,
		pages_failed INT NOT NULL DEFAULT 0,
		cache_hits INT NOT NULL DEFAULT 0,
		records_staged INT NOT NULL DEFAULT 0,
		dropped INT NOT NULL DEFAULT 0,
		games_stored INT NOT NULL DEFAULT 0,
		lines_stored INT NOT NULL DEFAULT 0,
		duplicates INT NOT NULL DEFAULT 0,
		failures INT NOT NULL DEFAULT 0,
		correlated INT NOT NULL DEFAULT 0,
		errors JSONB NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_games_scheduled ON games(scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_lines_game ON betting_lines(game_id, bet_type, observed_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON collection_runs(status, started_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Games & lines
// =============================================================================

const gameColumns = `id, source_game_id, schedule_game_id, home_team, away_team,
	scheduled_at, venue, home_score, away_score, correlation_confidence,
	details, detailed_at, created_at, updated_at`

func scanGame(row pgx.Row) (*models.Game, error) {
	var g models.Game
	err := row.Scan(
		&g.ID, &g.SourceGameID, &g.ScheduleGameID, &g.HomeTeam, &g.AwayTeam,
		&g.ScheduledAt, &g.Venue, &g.HomeScore, &g.AwayScore, &g.Confidence,
		&g.Details, &g.DetailedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) GetGameBySourceID(ctx context.Context, sourceGameID string) (*models.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE source_game_id = $1`
	return scanGame(s.pool.QueryRow(ctx, query, sourceGameID))
}

func (s *PostgresStore) GetGameByID(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	return scanGame(s.pool.QueryRow(ctx, query, id))
}

// PromoteGame is the atomic unit of promotion work for one staged row:
// upsert the game by its source id (insert if absent, else update mutable
// fields only) and insert any betting lines that do not already exist. The
// whole thing is one transaction; a replay can never double-insert.
func (s *PostgresStore) PromoteGame(ctx context.Context, g *models.Game, lines []models.BettingLine) (created bool, inserted int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := `
		INSERT INTO games (` + gameColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source_game_id) DO UPDATE SET
			schedule_game_id = COALESCE(EXCLUDED.schedule_game_id, games.schedule_game_id),
			scheduled_at = EXCLUDED.scheduled_at,
			venue = CASE WHEN EXCLUDED.venue <> '' THEN EXCLUDED.venue ELSE games.venue END,
			home_score = COALESCE(EXCLUDED.home_score, games.home_score),
			away_score = COALESCE(EXCLUDED.away_score, games.away_score),
			correlation_confidence = COALESCE(EXCLUDED.correlation_confidence, games.correlation_confidence),
			updated_at = NOW()
		RETURNING id, (xmax = 0)`

	err = tx.QueryRow(ctx, upsert,
		g.ID, g.SourceGameID, g.ScheduleGameID, g.HomeTeam, g.AwayTeam,
		g.ScheduledAt, g.Venue, g.HomeScore, g.AwayScore, g.Confidence,
		g.Details, g.DetailedAt, g.CreatedAt, g.UpdatedAt,
	).Scan(&g.ID, &created)
	if err != nil {
		return false, 0, fmt.Errorf("upsert game: %w", err)
	}

	insert := `
		INSERT INTO betting_lines (
			game_id, sportsbook, bet_type, home_moneyline, away_moneyline,
			home_spread, home_spread_price, away_spread_price,
			total, over_price, under_price, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (game_id, sportsbook, bet_type, observed_at) DO NOTHING`

	for _, l := range lines {
		tag, err := tx.Exec(ctx, insert,
			g.ID, l.Sportsbook, l.BetType, l.HomeMoneyline, l.AwayMoneyline,
			l.HomeSpread, l.HomeSpreadPrice, l.AwaySpreadPrice,
			l.Total, l.OverPrice, l.UnderPrice, l.ObservedAt,
		)
		if err != nil {
			return false, 0, fmt.Errorf("insert line %s/%s: %w", l.Sportsbook, l.BetType, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, fmt.Errorf("commit: %w", err)
	}
	return created, inserted, nil
}

func (s *PostgresStore) GetLinesForGame(ctx context.Context, gameID uuid.UUID) ([]models.BettingLine, error) {
	query := `
		SELECT id, game_id, sportsbook, bet_type, home_moneyline, away_moneyline,
			home_spread, home_spread_price, away_spread_price,
			total, over_price, under_price, observed_at, created_at
		FROM betting_lines WHERE game_id = $1
		ORDER BY observed_at, sportsbook`

	rows, err := s.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.BettingLine
	for rows.Next() {
		var l models.BettingLine
		if err := rows.Scan(
			&l.ID, &l.GameID, &l.Sportsbook, &l.BetType, &l.HomeMoneyline, &l.AwayMoneyline,
			&l.HomeSpread, &l.HomeSpreadPrice, &l.AwaySpreadPrice,
			&l.Total, &l.OverPrice, &l.UnderPrice, &l.ObservedAt, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetGamesNeedingDetail returns correlated games that have no detail payload
// yet, oldest first. The detail worker drains this.
func (s *PostgresStore) GetGamesNeedingDetail(ctx context.Context, limit int) ([]models.Game, error) {
	query := `
		SELECT ` + gameColumns + `
		FROM games
		WHERE schedule_game_id IS NOT NULL AND detailed_at IS NULL
		ORDER BY scheduled_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		var g models.Game
		if err := rows.Scan(
			&g.ID, &g.SourceGameID, &g.ScheduleGameID, &g.HomeTeam, &g.AwayTeam,
			&g.ScheduledAt, &g.Venue, &g.HomeScore, &g.AwayScore, &g.Confidence,
			&g.Details, &g.DetailedAt, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (s *PostgresStore) ApplyGameDetail(ctx context.Context, id uuid.UUID, venue string, details []byte) error {
	query := `
		UPDATE games SET
			venue = CASE WHEN $2 <> '' THEN $2 ELSE venue END,
			details = $3, detailed_at = NOW(), updated_at = NOW()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, venue, details)
	return err
}

// =============================================================================
// Run summaries
// =============================================================================

func (s *PostgresStore) CreateRunSummary(ctx context.Context, run *models.RunSummary) error {
	query := `
		INSERT INTO collection_runs (start_date, end_date, started_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.StartDate, run.EndDate, run.StartedAt, run.Status,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdateRunSummary(ctx context.Context, run *models.RunSummary) error {
	query := `
		UPDATE collection_runs SET
			finished_at = $2, status = $3,
			pages_fetched = $4, pages_failed = $5, cache_hits = $6,
			records_staged = $7, dropped = $8,
			games_stored = $9, lines_stored = $10, duplicates = $11,
			failures = $12, correlated = $13, errors = $14
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Status,
		run.PagesFetched, run.PagesFailed, run.CacheHits,
		run.RecordsStaged, run.Dropped,
		run.GamesStored, run.LinesStored, run.Duplicates,
		run.Failures, run.Correlated, run.ErrorsJSON(),
	)
	return err
}
