package workers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"odds_harvester/models"
)

// DetailStore is the slice of the canonical store the worker needs.
type DetailStore interface {
	GetGamesNeedingDetail(ctx context.Context, limit int) ([]models.Game, error)
	ApplyGameDetail(ctx context.Context, id uuid.UUID, venue string, details []byte) error
}

// DetailSource fetches the enrichment payload for one schedule game id.
type DetailSource interface {
	GameDetail(ctx context.Context, gameID string) (*models.DetailedGameData, error)
}

// DetailWorker fills in per-game detail (venue, weather, probable pitchers)
// for correlated games that have none yet.
type DetailWorker struct {
	store   DetailStore
	source  DetailSource
	trigger chan struct{}
}

func NewDetailWorker(store DetailStore, source DetailSource) *DetailWorker {
	return &DetailWorker{
		store:   store,
		source:  source,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass. Safe to call from any goroutine; extra
// triggers while one is pending are dropped.
func (w *DetailWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run starts the detail worker loop.
func (w *DetailWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Detail worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, batchSize)
		case <-w.trigger:
			w.ProcessBatch(ctx, batchSize)
		}
	}
}

// ProcessBatch enriches one batch of games. Returns how many were updated.
func (w *DetailWorker) ProcessBatch(ctx context.Context, batchSize int) int {
	games, err := w.store.GetGamesNeedingDetail(ctx, batchSize)
	if err != nil {
		log.Printf("Detail worker: query error: %v", err)
		return 0
	}
	if len(games) == 0 {
		return 0
	}

	log.Printf("Detail worker: enriching %d games", len(games))

	var updated, failed int
	for i := range games {
		g := &games[i]
		if g.ScheduleGameID == nil {
			continue
		}

		detail, err := w.source.GameDetail(ctx, *g.ScheduleGameID)
		if err != nil {
			log.Printf("Detail worker: fetch failed for %s: %v", *g.ScheduleGameID, err)
			failed++
			continue
		}

		payload, err := json.Marshal(detail)
		if err != nil {
			log.Printf("Detail worker: encode failed for %s: %v", *g.ScheduleGameID, err)
			failed++
			continue
		}

		if err := w.store.ApplyGameDetail(ctx, g.ID, detail.Venue, payload); err != nil {
			log.Printf("Detail worker: update failed for %s: %v", g.ID, err)
			failed++
			continue
		}
		updated++
	}

	if updated > 0 || failed > 0 {
		log.Printf("Detail worker: updated %d, failed %d", updated, failed)
	}
	return updated
}
