package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"odds_harvester/config"
)

// Harvest runs one collection over a date range. The scheduler always asks
// for yesterday-and-today with resume enabled, so a run interrupted by a
// restart picks up where it stopped.
type Harvest func(ctx context.Context, start, end time.Time, resume bool) error

// Triggerable allows workers to be kicked after a run completes.
type Triggerable interface {
	Trigger()
}

// Scheduler drives recurring harvests on either a cron expression or a fixed
// interval. Overlapping runs are skipped, not queued.
type Scheduler struct {
	cfg     config.SchedulerConfig
	harvest Harvest
	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}

	mu      sync.Mutex
	running bool

	workers []Triggerable
}

func New(cfg config.SchedulerConfig, harvest Harvest) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		harvest: harvest,
		cron:    cron.New(),
		stopCh:  make(chan struct{}),
	}
}

// SetWorkers registers workers to trigger after each scheduled run.
func (s *Scheduler) SetWorkers(workers ...Triggerable) {
	s.workers = workers
}

func (s *Scheduler) Start(ctx context.Context) error {
	switch {
	case s.cfg.Cron != "":
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runOnce(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()

	case s.cfg.Interval > 0:
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runOnce(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()

	default:
		return fmt.Errorf("no cron expression or interval configured")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// runOnce harvests yesterday and today. A run still in flight when the next
// tick arrives makes the tick a no-op.
func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Println("Previous run still in progress, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -1)

	if err := s.harvest(ctx, start, end, true); err != nil {
		log.Printf("Scheduled run error: %v", err)
		return
	}

	for _, w := range s.workers {
		if w != nil {
			w.Trigger()
		}
	}
}
