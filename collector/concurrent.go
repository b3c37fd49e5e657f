package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"odds_harvester/models"
)

// dateGate bounds how many dates are harvested at once. The window is
// resizable while work is in flight, which is what lets the tuner back off
// when the source starts pushing back.
type dateGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	window  int
	current int
}

func newDateGate(n int) *dateGate {
	if n < 1 {
		n = 1
	}
	g := &dateGate{window: n}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *dateGate) Acquire(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.current >= g.window {
		if ctx.Err() != nil {
			return false
		}
		g.cond.Wait()
	}
	g.current++
	return true
}

func (g *dateGate) Release() {
	g.mu.Lock()
	if g.current > 0 {
		g.current--
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

func (g *dateGate) Window() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window
}

func (g *dateGate) SetWindow(n int) {
	g.mu.Lock()
	if n < 1 {
		n = 1
	}
	g.window = n
	g.cond.Broadcast()
	g.mu.Unlock()
}

// dateTuner shrinks the gate multiplicatively when dates fail and grows it by
// one after a streak of clean dates, never past the configured maximum.
type dateTuner struct {
	mu         sync.Mutex
	gate       *dateGate
	maxWindow  int
	goodStreak int
}

func newDateTuner(gate *dateGate, maxWindow int) *dateTuner {
	return &dateTuner{gate: gate, maxWindow: maxWindow}
}

func (t *dateTuner) Observe(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.gate.Window()
	if failed {
		t.goodStreak = 0
		newW := w * 7 / 10
		if newW < 1 {
			newW = 1
		}
		if newW != w {
			log.Printf("Date failures, shrinking fan-out %d -> %d", w, newW)
			t.gate.SetWindow(newW)
		}
		return
	}

	t.goodStreak++
	if t.goodStreak >= 3 && w < t.maxWindow {
		t.goodStreak = 0
		t.gate.SetWindow(w + 1)
	}
}

// datesConcurrent fans the date range out across the gate. Failed dates are
// absorbed the same way the sequential walk absorbs them; the tuner just
// shrinks the fan-out so a struggling source gets less parallel pressure.
func (o *Orchestrator) datesConcurrent(ctx context.Context, start, end time.Time, cp *models.Checkpoint, summary *models.RunSummary) error {
	gate := newDateGate(o.concurrentDates)
	tuner := newDateTuner(gate, o.concurrentDates)

	var wg sync.WaitGroup

	for date := start.UTC().Truncate(24 * time.Hour); !date.After(end.UTC()); date = date.AddDate(0, 0, 1) {
		dateStr := date.Format("2006-01-02")
		if cp.Contains(dateStr) {
			o.dateFinished("skipped " + dateStr + " (already checkpointed)")
			continue
		}

		if !gate.Acquire(ctx) {
			break
		}

		wg.Add(1)
		go func(date time.Time, dateStr string) {
			defer wg.Done()
			defer gate.Release()

			err := o.harvestDate(ctx, date, summary)
			tuner.Observe(err != nil)

			if err != nil {
				o.mu.Lock()
				recordError(summary, fmt.Errorf("date %s: %w", dateStr, err))
				o.mu.Unlock()
				o.noteDateFailed()
				o.dateFinished("failed " + dateStr)
				return
			}

			o.checkpointDate(cp, dateStr, summary)
			o.dateFinished("completed " + dateStr)
		}(date, dateStr)
	}

	wg.Wait()
	return ctx.Err()
}
