package schedule

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"odds_harvester/config"
	"odds_harvester/models"
)

const scheduleFixture = `{
  "dates": [{
    "date": "2025-06-14",
    "games": [
      {
        "gamePk": 716463,
        "gameDate": "2025-06-14T23:10:00Z",
        "doubleHeader": "N",
        "gameNumber": 1,
        "status": {"abstractGameState": "Final"},
        "teams": {
          "home": {"score": 5, "team": {"name": "Boston Red Sox"}},
          "away": {"score": 3, "team": {"name": "New York Yankees"}}
        },
        "venue": {"name": "Fenway Park"}
      },
      {
        "gamePk": 716470,
        "gameDate": "2025-06-14T20:15:00Z",
        "doubleHeader": "S",
        "gameNumber": 2,
        "status": {"abstractGameState": "Preview"},
        "teams": {
          "home": {"team": {"name": "Chicago Cubs"}},
          "away": {"team": {"name": "St. Louis Cardinals"}}
        },
        "venue": {"name": "Wrigley Field"}
      }
    ]
  }]
}`

func newTestClient(t *testing.T, handler http.Handler, durable DurableCache) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.ScheduleConfig{
		BaseURL:    srv.URL + "/api/v1",
		MinCallGap: 0,
		MemoryTTL:  time.Hour,
		DurableTTL: 24 * time.Hour,
	}, durable)
	return c, srv
}

func TestScheduleForDateParsesGames(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/api/v1/schedule" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("date") != "2025-06-14" {
			t.Errorf("unexpected date %s", r.URL.Query().Get("date"))
		}
		fmt.Fprint(w, scheduleFixture)
	}), nil)

	entries, err := c.ScheduleForDate(context.Background(), "2025-06-14")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 games, got %d", len(entries))
	}

	first := entries[0]
	if first.GameID != "716463" || first.HomeTeam != "Boston Red Sox" || first.Venue != "Fenway Park" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if !first.Final || first.HomeScore == nil || *first.HomeScore != 5 {
		t.Fatalf("final score not parsed: %+v", first)
	}
	if first.DoubleHeader {
		t.Fatal("single game flagged as double-header")
	}

	second := entries[1]
	if !second.DoubleHeader || second.GameNumber != 2 {
		t.Fatalf("double-header flags not parsed: %+v", second)
	}
	if second.Final || second.HomeScore != nil {
		t.Fatalf("unplayed game must have no score: %+v", second)
	}

	// Second lookup is served from memory.
	if _, err := c.ScheduleForDate(context.Background(), "2025-06-14"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 api call, got %d", got)
	}
}

type mapDurable struct {
	entries map[string][]models.ScheduleEntry
	puts    int
}

func (m *mapDurable) GetCachedSchedule(date string, _ time.Duration) ([]models.ScheduleEntry, bool) {
	e, ok := m.entries[date]
	return e, ok
}

func (m *mapDurable) PutCachedSchedule(date string, entries []models.ScheduleEntry) error {
	if m.entries == nil {
		m.entries = map[string][]models.ScheduleEntry{}
	}
	m.entries[date] = entries
	m.puts++
	return nil
}

func TestScheduleDurableCacheSkipsAPI(t *testing.T) {
	durable := &mapDurable{entries: map[string][]models.ScheduleEntry{
		"2025-06-14": {{GameID: "716463", HomeTeam: "boston red sox", AwayTeam: "new york yankees"}},
	}}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("api must not be called on durable cache hit")
	}), durable)

	entries, err := c.ScheduleForDate(context.Background(), "2025-06-14")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(entries) != 1 || entries[0].GameID != "716463" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestScheduleWritesThroughToDurable(t *testing.T) {
	durable := &mapDurable{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, scheduleFixture)
	}), durable)

	if _, err := c.ScheduleForDate(context.Background(), "2025-06-14"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if durable.puts != 1 {
		t.Fatalf("expected one durable write, got %d", durable.puts)
	}
}

func TestScheduleAPIErrorSurfaces(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}), nil)

	if _, err := c.ScheduleForDate(context.Background(), "2025-06-14"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestGameDetailCachedForProcessLife(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/api/v1.1/game/716463/feed/live" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"gameData": {
			"venue": {"name": "Fenway Park"},
			"weather": {"condition": "Partly Cloudy", "temp": "72", "wind": "8 mph, Out To CF"},
			"probablePitchers": {
				"home": {"fullName": "Brayan Bello"},
				"away": {"fullName": "Gerrit Cole"}
			}
		}}`)
	}), nil)

	detail, err := c.GameDetail(context.Background(), "716463")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Venue != "Fenway Park" || detail.HomeProbable != "Brayan Bello" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.Weather != "Partly Cloudy, 72 F" {
		t.Fatalf("weather not composed: %q", detail.Weather)
	}

	if _, err := c.GameDetail(context.Background(), "716463"); err != nil {
		t.Fatalf("cached detail: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 api call, got %d", got)
	}
}

func TestThrottleEnforcesMinimumGap(t *testing.T) {
	c := NewClient(config.ScheduleConfig{
		BaseURL:    "http://unused",
		MinCallGap: time.Second,
	}, nil)

	now := time.Unix(1700000000, 0)
	var slept time.Duration
	c.now = func() time.Time { return now }
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		now = now.Add(d)
		return nil
	}

	if err := c.throttle(context.Background()); err != nil {
		t.Fatalf("first throttle: %v", err)
	}
	if err := c.throttle(context.Background()); err != nil {
		t.Fatalf("second throttle: %v", err)
	}
	if slept < time.Second {
		t.Fatalf("expected at least 1s of throttling, got %v", slept)
	}
}
