package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"odds_harvester/config"
	"odds_harvester/models"
)

// DurableCache is the slice of the staging store the client uses for its
// second cache tier. Nil disables it.
type DurableCache interface {
	GetCachedSchedule(date string, ttl time.Duration) ([]models.ScheduleEntry, bool)
	PutCachedSchedule(date string, entries []models.ScheduleEntry) error
}

// Client reads the authoritative MLB schedule. Responses are cached in two
// tiers: an in-process map with a short TTL, and the staging database with a
// longer one, so re-runs over the same date range barely touch the API.
// Past schedules never change, which is what makes the long durable TTL safe.
type Client struct {
	baseURL    string
	httpClient *http.Client
	durable    DurableCache
	memoryTTL  time.Duration
	durableTTL time.Duration

	mu         sync.Mutex
	memory     map[string]memoryEntry
	details    map[string]*models.DetailedGameData // per game id, process lifetime
	lastCall   time.Time
	minCallGap time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type memoryEntry struct {
	entries  []models.ScheduleEntry
	cachedAt time.Time
}

func NewClient(cfg config.ScheduleConfig, durable DurableCache) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		durable:    durable,
		memoryTTL:  cfg.MemoryTTL,
		durableTTL: cfg.DurableTTL,
		memory:     make(map[string]memoryEntry),
		details:    make(map[string]*models.DetailedGameData),
		minCallGap: cfg.MinCallGap,
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// ScheduleForDate returns every scheduled game for one date (YYYY-MM-DD),
// consulting memory, then the durable cache, then the API.
func (c *Client) ScheduleForDate(ctx context.Context, date string) ([]models.ScheduleEntry, error) {
	c.mu.Lock()
	if entry, ok := c.memory[date]; ok && c.now().Sub(entry.cachedAt) < c.memoryTTL {
		c.mu.Unlock()
		return entry.entries, nil
	}
	c.mu.Unlock()

	if c.durable != nil {
		if entries, ok := c.durable.GetCachedSchedule(date, c.durableTTL); ok {
			c.remember(date, entries)
			return entries, nil
		}
	}

	entries, err := c.fetchSchedule(ctx, date)
	if err != nil {
		return nil, err
	}

	c.remember(date, entries)
	if c.durable != nil {
		if err := c.durable.PutCachedSchedule(date, entries); err != nil {
			// Cache write failure is not worth failing the lookup over.
			return entries, nil
		}
	}
	return entries, nil
}

// GameDetail returns the enrichment payload for one schedule game id. Details
// are fetched once and held for the life of the process.
func (c *Client) GameDetail(ctx context.Context, gameID string) (*models.DetailedGameData, error) {
	c.mu.Lock()
	if d, ok := c.details[gameID]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	detail, err := c.fetchDetail(ctx, gameID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.details[gameID] = detail
	c.mu.Unlock()
	return detail, nil
}

func (c *Client) remember(date string, entries []models.ScheduleEntry) {
	c.mu.Lock()
	c.memory[date] = memoryEntry{entries: entries, cachedAt: c.now()}
	c.mu.Unlock()
}

// throttle enforces the minimum gap between API calls.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	now := c.now()
	wait := c.minCallGap - now.Sub(c.lastCall)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = now.Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		return c.sleep(ctx, wait)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("schedule api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("schedule api: status %d for %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// statsapi wire shapes, trimmed to the fields we read.

type scheduleResponse struct {
	Dates []struct {
		Date  string `json:"date"`
		Games []struct {
			GamePK       int64  `json:"gamePk"`
			GameDate     string `json:"gameDate"`
			DoubleHeader string `json:"doubleHeader"` // "N", "Y", or "S"
			GameNumber   int    `json:"gameNumber"`
			Status       struct {
				AbstractGameState string `json:"abstractGameState"`
			} `json:"status"`
			Teams struct {
				Home sideInfo `json:"home"`
				Away sideInfo `json:"away"`
			} `json:"teams"`
			Venue struct {
				Name string `json:"name"`
			} `json:"venue"`
		} `json:"games"`
	} `json:"dates"`
}

type sideInfo struct {
	Score *int `json:"score"`
	Team  struct {
		Name string `json:"name"`
	} `json:"team"`
}

func (c *Client) fetchSchedule(ctx context.Context, date string) ([]models.ScheduleEntry, error) {
	url := fmt.Sprintf("%s/schedule?sportId=1&date=%s", c.baseURL, date)

	var payload scheduleResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	var entries []models.ScheduleEntry
	for _, d := range payload.Dates {
		for _, g := range d.Games {
			scheduledAt, err := time.Parse(time.RFC3339, g.GameDate)
			if err != nil {
				continue
			}
			entries = append(entries, models.ScheduleEntry{
				GameID:       fmt.Sprintf("%d", g.GamePK),
				HomeTeam:     g.Teams.Home.Team.Name,
				AwayTeam:     g.Teams.Away.Team.Name,
				ScheduledAt:  scheduledAt,
				Venue:        g.Venue.Name,
				DoubleHeader: g.DoubleHeader == "Y" || g.DoubleHeader == "S",
				GameNumber:   g.GameNumber,
				HomeScore:    g.Teams.Home.Score,
				AwayScore:    g.Teams.Away.Score,
				Final:        g.Status.AbstractGameState == "Final",
			})
		}
	}
	return entries, nil
}

type detailResponse struct {
	GameData struct {
		Venue struct {
			Name string `json:"name"`
		} `json:"venue"`
		Weather struct {
			Condition string `json:"condition"`
			Temp      string `json:"temp"`
			Wind      string `json:"wind"`
		} `json:"weather"`
		ProbablePitchers struct {
			Home struct {
				FullName string `json:"fullName"`
			} `json:"home"`
			Away struct {
				FullName string `json:"fullName"`
			} `json:"away"`
		} `json:"probablePitchers"`
	} `json:"gameData"`
}

func (c *Client) fetchDetail(ctx context.Context, gameID string) (*models.DetailedGameData, error) {
	// live feed endpoint sits under /api/v1.1
	url := fmt.Sprintf("%s.1/game/%s/feed/live", c.baseURL, gameID)

	var payload detailResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	weather := payload.GameData.Weather.Condition
	if payload.GameData.Weather.Temp != "" {
		weather = fmt.Sprintf("%s, %s F", weather, payload.GameData.Weather.Temp)
	}

	return &models.DetailedGameData{
		GameID:       gameID,
		Venue:        payload.GameData.Venue.Name,
		Weather:      weather,
		Wind:         payload.GameData.Weather.Wind,
		HomeProbable: payload.GameData.ProbablePitchers.Home.FullName,
		AwayProbable: payload.GameData.ProbablePitchers.Away.FullName,
	}, nil
}
