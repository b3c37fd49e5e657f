package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database      DatabaseConfig
	Fetch         FetchConfig
	Schedule      ScheduleConfig
	Collector     CollectorConfig
	Correlate     CorrelateConfig
	Archive       ArchiveConfig
	Scheduler     SchedulerConfig
	StagingDBPath string
	LogLevel      string
	Source        *SourceConfig
}

type DatabaseConfig struct {
	URL string
}

type FetchConfig struct {
	Kind             string // api or browser
	ProxyURL         string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MaxPerMinute     int
	MaxPerHour       int
	MinDelay         time.Duration
	Burst            int
	MaxWait          time.Duration
	CacheTTL         time.Duration
	CacheDir         string // empty means in-memory only
	MaxRetries       int
	MinBodyBytes     int
	Concurrency      int
}

type ScheduleConfig struct {
	BaseURL    string
	MinCallGap time.Duration
	MemoryTTL  time.Duration
	DurableTTL time.Duration
}

type CollectorConfig struct {
	RunKey          string
	BatchSize       int
	ConcurrentDates int
}

type CorrelateConfig struct {
	ToleranceHours  float64
	AttachThreshold float64
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

// SourceConfig describes the odds site: one page URL template per bet type.
// Templates contain a %s that receives the YYYY-MM-DD date.
type SourceConfig struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Fetcher   string            `yaml:"fetcher"` // api or browser
	Pages     map[string]string `yaml:"pages"`   // bet type -> URL template
	ProbePage string            `yaml:"probe_page"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Fetch: FetchConfig{
			Kind:             getEnv("FETCH_KIND", "api"),
			ProxyURL:         os.Getenv("PROXY_URL"),
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			MaxPerMinute:     getEnvInt("RATE_MAX_PER_MINUTE", 20),
			MaxPerHour:       getEnvInt("RATE_MAX_PER_HOUR", 600),
			MinDelay:         getEnvDuration("RATE_MIN_DELAY", 2*time.Second),
			Burst:            getEnvInt("RATE_BURST", 3),
			MaxWait:          getEnvDuration("RATE_MAX_WAIT", 2*time.Minute),
			CacheTTL:         getEnvDuration("FETCH_CACHE_TTL", 600*time.Second),
			CacheDir:         os.Getenv("FETCH_CACHE_DIR"),
			MaxRetries:       getEnvInt("FETCH_MAX_RETRIES", 3),
			MinBodyBytes:     getEnvInt("FETCH_MIN_BODY_BYTES", 512),
			Concurrency:      getEnvInt("FETCH_CONCURRENCY", 3),
		},
		Schedule: ScheduleConfig{
			BaseURL:    getEnv("SCHEDULE_BASE_URL", "https://statsapi.mlb.com/api/v1"),
			MinCallGap: getEnvDuration("SCHEDULE_MIN_CALL_GAP", 1*time.Second),
			MemoryTTL:  getEnvDuration("SCHEDULE_MEMORY_TTL", time.Hour),
			DurableTTL: getEnvDuration("SCHEDULE_DURABLE_TTL", 24*time.Hour),
		},
		Collector: CollectorConfig{
			RunKey:          getEnv("RUN_KEY", "default"),
			BatchSize:       getEnvInt("PROMOTE_BATCH_SIZE", 50),
			ConcurrentDates: getEnvInt("CONCURRENT_DATES", 4),
		},
		Correlate: CorrelateConfig{
			ToleranceHours:  getEnvFloat("CORRELATE_TOLERANCE_HOURS", 6),
			AttachThreshold: getEnvFloat("CORRELATE_ATTACH_THRESHOLD", 0.8),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("HARVEST_CRON"),
		},
		StagingDBPath: getEnv("STAGING_DB_PATH", "staging.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	if interval := os.Getenv("HARVEST_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSourceConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfig() error {
	path := getEnv("SOURCE_CONFIG", filepath.Join("config", "sources", "default.yaml"))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Source = defaultSource()
			return nil
		}
		return err
	}

	var src SourceConfig
	if err := yaml.Unmarshal(data, &src); err != nil {
		return fmt.Errorf("parse source config %s: %w", path, err)
	}
	if len(src.Pages) == 0 {
		return fmt.Errorf("source config %s has no pages", path)
	}
	c.Source = &src
	if src.Fetcher != "" {
		c.Fetch.Kind = src.Fetcher
	}
	return nil
}

func defaultSource() *SourceConfig {
	return &SourceConfig{
		ID:      "sbr",
		Name:    "Sportsbook Review",
		Fetcher: "api",
		Pages: map[string]string{
			"moneyline": "https://www.sportsbookreview.com/betting-odds/mlb-baseball/money-line/full-game/?date=%s",
			"spread":    "https://www.sportsbookreview.com/betting-odds/mlb-baseball/pointspread/full-game/?date=%s",
			"total":     "https://www.sportsbookreview.com/betting-odds/mlb-baseball/totals/full-game/?date=%s",
		},
		ProbePage: "https://www.sportsbookreview.com/betting-odds/mlb-baseball/",
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
