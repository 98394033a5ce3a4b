package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Logging     LoggingConfig    `toml:"logging"`
	Metros      MetrosConfig     `toml:"metros"`
	Discovery   DiscoveryConfig  `toml:"discovery"`
	Fetch       FetchConfig      `toml:"fetch"`
	Parse       ParseConfig      `toml:"parse"`
	Normalize   NormalizeConfig  `toml:"normalize"`
	Geocoding   GeocodingConfig  `toml:"geocoding"`
	Enrichment  EnrichmentConfig `toml:"enrichment"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Metrics     MetricsConfig    `toml:"metrics"`
}

// ServerConfig controls the optional status/metrics HTTP server
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	Host    string `toml:"host"`
}

type StorageConfig struct {
	Type     string         `toml:"type"` // "postgres" or "badger"
	Postgres PostgresConfig `toml:"postgres"`
	Badger   BadgerConfig   `toml:"badger"`
}

// PostgresConfig represents the relational store connection
type PostgresConfig struct {
	DSN              string `toml:"dsn"`
	MaxConns         int    `toml:"max_conns"`
	SimpleProtocol   bool   `toml:"simple_protocol"`    // Required when connecting through pgbouncer in transaction mode
	MigrateOnStartup bool   `toml:"migrate_on_startup"` // Apply schema before workers start
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	Backend           string      `toml:"backend"`            // "redis" or "badger"
	URLQueue          string      `toml:"url_queue"`          // Discovered URLs awaiting fetch
	BlobQueue         string      `toml:"blob_queue"`         // Extracted structured-data blobs awaiting parse
	IdleSleep         string      `toml:"idle_sleep"`         // e.g., "100ms" - sleep when a queue is empty
	VisibilityTimeout string      `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int         `toml:"max_receive"`        // Max times a message can be received before it is dropped
	Path              string      `toml:"path"`               // Badger queue directory
	Redis             RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Address  string `toml:"address"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// MetrosConfig points at the metro reference seed file
type MetrosConfig struct {
	SeedFile string `toml:"seed_file"`
}

// DiscoveryConfig configures the search-task orchestrator and its API client
type DiscoveryConfig struct {
	Login            string   `toml:"login"`
	Password         string   `toml:"password"`
	BaseURL          string   `toml:"base_url"`
	Terms            []string `toml:"terms"`
	Language         string   `toml:"language"`
	Depth            int      `toml:"depth"`
	MaxTasksPerPost  int      `toml:"max_tasks_per_post"`
	PollInitial      string   `toml:"poll_initial"`
	PollMax          string   `toml:"poll_max"`
	PollMultiplier   float64  `toml:"poll_multiplier"`
	MaxPollAttempts  int      `toml:"max_poll_attempts"`
	RequestDelay     string   `toml:"request_delay"`   // Pause between consecutive task_get calls
	RecoveryWindow   string   `toml:"recovery_window"` // Trailing window for the recent-completions listing
	RateLimit        int      `toml:"rate_limit"`      // Requests per second
	RequestTimeout   string   `toml:"request_timeout"`
	PublishURLs      bool     `toml:"publish_urls"` // Push extracted URLs onto the URL queue
	PersistItems     bool     `toml:"persist_items"`
	TrustedURLHosts  []string `toml:"trusted_url_hosts"`
	MaxURLsPerResult int      `toml:"max_urls_per_result"`
}

// FetchConfig configures the headless browser fetch worker
type FetchConfig struct {
	Concurrency int    `toml:"concurrency"`
	PageTimeout string `toml:"page_timeout"`
	UserAgent   string `toml:"user_agent"`
	Headless    bool   `toml:"headless"`
	NoSandbox   bool   `toml:"no_sandbox"`
	DisableGPU  bool   `toml:"disable_gpu"`
	RenderWait  string `toml:"render_wait"` // Extra wait after load for client-rendered markup
}

// ParseConfig configures the admission worker
type ParseConfig struct {
	Concurrency   int      `toml:"concurrency"`
	Source        string   `toml:"source"`
	ApprovedTypes []string `toml:"approved_types"`
	StatsInterval int      `toml:"stats_interval"` // Log running counters every N packages
}

// NormalizeConfig configures the normalize worker
type NormalizeConfig struct {
	Concurrency       int                 `toml:"concurrency"`
	BatchSize         int                 `toml:"batch_size"`
	IdleSleep         string              `toml:"idle_sleep"`
	FingerprintLength int                 `toml:"fingerprint_length"`
	KnownCities       []string            `toml:"known_cities"`
	TrustedSources    []string            `toml:"trusted_sources"`
	Score             ScoreConfig         `toml:"score"`
	Tags              map[string][]string `toml:"tags"`
}

// ScoreConfig holds the additive completeness weights
type ScoreConfig struct {
	Title                int `toml:"title"`
	Start                int `toml:"start"`
	Geometry             int `toml:"geometry"`
	VenueName            int `toml:"venue_name"`
	Description          int `toml:"description"`
	DescriptionMinLength int `toml:"description_min_length"`
	Price                int `toml:"price"`
	TrustedSource        int `toml:"trusted_source"`
	URL                  int `toml:"url"`
	Image                int `toml:"image"`
	Tags                 int `toml:"tags"`
}

// GeocodingConfig configures the external geocoder and its local quota
type GeocodingConfig struct {
	APIKey          string  `toml:"api_key"`
	BaseURL         string  `toml:"base_url"`
	APIName         string  `toml:"api_name"` // Usage counter key
	RateLimit       string  `toml:"rate_limit"`
	RequestTimeout  string  `toml:"request_timeout"`
	MonthlyFreeTier int     `toml:"monthly_free_tier"`
	SafetyMargin    float64 `toml:"safety_margin"` // Fraction of the free tier held back
	MemoryTTL       string  `toml:"memory_ttl"`    // In-process venue cache lifetime, "0" disables it
}

// EnrichmentConfig configures the optional LLM backfill callout
type EnrichmentConfig struct {
	Enabled     bool    `toml:"enabled"`
	Provider    string  `toml:"provider"` // "http", "gemini" or "claude"
	Endpoint    string  `toml:"endpoint"`
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	BatchSize   int     `toml:"batch_size"`
	RateLimit   string  `toml:"rate_limit"`
	Timeout     string  `toml:"timeout"`
}

// SchedulerConfig holds cron expressions for periodic runs (seconds field included)
type SchedulerConfig struct {
	Discovery string `toml:"discovery"`
	Recovery  string `toml:"recovery"`
	Enrich    string `toml:"enrich"`
	Requeue   string `toml:"requeue"` // Periodic requeue of geocoding errors, empty disables
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Enabled: false,
			Port:    8085,
			Host:    "localhost",
		},
		Storage: StorageConfig{
			Type: "postgres",
			Postgres: PostgresConfig{
				MaxConns:         4,
				MigrateOnStartup: true,
			},
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			Backend:           "redis",
			URLQueue:          "url_queue",
			BlobQueue:         "jsonld_raw",
			IdleSleep:         "100ms",
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			Path:              "./data/queue",
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Metros: MetrosConfig{
			SeedFile: "./metros.yaml",
		},
		Discovery: DiscoveryConfig{
			BaseURL:          "https://api.dataforseo.com",
			Terms:            []string{"salsa", "bachata", "kizomba", "zouk", "west coast swing", "tango"},
			Language:         "en",
			Depth:            100,
			MaxTasksPerPost:  100, // Hard limit of the search API
			PollInitial:      "10s",
			PollMax:          "60s",
			PollMultiplier:   1.5,
			MaxPollAttempts:  30,
			RequestDelay:     "1s",
			RecoveryWindow:   "1h",
			RateLimit:        2,
			RequestTimeout:   "60s",
			PublishURLs:      true,
			PersistItems:     true,
			MaxURLsPerResult: 500,
		},
		Fetch: FetchConfig{
			Concurrency: 1,
			PageTimeout: "15s",
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:    true,
			NoSandbox:   true,
			DisableGPU:  true,
			RenderWait:  "0s",
		},
		Parse: ParseConfig{
			Concurrency:   1,
			Source:        "jsonld_scrape",
			ApprovedTypes: []string{"Event", "DanceEvent", "SocialDance"},
			StatsInterval: 100,
		},
		Normalize: NormalizeConfig{
			Concurrency:       1,
			BatchSize:         50,
			IdleSleep:         "5s",
			FingerprintLength: 16,
			KnownCities: []string{
				"New York", "San Francisco", "Los Angeles", "Chicago", "London", "Paris",
				"Barcelona", "Madrid", "Berlin", "Rio de Janeiro", "Tokyo",
			},
			TrustedSources: []string{"eventbrite", "meetup", "ticketmaster"},
			Score: ScoreConfig{
				Title:                10,
				Start:                10,
				Geometry:             10,
				VenueName:            5,
				Description:          5,
				DescriptionMinLength: 50,
				Price:                3,
				TrustedSource:        3,
				URL:                  2,
				Image:                2,
				Tags:                 1,
			},
			Tags: map[string][]string{
				"salsa":            {"salsa"},
				"bachata":          {"bachata"},
				"kizomba":          {"kizomba", "semba"},
				"zouk":             {"zouk", "brazilian zouk"},
				"west coast swing": {"west coast swing", "wcs"},
				"tango":            {"tango", "argentine tango"},
			},
		},
		Geocoding: GeocodingConfig{
			BaseURL:         "https://maps.googleapis.com/maps/api/place/textsearch/json",
			APIName:         "google_places",
			RateLimit:       "1.1s",
			RequestTimeout:  "30s",
			MonthlyFreeTier: 10000,
			SafetyMargin:    0.2,
			MemoryTTL:       "30m",
		},
		Enrichment: EnrichmentConfig{
			Enabled:     false,
			Provider:    "http",
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
			MaxTokens:   1024,
			BatchSize:   20,
			RateLimit:   "1s",
			Timeout:     "60s",
		},
		Scheduler: SchedulerConfig{
			Discovery: "0 0 3 * * *",     // Daily at 03:00
			Recovery:  "0 */15 * * * *",  // Every 15 minutes
			Enrich:    "0 30 */2 * * *",  // Every 2 hours
			Requeue:   "",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "tempo",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TEMPO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("TEMPO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TEMPO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if storageType := os.Getenv("TEMPO_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if dsn := os.Getenv("TEMPO_POSTGRES_DSN"); dsn != "" {
		config.Storage.Postgres.DSN = dsn
	} else if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config.Storage.Postgres.DSN = dsn
	}
	if badgerPath := os.Getenv("TEMPO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Queue
	if backend := os.Getenv("TEMPO_QUEUE_BACKEND"); backend != "" {
		config.Queue.Backend = backend
	}
	if addr := os.Getenv("TEMPO_REDIS_ADDRESS"); addr != "" {
		config.Queue.Redis.Address = addr
	}
	if password := os.Getenv("TEMPO_REDIS_PASSWORD"); password != "" {
		config.Queue.Redis.Password = password
	}
	if db := os.Getenv("TEMPO_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Queue.Redis.DB = d
		}
	}

	// Logging
	if level := os.Getenv("TEMPO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("TEMPO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// External APIs
	if login := os.Getenv("TEMPO_DISCOVERY_LOGIN"); login != "" {
		config.Discovery.Login = login
	}
	if password := os.Getenv("TEMPO_DISCOVERY_PASSWORD"); password != "" {
		config.Discovery.Password = password
	}
	if apiKey := os.Getenv("TEMPO_GEOCODING_API_KEY"); apiKey != "" {
		config.Geocoding.APIKey = apiKey
	}
	if apiKey := os.Getenv("TEMPO_ENRICHMENT_API_KEY"); apiKey != "" {
		config.Enrichment.APIKey = apiKey
	} else if config.Enrichment.Provider == "claude" {
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			config.Enrichment.APIKey = apiKey
		}
	} else if config.Enrichment.Provider == "gemini" {
		if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
			config.Enrichment.APIKey = apiKey
		}
	}
	if endpoint := os.Getenv("TEMPO_ENRICHMENT_ENDPOINT"); endpoint != "" {
		config.Enrichment.Endpoint = endpoint
	}

	// Workers
	if concurrency := os.Getenv("TEMPO_FETCH_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Fetch.Concurrency = c
		}
	}
	if batchSize := os.Getenv("TEMPO_NORMALIZE_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil {
			config.Normalize.BatchSize = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, logLevel string) {
	if port > 0 {
		config.Server.Port = port
		config.Server.Enabled = true
	}
	if host != "" {
		config.Server.Host = host
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// Validate checks values that would otherwise fail late inside a worker loop
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "postgres", "badger":
	default:
		return fmt.Errorf("unsupported storage type: %s (expected 'postgres' or 'badger')", c.Storage.Type)
	}
	switch c.Queue.Backend {
	case "redis", "badger":
	default:
		return fmt.Errorf("unsupported queue backend: %s (expected 'redis' or 'badger')", c.Queue.Backend)
	}

	durations := map[string]string{
		"queue.idle_sleep":          c.Queue.IdleSleep,
		"queue.visibility_timeout":  c.Queue.VisibilityTimeout,
		"discovery.poll_initial":    c.Discovery.PollInitial,
		"discovery.poll_max":        c.Discovery.PollMax,
		"discovery.request_delay":   c.Discovery.RequestDelay,
		"discovery.recovery_window": c.Discovery.RecoveryWindow,
		"discovery.request_timeout": c.Discovery.RequestTimeout,
		"fetch.page_timeout":        c.Fetch.PageTimeout,
		"fetch.render_wait":         c.Fetch.RenderWait,
		"normalize.idle_sleep":      c.Normalize.IdleSleep,
		"geocoding.rate_limit":      c.Geocoding.RateLimit,
		"geocoding.request_timeout": c.Geocoding.RequestTimeout,
		"geocoding.memory_ttl":      c.Geocoding.MemoryTTL,
		"enrichment.rate_limit":     c.Enrichment.RateLimit,
		"enrichment.timeout":        c.Enrichment.Timeout,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s '%s': %w", name, value, err)
		}
	}

	if c.Discovery.MaxTasksPerPost <= 0 || c.Discovery.MaxTasksPerPost > 100 {
		return fmt.Errorf("discovery.max_tasks_per_post must be between 1 and 100, got %d", c.Discovery.MaxTasksPerPost)
	}
	if c.Discovery.PollMultiplier < 1 {
		return fmt.Errorf("discovery.poll_multiplier must be >= 1, got %v", c.Discovery.PollMultiplier)
	}
	if c.Normalize.FingerprintLength <= 0 || c.Normalize.FingerprintLength > 40 {
		return fmt.Errorf("normalize.fingerprint_length must be between 1 and 40, got %d", c.Normalize.FingerprintLength)
	}
	if c.Geocoding.SafetyMargin < 0 || c.Geocoding.SafetyMargin >= 1 {
		return fmt.Errorf("geocoding.safety_margin must be in [0, 1), got %v", c.Geocoding.SafetyMargin)
	}

	for name, schedule := range map[string]string{
		"scheduler.discovery": c.Scheduler.Discovery,
		"scheduler.recovery":  c.Scheduler.Recovery,
		"scheduler.enrich":    c.Scheduler.Enrich,
		"scheduler.requeue":   c.Scheduler.Requeue,
	} {
		if err := ValidateSchedule(schedule); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// ValidateSchedule validates a cron expression with a leading seconds field. Empty disables the job.
func ValidateSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return nil
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// MustDuration parses a duration string, returning fallback when empty or invalid.
// Values are checked by Validate at load time.
func MustDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
