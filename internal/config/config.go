package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/flycompare/internal/models"
)

// DefaultSources is the source list used when the config file names none.
var DefaultSources = []models.SourceSite{
	{Name: "Spice Jet", URL: "https://www.spicejet.com/"},
	{Name: "IndiGo", URL: "https://www.goindigo.in"},
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort     string
	AllowedOrigins []string

	TinyFishKey       string
	AutomationURL     string
	AutomationTimeout time.Duration
	Sources           []models.SourceSite
	FetchConcurrency  int

	AviationKey    string
	AirportURL     string
	AirportTimeout time.Duration

	RequestTimeout  time.Duration
	CoalesceTimeout time.Duration
	MaxFieldLength  int

	CacheBackend       string // "in_memory", "memcached" or "redis"
	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheSweepInterval time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	WarmRoutes      []string
	WarmDaysAhead   int
	WarmInterval    time.Duration
	WarmConcurrency int

	ShutdownTimeout  time.Duration
	DegradedWindow   time.Duration
	DegradedErrorPct int

	TrackedRoutes []string
}

type fileConfig struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Automation struct {
		URL              string              `yaml:"url"`
		Timeout          string              `yaml:"timeout"`
		FetchConcurrency int                 `yaml:"fetch_concurrency"`
		Sources          []models.SourceSite `yaml:"sources"`
	} `yaml:"automation"`

	Airports struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"airports"`

	Request struct {
		Timeout         string `yaml:"timeout"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		MaxFieldLength  int    `yaml:"max_field_length"`
	} `yaml:"request"`

	Cache struct {
		Backend       string `yaml:"backend"`
		TTL           string `yaml:"ttl"`
		MaxEntries    int    `yaml:"max_entries"`
		SweepInterval string `yaml:"sweep_interval"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr    string `yaml:"addr"`
			DB      int    `yaml:"db"`
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
		Warm struct {
			Routes      []string `yaml:"routes"`
			DaysAhead   int      `yaml:"days_ahead"`
			Interval    string   `yaml:"interval"`
			Concurrency int      `yaml:"concurrency"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Metrics struct {
		TrackedRoutes []string `yaml:"tracked_routes"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	TinyFishKey   string `yaml:"tinyfish_key"`
	AviationKey   string `yaml:"aviation_key"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// Keys come from TINYFISH_KEY / AVIATION_KEY env or the secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.AllowedOrigins = fc.Server.AllowedOrigins

	cfg.TinyFishKey = firstNonEmpty(os.Getenv("TINYFISH_KEY"), sec.TinyFishKey)
	if cfg.TinyFishKey == "" {
		return nil, fmt.Errorf("TINYFISH_KEY required (set env or config/secrets.yaml tinyfish_key)")
	}
	cfg.AviationKey = firstNonEmpty(os.Getenv("AVIATION_KEY"), sec.AviationKey)

	cfg.AutomationURL = strings.TrimSpace(fc.Automation.URL)
	cfg.AutomationTimeout = parseDurationOrZero(fc.Automation.Timeout, 500*time.Second)
	cfg.FetchConcurrency = fc.Automation.FetchConcurrency
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	cfg.Sources = fc.Automation.Sources
	if len(cfg.Sources) == 0 {
		cfg.Sources = append([]models.SourceSite(nil), DefaultSources...)
	}

	cfg.AirportURL = strings.TrimSpace(fc.Airports.URL)
	cfg.AirportTimeout = parseDuration(fc.Airports.Timeout, 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 20*time.Minute)
	cfg.CoalesceTimeout = parseDuration(fc.Request.CoalesceTimeout, 0)
	cfg.MaxFieldLength = fc.Request.MaxFieldLength
	if cfg.MaxFieldLength <= 0 {
		cfg.MaxFieldLength = 100
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 15*time.Minute)
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 1000
	}
	cfg.CacheSweepInterval = parseDuration(fc.Cache.SweepInterval, time.Minute)

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be an integer, got %q", v)
		}
		cfg.RedisDB = db
	}
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.WarmRoutes = fc.Cache.Warm.Routes
	cfg.WarmDaysAhead = fc.Cache.Warm.DaysAhead
	if cfg.WarmDaysAhead <= 0 {
		cfg.WarmDaysAhead = 1
	}
	cfg.WarmInterval = parseDuration(fc.Cache.Warm.Interval, cfg.CacheTTL)
	cfg.WarmConcurrency = fc.Cache.Warm.Concurrency
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 1
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.BreakerEnabled = cb.Enabled
	cfg.BreakerFailureThreshold = cb.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(cb.Timeout, 5*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.TrackedRoutes = fc.Metrics.TrackedRoutes

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets reads the optional secrets file. A missing file yields empty secrets.
func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// requestSlack is added on top of the worst-case aggregation time when sizing the request timeout.
const requestSlack = time.Minute

// minRequestTimeout is the longest a full aggregation can take: every batch of
// fetchConcurrency sources running to its automation timeout, plus slack.
func minRequestTimeout(sources, fetchConcurrency int, automationTimeout time.Duration) time.Duration {
	if sources < 1 {
		sources = 1
	}
	if fetchConcurrency < 1 {
		fetchConcurrency = 1
	}
	batches := (sources + fetchConcurrency - 1) / fetchConcurrency
	return time.Duration(batches)*automationTimeout + requestSlack
}

// validate performs post-load validation of configuration values.
// The request timeout must outlast a full aggregation, so it is raised when it does not.
func validate(cfg *Config) error {
	if cfg.AutomationTimeout <= 0 {
		return fmt.Errorf("automation.timeout must be positive")
	}
	seen := make(map[string]int, len(cfg.Sources))
	for i, s := range cfg.Sources {
		name := strings.TrimSpace(s.Name)
		if name == "" || strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("automation.sources[%d] needs both name and url", i)
		}
		if j, dup := seen[name]; dup {
			return fmt.Errorf("automation.sources[%d] repeats the name %q of sources[%d]", i, name, j)
		}
		seen[name] = i
	}
	if floor := minRequestTimeout(len(cfg.Sources), cfg.FetchConcurrency, cfg.AutomationTimeout); cfg.RequestTimeout < floor {
		cfg.RequestTimeout = floor
	}
	if cfg.CoalesceTimeout <= 0 || cfg.CoalesceTimeout > cfg.RequestTimeout {
		cfg.CoalesceTimeout = cfg.RequestTimeout
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	return nil
}
