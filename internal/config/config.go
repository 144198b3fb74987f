package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // credential cache TTL
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type QueueConfig struct {
	// Admission control
	RateLimit     int           `yaml:"rate_limit"`     // admissions per window per account
	RateWindow    time.Duration `yaml:"rate_window"`    // rolling window
	DedupeWindow  time.Duration `yaml:"dedupe_window"`  // per (account,lead) suppression
	Retention     time.Duration `yaml:"retention"`      // terminal job retention before GC
	EventsChannel string        `yaml:"events_channel"` // redis pub channel for lifecycle events
}

type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	MaxReclaims    int           `yaml:"max_reclaims"`
}

type CRMConfig struct {
	// TokenURL is the OAuth token endpoint; {base} expands to the tenant
	// base URL.
	TokenURL string `yaml:"token_url"`
	// SubdomainURL answers the account's current subdomain given a refresh
	// token; used for migration recovery.
	SubdomainURL string  `yaml:"subdomain_url"`
	ClientID     string  `yaml:"client_id"`
	ClientSecret string  `yaml:"client_secret"`
	RedirectURI  string  `yaml:"redirect_uri"`
	RatePerSec   float64 `yaml:"rate_per_sec"` // REST budget per account client
}

type AutomationConfig struct {
	// Endpoints are WebDriver remote ends available at startup. More
	// engines are dialed lazily from Endpoints order as load grows.
	Endpoints         []string      `yaml:"endpoints"`
	SessionsPerEngine int           `yaml:"sessions_per_engine"`
	MaxEngines        int           `yaml:"max_engines"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	EvictInterval     time.Duration `yaml:"evict_interval"`
	ScreenshotDir     string        `yaml:"screenshot_dir"`
}

type DeliveryConfig struct {
	// APIFallback enables falling back from the REST path to browser
	// automation when the messaging endpoints answer 403/404 and the
	// account carries a UI login pair.
	APIFallback *bool `yaml:"api_fallback"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	API        APIConfig        `yaml:"api"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	CRM        CRMConfig        `yaml:"crm"`
	Automation AutomationConfig `yaml:"automation"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Security   SecurityConfig   `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// APIFallbackEnabled resolves the fallback switch; unset means enabled.
func (c *Config) APIFallbackEnabled() bool {
	if c.Delivery.APIFallback == nil {
		return true
	}
	return *c.Delivery.APIFallback
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.CRM.ClientID == "" || cfg.CRM.ClientSecret == "" {
		return nil, errors.New("crm.client_id and crm.client_secret are required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Database.PoolSize <= 0 {
		c.Database.PoolSize = 10
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 15 * time.Minute
	}
	if c.Queue.RateLimit <= 0 {
		c.Queue.RateLimit = 30
	}
	if c.Queue.RateWindow <= 0 {
		c.Queue.RateWindow = time.Minute
	}
	if c.Queue.DedupeWindow <= 0 {
		c.Queue.DedupeWindow = 5 * time.Second
	}
	if c.Queue.Retention <= 0 {
		c.Queue.Retention = 24 * time.Hour
	}
	if c.Queue.EventsChannel == "" {
		c.Queue.EventsChannel = "delivery:events"
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 500 * time.Millisecond
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Worker.BackoffBase <= 0 {
		c.Worker.BackoffBase = 2 * time.Second
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = 2 * time.Minute
	}
	if c.Worker.SweepInterval <= 0 {
		c.Worker.SweepInterval = 30 * time.Second
	}
	if c.Worker.StallThreshold <= 0 {
		c.Worker.StallThreshold = 90 * time.Second
	}
	if c.Worker.MaxReclaims <= 0 {
		c.Worker.MaxReclaims = 2
	}
	if c.CRM.RatePerSec <= 0 {
		c.CRM.RatePerSec = 7
	}
	if c.Automation.SessionsPerEngine <= 0 {
		c.Automation.SessionsPerEngine = 4
	}
	if c.Automation.MaxEngines <= 0 {
		c.Automation.MaxEngines = 3
	}
	if c.Automation.IdleTimeout <= 0 {
		c.Automation.IdleTimeout = 5 * time.Minute
	}
	if c.Automation.EvictInterval <= 0 {
		c.Automation.EvictInterval = 30 * time.Second
	}
}
