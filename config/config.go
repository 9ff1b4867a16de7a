package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Gate       GateConfig       `yaml:"gate"`
	Parking    ParkingConfig    `yaml:"parking"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Layout     LayoutConfig     `yaml:"layout"`
}

// WorkerPoolConfig holds the configuration for the override notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
// Push is disabled when either key is empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// GateConfig controls the identification protocol at the depot gates.
type GateConfig struct {
	FallbackDelayMillis int           `yaml:"fallback_delay_ms"`
	FallbackDelay       time.Duration `yaml:"-"`
}

// ParkingConfig holds the parking verification and depot geometry rules.
type ParkingConfig struct {
	Tolerance             float64 `yaml:"tolerance"`
	WrongAttemptThreshold int     `yaml:"wrong_attempt_threshold"`
	MinLevel              int     `yaml:"min_level"`
	MaxLevel              int     `yaml:"max_level"`
}

// DatabaseConfig holds the database connection configuration.
// A DSN starting with "sqlite:" or "file:" selects the SQLite driver.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// LayoutConfig points at the depot layout file used by the seed command.
type LayoutConfig struct {
	Path string `yaml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "sqlite:depot.db"
	}

	if cfg.Gate.FallbackDelayMillis <= 0 {
		cfg.Gate.FallbackDelayMillis = 5000
	}
	cfg.Gate.FallbackDelay = time.Duration(cfg.Gate.FallbackDelayMillis) * time.Millisecond

	if cfg.Parking.Tolerance <= 0 {
		cfg.Parking.Tolerance = 5
	}
	if cfg.Parking.WrongAttemptThreshold <= 0 {
		cfg.Parking.WrongAttemptThreshold = 3
	}
	if cfg.Parking.MinLevel <= 0 {
		cfg.Parking.MinLevel = 1
	}
	if cfg.Parking.MaxLevel < cfg.Parking.MinLevel {
		if cfg.Parking.MaxLevel != 0 {
			log.Printf("parking.max_level %d is below min_level %d; defaulting to 4", cfg.Parking.MaxLevel, cfg.Parking.MinLevel)
		}
		cfg.Parking.MaxLevel = 4
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}
