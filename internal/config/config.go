package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration for JobHunter.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Scheduler SchedulerConfig
	Pipeline  PipelineConfig
	Telegram  TelegramConfig
	Sources   SourceEnv

	CriteriaFile string
	Criteria     *Criteria
}

type ServerConfig struct {
	Port int
	Env  string
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	// APIKeyHash is the bcrypt hash of the API bearer key.
	APIKeyHash string
}

type SchedulerConfig struct {
	Spec     string
	Timezone string
}

type PipelineConfig struct {
	Concurrency    int
	AdapterTimeout time.Duration
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Enabled reports whether new-offer alerts should be sent.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// SourceEnv holds adapter settings that come from the environment rather
// than the criteria file.
type SourceEnv struct {
	ChromeBin string
	LBAAPIURL string
	LBAAPIKey string
	LBACaller string

	FranceTravailAPIURL       string
	FranceTravailTokenURL     string
	FranceTravailClientID     string
	FranceTravailClientSecret string
}

// Load reads an optional .env file, then configuration from environment
// variables and the criteria file, and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("JOBHUNTER_PORT", 8080),
			Env:  envString("JOBHUNTER_ENV", "development"),
		},
		Store: StoreConfig{
			Driver:     envString("JOBHUNTER_STORE", DriverPostgres),
			SQLitePath: envString("SQLITE_PATH", "jobhunter.db"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			APIKeyHash: os.Getenv("JOBHUNTER_API_KEY_HASH"),
		},
		Scheduler: SchedulerConfig{
			Spec:     envString("JOBHUNTER_SCHEDULE", "0 8 * * *"),
			Timezone: envString("JOBHUNTER_TIMEZONE", "Europe/Paris"),
		},
		Pipeline: PipelineConfig{
			Concurrency:    envInt("PIPELINE_CONCURRENCY", 4),
			AdapterTimeout: envDuration("PIPELINE_ADAPTER_TIMEOUT", 2*time.Minute),
		},
		Telegram: TelegramConfig{
			Token:  os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID: envInt64("TELEGRAM_CHAT_ID", 0),
		},
		Sources: SourceEnv{
			ChromeBin: os.Getenv("CHROME_BIN"),
			LBAAPIURL: envString("LBA_API_URL", "https://api.apprentissage.beta.gouv.fr/api"),
			LBAAPIKey: os.Getenv("LBA_API_KEY"),
			LBACaller: envString("LBA_CALLER", "jobhunter"),

			FranceTravailAPIURL:       envString("FRANCE_TRAVAIL_API_URL", "https://api.francetravail.io/partenaire/offresdemploi"),
			FranceTravailTokenURL:     envString("FRANCE_TRAVAIL_TOKEN_URL", "https://entreprise.francetravail.fr/connexion/oauth2/access_token?realm=%2Fpartenaire"),
			FranceTravailClientID:     os.Getenv("FRANCE_TRAVAIL_CLIENT_ID"),
			FranceTravailClientSecret: os.Getenv("FRANCE_TRAVAIL_CLIENT_SECRET"),
		},
		CriteriaFile: envString("JOBHUNTER_CRITERIA_FILE", DefaultCriteriaFile),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	criteria, err := LoadCriteria(cfg.CriteriaFile)
	if err != nil {
		return nil, err
	}
	cfg.Criteria = criteria

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when JOBHUNTER_STORE is postgres")
		}
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when JOBHUNTER_STORE is postgres")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must not be empty")
		}
	default:
		return fmt.Errorf("JOBHUNTER_STORE must be one of postgres, sqlite; got %q", c.Store.Driver)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("PIPELINE_CONCURRENCY must be at least 1, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.AdapterTimeout <= 0 {
		return fmt.Errorf("PIPELINE_ADAPTER_TIMEOUT must be positive, got %s", c.Pipeline.AdapterTimeout)
	}

	if c.Scheduler.Spec != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			return fmt.Errorf("JOBHUNTER_SCHEDULE is not a valid cron spec: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("JOBHUNTER_TIMEZONE is not a known time zone: %w", err)
	}

	if (c.Telegram.Token == "") != (c.Telegram.ChatID == 0) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
