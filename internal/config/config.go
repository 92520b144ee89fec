package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port              string
	Store             string
	DBPath            string
	BoltPath          string
	RedisAddr         string
	RedisPrefix       string
	DatabaseURL       string
	AutosaveInterval  time.Duration
	StaticDir         string
	MDNS              bool
	MessagesPerSecond float64
	MessageBurst      int
}

const (
	defaultPort        = "8080"
	defaultStore       = db.StoreSQLite
	defaultDBPath      = "./data/sketchroom.db"
	defaultBoltPath    = "./data/sketchroom.bolt"
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "sketchroom:"
	defaultRate        = 100
	defaultBurst       = 200
)

// Load builds a Config from the environment. Unparseable numbers fall back
// to their defaults.
func Load() Config {
	cfg := Config{
		Port:              getEnv("PORT", defaultPort),
		Store:             getEnv("SKETCHROOM_STORE", defaultStore),
		DBPath:            getEnv("SKETCHROOM_DB_PATH", defaultDBPath),
		BoltPath:          getEnv("SKETCHROOM_BOLT_PATH", defaultBoltPath),
		RedisAddr:         getEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPrefix:       getEnv("SKETCHROOM_REDIS_PREFIX", defaultRedisPrefix),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StaticDir:         os.Getenv("SKETCHROOM_STATIC_DIR"),
		MessagesPerSecond: defaultRate,
		MessageBurst:      defaultBurst,
	}

	if raw := os.Getenv("SKETCHROOM_AUTOSAVE"); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			cfg.AutosaveInterval = v
		}
	}

	if raw := os.Getenv("SKETCHROOM_MDNS"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.MDNS = v
		}
	}

	if raw := os.Getenv("SKETCHROOM_RATE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.MessagesPerSecond = v
		}
	}

	if raw := os.Getenv("SKETCHROOM_BURST"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.MessageBurst = v
		}
	}

	return cfg
}

func (c Config) Validate() error {
	switch c.Store {
	case db.StoreSQLite, db.StoreBolt, db.StoreRedis, db.StoreNone:
	case db.StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store %q requires DATABASE_URL", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	return nil
}

// StoreOptions maps the config onto db.Open's options.
func (c Config) StoreOptions() db.Options {
	return db.Options{
		Store:       c.Store,
		SQLitePath:  c.DBPath,
		BoltPath:    c.BoltPath,
		RedisAddr:   c.RedisAddr,
		RedisPrefix: c.RedisPrefix,
		DatabaseURL: c.DatabaseURL,
	}
}

// Location describes where the configured store keeps its data.
func (c Config) Location() string {
	switch c.Store {
	case db.StoreBolt:
		return c.BoltPath
	case db.StoreRedis:
		return c.RedisAddr
	case db.StorePostgres:
		return "postgres"
	case db.StoreNone:
		return "disabled"
	default:
		return c.DBPath
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
