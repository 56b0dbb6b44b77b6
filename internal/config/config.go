package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Addr       string
	DBPath     string
	CatalogDB  string
	SeedDir    string
	Workers    int
	BatchSize  int
	JobTimeout time.Duration
	MockMode   bool
	Debug      bool
}

// Load parses command line flags and environment variables to populate Config.
// Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	// Defaults and Environment Variables
	cfg.Addr = getEnv("COVMAP_ADDR", ":8080")
	cfg.DBPath = getEnv("COVMAP_DB", getDefaultDBPath())
	cfg.CatalogDB = getEnv("COVMAP_CATALOG_DB", "./data/catalog.db")
	cfg.SeedDir = getEnv("COVMAP_SEED_DIR", "")
	cfg.Workers = getEnvInt("COVMAP_WORKERS", 4)
	cfg.BatchSize = getEnvInt("COVMAP_BATCH", 250)
	cfg.JobTimeout = getEnvDuration("COVMAP_JOB_TIMEOUT", 10*time.Minute)
	cfg.MockMode = getEnvBool("COVMAP_MOCK", false)

	// Command Line Flags (Override Env)
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite database")
	flag.StringVar(&cfg.CatalogDB, "catalog-db", cfg.CatalogDB, "Path to framework catalog database")
	flag.StringVar(&cfg.SeedDir, "seed-dir", cfg.SeedDir, "Directory with framework seed YAML files to load at startup")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Scoring worker pool size")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Scoring batch size between checkpoints")
	flag.DurationVar(&cfg.JobTimeout, "job-timeout", cfg.JobTimeout, "Recomputation job timeout")
	flag.BoolVar(&cfg.MockMode, "mock", cfg.MockMode, "Run with generated demo data")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")

	flag.Parse()

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getDefaultDBPath returns the default database path in user's home directory.
// Creates the directory if it doesn't exist.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return "covmap.db"
	}

	covmapDir := filepath.Join(home, ".covmap")

	if err := os.MkdirAll(covmapDir, 0755); err != nil {
		log.Printf("Warning: Could not create .covmap directory, using current dir: %v", err)
		return "covmap.db"
	}

	return filepath.Join(covmapDir, "covmap.db")
}
