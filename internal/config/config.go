// Package config loads application configuration from environment variables
// (and an optional .env file), following the load-order used throughout the
// codebase: .env file, then process environment, with typed accessors and
// sane defaults so every component can run with zero configuration in dev.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-derived settings.
type Config struct {
	DataDir string // base directory for sqlite databases and staged blobs
	LogLevel string
	LogPretty bool

	ServerHost       string
	ServerPort       int
	ServerConcurrent int

	MaxInflight      int
	MaxUpdatedTime   time.Duration
	AppstateTimeframe int

	CacheDefaultTTL time.Duration
	CacheTTLByRes   map[string]time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3VPSName   string
	S3TCBSName  string

	TCBSDepth      int
	TCBSTimeseries int
	TCBSFlush      int
	VPSTimeseries  int
	VPSFlush       int

	DefaultStock string // alias target for "stock"/"crypto" brokers

	FireantToken       string
	FireantTimeseries  int

	IngestCron string

	EvolutionEnabled        bool
	EvolutionBroker         string
	EvolutionSymbol         string
	EvolutionResolution     string
	EvolutionWindowDays     int
	EvolutionLookbackCandle int
	EvolutionLookbackOrder  int
	EvolutionPopulationSize int
	EvolutionMoney          float64
	EvolutionArgMin         float64
	EvolutionArgMax         float64
	EvolutionUseConvex      bool
	EvolutionCron           string
}

// recognizedResolutions lists the CACHE_TTL_<res> suffixes spec.md §6 names.
var recognizedResolutions = []string{"1", "3", "5", "15", "30", "45", "1H", "4H", "1D", "1W", "1M"}

// Load reads configuration from the environment, optionally overriding the
// data directory (e.g. from a CLI flag).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	}
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),

		ServerHost:       getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:       getEnvAsInt("SERVER_PORT", 8080),
		ServerConcurrent: getEnvAsInt("SERVER_CONCURRENT", 64),

		MaxInflight:       getEnvAsInt("MAX_INFLIGHT", 32),
		MaxUpdatedTime:    getEnvAsDuration("MAX_UPDATED_TIME", 15*time.Second),
		AppstateTimeframe: getEnvAsInt("APPSTATE_TIMEFRAME", 300),

		CacheDefaultTTL: getEnvAsDuration("CACHE_DEFAULT_TTL_SECONDS", 60*time.Second),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", "auto"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3VPSName:   getEnv("S3_VPS_NAME", "vps"),
		S3TCBSName:  getEnv("S3_TCBS_NAME", "tcbs"),

		TCBSDepth:      getEnvAsInt("TCBS_DEPTH", 100),
		TCBSTimeseries: getEnvAsInt("TCBS_TIMESERIES", 512),
		TCBSFlush:      getEnvAsInt("TCBS_FLUSH", 64),
		VPSTimeseries:  getEnvAsInt("VPS_TIMESERIES", 512),
		VPSFlush:       getEnvAsInt("VPS_FLUSH", 64),

		DefaultStock: getEnv("DEFAULT_STOCK", "ssi"),

		FireantToken:      getEnv("FIREANT_TOKEN", ""),
		FireantTimeseries: getEnvAsInt("FIREANT_TIMESERIES", 256),

		IngestCron: getEnv("INGEST_CRON", "*/1 * * * *"),

		EvolutionEnabled:        getEnvAsBool("EVOLUTION_ENABLED", true),
		EvolutionBroker:         getEnv("EVOLUTION_BROKER", "vps"),
		EvolutionSymbol:         getEnv("EVOLUTION_SYMBOL", "VN30"),
		EvolutionResolution:     getEnv("EVOLUTION_RESOLUTION", "1D"),
		EvolutionWindowDays:     getEnvAsInt("EVOLUTION_WINDOW_DAYS", 180),
		EvolutionLookbackCandle: getEnvAsInt("EVOLUTION_LOOKBACK_CANDLE", 30),
		EvolutionLookbackOrder:  getEnvAsInt("EVOLUTION_LOOKBACK_ORDER", 10),
		EvolutionPopulationSize: getEnvAsInt("EVOLUTION_POPULATION_SIZE", 50),
		EvolutionMoney:          getEnvAsFloat("EVOLUTION_MONEY", 100_000_000),
		EvolutionArgMin:         getEnvAsFloat("EVOLUTION_ARG_MIN", -1),
		EvolutionArgMax:         getEnvAsFloat("EVOLUTION_ARG_MAX", 1),
		EvolutionUseConvex:      getEnvAsBool("EVOLUTION_USE_CONVEX", true),
		EvolutionCron:           getEnv("EVOLUTION_CRON", "*/5 * * * *"),
	}

	cfg.CacheTTLByRes = make(map[string]time.Duration, len(recognizedResolutions))
	for _, res := range recognizedResolutions {
		key := "CACHE_TTL_" + res
		if raw := os.Getenv(key); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil {
				cfg.CacheTTLByRes[res] = time.Duration(secs) * time.Second
			}
		}
	}

	return cfg, nil
}

// TTLFor resolves the cache TTL for a resolution string, per spec.md §4.8:
// an explicit CACHE_TTL_<res> wins; otherwise numeric resolutions are
// interpreted as minutes, and anything else falls back to CacheDefaultTTL.
func (c *Config) TTLFor(resolution string) time.Duration {
	norm := strings.ToUpper(resolution)
	if ttl, ok := c.CacheTTLByRes[norm]; ok {
		return ttl
	}
	if mins, err := strconv.Atoi(resolution); err == nil {
		return time.Duration(mins) * 60 * time.Second
	}
	return c.CacheDefaultTTL
}

// ResolveBroker resolves the "stock"/"crypto" aliases to DefaultStock.
func (c *Config) ResolveBroker(broker string) string {
	if broker == "stock" || broker == "crypto" {
		return c.DefaultStock
	}
	return broker
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
