package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"visitguard/internal/sites"
)

// Config holds shared service configuration sourced from environment variables.
type Config struct {
	IngestAddr        string
	LoaderMetricsAddr string
	LogLevel          string
	LogFormat         string

	KafkaBrokers     []string
	KafkaTopicVisits string
	KafkaGroupID     string
	ClickHouseDSN    string
	BatchSize        int
	BatchInterval    time.Duration

	RedisURL          string
	RedisPrefix       string
	LiveChannelPrefix string
	LocalCacheEntries int

	CORSAllowOrigins []string
	// TrustedProxies may set X-Forwarded-For. Empty trusts no proxy.
	TrustedProxies []string

	IPAPIURL        string
	IPWhoisURL      string
	IPInfoURL       string
	IPInfoToken     string
	ReputationURL   string
	ReputationKey   string
	ProviderTimeout time.Duration
	LookupDeadline  time.Duration
	EnrichTimeout   time.Duration

	BotMinLoadTimeMs     int
	PageVisitWindow      time.Duration
	HeartbeatWindow      time.Duration
	SessionIdle          time.Duration
	FingerprintWindow    time.Duration
	SuspiciousHistoryTTL time.Duration

	SitesConfigPath string
	Sites           *sites.Directory
}

// Load parses process environment variables into a Config struct, applying defaults when unset.
// A .env file in the working directory is read first when present; real environment
// variables win over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	path := getenv("SITES_CONFIG_PATH", "config/sites.dev.yml")
	dir, err := sites.LoadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load sites config: %w", err)
	}

	cfg := Config{
		IngestAddr:        getenv("INGEST_ADDR", ":8080"),
		LoaderMetricsAddr: getenv("LOADER_METRICS_ADDR", ":9101"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "json"),

		KafkaBrokers:     splitAndTrim(getenv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopicVisits: getenv("KAFKA_TOPIC_VISITS", "visits.recorded"),
		KafkaGroupID:     getenv("KAFKA_GROUP_ID", "visit-loader"),
		ClickHouseDSN:    getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000?database=default&dial_timeout=5s&compress=true"),
		BatchSize:        atoiDefault("LOADER_BATCH_SIZE", 1000),
		BatchInterval:    durationDefault("LOADER_BATCH_INTERVAL_MS", 800),

		RedisURL:          os.Getenv("REDIS_URL"),
		RedisPrefix:       getenv("REDIS_PREFIX", "visitguard:"),
		LiveChannelPrefix: getenv("LIVE_CHANNEL_PREFIX", "visits:live:"),
		LocalCacheEntries: atoiDefault("LOCAL_CACHE_MAX_ENTRIES", 100_000),

		CORSAllowOrigins: splitAndTrim(getenv("CORS_ALLOW_ORIGINS", "*")),
		TrustedProxies:   splitAndTrim(os.Getenv("TRUSTED_PROXIES")),

		IPAPIURL:        getenv("IPAPI_URL", "http://ip-api.com"),
		IPWhoisURL:      getenv("IPWHOIS_URL", "https://ipwho.is"),
		IPInfoURL:       getenv("IPINFO_URL", "https://ipinfo.io"),
		IPInfoToken:     os.Getenv("IPINFO_TOKEN"),
		ReputationURL:   getenv("REPUTATION_URL", "https://v2.api.iphub.info"),
		ReputationKey:   os.Getenv("REPUTATION_API_KEY"),
		ProviderTimeout: durationDefault("PROVIDER_TIMEOUT_MS", 1500),
		LookupDeadline:  durationDefault("LOOKUP_DEADLINE_MS", 3000),
		EnrichTimeout:   durationDefault("ENRICH_TIMEOUT_MS", 10_000),

		BotMinLoadTimeMs:     atoiDefault("BOT_MIN_LOAD_TIME_MS", 50),
		PageVisitWindow:      durationDefault("DEDUP_PAGE_VISIT_WINDOW_MS", 120_000),
		HeartbeatWindow:      durationDefault("DEDUP_HEARTBEAT_WINDOW_MS", 15_000),
		SessionIdle:          durationDefault("SESSION_IDLE_MS", 30*60*1000),
		FingerprintWindow:    durationDefault("FINGERPRINT_WINDOW_MS", 60*60*1000),
		SuspiciousHistoryTTL: durationDefault("SUSPICIOUS_HISTORY_TTL_MS", 24*60*60*1000),

		SitesConfigPath: path,
		Sites:           dir,
	}
	if len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}

// splitAndTrim splits a comma list, dropping blanks. It returns nil when nothing is left.
func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func atoiDefault(key string, def int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func durationDefault(key string, defMS int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(defMS) * time.Millisecond
}
