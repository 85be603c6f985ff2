package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	MinScanInterval   time.Duration
	CountOpenSessions bool

	LongDayHours  float64
	ShortDayHours float64
	MaxDailyScans int

	FeedPollInterval time.Duration
	FeedBatchSize    int

	RateLimitPerMinute      int
	RateLimitBurst          int
	BadgeRateLimitPerMinute int
	BadgeRateLimitBurst     int

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
	SiteName         string
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		MinScanInterval:   readDurationSeconds("MIN_SCAN_INTERVAL_SECONDS", 30),
		CountOpenSessions: readBool("COUNT_OPEN_SESSIONS", false),

		// Anomaly thresholds are fixed business constants; the env keys
		// exist for visibility, the defaults are the contract.
		LongDayHours:  readFloat("LONG_DAY_HOURS", 12),
		ShortDayHours: readFloat("SHORT_DAY_HOURS", 2),
		MaxDailyScans: readInt("MAX_DAILY_SCANS", 10),

		FeedPollInterval: readDurationSeconds("FEED_POLL_INTERVAL_SECONDS", 1),
		FeedBatchSize:    readInt("FEED_BATCH_SIZE", 100),

		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		BadgeRateLimitPerMinute: readInt("BADGE_RATE_LIMIT_PER_MIN", 30),
		BadgeRateLimitBurst:     readInt("BADGE_RATE_LIMIT_BURST", 10),

		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:     readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio: readFloat("TRACE_SAMPLE_RATIO", 1),
		SiteName:         os.Getenv("SITE_NAME"),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
