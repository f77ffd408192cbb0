package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/analysis/foundation"
	"github.com/jengzang/fleet-records-go/internal/analysis/stats"
	"github.com/jengzang/fleet-records-go/internal/geocoding"
)

// Config 应用配置
type Config struct {
	Port   string
	DBPath string

	// Reporting day boundaries are taken in this zone
	ReportTimezone *time.Location

	DefaultDistanceUnit string

	// Parked/stop detection
	ParkedWindowHalfWidth time.Duration
	ParkedMinSamples      int
	ParkedMaxMovementM    float64
	ParkedAvgMovementM    float64
	MovingSpeedMPS        float64
	MinStopDuration       time.Duration

	// Consolidation
	TripMergeGap       time.Duration
	TripNoiseMaxPoints int

	ProductivityFreshness time.Duration

	// Backfill
	BackfillChunk       time.Duration
	BackfillDelay       time.Duration
	BackfillConcurrency int

	// Reverse geocoder
	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderTimeout   time.Duration
	GeocoderRetries   int
	GeocoderBackoff   time.Duration
	GeocoderRateLimit int
	GeocodeCacheTTL   time.Duration

	// Redis
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// API requests per minute per client IP
	APIRateLimit int
}

// Load 加载配置
func Load() (*Config, error) {
	tzName := getEnv("REPORT_TIMEZONE", "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", tzName, err)
	}

	cfg := &Config{
		Port:   getEnv("PORT", ":8080"),
		DBPath: getEnv("DB_PATH", "./data/fleet/fleet.db"),

		ReportTimezone:      tz,
		DefaultDistanceUnit: getEnv("DEFAULT_DISTANCE_UNIT", "km"),

		ParkedWindowHalfWidth: getDurationEnv("PARKED_WINDOW_HALF_WIDTH", 150*time.Second),
		ParkedMinSamples:      getIntEnv("PARKED_MIN_SAMPLES", 3),
		ParkedMaxMovementM:    getFloatEnv("PARKED_MAX_MOVEMENT_M", 50),
		ParkedAvgMovementM:    getFloatEnv("PARKED_AVG_MOVEMENT_M", 15),
		MovingSpeedMPS:        getFloatEnv("MOVING_SPEED_MPS", 0.9),
		MinStopDuration:       getDurationEnv("MIN_STOP_DURATION", 5*time.Minute),

		TripMergeGap:       getDurationEnv("TRIP_MERGE_GAP", 10*time.Minute),
		TripNoiseMaxPoints: getIntEnv("TRIP_NOISE_MAX_POINTS", 2),

		ProductivityFreshness: getDurationEnv("PRODUCTIVITY_FRESHNESS", time.Hour),

		BackfillChunk:       getDurationEnv("BACKFILL_CHUNK", 72*time.Hour),
		BackfillDelay:       getDurationEnv("BACKFILL_DELAY", 2*time.Second),
		BackfillConcurrency: getIntEnv("BACKFILL_CONCURRENCY", 4),

		GeocoderURL:       getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "fleet-records-go/1.0"),
		GeocoderTimeout:   getDurationEnv("GEOCODER_TIMEOUT", 10*time.Second),
		GeocoderRetries:   getIntEnv("GEOCODER_RETRIES", 3),
		GeocoderBackoff:   getDurationEnv("GEOCODER_BACKOFF", 500*time.Millisecond),
		GeocoderRateLimit: getIntEnv("GEOCODER_RATE_LIMIT", 60),
		GeocodeCacheTTL:   getDurationEnv("GEOCODE_CACHE_TTL", 30*24*time.Hour),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		APIRateLimit: getIntEnv("API_RATE_LIMIT", 120),
	}

	return cfg, nil
}

// Normalizer returns the signal normalizer settings
func (c *Config) Normalizer() foundation.NormalizerConfig {
	return foundation.NormalizerConfig{DefaultDistanceUnit: c.DefaultDistanceUnit}
}

// Stop returns the stop detector thresholds
func (c *Config) Stop() behavior.StopConfig {
	return behavior.StopConfig{
		WindowHalfWidth:   c.ParkedWindowHalfWidth,
		MinWindowSamples:  c.ParkedMinSamples,
		MaxMovementMeters: c.ParkedMaxMovementM,
		AvgMovementMeters: c.ParkedAvgMovementM,
		MovingSpeedMPS:    c.MovingSpeedMPS,
		MinStopDuration:   c.MinStopDuration,
	}
}

// Consolidation returns the trip consolidation policy
func (c *Config) Consolidation() behavior.ConsolidationConfig {
	return behavior.ConsolidationConfig{
		MergeGap:            c.TripMergeGap,
		NoiseMaxRoutePoints: c.TripNoiseMaxPoints,
	}
}

// Backfill returns the backfill chunking and throttling policy
func (c *Config) Backfill() behavior.BackfillConfig {
	return behavior.BackfillConfig{
		ChunkSize:   c.BackfillChunk,
		ChunkDelay:  c.BackfillDelay,
		Concurrency: c.BackfillConcurrency,
		Stop:        c.Stop(),
		Normalizer:  c.Normalizer(),
	}
}

// Productivity returns the aggregation and report settings
func (c *Config) Productivity() stats.ProductivityConfig {
	p := stats.DefaultProductivityConfig()
	p.Stop = c.Stop()
	p.Location = c.ReportTimezone
	return p
}

// Geocoder returns the reverse geocoder client settings
func (c *Config) Geocoder() geocoding.Config {
	return geocoding.Config{
		BaseURL:    c.GeocoderURL,
		UserAgent:  c.GeocoderUserAgent,
		Timeout:    c.GeocoderTimeout,
		MaxRetries: c.GeocoderRetries,
		Backoff:    c.GeocoderBackoff,
		RateLimit:  c.GeocoderRateLimit,
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
