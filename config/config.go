package config

import (
	"fmt"
	"guardian/models"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment  string
	Port         string
	DatabaseURL  string // empty keeps incident history in memory
	RedisURL     string // empty keeps settings in memory
	RedisTimeout time.Duration
	JWTSecret    string // empty disables device auth
	TokenTTL     time.Duration

	AllowedOrigins []string

	// Gemini
	GeminiAPIKey    string
	GeminiTextModel string
	GeminiTTSModel  string
	GeminiVoice     string

	// Location
	LocationTimeout time.Duration
	StaticLatitude  *float64
	StaticLongitude *float64

	// Dispatch simulation
	Call911Delay        time.Duration
	NotifyContactsDelay time.Duration
	PageRespondersDelay time.Duration

	RecordingTimeslice time.Duration
	ProfileSeedFile    string
	ProfileTimeout     time.Duration

	// Archive worker
	ArchiveWorkers   int
	ArchiveQueueSize int
	IncidentHistory  int

	// Incident retention
	IncidentRetention       time.Duration
	IncidentCleanupInterval time.Duration

	// Trigger rate limit
	TriggerRateLimit  int
	TriggerRateWindow time.Duration
}

// ProfileSeed is the YAML layout of PROFILE_SEED_FILE.
type ProfileSeed struct {
	Profile  *models.UserProfile `yaml:"profile"`
	Contacts []models.Contact    `yaml:"contacts"`
}

func Load() *Config {
	return &Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		RedisTimeout: getEnvAsDuration("REDIS_TIMEOUT", time.Second),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		TokenTTL:     getEnvAsDuration("TOKEN_TTL", 30*24*time.Hour),

		AllowedOrigins: getEnvAsList("CORS_ORIGINS"),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiTextModel: getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiTTSModel:  getEnv("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		GeminiVoice:     getEnv("GEMINI_VOICE", "Kore"),

		LocationTimeout: getEnvAsDuration("LOCATION_TIMEOUT", 15*time.Second),
		StaticLatitude:  getEnvAsFloat("STATIC_LATITUDE"),
		StaticLongitude: getEnvAsFloat("STATIC_LONGITUDE"),

		Call911Delay:        getEnvAsDuration("DISPATCH_CALL_911_DELAY", 1500*time.Millisecond),
		NotifyContactsDelay: getEnvAsDuration("DISPATCH_NOTIFY_CONTACTS_DELAY", 3000*time.Millisecond),
		PageRespondersDelay: getEnvAsDuration("DISPATCH_PAGE_RESPONDERS_DELAY", 5500*time.Millisecond),

		RecordingTimeslice: getEnvAsDuration("RECORDING_TIMESLICE", time.Second),
		ProfileSeedFile:    getEnv("PROFILE_SEED_FILE", ""),
		ProfileTimeout:     getEnvAsDuration("PROFILE_READ_TIMEOUT", time.Second),

		ArchiveWorkers:   getEnvAsInt("ARCHIVE_WORKERS", 2),
		ArchiveQueueSize: getEnvAsInt("ARCHIVE_QUEUE_SIZE", 100),
		IncidentHistory:  getEnvAsInt("INCIDENT_HISTORY", 50),

		IncidentRetention:       getEnvAsDuration("INCIDENT_RETENTION", 90*24*time.Hour),
		IncidentCleanupInterval: getEnvAsDuration("INCIDENT_CLEANUP_INTERVAL", 24*time.Hour),

		TriggerRateLimit:  getEnvAsInt("TRIGGER_RATE_LIMIT", 10),
		TriggerRateWindow: getEnvAsDuration("TRIGGER_RATE_WINDOW", time.Minute),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StaticCoordinates returns the configured fixed position, if both halves
// are set.
func (c *Config) StaticCoordinates() *models.Coordinates {
	if c.StaticLatitude == nil || c.StaticLongitude == nil {
		return nil
	}
	return &models.Coordinates{Latitude: *c.StaticLatitude, Longitude: *c.StaticLongitude}
}

// InitRedis returns nil when no REDIS_URL is configured.
func InitRedis(cfg *Config) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	return redis.NewClient(redisOptions(cfg))
}

// redisOptions keeps every command short. Emergencies read settings from
// Redis, so a stalled server must fail fast instead of retrying.
func redisOptions(cfg *Config) *redis.Options {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// Fallback to default config
		opt = &redis.Options{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		}
	}

	timeout := cfg.RedisTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	opt.DialTimeout = 2 * timeout
	opt.ReadTimeout = timeout
	opt.WriteTimeout = timeout
	opt.PoolTimeout = 2 * timeout
	opt.MaxRetries = 1

	return opt
}

// LoadProfileSeed reads the YAML profile seed file.
func LoadProfileSeed(path string) (*ProfileSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile seed: %w", err)
	}

	var seed ProfileSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse profile seed %s: %w", path, err)
	}
	return &seed, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsFloat returns nil when the variable is unset or malformed.
func getEnvAsFloat(key string) *float64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}
