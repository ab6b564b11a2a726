package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database        DatabaseConfig
	Redis           RedisConfig
	JWT             JWTConfig
	CORS            CORSConfig
	Log             LogConfig
	Cache           CacheConfig
	Audit           AuditConfig
	Extracurricular ExtracurricularConfig
	Assignments     AssignmentConfig
	Attendance      AttendanceConfig
	Events          EventsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig carries the verification settings for tokens minted by the auth provider.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig toggles Redis-backed read caching.
type CacheConfig struct {
	Enabled bool
}

// AuditConfig toggles audit log persistence for mutating requests.
type AuditConfig struct {
	Enabled bool
}

// ExtracurricularConfig tunes the enrollment ledger.
type ExtracurricularConfig struct {
	MaxSelections int
	CacheTTL      time.Duration
}

// AssignmentConfig controls the submission lifecycle and attachment storage.
type AssignmentConfig struct {
	FinalizeAfterDue bool
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// AttendanceConfig holds the school-local timezone used to build form windows.
type AttendanceConfig struct {
	Timezone string
}

// EventsConfig governs asynchronous domain event delivery.
type EventsConfig struct {
	Enabled           bool
	Channel           string
	WorkerConcurrency int
	WorkerRetries     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile surfaces a missing .env as a path error rather than ConfigFileNotFoundError.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{Enabled: v.GetBool("ENABLE_CACHE")}
	cfg.Audit = AuditConfig{Enabled: v.GetBool("ENABLE_AUDIT")}

	maxSelections := v.GetInt("EXTRACURRICULAR_MAX_SELECTIONS")
	if maxSelections <= 0 {
		maxSelections = 2
	}
	cfg.Extracurricular = ExtracurricularConfig{
		MaxSelections: maxSelections,
		CacheTTL:      parseDuration(v.GetString("EXTRACURRICULAR_CACHE_TTL"), 5*time.Minute),
	}

	maxFileSize := v.GetInt64("ASSIGNMENT_MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	cfg.Assignments = AssignmentConfig{
		FinalizeAfterDue: v.GetBool("ASSIGNMENT_FINALIZE_AFTER_DUE"),
		StorageDir:       v.GetString("ASSIGNMENT_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("ASSIGNMENT_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("ASSIGNMENT_SIGNED_URL_TTL"), 30*time.Minute),
		MaxFileSizeBytes: maxFileSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("ASSIGNMENT_ALLOWED_MIME_TYPES")),
	}

	cfg.Attendance = AttendanceConfig{Timezone: v.GetString("ATTENDANCE_TIMEZONE")}

	cfg.Events = EventsConfig{
		Enabled:           v.GetBool("ENABLE_EVENTS"),
		Channel:           v.GetString("EVENTS_CHANNEL"),
		WorkerConcurrency: v.GetInt("EVENTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EVENTS_WORKER_RETRIES"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("ENABLE_AUDIT", true)

	v.SetDefault("EXTRACURRICULAR_MAX_SELECTIONS", 2)
	v.SetDefault("EXTRACURRICULAR_CACHE_TTL", "5m")

	v.SetDefault("ASSIGNMENT_FINALIZE_AFTER_DUE", true)
	v.SetDefault("ASSIGNMENT_STORAGE_DIR", "./uploads")
	v.SetDefault("ASSIGNMENT_SIGNED_URL_SECRET", "dev_assignment_secret")
	v.SetDefault("ASSIGNMENT_SIGNED_URL_TTL", "30m")
	v.SetDefault("ASSIGNMENT_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("ASSIGNMENT_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png,application/vnd.openxmlformats-officedocument.wordprocessingml.document,application/zip")

	v.SetDefault("ATTENDANCE_TIMEZONE", "Asia/Jakarta")

	v.SetDefault("ENABLE_EVENTS", false)
	v.SetDefault("EVENTS_CHANNEL", "sma-portal:events")
	v.SetDefault("EVENTS_WORKER_CONCURRENCY", 2)
	v.SetDefault("EVENTS_WORKER_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
