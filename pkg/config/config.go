package config

import (
	"errors"
	"strconv"
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

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Enrollment EnrollmentConfig
	Sessions   SessionConfig
	RateLimit  RateLimitConfig
	Admin      AdminConfig
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
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EnrollmentConfig carries the named default policies for claiming codes.
// Hard-coded fallbacks in the legacy flow become explicit values here.
type EnrollmentConfig struct {
	DefaultGroup    string
	Versions        []int
	FallbackVersion int
	Pseudonymous    bool
	TokenLength     int
	TokenAttempts   int
	TxRetries       int
}

// SessionConfig defines the gating windows between consecutive sessions.
type SessionConfig struct {
	WindowOpenAfter  time.Duration
	WindowCloseAfter time.Duration
}

// RateLimitConfig throttles public claim attempts per client.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// AdminConfig holds the operator credential for the admin endpoints.
type AdminConfig struct {
	Email        string
	PasswordHash string
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
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Enrollment = EnrollmentConfig{
		DefaultGroup:    v.GetString("ENROLLMENT_DEFAULT_GROUP"),
		Versions:        splitVersions(v.GetString("ENROLLMENT_VERSIONS")),
		FallbackVersion: v.GetInt("ENROLLMENT_FALLBACK_VERSION"),
		Pseudonymous:    v.GetBool("ENROLLMENT_PSEUDONYMOUS"),
		TokenLength:     v.GetInt("ENROLLMENT_TOKEN_LENGTH"),
		TokenAttempts:   v.GetInt("ENROLLMENT_TOKEN_ATTEMPTS"),
		TxRetries:       v.GetInt("ENROLLMENT_TX_RETRIES"),
	}

	cfg.Sessions = SessionConfig{
		WindowOpenAfter:  parseDuration(v.GetString("SESSION_WINDOW_OPEN_AFTER"), 48*time.Hour),
		WindowCloseAfter: parseDuration(v.GetString("SESSION_WINDOW_CLOSE_AFTER"), 72*time.Hour),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
		Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
		Window:   parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
	}

	cfg.Admin = AdminConfig{
		Email:        v.GetString("ADMIN_EMAIL"),
		PasswordHash: v.GetString("ADMIN_PASSWORD_HASH"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ct_study")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "ct-study-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENROLLMENT_DEFAULT_GROUP", "child-EN")
	v.SetDefault("ENROLLMENT_VERSIONS", "1,2,3,4")
	v.SetDefault("ENROLLMENT_FALLBACK_VERSION", 1)
	v.SetDefault("ENROLLMENT_PSEUDONYMOUS", false)
	v.SetDefault("ENROLLMENT_TOKEN_LENGTH", 8)
	v.SetDefault("ENROLLMENT_TOKEN_ATTEMPTS", 5)
	v.SetDefault("ENROLLMENT_TX_RETRIES", 3)

	v.SetDefault("SESSION_WINDOW_OPEN_AFTER", "48h")
	v.SetDefault("SESSION_WINDOW_CLOSE_AFTER", "72h")

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_REQUESTS", 20)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")

	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD_HASH", "")
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

func splitVersions(raw string) []int {
	var versions []int
	for _, part := range splitAndTrim(raw) {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			continue
		}
		versions = append(versions, n)
	}
	if len(versions) == 0 {
		versions = []int{1, 2, 3, 4}
	}
	return versions
}