package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	TrustedProxies   []string
	AuthCookieSecure bool
	PolicyFile       string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Admin     AdminConfig
	License   LicenseConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
}

type AdminConfig struct {
	Username     string
	Password     string
	PasswordHash string
	SessionTTL   time.Duration
}

type LicenseConfig struct {
	KeyPrefix       string
	ProofSecret     string
	SeedTestLicense bool
}

type RateLimitConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ObjectKey       string
	UsePathStyle    bool
	URLTTL          time.Duration
	Timeout         time.Duration
}

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "hwlicense"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		TrustedProxies:   splitList(getenv("TRUSTED_PROXIES", "")),
		AuthCookieSecure: authCookieSecure,
		PolicyFile:       strings.TrimSpace(getenv("POLICY_FILE", "")),
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "licenses"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "licenses.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Admin: AdminConfig{
			Username:     strings.TrimSpace(getenv("ADMIN_USERNAME", "admin")),
			Password:     getenv("ADMIN_PASSWORD", ""),
			PasswordHash: strings.TrimSpace(getenv("ADMIN_PASSWORD_HASH", "")),
			SessionTTL:   getenvDuration("ADMIN_SESSION_TTL", 12*time.Hour),
		},
		License: LicenseConfig{
			KeyPrefix:       strings.ToUpper(strings.TrimSpace(getenv("LICENSE_KEY_PREFIX", "TIR"))),
			ProofSecret:     getenv("LICENSE_PROOF_SECRET", ""),
			SeedTestLicense: getenvBool("SEED_TEST_LICENSE", false),
		},
		RateLimit: RateLimitConfig{
			Backend:       strings.ToLower(getenv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
		},
		Storage: StorageConfig{
			Bucket:          strings.TrimSpace(getenv("S3_BUCKET", "")),
			Region:          getenv("S3_REGION", "us-east-1"),
			Endpoint:        strings.TrimSpace(getenv("S3_ENDPOINT", "")),
			AccessKeyID:     strings.TrimSpace(getenv("S3_ACCESS_KEY_ID", "")),
			SecretAccessKey: strings.TrimSpace(getenv("S3_SECRET_ACCESS_KEY", "")),
			ObjectKey:       strings.TrimSpace(getenv("S3_OBJECT_KEY", "bot.exe")),
			UsePathStyle:    getenvBool("S3_USE_PATH_STYLE", false),
			URLTTL:          getenvDuration("DOWNLOAD_URL_TTL", 15*time.Minute),
			Timeout:         getenvDuration("DOWNLOAD_TIMEOUT", 5*time.Second),
		},
	}

	return cfg
}

// Provide loads the configuration and refuses to start on invalid values.
func Provide() (Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate resolves required capabilities at startup.
func (c Config) Validate() error {
	switch c.DBType {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_TYPE %q", c.DBType)
	}
	if c.Admin.Username == "" {
		return errors.New("ADMIN_USERNAME is required")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return errors.New("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
	}
	if c.Admin.SessionTTL <= 0 {
		return errors.New("ADMIN_SESSION_TTL must be positive")
	}
	if c.License.KeyPrefix == "" {
		return errors.New("LICENSE_KEY_PREFIX cannot be empty")
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if c.RateLimit.RedisAddr == "" {
			return errors.New("RATE_LIMIT_REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	if c.Storage.Bucket == "" {
		return errors.New("S3_BUCKET is required")
	}
	if c.Storage.ObjectKey == "" {
		return errors.New("S3_OBJECT_KEY is required")
	}
	if c.Storage.URLTTL <= 0 || c.Storage.Timeout <= 0 {
		return errors.New("DOWNLOAD_URL_TTL and DOWNLOAD_TIMEOUT must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
