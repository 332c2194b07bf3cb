package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	MFA      MFAConfig
	Session  SessionConfig
	Anomaly  AnomalyConfig
	Email    EmailConfig
	Events   EventsConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	MigrateOnStart    bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	BcryptCost        int
	OperationTimeout  time.Duration
	CleanupInterval   time.Duration
	AttemptRetention  time.Duration
	FailedLoginDelay  time.Duration
	FailedLoginJitter time.Duration
	LoginRateLimit    int
	LoginRateWindow   time.Duration
	AdminEmail        string
	AdminPassword     string
}

type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

type MFAConfig struct {
	Issuer           string
	EncryptionKey    []byte
	BackupCodeCount  int
	SetupTokenExpiry time.Duration
	ChallengeExpiry  time.Duration
	TOTPSkew         uint
}

// Session store drivers.
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

type SessionConfig struct {
	DefaultTTL    time.Duration
	RememberMeTTL time.Duration
	Store         string
}

type AnomalyConfig struct {
	Window             time.Duration
	VolumeThreshold    int
	BusinessHoursStart int
	BusinessHoursEnd   int
}

// Email providers.
const (
	EmailProviderSES = "ses"
	EmailProviderLog = "log"
)

type EmailConfig struct {
	Provider          string
	AWSRegion         string
	FromAddress       string
	BaseURL           string
	ResetTokenExpiry  time.Duration
	VerifyTokenExpiry time.Duration
}

type EventsConfig struct {
	BufferSize int
	Workers    int
	JobTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			MigrateOnStart:    getEnvAsBool("DB_MIGRATE_ON_START", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
			OperationTimeout:  getEnvAsDuration("AUTH_OPERATION_TIMEOUT", 5*time.Second),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AttemptRetention:  getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 30*24*time.Hour),
			FailedLoginDelay:  getEnvAsDuration("FAILED_LOGIN_DELAY", 300*time.Millisecond),
			FailedLoginJitter: getEnvAsDuration("FAILED_LOGIN_JITTER", 200*time.Millisecond),
			LoginRateLimit:    getEnvAsInt("LOGIN_RATE_LIMIT", 20),
			LoginRateWindow:   getEnvAsDuration("LOGIN_RATE_WINDOW", time.Minute),
			AdminEmail:        getEnv("ADMIN_EMAIL", ""),
			AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		},
		Lockout: LockoutConfig{
			MaxAttempts: getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Duration:    getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
		},
		MFA: MFAConfig{
			Issuer:           getEnv("MFA_ISSUER", "Warden"),
			BackupCodeCount:  getEnvAsInt("MFA_BACKUP_CODE_COUNT", 10),
			SetupTokenExpiry: getEnvAsDuration("MFA_SETUP_TOKEN_EXPIRY", 10*time.Minute),
			ChallengeExpiry:  getEnvAsDuration("MFA_CHALLENGE_EXPIRY", 5*time.Minute),
			TOTPSkew:         uint(getEnvAsInt("MFA_TOTP_SKEW", 1)),
		},
		Session: SessionConfig{
			DefaultTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			RememberMeTTL: getEnvAsDuration("SESSION_REMEMBER_ME_TTL", 30*24*time.Hour),
			Store:         getEnv("SESSION_STORE", SessionStorePostgres),
		},
		Anomaly: AnomalyConfig{
			Window:             getEnvAsDuration("ANOMALY_WINDOW", 7*24*time.Hour),
			VolumeThreshold:    getEnvAsInt("ANOMALY_VOLUME_THRESHOLD", 100),
			BusinessHoursStart: getEnvAsInt("ANOMALY_BUSINESS_HOURS_START", 8),
			BusinessHoursEnd:   getEnvAsInt("ANOMALY_BUSINESS_HOURS_END", 18),
		},
		Email: EmailConfig{
			Provider:          getEnv("EMAIL_PROVIDER", EmailProviderLog),
			AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
			FromAddress:       getEnv("EMAIL_FROM", "no-reply@localhost"),
			BaseURL:           getEnv("APP_BASE_URL", "http://localhost:3000"),
			ResetTokenExpiry:  getEnvAsDuration("PASSWORD_RESET_EXPIRY", time.Hour),
			VerifyTokenExpiry: getEnvAsDuration("EMAIL_VERIFY_EXPIRY", 24*time.Hour),
		},
		Events: EventsConfig{
			BufferSize: getEnvAsInt("EVENTS_BUFFER_SIZE", 1024),
			Workers:    getEnvAsInt("EVENTS_WORKERS", 4),
			JobTimeout: getEnvAsDuration("EVENTS_JOB_TIMEOUT", 5*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	key, err := parseEncryptionKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.MFA.EncryptionKey = key

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Lockout.Duration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	if c.Session.DefaultTTL <= 0 || c.Session.RememberMeTTL < c.Session.DefaultTTL {
		return fmt.Errorf("SESSION_REMEMBER_ME_TTL must be at least SESSION_TTL and both positive")
	}
	if c.Session.Store != SessionStorePostgres && c.Session.Store != SessionStoreRedis {
		return fmt.Errorf("SESSION_STORE must be %q or %q", SessionStorePostgres, SessionStoreRedis)
	}
	if c.Email.Provider != EmailProviderSES && c.Email.Provider != EmailProviderLog {
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q", EmailProviderSES, EmailProviderLog)
	}
	if c.Anomaly.BusinessHoursStart < 0 || c.Anomaly.BusinessHoursEnd > 24 ||
		c.Anomaly.BusinessHoursStart >= c.Anomaly.BusinessHoursEnd {
		return fmt.Errorf("anomaly business hours must satisfy 0 <= start < end <= 24")
	}
	if c.MFA.BackupCodeCount < 1 {
		return fmt.Errorf("MFA_BACKUP_CODE_COUNT must be at least 1")
	}
	if c.Events.BufferSize < 1 || c.Events.Workers < 1 {
		return fmt.Errorf("EVENTS_BUFFER_SIZE and EVENTS_WORKERS must be at least 1")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseEncryptionKey decodes the 32-byte AES key for MFA secrets, given as 64
// hex characters.
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
