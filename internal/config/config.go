package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Session token formats.
const (
	SessionJWT    = "jwt"
	SessionPaseto = "paseto"
)

// Password hashers.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// Email delivery modes.
const (
	DeliverySMTP  = "smtp"
	DeliveryQueue = "queue"
	DeliveryLog   = "log"
)

// TurnstileTestSecret always passes verification. Used in development when
// no secret is configured.
const TurnstileTestSecret = "1x0000000000000000000000000000000AA"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Challenge ChallengeConfig
	Email     EmailConfig
}

type ServerConfig struct {
	Port            string
	Env             string // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins for cookie auth
	FrontendDir     string   // optional static frontend served behind the route guard
}

type StorageConfig struct {
	Driver string // postgres or memory
}

type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ChannelBinding string // "require" for Neon DB, empty for local
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectRetries int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	// HS256 secret for jwt, or the 32 byte v4.local key for paseto.
	SessionSecret   []byte
	SessionFormat   string
	SessionDuration time.Duration
	CookieMaxAge    time.Duration
	PasswordHasher  string
	BcryptCost      int
	TokenTTL        time.Duration // reset and verification tokens
	SweepInterval   time.Duration // 0 disables the expired token sweep
}

type ChallengeConfig struct {
	SecretKey string
	VerifyURL string
	Timeout   time.Duration
}

type EmailConfig struct {
	Delivery     string
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	From         string
	ImplicitTLS  bool   // SMTP_SECURE: TLS from the first byte instead of STARTTLS
	FrontendURL  string // Frontend URL for verification links
	SendTimeout  time.Duration
	QueueName    string
	MaxAttempts  int
}

// Load reads configuration. Precedence, highest first: environment variables
// (including a .env file), the optional YAML file at path, built-in defaults.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	src := &source{k: k}

	cfg := &Config{
		Server: ServerConfig{
			Port:            src.str("SERVER_PORT", "server.port", "8080"),
			Env:             src.str("APP_ENV", "server.env", "dev"),
			ReadTimeout:     src.duration("SERVER_READ_TIMEOUT", "server.read_timeout", 10*time.Second),
			WriteTimeout:    src.duration("SERVER_WRITE_TIMEOUT", "server.write_timeout", 10*time.Second),
			ShutdownTimeout: src.duration("SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout", 15*time.Second),
			TrustedOrigins:  src.slice("TRUSTED_ORIGINS", "server.trusted_origins", []string{"http://localhost:3000"}),
			FrontendDir:     src.str("FRONTEND_DIR", "server.frontend_dir", ""),
		},
		Storage: StorageConfig{
			Driver: src.str("STORAGE_DRIVER", "storage.driver", StoragePostgres),
		},
		Database: DatabaseConfig{
			Host:           src.str("DB_HOST", "database.host", "localhost"),
			Port:           src.str("DB_PORT", "database.port", "5432"),
			User:           src.str("DB_USER", "database.user", "postgres"),
			Password:       src.str("DB_PASSWORD", "database.password", "postgres"),
			DBName:         src.str("DB_NAME", "database.name", "goauth"),
			SSLMode:        src.str("DB_SSLMODE", "database.sslmode", "disable"),
			ChannelBinding: src.str("DB_CHANNEL_BINDING", "database.channel_binding", ""),
			MaxOpenConns:   src.integer("DB_MAX_OPEN_CONNS", "database.max_open_conns", 25),
			MaxIdleConns:   src.integer("DB_MAX_IDLE_CONNS", "database.max_idle_conns", 5),
			ConnectRetries: src.integer("DB_CONNECT_RETRIES", "database.connect_retries", 5),
		},
		Redis: RedisConfig{
			Host:     src.str("REDIS_HOST", "redis.host", "localhost"),
			Port:     src.str("REDIS_PORT", "redis.port", "6379"),
			Password: src.str("REDIS_PASSWORD", "redis.password", ""),
			DB:       src.integer("REDIS_DB", "redis.db", 0),
		},
		Auth: AuthConfig{
			SessionSecret:   []byte(src.str("JWT_SECRET", "auth.session_secret", "")),
			SessionFormat:   src.str("SESSION_FORMAT", "auth.session_format", SessionJWT),
			SessionDuration: src.duration("SESSION_DURATION", "auth.session_duration", 24*time.Hour),
			CookieMaxAge:    src.duration("COOKIE_MAX_AGE", "auth.cookie_max_age", 7*24*time.Hour),
			PasswordHasher:  src.str("PASSWORD_HASHER", "auth.password_hasher", HasherBcrypt),
			BcryptCost:      src.integer("BCRYPT_COST", "auth.bcrypt_cost", 10),
			TokenTTL:        src.duration("TOKEN_TTL", "auth.token_ttl", 24*time.Hour),
			SweepInterval:   src.duration("TOKEN_SWEEP_INTERVAL", "auth.sweep_interval", time.Hour),
		},
		Challenge: ChallengeConfig{
			SecretKey: src.str("TURNSTILE_SECRET_KEY", "challenge.secret_key", ""),
			VerifyURL: src.str("TURNSTILE_VERIFY_URL", "challenge.verify_url", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			Timeout:   src.duration("TURNSTILE_TIMEOUT", "challenge.timeout", 5*time.Second),
		},
		Email: EmailConfig{
			Delivery:     src.str("EMAIL_DELIVERY", "email.delivery", DeliverySMTP),
			SMTPHost:     src.str("SMTP_HOST", "email.smtp_host", ""),
			SMTPPort:     src.str("SMTP_PORT", "email.smtp_port", "587"),
			SMTPUser:     src.str("SMTP_USER", "email.smtp_user", ""),
			SMTPPassword: src.str("SMTP_PASS", "email.smtp_password", ""),
			From:         src.str("SMTP_FROM", "email.from", ""),
			ImplicitTLS:  src.boolean("SMTP_SECURE", "email.smtp_secure", false),
			FrontendURL:  src.str("FRONTEND_URL", "email.frontend_url", "http://localhost:3000"),
			SendTimeout:  src.duration("EMAIL_SEND_TIMEOUT", "email.send_timeout", 10*time.Second),
			QueueName:    src.str("EMAIL_QUEUE", "email.queue", "mail:outbox"),
			MaxAttempts:  src.integer("EMAIL_MAX_ATTEMPTS", "email.max_attempts", 5),
		},
	}

	if cfg.Email.From == "" {
		cfg.Email.From = cfg.Email.SMTPUser
	}
	if cfg.Challenge.SecretKey == "" && cfg.Server.IsDevelopment() {
		cfg.Challenge.SecretKey = TurnstileTestSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks enum values and key material.
func (c *Config) Validate() error {
	var errs []error

	switch c.Auth.SessionFormat {
	case SessionJWT:
		if len(c.Auth.SessionSecret) < 32 {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 bytes for jwt sessions, got %d", len(c.Auth.SessionSecret)))
		}
	case SessionPaseto:
		// v4.local needs exactly 32 bytes
		if len(c.Auth.SessionSecret) != 32 {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be exactly 32 bytes for paseto sessions, got %d", len(c.Auth.SessionSecret)))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_FORMAT %q", c.Auth.SessionFormat))
	}

	switch c.Auth.PasswordHasher {
	case HasherBcrypt, HasherArgon2id:
	default:
		errs = append(errs, fmt.Errorf("unknown PASSWORD_HASHER %q", c.Auth.PasswordHasher))
	}

	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	switch c.Email.Delivery {
	case DeliverySMTP, DeliveryQueue, DeliveryLog:
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_DELIVERY %q", c.Email.Delivery))
	}

	if c.Challenge.SecretKey == "" {
		errs = append(errs, errors.New("TURNSTILE_SECRET_KEY is required outside development"))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// URL returns the database as a postgres:// URL, the form golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ChannelBinding != "" {
		q.Set("channel_binding", c.ChannelBinding)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Address returns the SMTP server address (host:port)
func (c *EmailConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.SMTPHost, c.SMTPPort)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

// source resolves a setting from the environment first, then the YAML file.
type source struct {
	k *koanf.Koanf
}

func (s *source) str(envKey, fileKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if s.k.Exists(fileKey) {
		return s.k.String(fileKey)
	}
	return defaultValue
}

func (s *source) integer(envKey, fileKey string, defaultValue int) int {
	if value := os.Getenv(envKey); value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return intValue
	}
	if s.k.Exists(fileKey) {
		return s.k.Int(fileKey)
	}
	return defaultValue
}

func (s *source) boolean(envKey, fileKey string, defaultValue bool) bool {
	if value := os.Getenv(envKey); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return b
	}
	if s.k.Exists(fileKey) {
		return s.k.Bool(fileKey)
	}
	return defaultValue
}

// duration reads integer seconds from the environment and Go duration
// strings ("24h") from the file.
func (s *source) duration(envKey, fileKey string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envKey); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return time.Duration(seconds) * time.Second
	}
	if s.k.Exists(fileKey) {
		return s.k.Duration(fileKey)
	}
	return defaultValue
}

func (s *source) slice(envKey, fileKey string, defaultValue []string) []string {
	if value := os.Getenv(envKey); value != "" {
		// Split by comma and trim whitespace
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
		return defaultValue
	}
	if s.k.Exists(fileKey) {
		return s.k.Strings(fileKey)
	}
	return defaultValue
}
