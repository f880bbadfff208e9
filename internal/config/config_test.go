package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, SessionJWT, cfg.Auth.SessionFormat)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionDuration)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.CookieMaxAge)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 5*time.Second, cfg.Challenge.Timeout)
	assert.Equal(t, TurnstileTestSecret, cfg.Challenge.SecretKey)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
}

func TestLoad_FileLayerBelowEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := strings.Join([]string{
		"server:",
		"  port: \"9000\"",
		"  env: prod",
		"  trusted_origins: [\"https://app.example.de\"]",
		"auth:",
		"  session_duration: 2h",
		"  session_format: paseto",
		"challenge:",
		"  secret_key: from-file",
		"email:",
		"  smtp_user: mailer@example.de",
		"  smtp_secure: true",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("SERVER_PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port, "environment wins over file")
	assert.False(t, cfg.Server.IsDevelopment())
	assert.Equal(t, []string{"https://app.example.de"}, cfg.Server.TrustedOrigins)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionDuration)
	assert.Equal(t, SessionPaseto, cfg.Auth.SessionFormat)
	assert.Equal(t, "from-file", cfg.Challenge.SecretKey)
	assert.True(t, cfg.Email.ImplicitTLS)
	assert.Equal(t, "mailer@example.de", cfg.Email.From, "from falls back to the SMTP user")
}

func TestLoad_EnvDurationsAreSeconds(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("SESSION_DURATION", "3600")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Auth.SessionDuration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Auth.SessionSecret = []byte("short") },
			wantErr: "at least 32 bytes",
		},
		{
			name: "paseto key length",
			mutate: func(c *Config) {
				c.Auth.SessionFormat = SessionPaseto
				c.Auth.SessionSecret = []byte(testSecret + "x")
			},
			wantErr: "exactly 32 bytes",
		},
		{
			name:    "unknown hasher",
			mutate:  func(c *Config) { c.Auth.PasswordHasher = "md5" },
			wantErr: "PASSWORD_HASHER",
		},
		{
			name:    "unknown delivery",
			mutate:  func(c *Config) { c.Email.Delivery = "pigeon" },
			wantErr: "EMAIL_DELIVERY",
		},
		{
			name:    "missing challenge secret",
			mutate:  func(c *Config) { c.Challenge.SecretKey = "" },
			wantErr: "TURNSTILE_SECRET_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Storage:   StorageConfig{Driver: StorageMemory},
				Auth:      AuthConfig{SessionSecret: []byte(testSecret), SessionFormat: SessionJWT, PasswordHasher: HasherBcrypt},
				Challenge: ChallengeConfig{SecretKey: "secret"},
				Email:     EmailConfig{Delivery: DeliveryLog},
			}
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", User: "app", Password: "p@ss", DBName: "auth", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss@db:5432/auth?sslmode=disable", db.URL())
}
