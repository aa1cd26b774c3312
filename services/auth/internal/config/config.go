package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/plantkeep/cmms/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN renders a postgres URL usable by both pgxpool and golang-migrate.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	Redis  RateLimitRedisConfig
}

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

type ResetConfig struct {
	TTL         time.Duration
	LinkBaseURL string
}

type KafkaConfig struct {
	Brokers     []string
	NotifyTopic string
	DLQTopic    string
}

type SMSConfig struct {
	APIKey  string
	BaseURL string
	Sender  string
}

type SMTPConfig struct {
	Addr     string
	User     string
	Password string
	From     string
}

type Config struct {
	App              base.AppConfig
	JWTSecret        string
	JWTIssuer        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	PBKDF2Iterations int
	OTP              OTPConfig
	Reset            ResetConfig
	DemoMode         bool
	DB               DBConfig
	RateLimit        RateLimitConfig
	Kafka            KafkaConfig
	SMS              SMSConfig
	SMTP             SMTPConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load("auth", os.Getenv("CMMS_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:              *appCfg,
		JWTSecret:        envString("CMMS_JWT_SECRET", ""),
		JWTIssuer:        envString("CMMS_JWT_ISSUER", "cmms-auth"),
		AccessTokenTTL:   envDuration("CMMS_ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:  envDuration("CMMS_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		PBKDF2Iterations: envInt("CMMS_PBKDF2_ITERATIONS", 100_000),
		OTP: OTPConfig{
			TTL:         envDuration("CMMS_OTP_TTL", 5*time.Minute),
			MaxAttempts: envInt("CMMS_OTP_MAX_ATTEMPTS", 5),
		},
		Reset: ResetConfig{
			TTL:         envDuration("CMMS_RESET_TOKEN_TTL", time.Hour),
			LinkBaseURL: envString("CMMS_RESET_LINK_BASE_URL", ""),
		},
		DemoMode: envBool("CMMS_DEMO_MODE", false),
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "cmms"),
			User:     envString("POSTGRES_USER", "cmms"),
			Password: envString("POSTGRES_PASSWORD", "cmms"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("CMMS_AUTH_RATE_LIMIT", 10),
			Window: envDuration("CMMS_AUTH_RATE_WINDOW", time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("CMMS_RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("CMMS_RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("CMMS_RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("CMMS_RATE_LIMIT_REDIS_PREFIX", "cmms:auth:rl:"),
			},
		},
		Kafka: KafkaConfig{
			Brokers:     envList("CMMS_KAFKA_BROKERS"),
			NotifyTopic: envString("CMMS_NOTIFY_TOPIC", "notification.requested"),
			DLQTopic:    envString("CMMS_NOTIFY_DLQ_TOPIC", "notification.dlq"),
		},
		SMS: SMSConfig{
			APIKey:  envString("CMMS_SMS_API_KEY", ""),
			BaseURL: envString("CMMS_SMS_BASE_URL", ""),
			Sender:  envString("CMMS_SMS_SENDER", ""),
		},
		SMTP: SMTPConfig{
			Addr:     envString("CMMS_SMTP_ADDR", ""),
			User:     envString("CMMS_SMTP_USER", ""),
			Password: envString("CMMS_SMTP_PASSWORD", ""),
			From:     envString("CMMS_SMTP_FROM", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("CMMS_JWT_SECRET must be set")
	}
	if c.DemoMode && c.App.Env == "prod" {
		return fmt.Errorf("CMMS_DEMO_MODE is not allowed in prod")
	}
	if c.OTP.MaxAttempts < 0 {
		return fmt.Errorf("CMMS_OTP_MAX_ATTEMPTS must not be negative")
	}
	if c.PBKDF2Iterations <= 0 {
		return fmt.Errorf("CMMS_PBKDF2_ITERATIONS must be positive")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
