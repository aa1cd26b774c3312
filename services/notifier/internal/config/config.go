package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/plantkeep/cmms/libs/config"
	"github.com/spf13/viper"
)

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topic         string
	DLQTopic      string
	MaxAttempts   int
	RetryBackoff  time.Duration
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

type DedupeConfig struct {
	RedisAddr string
	Password  string
	DB        int
	TTL       time.Duration
}

type Config struct {
	App    base.AppConfig
	Kafka  KafkaConfig
	SMS    SMSConfig
	SMTP   SMTPConfig
	Dedupe DedupeConfig
	// MaxEventAge drops events older than this; the code inside has expired.
	MaxEventAge time.Duration
}

func Load() (*Config, error) {
	path := os.Getenv("CMMS_CONFIG")
	appCfg, err := base.Load("notifier", path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(base.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "notifier")
	v.SetDefault("kafka.topic", "notification.requested")
	v.SetDefault("kafka.dlq_topic", "notification.dlq")

	cfg := &Config{
		App: *appCfg,
		Kafka: KafkaConfig{
			Brokers:       envCSV("CMMS_KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("CMMS_KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topic:         envString("CMMS_NOTIFY_TOPIC", v.GetString("kafka.topic")),
			DLQTopic:      envString("CMMS_NOTIFY_DLQ_TOPIC", v.GetString("kafka.dlq_topic")),
			MaxAttempts:   envInt("CMMS_NOTIFY_MAX_ATTEMPTS", 3),
			RetryBackoff:  envDuration("CMMS_NOTIFY_RETRY_BACKOFF", 500*time.Millisecond),
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
		Dedupe: DedupeConfig{
			RedisAddr: envString("CMMS_NOTIFY_REDIS_ADDR", ""),
			Password:  envString("CMMS_NOTIFY_REDIS_PASSWORD", ""),
			DB:        envInt("CMMS_NOTIFY_REDIS_DB", 0),
			TTL:       envDuration("CMMS_NOTIFY_DEDUPE_TTL", time.Hour),
		},
		MaxEventAge: envDuration("CMMS_NOTIFY_MAX_EVENT_AGE", 5*time.Minute),
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if cfg.Kafka.Topic == "" {
		return nil, fmt.Errorf("kafka notification topic required")
	}
	if cfg.SMS.APIKey == "" && cfg.SMTP.Addr == "" {
		return nil, fmt.Errorf("at least one of CMMS_SMS_API_KEY or CMMS_SMTP_ADDR must be set")
	}

	return cfg, nil
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

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
