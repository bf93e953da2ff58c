package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type AppConfig struct {
	Addr           string
	WSPath         string
	AllowedOrigins []string

	SendQueue       int
	MaxMessageBytes int64
	PingInterval    time.Duration

	TrustClientGameOver bool

	RoomCodeLength int
	RoomCodeTTL    time.Duration

	RedisURL    string
	DatabaseURL string

	WebhookURL     string
	WebhookToken   string
	WebhookTimeout time.Duration
	WebhookRetries int

	AMQPURL          string
	AMQPResultsQueue string

	ArchiveQueue int
	MessagesDir  string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Addr:             ":8000",
		WSPath:           "/",
		SendQueue:        32,
		MaxMessageBytes:  4096,
		PingInterval:     30 * time.Second,
		RoomCodeLength:   6,
		RoomCodeTTL:      24 * time.Hour,
		WebhookTimeout:   5 * time.Second,
		WebhookRetries:   3,
		AMQPResultsQueue: "chess.results",
		ArchiveQueue:     128,
	}

	if v := strings.TrimSpace(os.Getenv("RELAY_ADDR")); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_WS_PATH")); v != "" {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		cfg.WSPath = v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("RELAY_ALLOWED_ORIGINS"))

	var err error
	if cfg.SendQueue, err = positiveInt("RELAY_SEND_QUEUE", cfg.SendQueue); err != nil {
		return nil, err
	}
	maxBytes, err := positiveInt("RELAY_MAX_MESSAGE_BYTES", int(cfg.MaxMessageBytes))
	if err != nil {
		return nil, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)
	if cfg.PingInterval, err = duration("RELAY_PING_INTERVAL", cfg.PingInterval); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_TRUST_CLIENT_GAME_OVER")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("RELAY_TRUST_CLIENT_GAME_OVER: %w", err)
		}
		cfg.TrustClientGameOver = b
	}

	if cfg.RoomCodeLength, err = positiveInt("ROOM_CODE_LENGTH", cfg.RoomCodeLength); err != nil {
		return nil, err
	}
	if cfg.RoomCodeLength < 4 || cfg.RoomCodeLength > 16 {
		return nil, errors.New("ROOM_CODE_LENGTH must be between 4 and 16")
	}
	if cfg.RoomCodeTTL, err = duration("ROOM_CODE_TTL", cfg.RoomCodeTTL); err != nil {
		return nil, err
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("RESULTS_WEBHOOK_URL"))
	cfg.WebhookToken = strings.TrimSpace(os.Getenv("RESULTS_WEBHOOK_TOKEN"))
	if cfg.WebhookTimeout, err = duration("RESULTS_WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}
	if cfg.WebhookRetries, err = positiveInt("RESULTS_WEBHOOK_RETRIES", cfg.WebhookRetries); err != nil {
		return nil, err
	}
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	if v := strings.TrimSpace(os.Getenv("AMQP_RESULTS_QUEUE")); v != "" {
		cfg.AMQPResultsQueue = v
	}
	if cfg.ArchiveQueue, err = positiveInt("ARCHIVE_QUEUE", cfg.ArchiveQueue); err != nil {
		return nil, err
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.RedisURL != "" {
		if _, err := ParseRedisURL(cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func positiveInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

// duration accepts Go durations ("45s") or bare seconds ("45").
func duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
