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

const (
	ProfileBackendMemory = "memory"
	ProfileBackendRedis  = "redis"
	ProfileBackendSQL    = "sql"
)

type AppConfig struct {
	HTTPAddr           string
	CORSAllowedOrigins []string

	RedisURL       string
	DatabaseDriver string
	DatabaseURL    string
	ProfileBackend string
	SeriesTTL      time.Duration

	WebhookURL    string
	WebhookToken  string
	EventsChannel string
	MessagesDir   string

	DisconnectGrace   time.Duration
	NextGameCountdown time.Duration
	RematchExpiry     time.Duration
	RematchWindow     time.Duration

	RewardRetryMax      int
	RewardRetryInterval time.Duration
}

// Load reads the environment, after an optional .env file.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:            ":8080",
		DatabaseDriver:      "postgres",
		SeriesTTL:           24 * time.Hour,
		EventsChannel:       "series:events",
		DisconnectGrace:     60 * time.Second,
		NextGameCountdown:   10 * time.Second,
		RematchExpiry:       15 * time.Second,
		RematchWindow:       2 * time.Minute,
		RewardRetryMax:      8,
		RewardRetryInterval: 5 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("DATABASE_DRIVER")); v != "" {
		cfg.DatabaseDriver = strings.ToLower(v)
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	cfg.WebhookToken = strings.TrimSpace(os.Getenv("WEBHOOK_TOKEN"))
	if v := strings.TrimSpace(os.Getenv("EVENTS_CHANNEL")); v != "" {
		cfg.EventsChannel = v
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
		// allowNegative lets a negative value disable the feature
		allowNegative bool
	}{
		{"SERIES_TTL", &cfg.SeriesTTL, false},
		{"DISCONNECT_GRACE", &cfg.DisconnectGrace, false},
		{"NEXT_GAME_COUNTDOWN", &cfg.NextGameCountdown, true},
		{"REMATCH_EXPIRY", &cfg.RematchExpiry, false},
		{"REMATCH_WINDOW", &cfg.RematchWindow, false},
		{"REWARD_RETRY_INTERVAL", &cfg.RewardRetryInterval, false},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		if parsed <= 0 && !(d.allowNegative && parsed < 0) {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
			continue
		}
		*d.dst = parsed
	}
	if v := strings.TrimSpace(os.Getenv("REWARD_RETRY_MAX")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RewardRetryMax = n
		} else {
			errs = append(errs, errors.New("REWARD_RETRY_MAX must be a positive integer"))
		}
	}

	cfg.ProfileBackend = strings.ToLower(strings.TrimSpace(os.Getenv("PROFILE_BACKEND")))
	if cfg.ProfileBackend == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.ProfileBackend = ProfileBackendSQL
		case cfg.RedisURL != "":
			cfg.ProfileBackend = ProfileBackendRedis
		default:
			cfg.ProfileBackend = ProfileBackendMemory
		}
	}
	switch cfg.ProfileBackend {
	case ProfileBackendMemory:
	case ProfileBackendRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for PROFILE_BACKEND=redis"))
		}
	case ProfileBackendSQL:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for PROFILE_BACKEND=sql"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROFILE_BACKEND %q", cfg.ProfileBackend))
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite3" {
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("90s") or plain seconds ("90").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
