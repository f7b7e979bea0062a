package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultOptOutKeywords are the carrier-mandated opt-out triggers.
// Matching is case-insensitive on the whole trimmed message body.
var DefaultOptOutKeywords = []string{"STOP", "STOPALL", "UNSUBSCRIBE", "CANCEL", "END", "QUIT"}

// StopConfirmationText is sent on every opt-out, keyword or manual.
const StopConfirmationText = "Messages Stopped"

// Config carries all runtime settings. It is built once in main and passed
// into constructors; nothing reads process-wide mutable flags after startup.
type Config struct {
	Port string

	// Outbound gating
	OutboundEnabled  bool
	MaxActive        int
	SendPaceInterval time.Duration
	SendConcurrency  int
	MaxReplyLength   int
	OptOutKeywords   []string

	// Reply generation service
	GeneratorURL     string
	GeneratorAPIKey  string
	GeneratorTimeout time.Duration

	// Scheduled follow-up sweep
	FollowUpInterval time.Duration
	FollowUpAge      time.Duration
}

// Load reads configuration from the environment, applying defaults.
// godotenv is loaded by main before this is called.
func Load() Config {
	return Config{
		Port:             envString("PORT", "8080"),
		OutboundEnabled:  envBool("OUTBOUND_ENABLED", true),
		MaxActive:        envInt("MAX_ACTIVE", 25),
		SendPaceInterval: envDuration("SEND_PACE_INTERVAL", 2*time.Second),
		SendConcurrency:  envInt("SEND_CONCURRENCY", 2),
		MaxReplyLength:   envInt("MAX_REPLY_LENGTH", 320),
		OptOutKeywords:   envList("OPT_OUT_KEYWORDS", DefaultOptOutKeywords),
		GeneratorURL:     os.Getenv("GENERATOR_URL"),
		GeneratorAPIKey:  os.Getenv("GENERATOR_API_KEY"),
		GeneratorTimeout: envDuration("GENERATOR_TIMEOUT", 15*time.Second),
		FollowUpInterval: envDuration("FOLLOW_UP_INTERVAL", 24*time.Hour),
		FollowUpAge:      envDuration("FOLLOW_UP_AGE", 72*time.Hour),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
