// Package config reads environment-driven settings, optionally via .env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Live trading
	LiveEnabled    bool
	BinanceTestnet bool
	ArmCooldown    time.Duration
	ArmRequestTTL  time.Duration

	// Tick loop
	TickInterval time.Duration

	// Symbols warmed by the websocket quote feed
	StreamSymbols []string

	// AI advisor (empty URL disables)
	AdvisorURL    string
	AdvisorAPIKey string

	// Strategy profile overrides (YAML), optional
	ProfilesPath string

	// Auth
	JWTSecret string

	// Instance identity stamped onto events
	InstanceID string
}

// Load reads environment variables into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	instanceID, err := machineid.ProtectedID("botcore")
	if err != nil {
		instanceID = "unknown"
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/botcore.db"),
		LiveEnabled:    getEnv("LIVE_TRADING_ENABLED", "false") == "true",
		BinanceTestnet: getEnv("BINANCE_TESTNET", "true") == "true",
		ArmCooldown:    getEnvDuration("ARM_COOLDOWN", 60*time.Second),
		ArmRequestTTL:  getEnvDuration("ARM_REQUEST_TTL", 5*time.Minute),
		TickInterval:   getEnvDuration("TICK_INTERVAL", time.Minute),
		StreamSymbols:  splitAndTrim(getEnv("STREAM_SYMBOLS", "BTCUSDT,ETHUSDT")),
		AdvisorURL:     getEnv("ADVISOR_URL", ""),
		AdvisorAPIKey:  os.Getenv("ADVISOR_API_KEY"),
		ProfilesPath:   getEnv("STRATEGY_PROFILES_PATH", ""),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		InstanceID:     instanceID,
	}, nil
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
