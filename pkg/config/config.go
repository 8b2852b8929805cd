package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"autotrade-core/pkg/secrets"
)

// CredentialsKeyEnv names the variable holding the key for sealed gateway
// credentials. Rotated keys go in CREDENTIALS_KEY_V2 and so on.
const CredentialsKeyEnv = "CREDENTIALS_KEY"

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
	LogFile   string

	// Gateway
	PaperTrading      bool
	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayAPISecret  string
	GatewayTimeout    time.Duration
	GatewayMaxRetries int

	// Paper trading simulation
	PaperInitialCash  float64
	PaperFeeRate      float64 // decimal (e.g. 0.00015)
	PaperSlippageBps  float64
	PaperVolatility   float64 // per-step relative move of the simulated price path
	PaperSeed         int64
	PaperMarketAlways bool // report markets open regardless of the clock

	// Sessions
	TickTimeout          time.Duration
	DefaultPollInterval  time.Duration
	MaxConsecutiveErrors int
	OrderCooldown        time.Duration
	HistoryDays          int

	// Market admission
	AdmissionTTL      time.Duration
	DomesticTimezone  string
	DomesticOpen      string // HH:MM
	DomesticClose     string
	DomesticLunchFrom string // empty disables the recess
	DomesticLunchTo   string
	GlobalTimezone    string
	GlobalOpen        string
	GlobalClose       string
	DomesticHolidays  []string // YYYY-MM-DD, comma separated in the environment
	GlobalHolidays    []string

	// Strategy seed file
	StrategiesFile string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/autotrade.db")
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               dbPath,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:              os.Getenv("LOG_FILE"),
		PaperTrading:         getEnv("PAPER_TRADING", "true") == "true",
		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", "http://localhost:9000"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		GatewayAPISecret:     os.Getenv("GATEWAY_API_SECRET"),
		GatewayTimeout:       getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		GatewayMaxRetries:    getEnvInt("GATEWAY_MAX_RETRIES", 3),
		PaperInitialCash:     getEnvFloat("PAPER_INITIAL_CASH", 10_000_000),
		PaperFeeRate:         getEnvFloat("PAPER_FEE_RATE", 0.00015),
		PaperSlippageBps:     getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		PaperVolatility:      getEnvFloat("PAPER_VOLATILITY", 0.01),
		PaperSeed:            int64(getEnvInt("PAPER_SEED", 42)),
		PaperMarketAlways:    getEnv("PAPER_MARKET_ALWAYS_OPEN", "false") == "true",
		TickTimeout:          getEnvDuration("TICK_TIMEOUT", 30*time.Second),
		DefaultPollInterval:  getEnvDuration("DEFAULT_POLL_INTERVAL", 60*time.Second),
		MaxConsecutiveErrors: getEnvInt("MAX_CONSECUTIVE_ERRORS", 3),
		OrderCooldown:        getEnvDuration("ORDER_COOLDOWN", 30*time.Minute),
		HistoryDays:          getEnvInt("HISTORY_DAYS", 60),
		AdmissionTTL:         getEnvDuration("ADMISSION_TTL", 60*time.Second),
		DomesticTimezone:     getEnv("DOMESTIC_TZ", "Asia/Seoul"),
		DomesticOpen:         getEnv("DOMESTIC_OPEN", "09:00"),
		DomesticClose:        getEnv("DOMESTIC_CLOSE", "15:30"),
		DomesticLunchFrom:    getEnv("DOMESTIC_LUNCH_FROM", "12:00"),
		DomesticLunchTo:      getEnv("DOMESTIC_LUNCH_TO", "13:00"),
		GlobalTimezone:       getEnv("GLOBAL_TZ", "America/New_York"),
		GlobalOpen:           getEnv("GLOBAL_OPEN", "09:30"),
		GlobalClose:          getEnv("GLOBAL_CLOSE", "16:00"),
		DomesticHolidays:     getEnvList("DOMESTIC_HOLIDAYS"),
		GlobalHolidays:       getEnvList("GLOBAL_HOLIDAYS"),
		StrategiesFile:       getEnv("STRATEGIES_FILE", "strategies.yaml"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
	}
	if err := cfg.openCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openCredentials replaces sealed gateway credentials with their plaintext.
func (c *Config) openCredentials() error {
	if !secrets.IsSealed(c.GatewayAPIKey) && !secrets.IsSealed(c.GatewayAPISecret) {
		return nil
	}
	kr, err := secrets.KeyringFromEnv(CredentialsKeyEnv)
	if err != nil {
		return fmt.Errorf("sealed gateway credentials: %w", err)
	}
	if c.GatewayAPIKey, err = secrets.Resolve(kr, c.GatewayAPIKey); err != nil {
		return fmt.Errorf("GATEWAY_API_KEY: %w", err)
	}
	if c.GatewayAPISecret, err = secrets.Resolve(kr, c.GatewayAPISecret); err != nil {
		return fmt.Errorf("GATEWAY_API_SECRET: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
