package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the engine.
type Config struct {
	// Database
	DatabaseDirectory string

	// Strategies
	StrategiesEnabled  []string
	StrategyConfigPath string // YAML guard constants; empty = built-in defaults

	// Accounting
	MaxDesyncMs int64 // 0 disables the desync warning

	// Market data
	SymbolsPerConnection int
	Symbols              []string // asset universe; empty = full cross-venue universe

	// Binance USDM futures
	BinanceKey     string
	BinanceSecret  string
	BinanceTestnet bool

	// Hyperliquid
	HyperliquidKey     string // API wallet private key (hex)
	HyperliquidAddress string // master account address
	HyperliquidChain   string // Arbitrum | ArbitrumGoerli | Dev

	// Execution
	DryRun      bool
	CPUAffinity bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the engine still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		DatabaseDirectory:    getEnv("DATABASE_DIRECTORY", "./data"),
		StrategiesEnabled:    splitAndTrim(getEnv("STRATEGIES_ENABLED", "1,2")),
		StrategyConfigPath:   getEnv("STRATEGY_CONFIG_PATH", ""),
		MaxDesyncMs:          int64(getEnvInt("MAX_DESYNC_MS", 30000)),
		SymbolsPerConnection: getEnvInt("SYMBOLS_PER_CONNECTION", 50),
		Symbols:              splitAndTrim(getEnv("SYMBOLS", "")),
		BinanceKey:           os.Getenv("BINANCE_KEY"),
		BinanceSecret:        os.Getenv("BINANCE_SECRET"),
		BinanceTestnet:       getEnv("BINANCE_TESTNET", "false") == "true",
		HyperliquidKey:       os.Getenv("HYPERLIQUID_KEY"),
		HyperliquidAddress:   os.Getenv("HYPERLIQUID_ADDRESS"),
		HyperliquidChain:     getEnv("HYPERLIQUID_CHAIN", "Arbitrum"),
		DryRun:               getEnv("DRY_RUN", "false") == "true",
		CPUAffinity:          getEnv("CPU_AFFINITY", "false") == "true",
	}, nil
}

// StrategyEnabled reports whether a numeric strategy id is switched on.
func (c *Config) StrategyEnabled(id int) bool {
	s := strconv.Itoa(id)
	for _, v := range c.StrategiesEnabled {
		if v == s {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
