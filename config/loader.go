package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	BinanceAPIKey    string
	BinanceAPISecret string
	IsTestnet        bool
	EnableTrading    bool

	Symbols  []string
	Interval string

	Leverage           int
	TrendRiskPercent   float64
	RangeRiskPercent   float64
	PartialExitPercent float64
	MarginCapPercent   float64
	CooldownSeconds    int

	ReconcileIntervalSeconds int
	StatePath                string
	BalanceAsset             string

	TelegramToken  string
	TelegramChatID string

	ListenAddr string
}

// LoadConfig loads variables from .env and returns a Config struct
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found. Relying on system environment variables.")
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiSecret == "" {
		apiSecret = os.Getenv("BINANCE_SECRET_KEY")
	}
	if apiKey == "" || apiSecret == "" {
		log.Println("⚠️  CRITICAL: Binance credentials missing!")
	}

	return &Config{
		BinanceAPIKey:    apiKey,
		BinanceAPISecret: apiSecret,
		IsTestnet:        getBool("USE_TESTNET", false),
		EnableTrading:    getBool("ENABLE_TRADING", false),

		Symbols:  getList("SYMBOLS", []string{"BTCUSDT"}),
		Interval: getString("CANDLE_INTERVAL", "5m"),

		Leverage:           getInt("LEVERAGE", 5),
		TrendRiskPercent:   getFloat("TREND_RISK_PERCENT", 1.0),
		RangeRiskPercent:   getFloat("RANGE_RISK_PERCENT", 0.5),
		PartialExitPercent: getFloat("PARTIAL_EXIT_PERCENT", 50),
		MarginCapPercent:   getFloat("MARGIN_CAP_PERCENT", 20),
		CooldownSeconds:    getInt("SIGNAL_COOLDOWN_SECONDS", 300),

		ReconcileIntervalSeconds: getInt("RECONCILE_INTERVAL_SECONDS", 15),
		StatePath:                getString("STATE_PATH", "positions_state.json"),
		BalanceAsset:             getString("BALANCE_ASSET", "USDT"),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),

		ListenAddr: getString("LISTEN_ADDR", ":9091"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️  Bad value for %s, using default %d", key, def)
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("⚠️  Bad value for %s, using default %v", key, def)
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(strings.ToUpper(p)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
