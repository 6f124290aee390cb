// Package config loads every environment-driven knob named in §6 into one
// struct, read once at boot. Follows the teacher's getEnv/getEnvAsInt
// helper shape (internal/cache/redis.go) generalized with duration and
// decimal variants.
package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"aviator/internal/money"
)

// Config holds the runtime settings. It is loaded once in
// cmd/server/main.go and passed down by value/reference to the components
// that take it. internal/database and internal/cache do not take it: they
// read their connection settings (BLUEPRINT_DB_*, DB_*_TIMEOUT_MS,
// REDIS_*) from the environment themselves, so DatabaseURL, RedisURL,
// RedisPassword and RedisDB are not used to open those connections.
type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string
	RedisPassword string
	RedisDB       int

	SeedMaster string // absence degrades provable fairness across restarts

	BroadcastInterval time.Duration
	RequestTimeout    time.Duration

	DBStatementTimeout  time.Duration
	DBConnectionTimeout time.Duration
	DBIdleTimeout       time.Duration

	MinBetAmount money.Amount
	MaxBetAmount money.Amount

	CashoutMinInterval time.Duration
	CashoutPruneAge    time.Duration
	MaxCashoutEntries  int

	SettlementWindow time.Duration

	MinDepositAmount    money.Amount
	MaxDepositAmount    money.Amount
	MinWithdrawAmount   money.Amount
	MaxWithdrawAmount   money.Amount
	PollMaxAttempts     int
	PollInterval        time.Duration

	LoginRateLimitWindow     time.Duration
	LoginRateLimitCount      int
	LoginRateLimitMaxEntries int

	MaxRoundAge time.Duration

	InterRoundGap time.Duration

	// AllowDegradedRounds permits the engine to start a round without a
	// seed commitment (§9's "refuse unless an explicit dev flag is set").
	AllowDegradedRounds bool

	GatewayCollectionsBaseURL  string
	GatewayDisbursementsBaseURL string
	GatewayToken               string

	LogLevel string
	Env      string
}

// Load reads the process environment into a Config, applying every default
// named in spec.md §6.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		DatabaseURL:   getEnv("DATABASE_URL", "postgres://localhost:5432/aviator?sslmode=disable"),
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		SeedMaster: getEnv("SEED_MASTER", ""),

		BroadcastInterval: getEnvAsMillis("BROADCAST_INTERVAL_MS", 100),
		RequestTimeout:    getEnvAsMillis("REQUEST_TIMEOUT_MS", 15000),

		DBStatementTimeout:  getEnvAsMillis("DB_STATEMENT_TIMEOUT_MS", 5000),
		DBConnectionTimeout: getEnvAsMillis("DB_CONNECTION_TIMEOUT_MS", 5000),
		DBIdleTimeout:       getEnvAsMillis("DB_IDLE_TIMEOUT_MS", 30000),

		MinBetAmount: getEnvAsAmount("MIN_BET_AMOUNT", "1.00"),
		MaxBetAmount: getEnvAsAmount("MAX_BET_AMOUNT", "1000.00"),

		CashoutMinInterval: getEnvAsMillis("CASHOUT_MIN_INTERVAL_MS", 1000),
		CashoutPruneAge:    getEnvAsMillis("CASHOUT_PRUNE_AGE_MS", 60000),
		MaxCashoutEntries:  getEnvAsInt("MAX_CASHOUT_ENTRIES", 100000),

		SettlementWindow: getEnvAsSeconds("SETTLEMENT_WINDOW_SECONDS", 300),

		MinDepositAmount:  getEnvAsAmount("MIN_DEPOSIT_AMOUNT", "1.00"),
		MaxDepositAmount:  getEnvAsAmount("MAX_DEPOSIT_AMOUNT", "500000.00"),
		MinWithdrawAmount: getEnvAsAmount("MIN_WITHDRAW_AMOUNT", "1.00"),
		MaxWithdrawAmount: getEnvAsAmount("MAX_WITHDRAW_AMOUNT", "500000.00"),
		PollMaxAttempts:   getEnvAsInt("PAYMENT_POLL_MAX_ATTEMPTS", 60),
		PollInterval:      getEnvAsSeconds("PAYMENT_POLL_INTERVAL_SECONDS", 5),

		LoginRateLimitWindow:     getEnvAsSeconds("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		LoginRateLimitCount:      getEnvAsInt("LOGIN_RATE_LIMIT_COUNT", 10),
		LoginRateLimitMaxEntries: getEnvAsInt("LOGIN_RATE_LIMIT_MAX_ENTRIES", 100000),

		MaxRoundAge:   getEnvAsSeconds("MAX_ROUND_AGE_SECONDS", 300),
		InterRoundGap: getEnvAsMillis("INTER_ROUND_GAP_MS", 5000),

		AllowDegradedRounds: getEnvAsBool("ALLOW_DEGRADED_ROUNDS", false),

		GatewayCollectionsBaseURL:   getEnv("GATEWAY_COLLECTIONS_BASE_URL", ""),
		GatewayDisbursementsBaseURL: getEnv("GATEWAY_DISBURSEMENTS_BASE_URL", ""),
		GatewayToken:                getEnv("GATEWAY_TOKEN", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("ENV", "development"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMillis)) * time.Millisecond
}

func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

func getEnvAsAmount(key, defaultVal string) money.Amount {
	raw := getEnv(key, defaultVal)
	a, err := money.New(raw)
	if err != nil {
		a, _ = money.New(defaultVal)
	}
	return a
}
