package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAPIToken = "dev-token"
	defaultGRPCAddr = ":8080"
)

// Config holds process settings read from the environment
type Config struct {
	DBConnStr   string
	APIToken    string
	GRPCAddr    string
	RedisAddr   string // empty disables the distributed lock
	KafkaBroker []string
	KafkaTopic  string
	LogLevel    string
	LogFormat   string
	TuningFile  string
	Tuning      Tuning
}

// Load reads .env (when present), the environment and the tuning file
func Load() (*Config, error) {
	// Load env from .env
	_ = godotenv.Load()

	cfg := &Config{
		DBConnStr:   dbConnStr(),
		APIToken:    getEnv("API_TOKEN", defaultAPIToken),
		GRPCAddr:    getEnv("GRPC_ADDR", defaultGRPCAddr),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		KafkaBroker: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "obligations.events"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		TuningFile:  os.Getenv("TUNING_FILE"),
	}

	tuning, err := LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, err
	}
	cfg.Tuning = tuning
	return cfg, nil
}

// dbConnStr returns DB_CONN_STR or builds it from the individual DB_* vars
func dbConnStr() string {
	if s := os.Getenv("DB_CONN_STR"); s != "" {
		return s
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "obligations"),
	)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt reads an integer variable, falling back when unset or malformed
func GetEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// GetEnvDuration reads a duration variable such as "30s"
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
