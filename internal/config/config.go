package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	// Content ledger policy.
	EditFee     int64
	SignupBonus int64

	// Lottery policy.
	LotteryInterval time.Duration
	LotteryReward   int64

	// External randomness provider. Empty URL selects the local dev provider.
	ProviderURL     string
	ProviderToken   string
	CallbackBaseURL string
}

func Load() (*Config, error) {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:        dbSource,
		Port:            getenv("SERVER_PORT", "8080"),
		Env:             getenv("ENVIRONMENT", "development"),
		ProviderURL:     os.Getenv("RANDOMNESS_PROVIDER_URL"),
		ProviderToken:   os.Getenv("RANDOMNESS_AUTH_TOKEN"),
		CallbackBaseURL: getenv("CALLBACK_BASE_URL", "http://localhost:8080"),
	}

	var err error
	if cfg.EditFee, err = getenvInt64("EDIT_FEE", 100); err != nil {
		return nil, err
	}
	if cfg.SignupBonus, err = getenvInt64("SIGNUP_BONUS", 1000); err != nil {
		return nil, err
	}
	if cfg.LotteryReward, err = getenvInt64("LOTTERY_REWARD", 500); err != nil {
		return nil, err
	}
	if cfg.LotteryInterval, err = getenvDuration("LOTTERY_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.EditFee <= 0 {
		return nil, fmt.Errorf("EDIT_FEE must be positive, got %d", cfg.EditFee)
	}
	if cfg.LotteryReward <= 0 {
		return nil, fmt.Errorf("LOTTERY_REWARD must be positive, got %d", cfg.LotteryReward)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
