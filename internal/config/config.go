// Package config reads service settings from the environment.
//
// main loads an optional .env file with godotenv before calling Load, so
// local development and deployments use the same variable names.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	DBPath   string
	LogLevel slog.Level

	// TokenSecret signs service credentials and password reset links.
	TokenSecret string

	// AdminEndpointURL, when set, sends account rollbacks to another
	// deployment's /internal/accounts/rollback instead of the local store.
	AdminEndpointURL string
	ServiceName      string

	// RedisAddr, when set, shares the duplicate-submission guard across
	// replicas. Without it each process guards only its own requests.
	RedisAddr     string
	RedisPassword string

	StepTimeout       time.Duration
	RollbackTimeout   time.Duration
	MinPasswordLength int
	DuplicatePrecheck bool

	// ReconcileInterval is how often accounts left behind by failed
	// rollbacks are retried.
	ReconcileInterval time.Duration
}

// Load reads every setting, applying defaults for anything unset.
func Load() (Config, error) {
	var errs []string

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		errs = append(errs, err.Error())
	}
	stepTimeout, err := getEnvDuration("STEP_TIMEOUT", 10*time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	}
	rollbackTimeout, err := getEnvDuration("ROLLBACK_TIMEOUT", 15*time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	}
	reconcileInterval, err := getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute)
	if err != nil {
		errs = append(errs, err.Error())
	}
	minPassword, err := getEnvInt("MIN_PASSWORD_LENGTH", 8)
	if err != nil {
		errs = append(errs, err.Error())
	}
	precheck, err := getEnvBool("DUPLICATE_PRECHECK", true)
	if err != nil {
		errs = append(errs, err.Error())
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL: %v", err))
	}

	cfg := Config{
		Port:              port,
		DBPath:            getEnv("DB_PATH", "data/storefront.db"),
		LogLevel:          level,
		TokenSecret:       os.Getenv("TOKEN_SECRET"),
		AdminEndpointURL:  strings.TrimRight(getEnv("ADMIN_ENDPOINT_URL", ""), "/"),
		ServiceName:       getEnv("SERVICE_NAME", "storefront-auth"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		StepTimeout:       stepTimeout,
		RollbackTimeout:   rollbackTimeout,
		MinPasswordLength: minPassword,
		DuplicatePrecheck: precheck,
		ReconcileInterval: reconcileInterval,
	}

	if len(cfg.TokenSecret) < 16 {
		errs = append(errs, "TOKEN_SECRET must be set to at least 16 characters")
	}
	if cfg.MinPasswordLength < 6 || cfg.MinPasswordLength > 72 {
		errs = append(errs, "MIN_PASSWORD_LENGTH must be between 6 and 72")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", key, v)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: %q is not a positive duration", key, v)
	}
	return d, nil
}
