/*
config.go - Environment configuration for the server and CLI

PURPOSE:
  Reads ABC_* environment variables (and an optional .env file) into a
  typed Config with defaults, then validates it.

KEYS:
  ABC_PORT                   HTTP port (8080)
  ABC_DB_PATH                SQLite file (abc.db)
  ABC_LOG_LEVEL              zerolog level (info)
  ABC_LOG_FORMAT             json | console (json)
  ABC_BASE_CURRENCY          reporting currency (UAH)
  ABC_DEFAULT_MONTHLY_HOURS  hours when no calendar applies (168)
  ABC_SCHEDULER_ENABLED      run the monthly recalculation ticker (false)
  ABC_SCHEDULER_INTERVAL     ticker interval (1h)
  ABC_BILLING_DAY            day of month after which the previous month is recalculated (5)
  ABC_METRICS_NAMESPACE      prometheus namespace (abc)
  ABC_CORS_ORIGINS           comma-separated allowed origins

SEE ALSO:
  - cmd/server/main.go: flags override PORT and DB_PATH
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
	"github.com/warp/abc-engine/costing"
)

const envPrefix = "ABC_"

type Config struct {
	Port                string
	DBPath              string
	LogLevel            string
	LogFormat           string
	BaseCurrency        costing.Currency
	DefaultMonthlyHours decimal.Decimal
	SchedulerEnabled    bool
	SchedulerInterval   time.Duration
	BillingDay          int
	MetricsNamespace    string
	CORSOrigins         []string
}

var (
	ErrInvalidHours      = errors.New("ABC_DEFAULT_MONTHLY_HOURS must be a positive number")
	ErrInvalidBillingDay = errors.New("ABC_BILLING_DAY must be between 1 and 28")
	ErrInvalidInterval   = errors.New("ABC_SCHEDULER_INTERVAL must be a positive duration")
)

// Load reads configuration from ABC_* environment variables and an
// optional .env file in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(s, envPrefix)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	hours, err := decimal.NewFromString(valueOrDefault(k.String("DEFAULT_MONTHLY_HOURS"), "168"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHours, err)
	}
	interval, err := time.ParseDuration(valueOrDefault(k.String("SCHEDULER_INTERVAL"), "1h"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}
	billingDay := 5
	if k.Exists("BILLING_DAY") {
		billingDay = k.Int("BILLING_DAY")
	}

	cfg := &Config{
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		DBPath:              valueOrDefault(k.String("DB_PATH"), "abc.db"),
		LogLevel:            valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:           valueOrDefault(k.String("LOG_FORMAT"), "json"),
		BaseCurrency:        costing.Currency(strings.ToUpper(valueOrDefault(k.String("BASE_CURRENCY"), "UAH"))),
		DefaultMonthlyHours: hours,
		SchedulerEnabled:    parseBool(k.String("SCHEDULER_ENABLED")),
		SchedulerInterval:   interval,
		BillingDay:          billingDay,
		MetricsNamespace:    valueOrDefault(k.String("METRICS_NAMESPACE"), "abc"),
		CORSOrigins:         splitAndTrim(k.String("CORS_ORIGINS")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !c.DefaultMonthlyHours.IsPositive() {
		return ErrInvalidHours
	}
	if c.BillingDay < 1 || c.BillingDay > 28 {
		return fmt.Errorf("%w: got %d", ErrInvalidBillingDay, c.BillingDay)
	}
	if c.SchedulerInterval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
