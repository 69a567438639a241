package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/fee"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    slog.Level
	Storage     string // postgres | memory
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string

	WebhookURL    string
	WebhookSecret string

	LockTimeout time.Duration
	LockRetries int

	CashbackRate    decimal.Decimal
	CashbackWorkers int

	DefaultCurrency domain.Currency
	FeeRates        fee.Rates
	FeeMinima       map[domain.Currency]fee.Minima
	// PayoutMinimum is the smallest payout a church may request, per currency.
	PayoutMinimum map[domain.Currency]int64
}

// LoadConfig reads .env (if present), then layers defaults, an optional YAML
// file named by CONFIG_FILE and environment variables. Nested keys map to
// env names with "." replaced by "_", e.g. FEES_RATES_EXPRESS.
func LoadConfig() (*Config, error) {
	// .env might not exist in production, which is fine.
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on System Env Variables")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3000")
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage", "postgres")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("webhook_url", "")
	v.SetDefault("webhook_secret", "")
	v.SetDefault("lock_timeout", "2s")
	v.SetDefault("lock_retries", 3)
	v.SetDefault("cashback_rate", "0.10")
	v.SetDefault("cashback_workers", 4)
	v.SetDefault("default_currency", "ZAR")

	v.SetDefault("fees.rates.standard", "0.005")
	v.SetDefault("fees.rates.express", "0.015")
	v.SetDefault("fees.rates.emergency", "0.025")
	v.SetDefault("fees.minima", map[string]any{
		"zar": map[string]any{"standard": 1000, "express": 2500, "emergency": 5000},
	})
	v.SetDefault("payout.minimum", map[string]any{"zar": 10000})
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:            v.GetString("port"),
		Env:             v.GetString("env"),
		Storage:         strings.ToLower(v.GetString("storage")),
		DatabaseURL:     v.GetString("database_url"),
		RedisAddr:       v.GetString("redis_addr"),
		JWTSecret:       v.GetString("jwt_secret"),
		WebhookURL:      v.GetString("webhook_url"),
		WebhookSecret:   v.GetString("webhook_secret"),
		LockTimeout:     v.GetDuration("lock_timeout"),
		LockRetries:     v.GetInt("lock_retries"),
		CashbackWorkers: v.GetInt("cashback_workers"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	if cfg.Storage != "postgres" && cfg.Storage != "memory" {
		return nil, fmt.Errorf("storage must be postgres or memory, got %q", cfg.Storage)
	}
	if cfg.Storage == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	var err error
	if cfg.DefaultCurrency, err = domain.ParseCurrency(v.GetString("default_currency")); err != nil {
		return nil, fmt.Errorf("default_currency: %w", err)
	}
	if cfg.CashbackRate, err = decimal.NewFromString(v.GetString("cashback_rate")); err != nil {
		return nil, fmt.Errorf("cashback_rate: %w", err)
	}
	if cfg.CashbackRate.IsNegative() || cfg.CashbackRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("cashback_rate must be between 0 and 1, got %s", cfg.CashbackRate)
	}

	for class, dst := range map[string]*decimal.Decimal{
		"standard":  &cfg.FeeRates.Standard,
		"express":   &cfg.FeeRates.Express,
		"emergency": &cfg.FeeRates.Emergency,
	} {
		if *dst, err = decimal.NewFromString(v.GetString("fees.rates." + class)); err != nil {
			return nil, fmt.Errorf("fees.rates.%s: %w", class, err)
		}
	}

	var minima map[string]fee.Minima
	if err := v.UnmarshalKey("fees.minima", &minima); err != nil {
		return nil, fmt.Errorf("fees.minima: %w", err)
	}
	cfg.FeeMinima = make(map[domain.Currency]fee.Minima, len(minima))
	for code, m := range minima {
		cur, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("fees.minima: %w", err)
		}
		cfg.FeeMinima[cur] = m
	}

	var payoutMin map[string]int64
	if err := v.UnmarshalKey("payout.minimum", &payoutMin); err != nil {
		return nil, fmt.Errorf("payout.minimum: %w", err)
	}
	cfg.PayoutMinimum = make(map[domain.Currency]int64, len(payoutMin))
	for code, amount := range payoutMin {
		cur, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("payout.minimum: %w", err)
		}
		cfg.PayoutMinimum[cur] = amount
	}
	return cfg, nil
}

// FeePolicy builds the fee schedule from the loaded rates and minima.
func (c *Config) FeePolicy() (*fee.Policy, error) {
	return fee.NewPolicy(c.FeeRates, c.FeeMinima)
}

func (c *Config) IsProduction() bool { return c.Env == "production" }
