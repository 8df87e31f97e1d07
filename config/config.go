// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"etinuxe/internal/models"
)

type DBConfig struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

type StripeConfig struct {
	SecretKey  string
	WebhookKey string
	Currency   string
	SuccessURL string
	CancelURL  string
}

// Enabled reports whether payments go through Stripe checkout.
func (s StripeConfig) Enabled() bool {
	return s.SecretKey != ""
}

type GPTConfig struct {
	APIKey string
	Model  string
}

type TelegramConfig struct {
	Token       string
	AdminChatID int64
}

type BillingConfig struct {
	CycleDays int
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	AdminToken     string
}

type Config struct {
	Server          ServerConfig
	DB              DBConfig
	Stripe          StripeConfig
	GPT             GPTConfig
	Telegram        TelegramConfig
	Billing         BillingConfig
	Pricing         models.PricingSettings
	Log             struct{ Mode string }
	ShutdownTimeout time.Duration
}

// Load reads config.{yaml,json} when present and falls back to the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetConfigType("json")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.etinuxe")

	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("GPT.Model", "gpt-4o-mini")
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("DB.Driver", "postgres")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("Stripe.Currency", "usd")
	v.SetDefault("Billing.CycleDays", 30)
	v.SetDefault("Log.Mode", "production")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		return fromEnv(), nil
	}

	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.applyPricingDefaults()

	return &cfg, nil
}

func fromEnv() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvOr("SERVER_PORT", "8080")
	cfg.Server.AdminToken = os.Getenv("ADMIN_TOKEN")
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.DB.Driver = getEnvOr("DB_DRIVER", "postgres")
	cfg.DB.Host = getEnvOr("DB_HOST", "localhost")
	cfg.DB.Port = getEnvOr("DB_PORT", "5432")
	cfg.DB.User = getEnvOr("DB_USER", "postgres")
	cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
	cfg.DB.DBName = getEnvOr("DB_NAME", "etinuxe")
	cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", "disable")
	cfg.DB.MaxOpenConns = 20
	cfg.DB.MaxIdleConns = 10
	cfg.DB.ConnLifetime = 5 * time.Minute

	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookKey = os.Getenv("STRIPE_WEBHOOK_KEY")
	cfg.Stripe.Currency = getEnvOr("STRIPE_CURRENCY", "usd")
	cfg.Stripe.SuccessURL = os.Getenv("STRIPE_SUCCESS_URL")
	cfg.Stripe.CancelURL = os.Getenv("STRIPE_CANCEL_URL")

	cfg.GPT.APIKey = os.Getenv("GPT_API_KEY")
	cfg.GPT.Model = getEnvOr("GPT_MODEL", "gpt-4o-mini")

	cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	cfg.Telegram.AdminChatID, _ = strconv.ParseInt(os.Getenv("TELEGRAM_ADMIN_CHAT_ID"), 10, 64)

	cfg.Billing.CycleDays, _ = strconv.Atoi(getEnvOr("BILLING_CYCLE_DAYS", "30"))
	cfg.Log.Mode = getEnvOr("LOG_MODE", "production")
	cfg.ShutdownTimeout = 10 * time.Second

	cfg.applyPricingDefaults()
	return cfg
}

// applyPricingDefaults fills any pricing field the config left empty.
func (c *Config) applyPricingDefaults() {
	def := models.DefaultPricingSettings()
	p := &c.Pricing
	if p.PricingPerStep <= 0 {
		p.PricingPerStep = def.PricingPerStep
	}
	if p.ScaleMin <= 0 {
		p.ScaleMin = def.ScaleMin
	}
	if p.ScaleMax <= 0 {
		p.ScaleMax = def.ScaleMax
	}
	if p.ScaleStep <= 0 {
		p.ScaleStep = def.ScaleStep
	}
	if len(p.InsurancePricing) == 0 {
		p.InsurancePricing = def.InsurancePricing
	}
	if len(p.HealthBucketMultipliers) == 0 {
		p.HealthBucketMultipliers = def.HealthBucketMultipliers
	}
	if p.PointsDiscount.PointsPerDiscountUnit <= 0 {
		p.PointsDiscount = def.PointsDiscount
	}
}

// BillingCycle is the interval between two charges of a policy.
func (c *Config) BillingCycle() time.Duration {
	days := c.Billing.CycleDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
