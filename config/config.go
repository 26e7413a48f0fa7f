package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartcare/billing/models"
)

type Config struct {
	Environment  string             `json:"environment"`
	Database     DatabaseConfig     `json:"database"`
	Server       ServerConfig       `json:"server"`
	Redis        RedisConfig        `json:"redis"`
	Stripe       StripeConfig       `json:"stripe"`
	Payment      PaymentConfig      `json:"payment"`
	Notification NotificationConfig `json:"notification"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type StripeConfig struct {
	Secret        string `json:"secret"`
	Public        string `json:"public"`
	WebhookSecret string `json:"webhook_secret"`
}

type FeeConfig struct {
	Percentage decimal.Decimal `json:"percentage"`
	Fixed      decimal.Decimal `json:"fixed"`
}

type PaymentConfig struct {
	DefaultCurrency string               `json:"default_currency"`
	Fees            map[string]FeeConfig `json:"fees"`
	// InvoiceDueDays is the grace period applied when an invoice is created
	// without an explicit due date.
	InvoiceDueDays   int `json:"invoice_due_days"`
	ReminderLeadDays int `json:"reminder_lead_days"`
	// ProcessingTimeout marks a payment failed when no terminal gateway
	// event has arrived within the window.
	ProcessingTimeout time.Duration `json:"processing_timeout"`
	GatewayTimeout    time.Duration `json:"gateway_timeout"`
	SweepInterval     time.Duration `json:"sweep_interval"`
}

type NotificationConfig struct {
	EmailEnabled bool `json:"email_enabled"`
	// EmailByKind decides which event kinds trigger an email, so adding a
	// kind is a config change rather than a code change.
	EmailByKind    map[models.EventKind]bool `json:"email_by_kind"`
	WorkerInterval time.Duration             `json:"worker_interval"`
	WorkerBatch    int                       `json:"worker_batch"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	config.Environment = env

	configDir, err := filepath.Abs("config")
	if err != nil {
		return nil, err
	}
	configPath := filepath.Join(configDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	config.loadFromEnv()
	config.setDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Database.Port)
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.Database.SSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Redis.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Redis.Port)
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	if secret := os.Getenv("STRIPE_SECRET"); secret != "" {
		c.Stripe.Secret = secret
	}
	if public := os.Getenv("STRIPE_PUBLIC"); public != "" {
		c.Stripe.Public = public
	}
	if webhook := os.Getenv("STRIPE_WEBHOOK_SECRET"); webhook != "" {
		c.Stripe.WebhookSecret = webhook
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Payment.DefaultCurrency == "" {
		c.Payment.DefaultCurrency = "USD"
	}
	if c.Payment.Fees == nil {
		c.Payment.Fees = map[string]FeeConfig{
			"USD": {
				Percentage: decimal.RequireFromString("2.9"),
				Fixed:      decimal.RequireFromString("0.30"),
			},
		}
	}
	if c.Payment.InvoiceDueDays == 0 {
		c.Payment.InvoiceDueDays = 30
	}
	if c.Payment.ReminderLeadDays == 0 {
		c.Payment.ReminderLeadDays = 3
	}
	if c.Payment.ProcessingTimeout == 0 {
		c.Payment.ProcessingTimeout = 24 * time.Hour
	}
	if c.Payment.GatewayTimeout == 0 {
		c.Payment.GatewayTimeout = 15 * time.Second
	}
	if c.Payment.SweepInterval == 0 {
		c.Payment.SweepInterval = time.Hour
	}

	if c.Notification.EmailByKind == nil {
		c.Notification.EmailByKind = map[models.EventKind]bool{
			models.EventPaymentSuccess:   true,
			models.EventPaymentFailed:    true,
			models.EventInvoiceGenerated: true,
			models.EventInvoiceOverdue:   true,
			models.EventInvoiceReminder:  true,
		}
	}
	if c.Notification.WorkerInterval == 0 {
		c.Notification.WorkerInterval = 30 * time.Second
	}
	if c.Notification.WorkerBatch == 0 {
		c.Notification.WorkerBatch = 50
	}
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Stripe.Secret == "" {
		return fmt.Errorf("Stripe secret key is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("Stripe webhook secret is required")
	}
	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
