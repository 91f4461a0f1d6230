package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the escrow service.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST"`
	DBUser      string `env:"DB_USER"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBName      string `env:"DB_NAME"`
	DBPort      string `env:"DB_PORT"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"escrow.db"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	HoldWindow      time.Duration `env:"ESCROW_HOLD_WINDOW" envDefault:"2h"`
	SettlementDelay time.Duration `env:"ESCROW_SETTLEMENT_DELAY" envDefault:"0s"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	SweepLockTTL   time.Duration `env:"SWEEP_LOCK_TTL" envDefault:"30s"`
	RedisURL       string        `env:"REDIS_URL"`

	PaymentGatewayURL     string        `env:"PAYMENT_GATEWAY_URL"`
	PaymentGatewaySecret  string        `env:"PAYMENT_GATEWAY_SECRET_KEY"`
	PaymentGatewayTimeout time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT" envDefault:"10s"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	FromEmail    string `env:"FROM_EMAIL" envDefault:"onboarding@resend.dev"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`

	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"json"`
	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q: use postgres or sqlite", c.DBDriver)
	}
	if c.HoldWindow <= 0 {
		return fmt.Errorf("ESCROW_HOLD_WINDOW must be positive")
	}
	if c.SettlementDelay < 0 {
		return fmt.Errorf("ESCROW_SETTLEMENT_DELAY must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if c.PaymentGatewayURL != "" && c.PaymentGatewaySecret == "" {
		return fmt.Errorf("PAYMENT_GATEWAY_SECRET_KEY is required when PAYMENT_GATEWAY_URL is set")
	}
	return nil
}

// PostgresDSN resolves the connection string: DATABASE_URL first, then
// the individual DB_* variables.
func (c *Config) PostgresDSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	if c.DBHost == "" || c.DBUser == "" || c.DBPassword == "" || c.DBName == "" || c.DBPort == "" {
		return "", fmt.Errorf("database configuration not provided: either set DATABASE_URL or all of DB_HOST, DB_USER, DB_PASSWORD, DB_NAME, and DB_PORT")
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort,
	), nil
}

func (c *Config) PaymentGatewayEnabled() bool {
	return c.PaymentGatewayURL != ""
}

func (c *Config) EmailEnabled() bool {
	return c.ResendAPIKey != ""
}

func (c *Config) EvidenceStorageEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Mask hides all but the edges of a secret for startup logs.
func Mask(s string) string {
	if s == "" {
		return "❌ EMPTY"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
