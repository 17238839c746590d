package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	Currency      string `env:"CURRENCY" envDefault:"AOA"`
	RailsFile     string `env:"RAILS_FILE"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	CardGatewayURL     string        `env:"CARD_GATEWAY_URL" envDefault:"http://mock-provider:8081"`
	CardGatewayAPIKey  string        `env:"CARD_GATEWAY_API_KEY"`
	CardGatewayTimeout time.Duration `env:"CARD_GATEWAY_TIMEOUT" envDefault:"10s"`
	CardReturnURL      string        `env:"CARD_RETURN_URL" envDefault:"http://localhost:3000/billing/return"`
	CardChallengeGrace time.Duration `env:"CARD_CHALLENGE_GRACE" envDefault:"15m"`

	MobileMoneyTTL                  time.Duration `env:"MOBILE_MONEY_TTL" envDefault:"24h"`
	BankTransferTTLBusinessDays     int           `env:"BANK_TRANSFER_TTL_BUSINESS_DAYS" envDefault:"3"`
	PaymentReferenceTTLBusinessDays int           `env:"PAYMENT_REFERENCE_TTL_BUSINESS_DAYS" envDefault:"3"`

	ReferenceRecycleWindow time.Duration `env:"REFERENCE_RECYCLE_WINDOW" envDefault:"72h"`
	ReferenceMaxAttempts   int           `env:"REFERENCE_MAX_ATTEMPTS" envDefault:"5"`

	ProofStorageDir string        `env:"PROOF_STORAGE_DIR" envDefault:"./data/proofs"`
	ProofMaxBytes   int64         `env:"PROOF_MAX_BYTES" envDefault:"10485760"`
	ProofOrphanAge  time.Duration `env:"PROOF_ORPHAN_AGE" envDefault:"24h"`

	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	SweepBatchSize   int           `env:"SWEEP_BATCH_SIZE" envDefault:"200"`
	SweepConcurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"8"`

	WebhookRetryInterval time.Duration `env:"WEBHOOK_RETRY_INTERVAL" envDefault:"30s"`
	WebhookRetryGrace    time.Duration `env:"WEBHOOK_RETRY_GRACE" envDefault:"1m"`
	WebhookMaxAttempts   int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"10"`

	RedisAddr       string   `env:"REDIS_ADDR"`
	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      string   `env:"KAFKA_TOPIC" envDefault:"payments.lifecycle"`
	TeamsWebhookURL string   `env:"TEAMS_WEBHOOK_URL"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c Config) validate() error {
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a 3-letter code, got %q", c.Currency)
	}
	if c.ReferenceMaxAttempts < 1 {
		return fmt.Errorf("REFERENCE_MAX_ATTEMPTS must be positive")
	}
	if c.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be positive")
	}
	if c.ProofMaxBytes <= 0 {
		return fmt.Errorf("PROOF_MAX_BYTES must be positive")
	}
	return nil
}
