package config

import (
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer

	ServicePanelFile string          `env:"SERVICE_PANEL_FILE" envDefault:"configs/service_panel.yaml"`
	FeePercentage    decimal.Decimal `env:"FEE_PERCENTAGE" envDefault:"7"`

	Database   Database   `envPrefix:"DATABASE_"`
	Encryption Encryption `envPrefix:"ENCRYPTION_"`
	Stripe     Stripe     `envPrefix:"STRIPE_"`
	Bot        Bot        `envPrefix:"BOT_"`
	Admin      Admin      `envPrefix:"ADMIN_"`
	Notify     Notify     `envPrefix:"NOTIFY_"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"` // sqlite, mysql
	URL    string `env:"URL" envDefault:"checkout-ledger.db"`
}

// Encryption holds the passphrase all credential blobs are sealed under.
// Changing either value makes existing records undecryptable.
type Encryption struct {
	Key  string `env:"KEY,required"`
	Salt string `env:"SALT" envDefault:"checkout-ledger.v1"`
}

type Stripe struct {
	SecretKey     string        `env:"SECRET_KEY"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	Currency      string        `env:"CURRENCY" envDefault:"usd"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type Bot struct {
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type Admin struct {
	Token string `env:"TOKEN"`
}

type Notify struct {
	DiscordWebhookURL string        `env:"DISCORD_WEBHOOK_URL"`
	KafkaBrokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic        string        `env:"KAFKA_TOPIC" envDefault:"admin-notifications"`
	QueueSize         int           `env:"QUEUE_SIZE" envDefault:"256"`
	Workers           int           `env:"WORKERS" envDefault:"2"`
	Timeout           time.Duration `env:"TIMEOUT" envDefault:"5s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
