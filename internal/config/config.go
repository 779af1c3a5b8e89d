package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-required:"true"`
	App        `yaml:"app"`
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Stripe     `yaml:"stripe"`
	Kafka      `yaml:"kafka"`
	Prometheus `yaml:"prometheus"`
}

type App struct {
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout" env-default:"15s"`
	Checkout                `yaml:"checkout"`
}

type Checkout struct {
	// Minimum chargeable amount imposed by the payment processor. A non-zero
	// final price below this floor is a pricing failure, not a user error.
	MinChargeCents  int64         `yaml:"min_charge_cents" env-default:"50"`
	LockTimeout     time.Duration `yaml:"lock_timeout" env-default:"5s"`
	LockHoldCeiling time.Duration `yaml:"lock_hold_ceiling" env-default:"30s"`
	PendingTTL      time.Duration `yaml:"pending_ttl" env-default:"24h"`
	RefundWindow    time.Duration `yaml:"refund_window" env-default:"720h"`
	ProviderRetry   RetryConfig   `yaml:"provider_retry"`
}

type RetryConfig struct {
	Attempts uint          `yaml:"attempts" env-default:"3"`
	Delay    time.Duration `yaml:"delay" env-default:"200ms"`
	MaxDelay time.Duration `yaml:"max_delay" env-default:"2s"`
}

type HTTPServer struct {
	Host         string        `yaml:"host" env-default:"0.0.0.0"`
	Port         uint          `yaml:"port" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"30s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn" env:"PG_DSN" env-required:"true"`
	MaxConns        int32         `yaml:"max_conns" env-default:"10"`
	MinConns        int32         `yaml:"min_conns" env-default:"2"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env-default:"30m"`
}

type Stripe struct {
	APIKey     string `yaml:"api_key" env:"STRIPE_API_KEY" env-required:"true"`
	Currency   string `yaml:"currency" env-default:"usd"`
	SuccessURL string `yaml:"success_url" env-required:"true"`
	CancelURL  string `yaml:"cancel_url" env-required:"true"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env-required:"true"`
	Version string   `yaml:"version" env-default:"3.6.0"`
	Topic   string   `yaml:"topic" env-default:"purchase_events"`
}

type Prometheus struct {
	HOST string `yaml:"host" env-default:"0.0.0.0"`
	PORT uint   `yaml:"port" env-default:"9090"`
}

func MustLoad() (cfg Config) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH environment variable not set")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatal("CONFIG_PATH does not exist")
	}

	err := cleanenv.ReadConfig(configPath, &cfg)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	return
}
