package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; defaults keep a local run working with only
// JWT_SECRET set.
type Config struct {
	Env         string `env:"APP_ENV" envDefault:"dev"`
	Port        string `env:"APP_PORT" envDefault:"8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mysql"` // mysql or memory
	NodeID      string `env:"NODE_ID"`                         // relay origin; generated when empty

	DBUser string `env:"DB_USER" envDefault:"root"`
	DBPass string `env:"DB_PASS"`
	DBHost string `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort string `env:"DB_PORT" envDefault:"3306"`
	DBName string `env:"DB_NAME" envDefault:"auctions"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	RabbitURL string `env:"RABBITMQ_URL"` // relay disabled when empty

	Bidding   BiddingConfig
	Scheduler SchedulerConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
}

// BiddingConfig tunes the bid placement transaction.
type BiddingConfig struct {
	LockTimeout        time.Duration `env:"BID_LOCK_TIMEOUT" envDefault:"5s"`
	SoftCloseThreshold time.Duration `env:"SOFT_CLOSE_THRESHOLD" envDefault:"30s"`
	SoftCloseExtension time.Duration `env:"SOFT_CLOSE_EXTENSION" envDefault:"30s"`
}

// SchedulerConfig tunes the lifecycle loop.
type SchedulerConfig struct {
	UrgentHorizon time.Duration `env:"SCHEDULER_URGENT_HORIZON" envDefault:"60s"`
	FastDelay     time.Duration `env:"SCHEDULER_FAST_DELAY" envDefault:"5s"`
	DefaultDelay  time.Duration `env:"SCHEDULER_DEFAULT_DELAY" envDefault:"30s"`
}

// RealtimeConfig tunes the websocket gateway.
type RealtimeConfig struct {
	PingInterval       time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	SendBuffer         int           `env:"WS_SEND_BUFFER" envDefault:"64"`
	WriteTimeout       time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	MaxFramesPerSecond int           `env:"WS_MAX_FRAMES_PER_SECOND" envDefault:"20"`
}

// Load reads an optional .env file and then the process environment.  A
// missing required variable is returned as an error so main can exit
// with a readable message.
func Load() (Config, error) {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.RateLimit.normalize()
	if cfg.Realtime.SendBuffer < 1 {
		cfg.Realtime.SendBuffer = 1
	}
	if cfg.StoreDriver != "mysql" && cfg.StoreDriver != "memory" {
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}
