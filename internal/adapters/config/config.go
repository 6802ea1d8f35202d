package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"hermes/pkg/errors"
)

type Config struct {
	App           AppConfig
	Server        ServerConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Agent         AgentConfig
	Tokens        TokenConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"hermes"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`

	// InstanceID identifies this process behind a load balancer.
	// Defaults to a random UUID when not pinned via env.
	InstanceID string `envconfig:"INSTANCE_ID"`
}

type ServerConfig struct {
	Port           int           `envconfig:"PORT" default:"8080"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"1000"`
	ReadTimeout    time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout    time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// Inbound client message rate limiting, per connection.
	MessageRate  float64 `envconfig:"CLIENT_MESSAGE_RATE" default:"5"`
	MessageBurst int     `envconfig:"CLIENT_MESSAGE_BURST" default:"10"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AgentConfig configures the ADK runtime boundary. The model and prompt are
// pass-through configuration for the external runtime, not gateway logic.
type AgentConfig struct {
	AppName     string        `envconfig:"AGENT_APP_NAME" default:"devops_orchestrator"`
	Model       string        `envconfig:"DEFAULT_MODEL" default:"gemini-2.0-flash"`
	Instruction string        `envconfig:"AGENT_INSTRUCTION"`
	TurnTimeout time.Duration `envconfig:"AGENT_TURN_TIMEOUT" default:"120s"`
}

type TokenConfig struct {
	// Backend selects where resumption tokens live: "postgres" or "redis".
	Backend string        `envconfig:"TOKEN_STORE" default:"postgres"`
	TTL     time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if cfg.App.InstanceID == "" {
		cfg.App.InstanceID = uuid.New().String()
	}

	switch cfg.Tokens.Backend {
	case "postgres", "redis":
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown TOKEN_STORE %q", cfg.Tokens.Backend)
	}

	return &cfg, nil
}

// Hostname returns the reported hostname for instance identification.
func Hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}
