package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix — переменные окружения перекрывают yaml: DEALCHAT_POSTGRES_DSN,
// DEALCHAT_CHAT_IDLE_TIMEOUT и т.п.
const EnvPrefix = "DEALCHAT"

type GRPC struct {
	Addr string `yaml:"addr" split_words:"true"`
}

type HTTP struct {
	Addr           string `yaml:"addr" split_words:"true"`
	ReadTimeout    string `yaml:"readTimeout" split_words:"true"`
	WriteTimeout   string `yaml:"writeTimeout" split_words:"true"`
	IdleTimeout    string `yaml:"idleTimeout" split_words:"true"`
	RequestTimeout string `yaml:"requestTimeout" split_words:"true"`
}

type Logging struct {
	Env       string `yaml:"env" split_words:"true"`       // dev|prod
	Service   string `yaml:"service" split_words:"true"`   // deal-chat
	Version   string `yaml:"version" split_words:"true"`   // v0.1.0
	Backend   string `yaml:"backend" split_words:"true"`   // std|zap
	AddSource bool   `yaml:"addSource" split_words:"true"` // false|true
	Debug     bool   `yaml:"debug" split_words:"true"`     // false|true
}

type Storage struct {
	Backend string `yaml:"backend" split_words:"true"` // postgres|badger

	// SeedPath — yaml с объявлениями и пользователями для локального запуска.
	SeedPath string `yaml:"seedPath" split_words:"true"`
}

type Postgres struct {
	DSN             string `yaml:"dsn" split_words:"true"`
	MaxConns        int32  `yaml:"maxConns" split_words:"true"`
	MinConns        int32  `yaml:"minConns" split_words:"true"`
	MaxConnLifetime string `yaml:"maxConnLifetime" split_words:"true"`
	MaxConnIdleTime string `yaml:"maxConnIdleTime" split_words:"true"`
	ApplicationName string `yaml:"applicationName" split_words:"true"`
	Migrate         bool   `yaml:"migrate" split_words:"true"`
}

type Badger struct {
	Path string `yaml:"path" split_words:"true"` // пусто — in-memory
}

type Auth struct {
	JWTSecret     string `yaml:"jwtSecret" split_words:"true"`
	PublicKeyPath string `yaml:"publicKeyPath" split_words:"true"`
	Issuer        string `yaml:"issuer" split_words:"true"`
	Audience      string `yaml:"audience" split_words:"true"`
	ClockSkew     string `yaml:"clockSkew" split_words:"true"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins" split_words:"true"`
}

type Chat struct {
	MaxMessageLength int    `yaml:"maxMessageLength" split_words:"true"`
	PreviewLength    int    `yaml:"previewLength" split_words:"true"`
	IdleTimeout      string `yaml:"idleTimeout" split_words:"true"`
	ReaperInterval   string `yaml:"reaperInterval" split_words:"true"`
	ReaperEnabled    *bool  `yaml:"reaperEnabled" split_words:"true"`
	PingEvery        string `yaml:"pingEvery" split_words:"true"`
	SendBuffer       int    `yaml:"sendBuffer" split_words:"true"`
	PageSize         int    `yaml:"pageSize" split_words:"true"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http" split_words:"true"`
	GRPC     GRPC     `yaml:"grpc" split_words:"true"`
	Logging  Logging  `yaml:"logging" split_words:"true"`
	Storage  Storage  `yaml:"storage" split_words:"true"`
	Postgres Postgres `yaml:"postgres" split_words:"true"`
	Badger   Badger   `yaml:"badger" split_words:"true"`
	Auth     Auth     `yaml:"auth" split_words:"true"`
	CORS     CORS     `yaml:"cors" split_words:"true"`
	Chat     Chat     `yaml:"chat" split_words:"true"`
}

// LoadConfig: .env -> yaml (CONFIG_PATH) -> DEALCHAT_* -> проверка и дефолты.
func LoadConfig() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return Load(path)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "postgres"
	}
	switch c.Storage.Backend {
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
	case "badger":
	default:
		return fmt.Errorf("storage.backend must be postgres or badger, got %q", c.Storage.Backend)
	}

	if c.Auth.JWTSecret == "" && c.Auth.PublicKeyPath == "" {
		return errors.New("auth.jwtSecret or auth.publicKeyPath is required")
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "deal-chat"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Postgres.ApplicationName == "" {
		c.Postgres.ApplicationName = c.Logging.Service
	}
	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = 4000
	}
	if c.Chat.PreviewLength <= 0 {
		c.Chat.PreviewLength = 100
	}
	if c.Chat.SendBuffer <= 0 {
		c.Chat.SendBuffer = 64
	}
	if c.Chat.PageSize <= 0 {
		c.Chat.PageSize = 50
	}
	if c.Chat.ReaperEnabled == nil {
		on := true
		c.Chat.ReaperEnabled = &on
	}
	return nil
}

func (h HTTP) Timeouts() (read, write, idle, request time.Duration) {
	return parseDurationOr(10*time.Second, h.ReadTimeout),
		parseDurationOr(15*time.Second, h.WriteTimeout),
		parseDurationOr(60*time.Second, h.IdleTimeout),
		parseDurationOr(30*time.Second, h.RequestTimeout)
}

func (p Postgres) Lifetimes() (maxLifetime, maxIdle time.Duration) {
	return parseDurationOr(time.Hour, p.MaxConnLifetime), parseDurationOr(30*time.Minute, p.MaxConnIdleTime)
}

func (a Auth) Skew() time.Duration { return parseDurationOr(30*time.Second, a.ClockSkew) }

func (c Chat) IdleAfter() time.Duration { return parseDurationOr(5*time.Minute, c.IdleTimeout) }

func (c Chat) ReaperEvery() time.Duration { return parseDurationOr(30*time.Second, c.ReaperInterval) }

func (c Chat) Ping() time.Duration { return parseDurationOr(15*time.Second, c.PingEvery) }

func (c Chat) Reaper() bool { return c.ReaperEnabled == nil || *c.ReaperEnabled }

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
