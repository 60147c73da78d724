package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Allocator AllocatorConfig
	Broadcast BroadcastConfig
	Cache     CacheConfig
	QR        QRConfig
	Log       LogConfig
}

type AppConfig struct {
	Port     string
	BaseURL  string // префикс канонического короткого URL
	MediaDir string // каталог для QR-артефактов
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// DSN строка подключения в формате postgres://
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	APIKeys   map[string]string // API key -> owner
	JWTSecret string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

type AllocatorConfig struct {
	Workers    int
	Queue      string // memory | redis
	QueueSize  int
	JobTimeout time.Duration
}

type BroadcastConfig struct {
	Backend    string // memory | redis
	Channel    string
	BufferSize int
}

type CacheConfig struct {
	TTL time.Duration
}

type QRConfig struct {
	Size int
}

type LogConfig struct {
	Level       string
	Development bool
}

// Load читает конфигурацию из файла .env (если он есть) и переменных окружения
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.BaseURL = strings.TrimRight(v.GetString("BASE_URL"), "/")
	cfg.App.MediaDir = v.GetString("MEDIA_DIR")

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	// Формат: key1:owner1,key2:owner2
	cfg.Auth.APIKeys = parseAPIKeys(v.GetString("API_KEYS"))
	cfg.Auth.JWTSecret = v.GetString("JWT_SECRET")

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")

	cfg.Allocator.Workers = v.GetInt("ALLOCATOR_WORKERS")
	cfg.Allocator.Queue = strings.ToLower(v.GetString("ALLOCATOR_QUEUE"))
	cfg.Allocator.QueueSize = v.GetInt("ALLOCATOR_QUEUE_SIZE")
	cfg.Allocator.JobTimeout = v.GetDuration("ALLOCATOR_JOB_TIMEOUT")

	cfg.Broadcast.Backend = strings.ToLower(v.GetString("BROADCAST_BACKEND"))
	cfg.Broadcast.Channel = v.GetString("BROADCAST_CHANNEL")
	cfg.Broadcast.BufferSize = v.GetInt("BROADCAST_BUFFER")

	cfg.Cache.TTL = v.GetDuration("CACHE_TTL")
	cfg.QR.Size = v.GetInt("QR_SIZE")

	cfg.Log.Level = v.GetString("LOG_LEVEL")
	cfg.Log.Development = v.GetBool("LOG_DEVELOPMENT")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("MEDIA_DIR", "./media")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "shortener")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("ALLOCATOR_WORKERS", 3)
	v.SetDefault("ALLOCATOR_QUEUE", "memory")
	v.SetDefault("ALLOCATOR_QUEUE_SIZE", 1000)
	v.SetDefault("ALLOCATOR_JOB_TIMEOUT", "30s")
	v.SetDefault("BROADCAST_BACKEND", "memory")
	v.SetDefault("BROADCAST_CHANNEL", "url_updates")
	v.SetDefault("BROADCAST_BUFFER", 64)
	v.SetDefault("CACHE_TTL", "24h")
	v.SetDefault("QR_SIZE", 256)
	v.SetDefault("LOG_LEVEL", "info")
}

func (c *Config) validate() error {
	switch c.Allocator.Queue {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ALLOCATOR_QUEUE %q", c.Allocator.Queue)
	}
	switch c.Broadcast.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown BROADCAST_BACKEND %q", c.Broadcast.Backend)
	}
	if c.Allocator.Workers < 1 {
		return errors.New("ALLOCATOR_WORKERS must be positive")
	}
	return nil
}

// isNotFound файл .env необязателен, в контейнере всё приходит через окружение
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// parseAPIKeys разбирает ключи в формате "key1:owner1,key2:owner2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}
