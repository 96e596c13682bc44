// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Драйверы хранилища пользователей
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config настройки сервера
type Config struct {
	Address   string `env:"ADDRESS,default=:8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER,default=gophchat"`
	JWTTTL    time.Duration `env:"JWT_TTL,default=10h"`

	BcryptCost int `env:"BCRYPT_COST,default=12"`

	StorageDriver  string `env:"STORAGE_DRIVER,default=sqlite"`
	DatabasePath   string `env:"DATABASE_PATH,default=gophchat.db"`
	RedisAddr      string `env:"REDIS_ADDR,default=127.0.0.1:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=gophchat:"`

	// Через запятую; "*" разрешает любой origin
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`

	WSAllowAnonymous   bool          `env:"WS_ALLOW_ANONYMOUS,default=true"`
	WSSendQueue        int           `env:"WS_SEND_QUEUE,default=256"`
	WSHandshakeTimeout time.Duration `env:"WS_HANDSHAKE_TIMEOUT,default=10s"`

	AuthRateLimit  int           `env:"AUTH_RATE_LIMIT,default=20"`
	AuthRateWindow time.Duration `env:"AUTH_RATE_WINDOW,default=1m"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// Load читает необязательный .env файл и переменные окружения.
// Уже заданные переменные окружения имеют приоритет над .env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	var errs []error

	if c.Address == "" {
		errs = append(errs, errors.New("ADDRESS cannot be empty"))
	}
	if c.StorageDriver != StorageSQLite && c.StorageDriver != StorageRedis {
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageSQLite, StorageRedis, c.StorageDriver))
	}
	if c.StorageDriver == StorageSQLite && c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH cannot be empty"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be in [4, 31], got %d", c.BcryptCost))
	}
	if c.WSSendQueue <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_QUEUE must be positive, got %d", c.WSSendQueue))
	}
	if c.WSHandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WS_HANDSHAKE_TIMEOUT must be positive, got %s", c.WSHandshakeTimeout))
	}
	if c.AuthRateLimit <= 0 || c.AuthRateWindow <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT and AUTH_RATE_WINDOW must be positive"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// AllowedOrigins возвращает список разрешенных CORS origins
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// ParseLevel переводит строковый уровень логирования в slog.Level
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

// NewLogger создает логгер по настройкам LOG_LEVEL и LOG_FORMAT
func (c *Config) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
