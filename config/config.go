package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Room     RoomConfig     `mapstructure:"room"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	HTTPAddress    string        `mapstructure:"http_address"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // redis | memory
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

type RoomConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type MonitorConfig struct {
	Address       string        `mapstructure:"address"`
	Namespace     string        `mapstructure:"namespace"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // "" | gorm | postgres
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.http_address", "")
	v.SetDefault("server.max_workers", 10)
	v.SetDefault("server.request_timeout", 10*time.Second)

	v.SetDefault("store.driver", "redis")

	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("room.ttl", time.Hour)
	v.SetDefault("room.max_retries", 8)

	v.SetDefault("monitor.address", ":9100")
	v.SetDefault("monitor.namespace", "connect4")
	v.SetDefault("monitor.sweep_interval", 30*time.Second)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "connect4")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path when present and overlays the
// environment. PORT and REDIS_URL are honored as well as SERVER_PORT-style names.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Server.HTTPAddress == "" {
		cfg.Server.HTTPAddress = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Database.Driver {
	case "", "gorm", "postgres":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.Server.MaxWorkers < 1 {
		return fmt.Errorf("config: server.max_workers must be positive, got %d", c.Server.MaxWorkers)
	}
	if c.Room.MaxRetries < 1 {
		return fmt.Errorf("config: room.max_retries must be positive, got %d", c.Room.MaxRetries)
	}
	if c.Room.TTL <= 0 {
		return fmt.Errorf("config: room.ttl must be positive, got %s", c.Room.TTL)
	}
	return nil
}

// DSN is the libpq connection string for the archive database.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DBName)
}
