package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Storage  StorageConfig  `yaml:"storage"`
	Training TrainingConfig `yaml:"training"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StaticDir    string        `yaml:"static_dir"`
	// MaxUploadMB bounds multipart bodies.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// BackendConfig points at the deshine service.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ProcessWorkers int           `yaml:"process_workers"`
	SamplePreviews int           `yaml:"sample_previews"`
	ThumbnailSize  int           `yaml:"thumbnail_size"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageMySQL  = "mysql"
)

type StorageConfig struct {
	Backend string      `yaml:"backend"`
	MySQL   MySQLConfig `yaml:"mysql"`
	Redis   RedisConfig `yaml:"redis"`
	// Autosave keeps a dataset snapshot in Redis and restores it at startup.
	Autosave bool `yaml:"autosave"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type TrainingConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

type CacheConfig struct {
	Directory  string        `yaml:"directory"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	// Verbosity is the klog -v level.
	Verbosity int `yaml:"verbosity"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	// Apply environment variable overrides
	if url := os.Getenv("UNSHINEY_BACKEND_URL"); url != "" {
		cfg.Backend.BaseURL = url
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Storage.Redis.Password = pw
	}
	if pw := os.Getenv("MYSQL_PASSWORD"); pw != "" {
		cfg.Storage.MySQL.Password = pw
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "./static"
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 16
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:5000"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 60 * time.Second
	}
	if c.Backend.ProcessWorkers == 0 {
		c.Backend.ProcessWorkers = 2
	}
	if c.Backend.SamplePreviews == 0 {
		c.Backend.SamplePreviews = 5
	}
	if c.Backend.ThumbnailSize == 0 {
		c.Backend.ThumbnailSize = 128
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Storage.Redis.Host == "" {
		c.Storage.Redis.Host = "localhost"
	}
	if c.Storage.Redis.Port == 0 {
		c.Storage.Redis.Port = 6379
	}
	if c.Storage.Redis.PoolSize == 0 {
		c.Storage.Redis.PoolSize = 10
	}
	if c.Storage.MySQL.Host == "" {
		c.Storage.MySQL.Host = "localhost"
	}
	if c.Storage.MySQL.Port == 0 {
		c.Storage.MySQL.Port = 3306
	}
	if c.Storage.MySQL.MaxOpenConns == 0 {
		c.Storage.MySQL.MaxOpenConns = 10
	}
	if c.Storage.MySQL.MaxIdleConns == 0 {
		c.Storage.MySQL.MaxIdleConns = 5
	}
	if c.Storage.MySQL.ConnMaxLifetime == 0 {
		c.Storage.MySQL.ConnMaxLifetime = time.Hour
	}
	if c.Training.TickInterval == 0 {
		c.Training.TickInterval = 500 * time.Millisecond
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = "./data/result_cache"
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 500
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StorageRedis, StorageMySQL:
	default:
		return errors.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Training.TickInterval < 0 {
		return errors.Errorf("training.tick_interval must be positive, got %v", c.Training.TickInterval)
	}
	return nil
}
