// Package config loads process settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverAzure  = "azure"
)

// Config holds every setting of the planner process.
type Config struct {
	Port        int    `yaml:"port"`
	GraphQLPath string `yaml:"graphql_path"`

	StoreDriver             string `yaml:"store_driver"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	WeeksTable              string `yaml:"weeks_table"`
	TasksTable              string `yaml:"tasks_table"`
	SQLitePath              string `yaml:"sqlite_path"`

	RedisConnectionString string        `yaml:"redis_connection_string"`
	CacheTTL              time.Duration `yaml:"cache_ttl"`
	EventsChannel         string        `yaml:"events_channel"`

	BusBuffer       int           `yaml:"bus_buffer"`
	RelayBuffer     int           `yaml:"relay_buffer"`
	WSInitTimeout   time.Duration `yaml:"ws_init_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	StaticDir string `yaml:"static_dir"`
	IndexFile string `yaml:"index_file"`
	UploadDir string `yaml:"upload_dir"`

	Debug bool `yaml:"debug"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		Port:            4000,
		GraphQLPath:     "/graphql",
		StoreDriver:     DriverSQLite,
		WeeksTable:      "weeks",
		TasksTable:      "tasks",
		SQLitePath:      "planner.db",
		CacheTTL:        time.Minute,
		EventsChannel:   "planner-events",
		BusBuffer:       1024,
		RelayBuffer:     256,
		WSInitTimeout:   3 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		StaticDir:       "dist",
		IndexFile:       "interfaz1.html",
		UploadDir:       "dist/files",
	}
}

// Load reads CONFIG_FILE when set, applies environment overrides and
// validates the result.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	envString("GRAPHQL_PATH", &c.GraphQLPath)
	envString("STORE_DRIVER", &c.StoreDriver)
	envString("STORAGE_CONNECTION_STRING", &c.StorageConnectionString)
	envString("WEEKS_TABLE", &c.WeeksTable)
	envString("TASKS_TABLE", &c.TasksTable)
	envString("SQLITE_PATH", &c.SQLitePath)
	envString("REDIS_CONNECTION_STRING", &c.RedisConnectionString)
	envString("EVENTS_CHANNEL", &c.EventsChannel)
	envString("STATIC_DIR", &c.StaticDir)
	envString("INDEX_FILE", &c.IndexFile)
	envString("UPLOAD_DIR", &c.UploadDir)
	errs = append(errs,
		envInt("PORT", &c.Port),
		envInt("BUS_BUFFER", &c.BusBuffer),
		envInt("RELAY_BUFFER", &c.RelayBuffer),
		envDur("CACHE_TTL", &c.CacheTTL),
		envDur("WS_INIT_TIMEOUT", &c.WSInitTimeout),
		envDur("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout),
		envBool("DEBUG", &c.Debug),
	)
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if !strings.HasPrefix(c.GraphQLPath, "/") {
		errs = append(errs, fmt.Errorf("GRAPHQL_PATH must start with /: %q", c.GraphQLPath))
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("missing SQLITE_PATH"))
		}
	case DriverAzure:
		if c.StorageConnectionString == "" || c.WeeksTable == "" || c.TasksTable == "" {
			errs = append(errs, errors.New("missing storage config"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.BusBuffer <= 0 {
		errs = append(errs, fmt.Errorf("invalid BUS_BUFFER %d", c.BusBuffer))
	}
	if c.RelayBuffer <= 0 {
		errs = append(errs, fmt.Errorf("invalid RELAY_BUFFER %d", c.RelayBuffer))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid CACHE_TTL %v", c.CacheTTL))
	}
	if c.WSInitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid WS_INIT_TIMEOUT %v", c.WSInitTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %v", c.ShutdownTimeout))
	}
	if c.RedisConnectionString != "" && c.EventsChannel == "" {
		errs = append(errs, errors.New("missing EVENTS_CHANNEL"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for Port.
func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

// ParseRedisConnectionString accepts a redis URL or the Azure Cache for Redis
// form "host:port,password=...,ssl=True".
func ParseRedisConnectionString(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if parts[0] == "" {
		return nil, fmt.Errorf("invalid redis connection string %q", conn)
	}
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDur(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
