//Package conf loads the API configuration: built-in defaults, then an optional YAML file, then GP_* environment variables.
package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

//EnvPrefix is the prefix of environment variables which override the config file.
//Nesting uses a double underscore, eg GP_VIEWS__SYNC_INTERVAL=1m.
const EnvPrefix = "GP_"

//MysqlConfig represents the database configuration.
type MysqlConfig struct {
	Driver   string `koanf:"driver"` //"mysql", or "sqlite" for a local file
	MaxConns int    `koanf:"max_conns"`
	User     string `koanf:"user"`
	Pass     string `koanf:"pass"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Name     string `koanf:"name"`
	Path     string `koanf:"path"` //sqlite only
}

//ConnectionString returns the db/sql string for connecting to the database based on this config.
func (c *MysqlConfig) ConnectionString() string {
	if c.Driver == "sqlite" {
		return "file:" + c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return c.User + ":" + c.Pass + "@tcp(" + c.Host + ":" + c.Port + ")/" + c.Name + "?charset=utf8mb4&parseTime=true"
}

//RedisConfig represents the cache configuration.
type RedisConfig struct {
	Proto     string        `koanf:"proto"`
	Address   string        `koanf:"address"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	MaxIdle   int           `koanf:"max_idle"`
	MaxActive int           `koanf:"max_active"`
	Timeout   time.Duration `koanf:"timeout"`
	KeyPrefix string        `koanf:"key_prefix"`
	Breaker   BreakerConfig `koanf:"breaker"`
}

//BreakerConfig controls when the cache stops being called after repeated connection failures.
type BreakerConfig struct {
	Failures uint32        `koanf:"failures"` //consecutive failures before opening
	Timeout  time.Duration `koanf:"timeout"`  //how long to stay open before probing again
}

//ViewsConfig controls view deduplication and syncing.
type ViewsConfig struct {
	TTL            time.Duration `koanf:"ttl"`
	SyncInterval   time.Duration `koanf:"sync_interval"`
	BatchLimit     int           `koanf:"batch_limit"`
	OpTimeout      time.Duration `koanf:"op_timeout"`
	PersistWorkers int           `koanf:"persist_workers"`
	PersistQueue   int           `koanf:"persist_queue"`
	SyncOnShutdown bool          `koanf:"sync_on_shutdown"`
}

//LoggingConfig is passed through to the logging package.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

//Config defines all the available configuration for the API.
type Config struct {
	DevelopmentMode bool          `koanf:"development_mode"`
	Port            string        `koanf:"port"`
	Statsd          string        `koanf:"statsd"`
	Logging         LoggingConfig `koanf:"logging"`
	Mysql           MysqlConfig   `koanf:"mysql"`
	Redis           RedisConfig   `koanf:"redis"`
	Views           ViewsConfig   `koanf:"views"`
}

//Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port: "8083",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Mysql: MysqlConfig{
			Driver:   "mysql",
			MaxConns: 100,
			User:     "gleepost",
			Host:     "localhost",
			Port:     "3306",
			Name:     "gleepost",
			Path:     "gleepost.db",
		},
		Redis: RedisConfig{
			Proto:     "tcp",
			Address:   "localhost:6379",
			MaxIdle:   100,
			Timeout:   2 * time.Second,
			KeyPrefix: "post",
			Breaker: BreakerConfig{
				Failures: 5,
				Timeout:  10 * time.Second,
			},
		},
		Views: ViewsConfig{
			TTL:            24 * time.Hour,
			SyncInterval:   5 * time.Minute,
			BatchLimit:     20,
			OpTimeout:      5 * time.Second,
			PersistWorkers: 4,
			PersistQueue:   1024,
			SyncOnShutdown: true,
		},
	}
}

//Load builds a Config from defaults, the YAML file at path (skipped if path is empty or missing) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			if err = k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	c := new(Config)
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

//envKey maps GP_VIEWS__SYNC_INTERVAL to views.sync_interval
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "__", ".", -1)
}

//Validate rejects settings the view pipeline can't run with.
func (c *Config) Validate() error {
	switch {
	case c.Views.TTL <= 0:
		return errors.New("views.ttl must be positive")
	case c.Views.SyncInterval <= 0:
		return errors.New("views.sync_interval must be positive")
	case c.Views.BatchLimit <= 0:
		return errors.New("views.batch_limit must be positive")
	case c.Views.OpTimeout <= 0:
		return errors.New("views.op_timeout must be positive")
	case c.Views.PersistWorkers <= 0:
		return errors.New("views.persist_workers must be positive")
	case c.Views.PersistQueue < 0:
		return errors.New("views.persist_queue can't be negative")
	case c.Redis.Timeout <= 0:
		return errors.New("redis.timeout must be positive")
	case c.Mysql.Driver != "mysql" && c.Mysql.Driver != "sqlite":
		return fmt.Errorf("mysql.driver %q: want mysql or sqlite", c.Mysql.Driver)
	}
	return nil
}
