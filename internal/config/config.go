// Package config loads the daemon configuration with viper
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/awaistahir/smart-sprinkler/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. SPRINKLER_SERVER_PORT
const EnvPrefix = "SPRINKLER"

type Zone struct {
	Name         string `mapstructure:"name"`
	ExposeSensor bool   `mapstructure:"expose_sensor"`
}

type Storage struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type Server struct {
	Enabled  bool   `mapstructure:"enabled"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

type MQTT struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type Valve struct {
	Driver string `mapstructure:"driver"` // virtual or mqtt
}

type Hooks struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type Forecast struct {
	RefreshCron string `mapstructure:"refresh_cron"`
}

// Config is the full daemon configuration
type Config struct {
	Latitude     float64 `mapstructure:"latitude"`
	Longitude    float64 `mapstructure:"longitude"`
	WeatherModel string  `mapstructure:"weather_model"`
	Timezone     string  `mapstructure:"timezone"`

	Zones    []Zone         `mapstructure:"zones"`
	Storage  Storage        `mapstructure:"storage"`
	Server   Server         `mapstructure:"server"`
	MQTT     MQTT           `mapstructure:"mqtt"`
	Valve    Valve          `mapstructure:"valve"`
	Hooks    Hooks          `mapstructure:"hooks"`
	Forecast Forecast       `mapstructure:"forecast"`
	Log      logging.Config `mapstructure:"log"`
}

// Validate checks ranges and the combinations the daemon cannot run with. Whether
// the location was given at all is checked by the Loader.
func (c *Config) Validate() error {
	var errs []error

	if c.Latitude < -90 || c.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", c.Latitude))
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", c.Longitude))
	}
	switch c.Valve.Driver {
	case "virtual", "mqtt":
	default:
		errs = append(errs, fmt.Errorf("unknown valve driver %q", c.Valve.Driver))
	}
	if c.Valve.Driver == "mqtt" && !c.MQTT.Enabled {
		errs = append(errs, errors.New("valve driver mqtt needs mqtt.enabled"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}

	return errors.Join(errs...)
}

// Location returns the configured time zone, or the local one
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DefaultDir is where the config file and database live unless overridden
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".smartsprinkler"), nil
}

// Loader reads the configuration file and environment and watches the file for changes
type Loader struct {
	v *viper.Viper

	mu  sync.Mutex
	cfg *Config
}

// NewLoader reads file, or config.yaml in dir when file is empty
func NewLoader(file, dir string) *Loader {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, dir)

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, dir string) {
	// Bound rather than defaulted so IsSet reports a missing location
	_ = v.BindEnv("latitude")
	_ = v.BindEnv("longitude")

	v.SetDefault("weather_model", "best_match")
	v.SetDefault("timezone", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(dir, "smartsprinkler.db"))

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.password", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", "sprinklers")

	v.SetDefault("valve.driver", "virtual")
	v.SetDefault("hooks.timeout", 10*time.Second)
	v.SetDefault("forecast.refresh_cron", "@hourly")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatConsole)
}

// Load reads and validates the configuration. A missing file is not an error as
// long as the environment supplies the required settings.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return cfg, nil
}

// ConfigFile is the file in use, empty when none was found
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Current returns the last successfully loaded configuration
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Watch calls onChange with every valid new configuration written to the file.
// Invalid edits are reported through onError and leave the current one in place.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		l.mu.Lock()
		l.cfg = cfg
		l.mu.Unlock()
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	var missing error
	if !l.v.IsSet("latitude") || !l.v.IsSet("longitude") {
		missing = errors.New("latitude and longitude are required")
	}
	if err := errors.Join(missing, cfg.Validate()); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
