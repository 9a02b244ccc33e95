package modlife

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// MODLIFE_LOADER_PARALLELLOAD=true.
const envPrefix = "MODLIFE"

// LoaderConfig is the file representation of LoaderOptions. Durations are
// strings ("10s", "1m") so YAML and TOML both parse them.
type LoaderConfig struct {
	ParallelLoad  bool   `yaml:"parallelLoad" toml:"parallelLoad"`
	HotReload     bool   `yaml:"hotReload" toml:"hotReload"`
	WatchInterval string `yaml:"watchInterval" toml:"watchInterval"`
}

// MonitorConfig is the file representation of MonitorOptions.
type MonitorConfig struct {
	Schedule          string           `yaml:"schedule" toml:"schedule"`
	RecentErrorWindow string           `yaml:"recentErrorWindow" toml:"recentErrorWindow"`
	Thresholds        HealthThresholds `yaml:"thresholds" toml:"thresholds"`
}

// Config holds the lifecycle manager's own settings. The zero value is
// fully usable; file and environment loading are conveniences for the
// composing application.
type Config struct {
	Loader  LoaderConfig  `yaml:"loader" toml:"loader"`
	Monitor MonitorConfig `yaml:"monitor" toml:"monitor"`
}

// LoadConfig reads a YAML or TOML config file (chosen by extension) and
// applies MODLIFE_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse TOML config: %w", err)
			}
		default:
			return nil, fmt.Errorf("unsupported config format %q", ext)
		}
	}

	if err := applyEnvOverrides(reflect.ValueOf(cfg).Elem(), envPrefix); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides walks the config struct and overrides any field whose
// derived environment variable is set, casting string values to the field
// type.
func applyEnvOverrides(value reflect.Value, prefix string) error {
	structType := value.Type()
	for i := 0; i < value.NumField(); i++ {
		field := structType.Field(i)
		fieldValue := value.Field(i)
		key := prefix + "_" + strings.ToUpper(field.Name)

		if fieldValue.Kind() == reflect.Struct {
			if err := applyEnvOverrides(fieldValue, key); err != nil {
				return err
			}
			continue
		}

		raw, exists := os.LookupEnv(key)
		if !exists {
			continue
		}
		converted, err := cast.FromType(raw, fieldValue.Type())
		if err != nil {
			return fmt.Errorf("cannot cast %s=%q to %s: %w", key, raw, fieldValue.Type(), err)
		}
		fieldValue.Set(reflect.ValueOf(converted).Convert(fieldValue.Type()))
	}
	return nil
}

// LoaderOptions converts the file representation into loader options.
func (c *Config) LoaderOptions() (LoaderOptions, error) {
	options := LoaderOptions{
		ParallelLoad: c.Loader.ParallelLoad,
		HotReload:    c.Loader.HotReload,
	}
	if c.Loader.WatchInterval != "" {
		interval, err := time.ParseDuration(c.Loader.WatchInterval)
		if err != nil {
			return options, fmt.Errorf("invalid watch interval %q: %w", c.Loader.WatchInterval, err)
		}
		options.WatchInterval = interval
	}
	return options, nil
}

// MonitorOptions converts the file representation into monitor options.
func (c *Config) MonitorOptions() (MonitorOptions, error) {
	options := MonitorOptions{
		Schedule:   c.Monitor.Schedule,
		Thresholds: c.Monitor.Thresholds,
	}
	if c.Monitor.RecentErrorWindow != "" {
		window, err := time.ParseDuration(c.Monitor.RecentErrorWindow)
		if err != nil {
			return options, fmt.Errorf("invalid recent error window %q: %w", c.Monitor.RecentErrorWindow, err)
		}
		options.RecentErrorWindow = window
	}
	return options, nil
}
