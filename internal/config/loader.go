package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/stockscan/pkg/errors"
)

// envPrefix is the environment variable prefix of every setting, e.g.
// STOCKSCAN_ENGINE_BATCH_SIZE or STOCKSCAN_KAFKA_BROKERS.
const envPrefix = "STOCKSCAN"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setViperDefaults(v)
	return v
}

// Load reads the YAML file at configPath, applies STOCKSCAN_* overrides and
// defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v, err := readFile(configPath)
	if err != nil {
		return nil, err
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from STOCKSCAN_* variables and defaults only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func readFile(configPath string) (*viper.Viper, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "cannot read config file").WithDetail(configPath)
	}
	return v, nil
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "cannot decode configuration")
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch re-reads configPath whenever it changes on disk and hands the new
// Config to onChange. Changes that fail to parse or validate go to onError
// (if non-nil) and onChange is skipped. Watch does not block.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v, err := readFile(configPath)
	if err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
