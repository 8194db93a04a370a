// Package config loads the tool configuration and rule files.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. BLOCKINJECT_LOG_LEVEL.
const EnvPrefix = "BLOCKINJECT"

// Config holds the settings shared by every command.
type Config struct {
	LogLevel    string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" json:"log_format" yaml:"log_format"`
	FS          string `mapstructure:"fs" json:"fs" yaml:"fs"`
	StartSector uint64 `mapstructure:"start_sector" json:"start_sector" yaml:"start_sector"`
	Lock        bool   `mapstructure:"lock" json:"lock" yaml:"lock"`
	Enabled     bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	RulesFile   string `mapstructure:"rules_file" json:"rules_file,omitempty" yaml:"rules_file,omitempty"`
	Workers     int    `mapstructure:"workers" json:"workers" yaml:"workers"`

	// Source is the config file that was read, empty when none was found
	Source string `mapstructure:"-" json:"-" yaml:"-"`
}

// New returns a viper instance with the search paths, defaults and
// environment binding of the tool.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("blockinject")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.blockinject")
	v.AddConfigPath("/etc/blockinject")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("fs", string(types.DefaultFSKind))
	v.SetDefault("start_sector", 0)
	v.SetDefault("lock", true)
	v.SetDefault("enabled", false)
	v.SetDefault("rules_file", "")
	v.SetDefault("workers", 4)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path, or searches the default locations
// when path is empty, and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return types.NewConfigError(c.LogLevel, "invalid log level")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return types.NewConfigError(c.LogFormat, "log format must be text or json")
	}
	if c.Workers < 1 {
		return types.NewConfigError(fmt.Sprint(c.Workers), "workers must be at least 1")
	}
	return nil
}

// Logger builds the root logger the config describes.
func (c *Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, types.NewConfigError(c.LogLevel, "invalid log level")
	}
	log := logrus.New()
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
