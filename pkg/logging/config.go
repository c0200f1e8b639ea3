package logging

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigKey is the viper key logging is read from.
const ConfigKey = "logging"

// Config holds the logging configuration.
type Config struct {
	// Debug forces the debug level and the console format.
	Debug bool `mapstructure:"debug"`

	// Level defaults to INFO.
	Level Level `mapstructure:"level"`

	// Format is "json" or "console". Defaults to console.
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`

	// Output is the stream console logs go to: "stderr" (default), "stdout" or
	// "none". Object data written by the CLI goes to stdout, so logs default to
	// stderr.
	Output string `mapstructure:"output" validate:"omitempty,oneof=stderr stdout none"`

	// File enables a rotated log file when File.Filename is set.
	File lumberjack.Logger `mapstructure:"file"`
}

// Option is a configuration option for logging.
type Option func(*Config) error

// Validate reports whether the configuration can build a logger.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if c.File.MaxSize < 0 || c.File.MaxBackups < 0 || c.File.MaxAge < 0 {
		return errors.New("log file rotation limits must be >= 0")
	}
	return c.Level.Validate()
}

// WithViper reads the configuration under ConfigKey.
func WithViper(v *viper.Viper) Option {
	return WithViperKey(v, ConfigKey)
}

// WithViperKey reads the configuration under key.
func WithViperKey(v *viper.Viper, key string) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}
		return v.UnmarshalKey(key, c)
	}
}

// WithDebug sets Debug.
func WithDebug(debug bool) Option {
	return func(c *Config) error {
		c.Debug = c.Debug || debug
		return nil
	}
}

// Apply applies opts in order, skipping nil options.
func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

// NewConfig builds a configuration from opts.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}
