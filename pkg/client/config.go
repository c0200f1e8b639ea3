package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/sgl-project/objclient/pkg/configutils"
	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/logging"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/requests"
)

// ConfigKey is the viper key the client configuration lives under.
const ConfigKey = "storage"

// DefaultMaxResponseBytes bounds buffered response bodies, downloads included.
const DefaultMaxResponseBytes = 256 << 20

type AuthConfig struct {
	// Token is a static bearer token. Ignored when a TokenSource is set.
	Token string `mapstructure:"token"`
}

type MetricsConfig struct {
	// Namespace prefixes metric names. Metrics are off when empty.
	Namespace string `mapstructure:"namespace"`
}

// Config configures a Client.
type Config struct {
	// Bucket is the default bucket for paths without a gs:// prefix.
	Bucket   string `mapstructure:"bucket"`
	Host     string `mapstructure:"host" validate:"required"`
	Protocol string `mapstructure:"protocol" validate:"oneof=http https"`

	Retry                 request.RetryPolicy `mapstructure:"retry"`
	MaxOperationRetryTime time.Duration       `mapstructure:"max_operation_retry_time" validate:"gte=0"`
	MaxUploadRetryTime    time.Duration       `mapstructure:"max_upload_retry_time" validate:"gte=0"`
	AttemptTimeout        time.Duration       `mapstructure:"attempt_timeout" validate:"gte=0"`
	// ChunkSize is the resumable upload chunk size; 0 selects the default.
	ChunkSize        int64 `mapstructure:"chunk_size" validate:"gte=0"`
	MaxResponseBytes int64 `mapstructure:"max_response_bytes" validate:"gte=0"`

	Auth    AuthConfig    `mapstructure:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	Logger      logging.Interface
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
	Factory     connection.Factory
	Registerer  prometheus.Registerer
	Clock       clock.Clock
}

func defaultConfig() *Config {
	return &Config{
		Host:                  requests.DefaultHost,
		Protocol:              requests.DefaultProtocol,
		Retry:                 request.DefaultRetryPolicy(),
		MaxOperationRetryTime: requests.DefaultMaxOperationRetryTime,
		MaxUploadRetryTime:    requests.DefaultMaxUploadRetryTime,
		MaxResponseBytes:      DefaultMaxResponseBytes,
		Logger:                logging.Discard(),
	}
}

// Option represents a configuration option for the client.
type Option func(*Config) error

// NewConfig builds a configuration from the defaults and opts.
func NewConfig(opts ...Option) (*Config, error) {
	c := defaultConfig()
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply applies the given options to the configuration.
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

// WithViper loads the "storage" section, environment overrides included.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("viper cannot be nil")
		}
		root := struct {
			Storage *Config `mapstructure:"storage"`
		}{Storage: c}
		if err := configutils.BindEnvsRecursive(v, &root, ""); err != nil {
			return fmt.Errorf("error binding envs: %w", err)
		}
		if err := v.Unmarshal(&root); err != nil {
			return fmt.Errorf("error unmarshalling config: %w", err)
		}
		return nil
	}
}

// WithBucket sets the default bucket.
func WithBucket(bucket string) Option {
	return func(c *Config) error {
		c.Bucket = bucket
		return nil
	}
}

// WithEndpoint sets the service host and protocol.
func WithEndpoint(protocol, host string) Option {
	return func(c *Config) error {
		c.Protocol, c.Host = protocol, host
		return nil
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p request.RetryPolicy) Option {
	return func(c *Config) error {
		c.Retry = p
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Interface) Option {
	return func(c *Config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.Logger = logger
		return nil
	}
}

// WithTokenSource sets the credentials used for every request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) error {
		if ts == nil {
			return errors.New("token source cannot be nil")
		}
		c.TokenSource = ts
		return nil
	}
}

// WithHTTPClient sets the HTTP client behind the default connection factory.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.HTTPClient = hc
		return nil
	}
}

// WithConnectionFactory replaces the HTTP transport entirely.
func WithConnectionFactory(f connection.Factory) Option {
	return func(c *Config) error {
		if f == nil {
			return errors.New("connection factory cannot be nil")
		}
		c.Factory = f
		return nil
	}
}

// WithRegisterer registers metrics with reg under namespace.
func WithRegisterer(reg prometheus.Registerer, namespace string) Option {
	return func(c *Config) error {
		if reg == nil {
			return errors.New("registerer cannot be nil")
		}
		c.Registerer = reg
		c.Metrics.Namespace = namespace
		return nil
	}
}

// WithClock sets the clock backoff waits run on.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) error {
		c.Clock = clk
		return nil
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return c.Retry.Validate()
}

func (c *Config) requestsConfig() requests.Config {
	return requests.Config{
		Host:                  c.Host,
		Protocol:              c.Protocol,
		MaxOperationRetryTime: c.MaxOperationRetryTime,
		MaxUploadRetryTime:    c.MaxUploadRetryTime,
		AttemptTimeout:        c.AttemptTimeout,
	}
}

func (c *Config) tokenSource() oauth2.TokenSource {
	if c.TokenSource != nil {
		return c.TokenSource
	}
	if c.Auth.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Auth.Token, TokenType: "Bearer"})
	}
	return nil
}
