package client

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"golang.org/x/oauth2"

	"github.com/sgl-project/objclient/pkg/logging"
)

type clientParams struct {
	fx.In

	Viper       *viper.Viper
	Logger      logging.Interface
	TokenSource oauth2.TokenSource    `optional:"true"`
	Registerer  prometheus.Registerer `optional:"true"`
}

// Module provides a *Client configured from the "storage" viper section.
var Module = fx.Provide(
	func(p clientParams) (*Client, error) {
		opts := []Option{
			WithViper(p.Viper),
			WithLogger(p.Logger.WithField("component", "storage")),
		}
		if p.TokenSource != nil {
			opts = append(opts, WithTokenSource(p.TokenSource))
		}
		config, err := NewConfig(opts...)
		if err != nil {
			return nil, fmt.Errorf("error creating storage client config: %w", err)
		}
		if p.Registerer != nil && config.Metrics.Namespace != "" {
			config.Registerer = p.Registerer
		}
		return New(config)
	})
