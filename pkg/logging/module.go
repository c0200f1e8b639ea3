package logging

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a *zap.Logger and an Interface built from the "logging"
// viper key. A true top-level "debug" key forces debug logging.
var Module fx.Option = fx.Provide(
	provideZapLogger,
	func(l *zap.Logger) Interface { return ForZap(l) },
)

func provideZapLogger(lc fx.Lifecycle, v *viper.Viper) (*zap.Logger, error) {
	config, err := NewConfig(WithViper(v), WithDebug(v.GetBool("debug")))
	if err != nil {
		return nil, fmt.Errorf("error reading logging configuration: %w", err)
	}
	l, err := NewLogger(config)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() { _ = l.Sync() }))
	return l, nil
}
