package configutils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// ProvideViperFromFile provides a *viper.Viper read from configFilePath on the
// container's afero.Fs, with environment overrides under envPrefix and the
// "debug" flag of pflags bound when present.
func ProvideViperFromFile(envPrefix string, pflags *pflag.FlagSet, configFilePath string) fx.Option {
	return fx.Provide(func(fs afero.Fs) (*viper.Viper, error) {
		if configFilePath == "" {
			return nil, errors.New("no config file provided")
		}
		v := viper.New()
		v.SetEnvPrefix(envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if pflags != nil {
			if f := pflags.Lookup("debug"); f != nil {
				if err := v.BindPFlag("debug", f); err != nil {
					return nil, fmt.Errorf("can't bind debug flag: %w", err)
				}
			}
		}
		if err := ResolveAndMergeFile(fs, v, configFilePath); err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}
		return v, nil
	})
}
