package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	objfs "github.com/sgl-project/objclient/pkg/afero"
	"github.com/sgl-project/objclient/pkg/client"
	"github.com/sgl-project/objclient/pkg/configutils"
	"github.com/sgl-project/objclient/pkg/logging"
	"github.com/sgl-project/objclient/pkg/version"
)

const (
	appName   = "objctl"
	envPrefix = "OBJCTL"
)

type cli struct {
	configFilePath string
	debug          bool
	metricsFile    string

	// extra is appended to every command's fx options.
	extra []fx.Option
}

// deps is what a command action gets out of the container.
type deps struct {
	fx.In

	Client *client.Client
	Fs     afero.Fs
	Logger logging.Interface
}

func newRootCommand(extra ...fx.Option) *cobra.Command {
	c := &cli{extra: extra}
	root := &cobra.Command{
		Use:   appName,
		Short: "Object storage command line client",
		Long: "objctl lists, inspects, downloads and uploads objects in a bucket of the object storage service. " +
			"Large uploads go through resumable sessions that survive dropped connections.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configFilePath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&c.debug, "debug", "d", false, "enable debug mode")
	root.PersistentFlags().StringVar(&c.metricsFile, "metrics-file", "", "write request metrics in text format to this file when the command ends")

	root.AddCommand(
		c.lsCommand(),
		c.statCommand(),
		c.urlCommand(),
		c.rmCommand(),
		c.catCommand(),
		c.getCommand(),
		c.putCommand(),
		c.setMetaCommand(),
	)
	return root
}

// run builds the container for cmd and calls action once it has started.
// SIGINT and SIGTERM cancel the context action receives.
func (c *cli) run(cmd *cobra.Command, action func(ctx context.Context, d deps) error) error {
	var registry *prometheus.Registry
	options := []fx.Option{
		configutils.ProvideViperFromFile(envPrefix, cmd.Flags(), c.configFilePath),
		objfs.Module,
		logging.Module,
		logging.UseLoggingInterface,
		client.Module,
	}
	if c.metricsFile != "" {
		registry = prometheus.NewRegistry()
		options = append(options,
			fx.Provide(func() prometheus.Registerer { return registry }),
			fx.Decorate(func(v *viper.Viper) *viper.Viper {
				v.SetDefault(client.ConfigKey+".metrics.namespace", appName)
				return v
			}),
		)
	}
	options = append(options, c.extra...)

	var d deps
	options = append(options, fx.Invoke(func(in deps) { d = in }))

	app := fx.New(options...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Stop(context.Background()); err != nil {
			d.Logger.WithError(err).Warn("failed to stop application")
		}
	}()

	err := action(ctx, d)
	if registry != nil {
		if werr := prometheus.WriteToTextfile(c.metricsFile, registry); werr != nil {
			d.Logger.WithError(werr).Errorf("failed to write metrics to %s", c.metricsFile)
		}
	}
	return err
}
