package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/cdn/internal/config"
	"github.com/tomasbasham/cdn/internal/logging"
	"github.com/tomasbasham/cdn/internal/server"
	"github.com/tomasbasham/cdn/internal/storage"
)

type ServeOptions struct {
	ConfigOptions

	Address string

	cfg     *config.Config
	storage config.StorageConfiguration
}

var (
	serveLong = templates.LongDesc(`
		Start the upload service.

		Files posted to the service are written below the configured storage
		path and are never overwritten. The storage section of the
		configuration is required.`)

	serveExample = templates.Examples(`
		# Start with ./appsettings.yaml
		cdn serve

		# Layer appsettings.Production.yaml on top and listen on port 9090
		cdn serve --environment Production --address :9090`)
)

func NewServeOptions() *ServeOptions {
	return &ServeOptions{}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the upload service",
		Long:    serveLong,
		Example: serveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	o.ConfigOptions.AddFlags(cmd.Flags())
	cmd.Flags().StringVarP(&o.Address, "address", "a", "", "Address to listen on (default: server.address from configuration)")

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := o.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg
	if o.Address == "" {
		o.Address = cfg.Server.Address
	}
	return nil
}

func (o *ServeOptions) Validate() error {
	sc, err := o.cfg.StorageConfiguration()
	if err != nil {
		return err
	}
	o.storage = sc
	return nil
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(o.cfg.Log.Level, o.cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := newStore(ctx, o.storage)
	if err != nil {
		return fmt.Errorf("failed to initialise %s storage: %w", o.storage.Backend, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(store, logger, reg)

	logger.Info("starting upload service",
		zap.String("address", o.Address),
		zap.String("backend", o.storage.Backend),
		zap.String("path", o.storage.Path),
	)
	return srv.ListenAndServe(ctx, o.Address)
}

func newStore(ctx context.Context, cfg config.StorageConfiguration) (storage.Store, error) {
	switch cfg.Backend {
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.Bucket, cfg.Path)
	case "s3":
		return storage.NewS3Store(ctx, cfg.Bucket, cfg.Path)
	default:
		return storage.NewLocalStore(cfg.Path)
	}
}
