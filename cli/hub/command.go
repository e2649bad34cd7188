package hub

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andydunstall/setdb/hub/config"
	"github.com/andydunstall/setdb/hub/relay"
	"github.com/andydunstall/setdb/hub/server"
	"github.com/andydunstall/setdb/pkg/blob"
	setdbconfig "github.com/andydunstall/setdb/pkg/config"
	"github.com/andydunstall/setdb/pkg/log"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "start the hub",
		Long: `Start the hub.

Nodes replicate through the hub. The hub relays gossip messages between the
nodes subscribed to each topic, and stores the snapshots nodes upload so
other nodes can fetch them by content address.

The hub only relays and stores opaque bytes. It has no knowledge of the
records themselves.

Examples:
  # Start the hub.
  setdb hub

  # Start the hub listening on :9000 and persisting snapshots to SQLite.
  setdb hub --http.bind-addr :9000 --blobs.path /var/lib/setdb/blobs.db

  # Start the hub using a YAML config file.
  setdb hub --config.path ./hub.yaml
`,
	}

	conf := config.Default()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.

This will replaces references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			if err := setdbconfig.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(conf.Log)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}
		defer logger.Sync() //nolint

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run hub", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting setdb hub", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	var blobs blob.Store
	if conf.Blobs.Path != "" {
		sqlite, err := blob.OpenSQLite(conf.Blobs.Path)
		if err != nil {
			return fmt.Errorf("blobs: %w", err)
		}
		defer sqlite.Close()
		blobs = sqlite

		logger.Info("opened blob store", zap.String("path", conf.Blobs.Path))
	} else {
		blobs = blob.NewMemoryStore()

		logger.Warn("blobs path not configured; snapshots will be lost on restart")
	}

	r := relay.NewRelay(conf.Relay.SendQueueSize, logger)
	r.Metrics().Register(registry)

	ln, err := net.Listen("tcp", conf.HTTP.BindAddr)
	if err != nil {
		return fmt.Errorf("listen: %s: %w", conf.HTTP.BindAddr, err)
	}

	hubServer := server.NewServer(r, blobs, conf.HTTP, registry, logger)
	hubServer.AddStatus("/hub", relay.NewStatus(r))

	var group rungroup.Group

	// Termination handler.
	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info(
				"received shutdown signal",
				zap.String("signal", sig.String()),
			)
			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	// Hub server.
	group.Add(func() error {
		if err := hubServer.Serve(ln); err != nil {
			return fmt.Errorf("hub server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			conf.GracePeriod,
		)
		defer cancel()

		if err := hubServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown hub server", zap.Error(err))
		}

		logger.Info("hub server shut down")
	})

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}
