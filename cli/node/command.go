package node

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

	"github.com/andydunstall/setdb/node"
	"github.com/andydunstall/setdb/node/admin"
	"github.com/andydunstall/setdb/node/config"
	setdbconfig "github.com/andydunstall/setdb/pkg/config"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/replication"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "start a node",
		Long: `Start a node.

A node holds a replica of the set of records on its topic. Records written to
any node are replicated to every other node on the same topic via the hub.

On startup the node loads the optional seed snapshot, subscribes to the topic
then asks its peers for their latest snapshots. Once ready, the node accepts
writes on its admin server.

Records are JSON objects keyed by the '--replication.index-by' field
(defaulting to '_id'). The set is grow-only: once a key is added it is never
replaced or removed.

Examples:
  # Start a node connecting to the hub at localhost:8100.
  setdb node

  # Start a node replicating topic 'users' keyed by 'email'.
  setdb node --replication.topic users --replication.index-by email

  # Start a node seeded with an existing snapshot.
  setdb node --replication.seed-hash 2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae

  # Start a node that only accepts records with a 'name' field.
  setdb node --validator.required-fields name
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
			logger.Error("failed to run node", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting setdb node", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	ln, err := net.Listen("tcp", conf.Admin.BindAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
	}

	n, err := node.New(context.Background(), conf, registry, logger)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	defer n.Close()

	logger.Info("connected to hub", zap.String("node-id", n.ID()))

	adminServer := admin.NewServer(n.Engine(), conf.Admin, registry, logger)
	adminServer.AddStatus("/replication", replication.NewStatus(n.Engine()))

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

	// Admin server.
	group.Add(func() error {
		if err := adminServer.Serve(ln); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			conf.GracePeriod,
		)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		logger.Info("admin server shut down")
	})

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}
