package workload

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/setdb/client"
	setdbconfig "github.com/andydunstall/setdb/pkg/config"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/workload/config"
)

func newRecordsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "generate record writes",
		Long: `Generate record writes.

Starts the configured number of clients writing records to the configured
nodes.

Each write selects a random key from the configured number of keys, so as the
set fills up most writes are not added.

Examples:
  # Run 10 clients with 10 writes per second using 10000 keys.
  setdb workload records

  # Run 100 clients with 2 writes per second using 500 keys.
  setdb workload records --clients 100 --rate 2 --keys 500

  # Write to multiple nodes.
  setdb workload records --servers http://10.26.104.56:8200,http://10.26.104.57:8200
`,
	}

	conf := config.DefaultRecordsConfig()

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

		if err := runRecords(conf, logger); err != nil {
			logger.Error("failed to run workload", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

type workloadStats struct {
	written atomic.Uint64
	added   atomic.Uint64
	failed  atomic.Uint64
}

func runRecords(conf *config.RecordsConfig, logger log.Logger) error {
	logger.Info("starting records workload", zap.Any("conf", conf))

	var clients []*client.Client
	for _, s := range conf.Servers {
		// The URLs have already been validated in conf.
		u, _ := url.Parse(s)
		c := client.NewClient(u, client.WithTimeout(conf.Timeout))
		defer c.Close()
		clients = append(clients, c)
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var stats workloadStats
	for i := 0; i != conf.Clients; i++ {
		g.Go(func() error {
			return runClient(ctx, clients, conf, &stats, logger)
		})
	}
	g.Go(func() error {
		reportStats(ctx, &stats, logger)
		return nil
	})

	return g.Wait()
}

func runClient(
	ctx context.Context,
	clients []*client.Client,
	conf *config.RecordsConfig,
	stats *workloadStats,
	logger log.Logger,
) error {
	ticker := time.NewTicker(time.Duration(int(time.Second) / conf.Rate))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c := clients[rand.Intn(len(clients))]
			r := randomRecord(conf.Keys, conf.RecordSize)

			added, err := c.PutRecord(ctx, r)
			stats.written.Inc()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				stats.failed.Inc()
				logger.Warn("put record", zap.Error(err))
				continue
			}
			if added {
				stats.added.Inc()
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func reportStats(ctx context.Context, stats *workloadStats, logger log.Logger) {
	ticker := time.NewTicker(time.Second * 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logger.Info(
				"workload stats",
				zap.Uint64("written", stats.written.Load()),
				zap.Uint64("added", stats.added.Load()),
				zap.Uint64("failed", stats.failed.Load()),
			)
		case <-ctx.Done():
			return
		}
	}
}

func randomRecord(keys int, size int) record.Record {
	return record.Record{
		record.DefaultIndexBy: strconv.Itoa(rand.Intn(keys)),
		"written_at":          time.Now().UTC().Format(time.RFC3339Nano),
		"payload":             strings.Repeat("x", size),
	}
}
