package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/artifact-keeper/artifact-keeper/api/clients"
	"github.com/artifact-keeper/artifact-keeper/cmd/flags"
	"github.com/artifact-keeper/artifact-keeper/common"
	"github.com/artifact-keeper/artifact-keeper/config"
	"github.com/artifact-keeper/artifact-keeper/edge"
	"github.com/artifact-keeper/artifact-keeper/httpserver"
	"github.com/artifact-keeper/artifact-keeper/metrics"
	"github.com/urfave/cli/v2"
)

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8081",
	Usage: "address to listen on for artifact downloads",
}

// newPrimaryClients returns the heartbeat client and the download client.
// http.Client timeouts include reading the body, so downloads get their own
// limit instead of the short heartbeat one.
func newPrimaryClients(cfg config.EdgeConfig) (heartbeat, downloads *clients.PrimaryClient) {
	heartbeat = clients.NewPrimaryClient(cfg.PrimaryURL, cfg.APIKey, cfg.HeartbeatTimeout)
	downloads = clients.NewPrimaryClient(cfg.PrimaryURL, cfg.APIKey, cfg.DownloadTimeout)
	return heartbeat, downloads
}

func main() {
	appFlags := append([]cli.Flag{
		listenAddrFlag,
		flags.LogServiceFlagFn("artifact-keeper-edge"),
		flags.PrimaryURLFlag,
		flags.EdgeAPIKeyFlag,
		flags.CacheDirFlag,
		flags.HeartbeatIntervalFlag,
		flags.DownloadTimeoutFlag,
		flags.ChunkedTransferFlag,
		flags.ChunkedThresholdFlag,
		flags.VaultAddrFlag,
		flags.VaultTokenFlag,
	}, flags.CommonFlags...)

	app := &cli.App{
		Name:  "artifact-keeper-edge",
		Usage: "Cache artifacts from the primary registry and serve them locally",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.LoadConfig(cCtx, logger)
			if err != nil {
				logger.Error("Invalid configuration", "err", err)
				return err
			}
			if cfg.Edge.PrimaryURL == "" {
				err := errors.New("primary-url is required")
				logger.Error("Invalid configuration", "err", err)
				return err
			}

			ctx, cancel := context.WithCancel(cCtx.Context)
			defer cancel()

			cache, err := edge.OpenCache(cfg.Edge.CacheDir, logger)
			if err != nil {
				logger.Error("Failed to open cache", "err", err)
				return err
			}

			state, err := edge.NewState(edge.NewNodeIDStore(cfg.Edge.CacheDir))
			if err != nil {
				logger.Error("Failed to load node state", "err", err)
				return err
			}
			if id, ok := state.NodeID(); ok {
				logger.Info("Loaded edge node id", "nodeID", id.String())
			}

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}
			recorder := metrics.NewEdgeRecorder(metricsSrv.Namespace(), metricsSrv.Registerer())

			primary, downloads := newPrimaryClients(cfg.Edge)

			heartbeater := edge.NewHeartbeater(edge.HeartbeatConfig{
				Interval:     cfg.Edge.HeartbeatInterval,
				Timeout:      cfg.Edge.HeartbeatTimeout,
				InitialDelay: edge.DefaultInitialDelay,
			}, primary, state, cache, recorder, logger)
			go heartbeater.Run(ctx)

			// Peer-assisted chunked transfer is not available on this node
			if cfg.Edge.ChunkedEnabled {
				logger.Warn("Chunked transfer requested but no peer transport is configured, using simple downloads")
			}
			fetcher := edge.NewFetcher(edge.FetcherConfig{
				ChunkedEnabled:   cfg.Edge.ChunkedEnabled,
				ChunkedThreshold: cfg.Edge.ChunkedThreshold,
			}, downloads, nil, state, cache, recorder, logger)

			serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name))
			server, err := httpserver.New(serverCfg, metricsSrv, httpserver.NewEdgeHandler(fetcher, state, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting edge node", "primary", cfg.Edge.PrimaryURL, "cacheDir", cfg.Edge.CacheDir)
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			cancel()
			server.Shutdown()
			logger.Info("Edge node shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
