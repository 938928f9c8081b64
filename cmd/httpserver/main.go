package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/artifact-keeper/artifact-keeper/cmd/flags"
	"github.com/artifact-keeper/artifact-keeper/cmd/storagecommon"
	"github.com/artifact-keeper/artifact-keeper/common"
	"github.com/artifact-keeper/artifact-keeper/gc"
	"github.com/artifact-keeper/artifact-keeper/httpserver"
	"github.com/artifact-keeper/artifact-keeper/metrics"
	"github.com/artifact-keeper/artifact-keeper/storage"
	"github.com/urfave/cli/v2"
)

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

func main() {
	appFlags := append([]cli.Flag{
		listenAddrFlag,
		storagecommon.DevFlag,
		storagecommon.DevSeedFlag,
		flags.LogServiceFlagFn("artifact-keeper"),
		flags.DatabaseURLFlag,
		flags.RedisAddrFlag,
		flags.RedisPasswordFlag,
		flags.VaultAddrFlag,
		flags.VaultTokenFlag,
		flags.GCIntervalFlag,
		flags.GCInitialDelayFlag,
		flags.GCDryRunFlag,
		flags.GCDisabledFlag,
	}, flags.CommonFlags...)
	appFlags = append(appFlags, flags.StorageFlags...)

	app := &cli.App{
		Name:  "artifact-keeper-storage",
		Usage: "Serve storage admin API and run scheduled storage garbage collection",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.LoadConfig(cCtx, logger)
			if err != nil {
				logger.Error("Invalid configuration", "err", err)
				return err
			}

			ctx, cancel := context.WithCancel(cCtx.Context)
			defer cancel()

			registryCfg, err := cfg.Registry()
			if err != nil {
				logger.Error("Invalid storage configuration", "err", err)
				return err
			}
			backends := storage.NewRegistry(registryCfg, logger)

			// Shared backends are built eagerly so credential problems fail startup
			if backends.Shared() {
				if _, err := backends.BackendFor(""); err != nil {
					logger.Error("Failed to initialize storage backend", "err", err)
					return err
				}
			}

			cat, closeCatalog, err := storagecommon.OpenCatalog(cCtx, cfg, logger)
			if err != nil {
				logger.Error("Failed to open catalog", "err", err)
				return err
			}
			defer closeCatalog()

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}
			recorder := metrics.NewGCRecorder(metricsSrv.Namespace(), metricsSrv.Registerer())

			collector := gc.NewCollector(cat, backends, recorder, logger)

			if cfg.GC.Enabled {
				locker, closeLocker, err := storagecommon.NewLocker(ctx, cfg, logger)
				if err != nil {
					logger.Error("Failed to set up storage GC lock", "err", err)
					return err
				}
				defer closeLocker()

				scheduler := gc.NewScheduler(gc.SchedulerConfig{
					Interval:     cfg.GC.Interval,
					InitialDelay: cfg.GC.InitialDelay,
					DryRun:       cfg.GC.DryRun,
				}, collector, locker, cat, recorder, logger)
				go scheduler.Run(ctx)
			} else {
				logger.Info("Scheduled storage GC disabled")
			}

			serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name))
			handler := httpserver.NewStorageHandler(collector, backends, cat, registryCfg.Azure.SASExpiry, logger)
			server, err := httpserver.New(serverCfg, metricsSrv, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			cancel()
			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
