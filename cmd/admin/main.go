package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/artifact-keeper/artifact-keeper/api/clients"
	"github.com/artifact-keeper/artifact-keeper/cmd/flags"
	"github.com/artifact-keeper/artifact-keeper/cmd/storagecommon"
	"github.com/artifact-keeper/artifact-keeper/gc"
	"github.com/artifact-keeper/artifact-keeper/storage"
	"github.com/urfave/cli/v2"
)

var flagServer *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Storage service address to request",
}
var flagAdminToken *cli.StringFlag = &cli.StringFlag{
	Name:    "admin-token",
	EnvVars: []string{"ARTIFACT_KEEPER_ADMIN_TOKEN"},
	Usage:   "Bearer token for the admin API",
}
var flagTimeout *cli.DurationFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Minute,
	Usage: "Request timeout, GC runs over large catalogs can be slow",
}
var flagDryRun *cli.BoolFlag = &cli.BoolFlag{
	Name:  "dry-run",
	Usage: "Report what would be collected without deleting anything",
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	localFlags := append([]cli.Flag{
		flagDryRun,
		storagecommon.DevFlag,
		storagecommon.DevSeedFlag,
		flags.ConfigFileFlag,
		flags.LogJsonFlag,
		flags.LogDebugFlag,
		flags.LogServiceFlagFn("artifact-keeper-admin"),
		flags.DatabaseURLFlag,
		flags.VaultAddrFlag,
		flags.VaultTokenFlag,
	}, flags.StorageFlags...)

	app := &cli.App{
		Name:           "admin client",
		Usage:          "Storage administration for artifact keeper",
		DefaultCommand: "stats",
		Commands: []*cli.Command{
			&cli.Command{
				Name:  "stats",
				Usage: "Print live repository and artifact totals",
				Flags: []cli.Flag{
					flagServer,
					flagAdminToken,
					flagTimeout,
				},
				Action: func(cCtx *cli.Context) error {
					adminClient := clients.NewAdminClient(cCtx.String(flagServer.Name), cCtx.String(flagAdminToken.Name), cCtx.Duration(flagTimeout.Name))
					stats, err := adminClient.StorageStats(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(stats)
				},
			},
			&cli.Command{
				Name:  "gc",
				Usage: "Trigger storage garbage collection on a running service",
				Flags: []cli.Flag{
					flagServer,
					flagAdminToken,
					flagTimeout,
					flagDryRun,
				},
				Action: func(cCtx *cli.Context) error {
					adminClient := clients.NewAdminClient(cCtx.String(flagServer.Name), cCtx.String(flagAdminToken.Name), cCtx.Duration(flagTimeout.Name))
					result, err := adminClient.RunStorageGC(cCtx.Context, cCtx.Bool(flagDryRun.Name))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			&cli.Command{
				Name:        "gc-local",
				Usage:       "Run storage garbage collection once in this process",
				Description: "Connects to the catalog and storage backend directly. Use when no storage service is running.",
				Flags:       localFlags,
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					cfg, err := flags.LoadConfig(cCtx, logger)
					if err != nil {
						return err
					}

					registryCfg, err := cfg.Registry()
					if err != nil {
						return err
					}
					backends := storage.NewRegistry(registryCfg, logger)

					cat, closeCatalog, err := storagecommon.OpenCatalog(cCtx, cfg, logger)
					if err != nil {
						return err
					}
					defer closeCatalog()

					result, err := gc.NewCollector(cat, backends, nil, logger).Run(cCtx.Context, cCtx.Bool(flagDryRun.Name))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
