package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	solanapkg "github.com/brojonat/homepass/service/solana"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "homepass",
		Usage: "Fractional real-estate share CLI",
		Description: `A command-line tool for the homepass share service.

Use this CLI to trade shares through the server, read program state
directly from the chain, inspect the catalog, and browse action receipts.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Share commands (HTTP API)
			shareCommands(),
			// Direct chain inspection
			{
				Name:  "chain",
				Usage: "Read program state directly from a Solana RPC endpoint",
				Subcommands: []*cli.Command{
					deriveCommand(),
					readCommand(),
				},
			},
			{
				Name:  "catalog",
				Usage: "Property catalog commands",
				Subcommands: []*cli.Command{
					fetchCatalogCommand(),
					parsePriceCommand(),
				},
			},
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Action receipt inspection commands",
				Subcommands: []*cli.Command{
					listReceiptsCommand(),
					getReceiptCommand(),
					migrateCommand(),
				},
			},
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "homepass server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.StringFlag{
			Name:    "catalog-url",
			Usage:   "Property catalog URL",
			EnvVars: []string{"CATALOG_URL"},
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Solana RPC endpoint",
			EnvVars: []string{"SOLANA_RPC_URL"},
			Value:   solanapkg.DevnetEndpoint,
		},
		&cli.StringFlag{
			Name:    "program-id",
			Usage:   "property_shares program address",
			EnvVars: []string{"PROGRAM_ID"},
			Value:   solanapkg.ProgramID.String(),
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
