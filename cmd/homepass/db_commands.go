package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/homepass/service/db"
)

func listReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-receipts",
		Usage:   "List recorded share actions, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "property",
				Aliases: []string{"p"},
				Usage:   "Filter by property id",
			},
			&cli.StringFlag{
				Name:  "signer",
				Usage: "Filter by signer public key",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status (success, failed)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of receipts",
				Value:   50,
			},
			jqFlag,
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			receipts, err := store.ListReceipts(context.Background(), db.ListReceiptsParams{
				PropertyID: c.String("property"),
				Signer:     c.String("signer"),
				Limit:      int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}

			// Filter by status if specified
			if status := c.String("status"); status != "" {
				filtered := make([]*db.Receipt, 0, len(receipts))
				for _, r := range receipts {
					if r.Status == status {
						filtered = append(filtered, r)
					}
				}
				receipts = filtered
			}

			return render(c, receipts, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSUBMITTED\tACTION\tPROPERTY\tAMOUNT\tSTATUS\tDURATION")
				for _, r := range receipts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						r.ID,
						r.SubmittedAt.Format(time.RFC3339),
						r.Action,
						r.PropertyID,
						r.Amount,
						r.Status,
						r.Duration,
					)
				}
				tw.Flush()

				fmt.Fprintf(os.Stderr, "\nTotal: %d receipts\n", len(receipts))
			})
		},
	}
}

func getReceiptCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-receipt",
		Usage:     "Get receipt details",
		Aliases:   []string{"get"},
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: receipt id")
			}
			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid receipt id: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			r, err := store.GetReceipt(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get receipt: %w", err)
			}

			return render(c, r, func(w io.Writer) {
				fmt.Fprintf(w, "ID:          %s\n", r.ID)
				fmt.Fprintf(w, "Action:      %s\n", r.Action)
				fmt.Fprintf(w, "Property:    %s\n", r.PropertyID)
				fmt.Fprintf(w, "Signer:      %s\n", r.Signer)
				fmt.Fprintf(w, "Amount:      %d\n", r.Amount)
				fmt.Fprintf(w, "Status:      %s\n", r.Status)
				fmt.Fprintf(w, "Signature:   %s\n", formatOptional(r.Signature))
				fmt.Fprintf(w, "Error:       %s\n", formatOptional(r.Error))
				fmt.Fprintf(w, "Generation:  %d\n", r.Generation)
				fmt.Fprintf(w, "Duration:    %s\n", r.Duration)
				fmt.Fprintf(w, "Submitted:   %s\n", r.SubmittedAt.Format(time.RFC3339))
			})
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the receipt tables if they do not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema is up to date")
			return nil
		},
	}
}

// getStore opens a database connection from the global flags.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}
