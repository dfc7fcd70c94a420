package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/homepass/client"
	"github.com/brojonat/homepass/service/shares"
)

func shareCommands() *cli.Command {
	return &cli.Command{
		Name:    "shares",
		Aliases: []string{"s"},
		Usage:   "Trade and inspect property shares through the server",
		Subcommands: []*cli.Command{
			propertiesCommand(),
			propertyCommand(),
			holdingsCommand(),
			refreshCommand(),
			buyCommand(),
			depositCommand(),
			claimCommand(),
			resolveCommand(),
			receiptsCommand(),
		},
	}
}

var (
	whereFlag = &cli.StringSliceFlag{
		Name:  "where",
		Usage: "jq expression each property must satisfy (repeatable, all must be truthy)",
	}
	jqFlag = &cli.StringFlag{
		Name:  "jq",
		Usage: "jq expression applied to the output; each result is printed as JSON",
	}
)

func propertiesCommand() *cli.Command {
	return &cli.Command{
		Name:    "properties",
		Aliases: []string{"ls"},
		Usage:   "List the server's latest property snapshot",
		Description: `Examples:
  homepass shares properties --where '.is_initialized'
  homepass shares properties --jq '.properties[] | {id: .config.property_id, available: .available_shares}'`,
		Flags: []cli.Flag{whereFlag, jqFlag},
		Action: func(c *cli.Context) error {
			snap, err := newClient(c).Properties(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list properties: %w", err)
			}

			snap.Views, err = filterViews(snap.Views, c.StringSlice("where"))
			if err != nil {
				return err
			}
			return render(c, snap, func(w io.Writer) {
				printViews(w, snap.Views)
				fmt.Fprintf(w, "\nGeneration %d, refreshed %s\n", snap.Generation, snap.RefreshedAt.Format("2006-01-02 15:04:05"))
				if snap.Error != "" {
					fmt.Fprintf(w, "Last refresh failed: %s\n", snap.Error)
				}
			})
		},
	}
}

func propertyCommand() *cli.Command {
	return &cli.Command{
		Name:      "property",
		Aliases:   []string{"get"},
		Usage:     "Show one property",
		ArgsUsage: "PROPERTY_ID",
		Flags:     []cli.Flag{jqFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: property id")
			}
			view, err := newClient(c).Property(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get property: %w", err)
			}
			return render(c, view, func(w io.Writer) {
				printView(w, view)
			})
		},
	}
}

func holdingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "holdings",
		Usage: "Show the connected identity's holdings",
		Flags: []cli.Flag{jqFlag},
		Action: func(c *cli.Context) error {
			h, err := newClient(c).Holdings(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get holdings: %w", err)
			}
			return render(c, h, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "PROPERTY\tSYMBOL\tSHARES\tOWNED %\tVALUE\tINCOME\tGROWTH %")
				for _, hd := range h.Holdings {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
						hd.PropertyID, hd.TokenSymbol, hd.Shares, hd.OwnershipPercent,
						hd.Value.StringFixed(2), hd.Income.StringFixed(2), hd.GrowthPercent)
				}
				tw.Flush()
				fmt.Fprintf(w, "\nTotal value: %s USDC, pending income: %s USDC\n",
					h.TotalValue.StringFixed(2), h.TotalIncome.StringFixed(2))
			})
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Ask the server to re-read chain state",
		Action: func(c *cli.Context) error {
			snap, err := newClient(c).Refresh(c.Context)
			if err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			return render(c, snap, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Refreshed %d properties (generation %d)\n", len(snap.Views), snap.Generation)
			})
		},
	}
}

func buyCommand() *cli.Command {
	return &cli.Command{
		Name:      "buy",
		Usage:     "Buy whole shares of a property",
		ArgsUsage: "PROPERTY_ID",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "shares",
				Aliases:  []string{"n"},
				Usage:    "Number of shares to buy",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: property id")
			}
			outcome, err := newClient(c).BuyShares(c.Context, c.Args().First(), c.Int64("shares"))
			return reportAction(c, outcome, err)
		},
	}
}

func depositCommand() *cli.Command {
	return &cli.Command{
		Name:      "deposit",
		Usage:     "Deposit yield into a property's reward pool (authority only)",
		ArgsUsage: "PROPERTY_ID",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount in micro-USDC (1 USDC = 1000000)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: property id")
			}
			outcome, err := newClient(c).DepositYield(c.Context, c.Args().First(), c.Int64("amount"))
			return reportAction(c, outcome, err)
		},
	}
}

func claimCommand() *cli.Command {
	return &cli.Command{
		Name:      "claim",
		Usage:     "Claim pending rewards",
		ArgsUsage: "PROPERTY_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: property id")
			}
			outcome, err := newClient(c).Claim(c.Context, c.Args().First())
			return reportAction(c, outcome, err)
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Map a marketplace listing id to a property id",
		ArgsUsage: "LISTING_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: listing id")
			}
			listing, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid listing id %q: %w", c.Args().First(), err)
			}
			id, err := newClient(c).Resolve(c.Context, listing)
			if err != nil {
				return fmt.Errorf("failed to resolve listing: %w", err)
			}
			return render(c, map[string]interface{}{"listing_id": listing, "property_id": id}, func(w io.Writer) {
				fmt.Fprintln(w, id)
			})
		},
	}
}

func receiptsCommand() *cli.Command {
	return &cli.Command{
		Name:  "receipts",
		Usage: "List recorded actions through the server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "property", Aliases: []string{"p"}, Usage: "Filter by property id"},
			&cli.StringFlag{Name: "signer", Usage: "Filter by signer public key"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum number of receipts"},
			jqFlag,
		},
		Action: func(c *cli.Context) error {
			list, err := newClient(c).Receipts(c.Context, client.ReceiptFilter{
				PropertyID: c.String("property"),
				Signer:     c.String("signer"),
				Limit:      c.Int("limit"),
			})
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}
			return render(c, list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SUBMITTED\tACTION\tPROPERTY\tAMOUNT\tSTATUS\tSIGNATURE")
				for _, rc := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						rc.SubmittedAt.Format("2006-01-02 15:04:05"), rc.Action, rc.PropertyID,
						rc.Amount, rc.Status, formatOptional(rc.Signature))
				}
				tw.Flush()
				fmt.Fprintf(w, "\nTotal: %d receipts\n", len(list))
			})
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// reportAction prints an action outcome. Rejections print the server's
// reason and, for failed submissions, the transaction signature if any.
func reportAction(c *cli.Context, outcome *shares.ActionOutcome, err error) error {
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Outcome != nil && apiErr.Outcome.Signature != "" {
			return fmt.Errorf("%s failed (%s): %s [signature %s]", apiErr.Outcome.Action, apiErr.Kind, apiErr.Message, apiErr.Outcome.Signature)
		}
		if errors.As(err, &apiErr) && apiErr.Kind != "" {
			return fmt.Errorf("action rejected (%s): %s", apiErr.Kind, apiErr.Message)
		}
		return err
	}
	return render(c, outcome, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s confirmed\n", outcome.Action)
		fmt.Fprintf(w, "  Property:   %s\n", outcome.PropertyID)
		fmt.Fprintf(w, "  Amount:     %d\n", outcome.Amount)
		fmt.Fprintf(w, "  Signature:  %s\n", outcome.Signature)
		fmt.Fprintf(w, "  Duration:   %s\n", outcome.Duration)
		fmt.Fprintf(w, "  Generation: %d\n", outcome.Generation)
	})
}

// render writes v as JSON, through the --jq expression when set, or
// calls pretty for the human-readable form.
func render(c *cli.Context, v interface{}, pretty func(w io.Writer)) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		code, err := compileJQ(filter)
		if err != nil {
			return err
		}
		results, err := runJQ(code, v)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	if c.Bool("json") {
		return outputJSON(w, v)
	}
	pretty(w)
	return nil
}

func printViews(w io.Writer, views []shares.PropertyView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROPERTY\tSYMBOL\tSTATUS\tPRICE\tAVAILABLE\tYOURS\tPENDING")
	for _, v := range views {
		status := "not launched"
		if v.IsInitialized {
			status = "live"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			v.Config.PropertyID,
			v.Config.TokenSymbol,
			status,
			v.PricePerShareUI.StringFixed(2),
			v.AvailableShares,
			v.Config.TotalShares,
			v.UserShares,
			shares.PriceUI(v.PendingRewards).StringFixed(2),
		)
	}
	tw.Flush()
}

func printView(w io.Writer, v *shares.PropertyView) {
	fmt.Fprintf(w, "Property:       %s (%s)\n", v.Config.PropertyID, v.Config.TokenName)
	fmt.Fprintf(w, "Initialized:    %t\n", v.IsInitialized)
	fmt.Fprintf(w, "Price:          %s USDC\n", v.PricePerShareUI.StringFixed(2))
	fmt.Fprintf(w, "Available:      %d of %d\n", v.AvailableShares, v.Config.TotalShares)
	fmt.Fprintf(w, "Vault USDC:     %s\n", shares.PriceUI(v.VaultUSDCBalance).StringFixed(2))
	fmt.Fprintf(w, "Pool USDC:      %s\n", shares.PriceUI(v.PoolUSDCBalance).StringFixed(2))
	fmt.Fprintf(w, "Your shares:    %d\n", v.UserShares)
	fmt.Fprintf(w, "Your USDC:      %s\n", shares.PriceUI(v.UserUSDCBalance).StringFixed(2))
	fmt.Fprintf(w, "Pending:        %s USDC\n", shares.PriceUI(v.PendingRewards).StringFixed(2))
	fmt.Fprintf(w, "Authority:      %t\n", v.IsAuthority)
	fmt.Fprintf(w, "Property PDA:   %s\n", v.Addresses.Property)
	fmt.Fprintf(w, "Mint:           %s\n", v.Addresses.Mint)
}

// filterViews keeps the views for which every expression is truthy.
func filterViews(views []shares.PropertyView, exprs []string) ([]shares.PropertyView, error) {
	if len(exprs) == 0 {
		return views, nil
	}
	codes := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		code, err := compileJQ(expr)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}

	out := make([]shares.PropertyView, 0, len(views))
	for _, v := range views {
		keep := true
		for _, code := range codes {
			results, err := runJQ(code, v)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 || !isTruthy(results[0]) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, v)
		}
	}
	return out, nil
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ runs code over v's JSON form and collects every result.
func runJQ(code *gojq.Code, v interface{}) ([]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	var results []interface{}
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
