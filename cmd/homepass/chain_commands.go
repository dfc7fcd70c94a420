package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/shares"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

// devnetUSDCMint is the stable-coin mint the devnet catalog uses.
const devnetUSDCMint = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

type derivedAccounts struct {
	PropertyID string                     `json:"property_id"`
	ProgramID  solana.PublicKey           `json:"program_id"`
	Addresses  solanapkg.DerivedAddresses `json:"addresses"`
	ATAs       solanapkg.ATABundle        `json:"atas"`

	Owner         *solana.PublicKey `json:"owner,omitempty"`
	UserSharesATA *solana.PublicKey `json:"user_shares_ata,omitempty"`
	UserUSDCATA   *solana.PublicKey `json:"user_usdc_ata,omitempty"`
	UserReward    *solana.PublicKey `json:"user_reward,omitempty"`
}

func deriveAccounts(programID solana.PublicKey, propertyID string, usdcMint solana.PublicKey, owner *solana.PublicKey) (*derivedAccounts, error) {
	addrs, err := solanapkg.DeriveCoreAddresses(programID, propertyID)
	if err != nil {
		return nil, err
	}
	atas, err := solanapkg.MakeATABundle(addrs.Mint, usdcMint, addrs.Vault, addrs.Pool)
	if err != nil {
		return nil, err
	}
	out := &derivedAccounts{
		PropertyID: propertyID,
		ProgramID:  programID,
		Addresses:  addrs,
		ATAs:       atas,
	}
	if owner != nil {
		userShares, err := atas.UserSharesATA(*owner)
		if err != nil {
			return nil, err
		}
		userUSDC, err := atas.UserUSDCATA(*owner)
		if err != nil {
			return nil, err
		}
		reward, err := solanapkg.DeriveUserRewardAddress(programID, addrs.Pool, *owner)
		if err != nil {
			return nil, err
		}
		out.Owner = owner
		out.UserSharesATA = &userShares
		out.UserUSDCATA = &userUSDC
		out.UserReward = &reward
	}
	return out, nil
}

func deriveCommand() *cli.Command {
	return &cli.Command{
		Name:      "derive",
		Usage:     "Derive a property's program and token account addresses",
		ArgsUsage: "PROPERTY_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "usdc-mint",
				Usage: "Stable-coin mint address",
				Value: devnetUSDCMint,
			},
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Also derive this wallet's token and reward accounts",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: property id")
			}
			programID, err := solana.PublicKeyFromBase58(c.String("program-id"))
			if err != nil {
				return fmt.Errorf("invalid program id: %w", err)
			}
			usdcMint, err := solana.PublicKeyFromBase58(c.String("usdc-mint"))
			if err != nil {
				return fmt.Errorf("invalid usdc mint: %w", err)
			}
			owner, err := optionalKey(c.String("owner"))
			if err != nil {
				return fmt.Errorf("invalid owner: %w", err)
			}

			d, err := deriveAccounts(programID, c.Args().First(), usdcMint, owner)
			if err != nil {
				return err
			}

			return render(c, d, func(w io.Writer) {
				fmt.Fprintf(w, "Property:          %s\n", d.Addresses.Property)
				fmt.Fprintf(w, "Vault:             %s\n", d.Addresses.Vault)
				fmt.Fprintf(w, "Pool:              %s\n", d.Addresses.Pool)
				fmt.Fprintf(w, "Share mint:        %s\n", d.Addresses.Mint)
				fmt.Fprintf(w, "Vault shares ATA:  %s\n", d.ATAs.VaultSharesATA)
				fmt.Fprintf(w, "Vault USDC ATA:    %s\n", d.ATAs.VaultUSDCATA)
				fmt.Fprintf(w, "Pool USDC ATA:     %s\n", d.ATAs.PoolUSDCATA)
				if d.Owner != nil {
					fmt.Fprintf(w, "User shares ATA:   %s\n", d.UserSharesATA)
					fmt.Fprintf(w, "User USDC ATA:     %s\n", d.UserUSDCATA)
					fmt.Fprintf(w, "User reward:       %s\n", d.UserReward)
				}
			})
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Fetch the catalog and read every property from the chain",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Wallet whose balances and rewards to include",
			},
			&cli.Float64Flag{
				Name:  "rps",
				Usage: "RPC requests per second",
				Value: 5,
			},
			whereFlag,
			jqFlag,
		},
		Action: func(c *cli.Context) error {
			catalogURL := c.String("catalog-url")
			if catalogURL == "" {
				return fmt.Errorf("catalog-url is required (set CATALOG_URL env var or use --catalog-url)")
			}
			programID, err := solana.PublicKeyFromBase58(c.String("program-id"))
			if err != nil {
				return fmt.Errorf("invalid program id: %w", err)
			}
			owner, err := optionalKey(c.String("owner"))
			if err != nil {
				return fmt.Errorf("invalid owner: %w", err)
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			configs, err := catalog.NewFetcher(catalogURL, nil, logger).Fetch(c.Context)
			if err != nil {
				return fmt.Errorf("failed to fetch catalog: %w", err)
			}

			rpcURL := c.String("rpc-url")
			chain := solanapkg.NewClient(solanapkg.NewRPCClient(rpcURL, c.Float64("rps")), solanapkg.EndpointLabel(rpcURL), nil, logger)
			views, err := shares.NewReader(chain, programID, logger).Read(c.Context, configs, owner)
			if err != nil {
				return fmt.Errorf("failed to read chain state: %w", err)
			}

			views, err = filterViews(views, c.StringSlice("where"))
			if err != nil {
				return err
			}
			return render(c, views, func(w io.Writer) {
				printViews(w, views)
			})
		},
	}
}

func fetchCatalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Fetch and validate the property catalog",
		Flags: []cli.Flag{jqFlag},
		Action: func(c *cli.Context) error {
			catalogURL := c.String("catalog-url")
			if catalogURL == "" {
				return fmt.Errorf("catalog-url is required (set CATALOG_URL env var or use --catalog-url)")
			}
			configs, err := catalog.NewFetcher(catalogURL, nil, nil).Fetch(c.Context)
			if err != nil {
				return fmt.Errorf("failed to fetch catalog: %w", err)
			}
			return render(c, configs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "PROPERTY\tNAME\tSYMBOL\tSHARES\tPRICE (USDC)\tUSDC MINT")
				for _, cfg := range configs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						cfg.PropertyID, cfg.TokenName, cfg.TokenSymbol, cfg.TotalShares,
						shares.PriceUI(cfg.PricePerShare).StringFixed(2), cfg.USDCMint)
				}
				tw.Flush()
				fmt.Fprintf(w, "\nTotal: %d properties\n", len(configs))
			})
		},
	}
}

func parsePriceCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse-price",
		Usage:     "Convert a display price such as \"$66.50\" to micro-USDC",
		ArgsUsage: "PRICE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: price")
			}
			micro, err := catalog.ParsePricePerShare(c.Args().First())
			if err != nil {
				return err
			}
			return render(c, map[string]interface{}{"input": c.Args().First(), "micro": micro}, func(w io.Writer) {
				fmt.Fprintln(w, micro)
			})
		},
	}
}

func optionalKey(s string) (*solana.PublicKey, error) {
	if s == "" {
		return nil, nil
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return nil, err
	}
	return &pk, nil
}
