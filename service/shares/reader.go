package shares

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/homepass/service/catalog"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

// Reader materializes PropertyViews from on-chain state.
type Reader struct {
	chain     Chain
	programID solana.PublicKey
	logger    *slog.Logger
}

// NewReader creates a reader for the program at programID.
func NewReader(chain Chain, programID solana.PublicKey, logger *slog.Logger) *Reader {
	return &Reader{
		chain:     chain,
		programID: programID,
		logger:    logger,
	}
}

// Read builds one view per config, in config order, for owner (nil when no
// identity is connected). All reads of one pass run concurrently; any
// non-absence failure aborts the pass and no views are returned.
func (r *Reader) Read(ctx context.Context, configs []catalog.PropertyConfig, owner *solana.PublicKey) ([]PropertyView, error) {
	views := make([]PropertyView, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range configs {
		cfg := configs[i]
		g.Go(func() error {
			view, err := r.readProperty(gctx, cfg, owner)
			if err != nil {
				return fmt.Errorf("property %s: %w", cfg.PropertyID, err)
			}
			views[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func (r *Reader) readProperty(ctx context.Context, cfg catalog.PropertyConfig, owner *solana.PublicKey) (PropertyView, error) {
	addrs, err := solanapkg.DeriveCoreAddresses(r.programID, cfg.PropertyID)
	if err != nil {
		return PropertyView{}, err
	}
	atas, err := solanapkg.MakeATABundle(addrs.Mint, cfg.USDCMint, addrs.Vault, addrs.Pool)
	if err != nil {
		return PropertyView{}, err
	}

	view := PropertyView{
		Config:          cfg,
		PricePerShareUI: PriceUI(cfg.PricePerShare),
		Addresses:       addrs,
		ATAs:            atas,
	}

	data, err := r.chain.AccountData(ctx, addrs.Property)
	if errors.Is(err, solanapkg.ErrAccountNotFound) {
		r.logger.DebugContext(ctx, "property state", "property_id", cfg.PropertyID, "initialized", false)
		return view, nil
	}
	if err != nil {
		return PropertyView{}, err
	}
	property, err := solanapkg.DecodePropertyAccount(data)
	if err != nil {
		return PropertyView{}, err
	}

	view.IsInitialized = true
	authority := property.Authority
	view.Authority = &authority

	var (
		accPerShare  = new(big.Int)
		paidPerShare = new(big.Int)
	)

	g, gctx := errgroup.WithContext(ctx)
	balance := func(dst *uint64, account solana.PublicKey) {
		g.Go(func() error {
			amount, err := r.chain.TokenBalance(gctx, account)
			if err != nil {
				return err
			}
			*dst = amount
			return nil
		})
	}

	balance(&view.AvailableShares, atas.VaultSharesATA)
	balance(&view.VaultUSDCBalance, atas.VaultUSDCATA)
	balance(&view.PoolUSDCBalance, atas.PoolUSDCATA)

	g.Go(func() error {
		data, err := r.chain.AccountData(gctx, addrs.Pool)
		if errors.Is(err, solanapkg.ErrAccountNotFound) {
			r.logger.WarnContext(gctx, "pool account missing, treating accumulator as zero", "property_id", cfg.PropertyID)
			return nil
		}
		if err != nil {
			return err
		}
		pool, err := solanapkg.DecodePoolAccount(data)
		if err != nil {
			return err
		}
		accPerShare.Set(pool.AccPerShare.BigInt())
		return nil
	})

	if owner != nil {
		userShares, err := atas.UserSharesATA(*owner)
		if err != nil {
			return PropertyView{}, err
		}
		userUSDC, err := atas.UserUSDCATA(*owner)
		if err != nil {
			return PropertyView{}, err
		}
		view.UserSharesATA = &userShares
		view.UserUSDCATA = &userUSDC
		view.IsAuthority = owner.Equals(property.Authority)

		balance(&view.UserShares, userShares)
		balance(&view.UserUSDCBalance, userUSDC)

		g.Go(func() error {
			rewardAddr, err := solanapkg.DeriveUserRewardAddress(r.programID, addrs.Pool, *owner)
			if err != nil {
				return err
			}
			data, err := r.chain.AccountData(gctx, rewardAddr)
			if errors.Is(err, solanapkg.ErrAccountNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			reward, err := solanapkg.DecodeUserRewardAccount(data)
			if err != nil {
				return err
			}
			paidPerShare.Set(reward.PaidPerShare.BigInt())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return PropertyView{}, err
	}

	view.PendingRewards = PendingRewards(accPerShare, paidPerShare, view.UserShares)

	r.logger.DebugContext(ctx, "property state",
		"property_id", cfg.PropertyID,
		"initialized", true,
		"available_shares", view.AvailableShares,
		"user_shares", view.UserShares,
		"user_usdc", view.UserUSDCBalance,
		"vault_usdc", view.VaultUSDCBalance,
		"pool_usdc", view.PoolUSDCBalance,
		"pending", view.PendingRewards,
	)
	return view, nil
}
