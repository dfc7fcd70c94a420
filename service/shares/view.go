package shares

import (
	"context"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/homepass/service/catalog"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

// Chain is the ledger access the reader and executor need.
// *solanapkg.Client satisfies it.
type Chain interface {
	// AccountData returns solanapkg.ErrAccountNotFound for accounts that do not exist.
	AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	// TokenBalance returns zero for token accounts that do not exist.
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	SendAndConfirm(ctx context.Context, signer solanapkg.Signer, instructions ...solana.Instruction) (solana.Signature, error)
}

// PropertyView is one property's state as of a single refresh pass.
// Views are never mutated after they are published.
type PropertyView struct {
	Config           catalog.PropertyConfig     `json:"config"`
	IsInitialized    bool                       `json:"is_initialized"`
	PricePerShareUI  decimal.Decimal            `json:"price_per_share_ui"`
	AvailableShares  uint64                     `json:"available_shares"`
	UserShares       uint64                     `json:"user_shares"`
	UserUSDCBalance  uint64                     `json:"user_usdc_balance"`
	VaultUSDCBalance uint64                     `json:"vault_usdc_balance"`
	PoolUSDCBalance  uint64                     `json:"pool_usdc_balance"`
	PendingRewards   uint64                     `json:"pending_rewards"`
	IsAuthority      bool                       `json:"is_authority"`
	Authority        *solana.PublicKey          `json:"authority,omitempty"`
	Addresses        solanapkg.DerivedAddresses `json:"addresses"`
	ATAs             solanapkg.ATABundle        `json:"atas"`
	UserSharesATA    *solana.PublicKey          `json:"user_shares_ata,omitempty"`
	UserUSDCATA      *solana.PublicKey          `json:"user_usdc_ata,omitempty"`
}

// Snapshot is the published set of views plus the state of the latest refresh attempt.
type Snapshot struct {
	Generation  uint64            `json:"generation"`
	Owner       *solana.PublicKey `json:"owner,omitempty"`
	Views       []PropertyView    `json:"properties"`
	RefreshedAt time.Time         `json:"refreshed_at"`
	Loading     bool              `json:"loading"`
	Error       string            `json:"error,omitempty"`
}

// Find returns the view for propertyID.
func (s Snapshot) Find(propertyID string) (PropertyView, bool) {
	for _, v := range s.Views {
		if v.Config.PropertyID == propertyID {
			return v, true
		}
	}
	return PropertyView{}, false
}

// OwnedBy reports whether the snapshot's user fields were read for owner.
func (s Snapshot) OwnedBy(owner solana.PublicKey) bool {
	return s.Generation > 0 && s.Owner != nil && s.Owner.Equals(owner)
}

var accScale = new(big.Int).SetUint64(solanapkg.AccScale)

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// PendingRewards computes max(0, acc - paid) * shares / AccScale in integer
// arithmetic, matching the program's own fixed-point math.
func PendingRewards(accPerShare, paidPerShare *big.Int, shares uint64) uint64 {
	if shares == 0 || accPerShare.Cmp(paidPerShare) <= 0 {
		return 0
	}
	delta := new(big.Int).Sub(accPerShare, paidPerShare)
	delta.Mul(delta, new(big.Int).SetUint64(shares))
	delta.Quo(delta, accScale)
	if delta.Cmp(maxUint64) > 0 {
		return ^uint64(0)
	}
	return delta.Uint64()
}

// PriceUI converts a micro-unit price into display units.
func PriceUI(micro uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(micro), -solanapkg.USDCDecimals)
}

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
