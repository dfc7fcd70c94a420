package solana

import (
	"github.com/gagliardetto/solana-go"
)

// DevnetEndpoint is the public devnet RPC the property program is deployed to.
const DevnetEndpoint = "https://api.devnet.solana.com"

// ProgramID is the address of the deployed property_shares program.
var ProgramID = solana.MustPublicKeyFromBase58("Bvq9mwXmV95Mz848zK8FZ11JiKfLjGc7savK5u657H9Z")

// Well-known Solana program IDs
var (
	// SystemProgramID is the native system program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// AssociatedTokenProgramID derives and creates associated token accounts
	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID
)

// PDA seed tags. Changing any of these changes every derived address and
// breaks compatibility with state that is already on-chain.
const (
	PropertySeed   = "property"
	VaultSeed      = "vault"
	PoolSeed       = "pool"
	MintSeed       = "property_mint"
	UserRewardSeed = "user_reward"
)

const (
	// AccScale is the fixed-point scale of the pool's acc_per_share accumulator.
	AccScale uint64 = 1_000_000_000_000

	// USDCDecimals is the decimal count of the stable-coin mint.
	USDCDecimals = 6

	// USDCFactor converts micro units to whole stable-coin units.
	USDCFactor uint64 = 1_000_000
)
