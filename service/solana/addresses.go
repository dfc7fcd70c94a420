package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxSeedLength is the longest single seed accepted by program address derivation.
const MaxSeedLength = solana.MaxSeedLength

// DerivedAddresses are the program-derived accounts that describe one property.
type DerivedAddresses struct {
	Property solana.PublicKey `json:"property"`
	Vault    solana.PublicKey `json:"vault"`
	Pool     solana.PublicKey `json:"pool"`
	Mint     solana.PublicKey `json:"mint"`
}

// DeriveCoreAddresses derives the property record from its id, then keys the
// vault, pool and share mint off the property address.
func DeriveCoreAddresses(programID solana.PublicKey, propertyID string) (DerivedAddresses, error) {
	if propertyID == "" {
		return DerivedAddresses{}, fmt.Errorf("property id is required")
	}
	if len(propertyID) > MaxSeedLength {
		return DerivedAddresses{}, fmt.Errorf("property id %q exceeds %d bytes", propertyID, MaxSeedLength)
	}

	property, _, err := solana.FindProgramAddress([][]byte{[]byte(PropertySeed), []byte(propertyID)}, programID)
	if err != nil {
		return DerivedAddresses{}, fmt.Errorf("failed to derive property address: %w", err)
	}
	vault, _, err := solana.FindProgramAddress([][]byte{[]byte(VaultSeed), property.Bytes()}, programID)
	if err != nil {
		return DerivedAddresses{}, fmt.Errorf("failed to derive vault address: %w", err)
	}
	pool, _, err := solana.FindProgramAddress([][]byte{[]byte(PoolSeed), property.Bytes()}, programID)
	if err != nil {
		return DerivedAddresses{}, fmt.Errorf("failed to derive pool address: %w", err)
	}
	mint, _, err := solana.FindProgramAddress([][]byte{[]byte(MintSeed), property.Bytes()}, programID)
	if err != nil {
		return DerivedAddresses{}, fmt.Errorf("failed to derive mint address: %w", err)
	}

	return DerivedAddresses{
		Property: property,
		Vault:    vault,
		Pool:     pool,
		Mint:     mint,
	}, nil
}

// DeriveUserRewardAddress returns the reward checkpoint account for one (pool, user) pair.
func DeriveUserRewardAddress(programID, pool, user solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(UserRewardSeed), pool.Bytes(), user.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive user reward address: %w", err)
	}
	return addr, nil
}

// AssociatedTokenAddress returns the associated token account of owner for mint.
// Program-derived owners are allowed.
func AssociatedTokenAddress(mint, owner solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account of %s for mint %s: %w", owner, mint, err)
	}
	return ata, nil
}

// ATABundle holds the token accounts the program touches for a property,
// plus helpers for any user's share and stable-coin accounts.
type ATABundle struct {
	ShareMint      solana.PublicKey `json:"-"`
	USDCMint       solana.PublicKey `json:"-"`
	VaultSharesATA solana.PublicKey `json:"vault_shares_ata"`
	VaultUSDCATA   solana.PublicKey `json:"vault_usdc_ata"`
	PoolUSDCATA    solana.PublicKey `json:"pool_usdc_ata"`
}

// MakeATABundle computes the vault and pool token accounts for both mints.
func MakeATABundle(mint, usdcMint, vault, pool solana.PublicKey) (ATABundle, error) {
	b := ATABundle{ShareMint: mint, USDCMint: usdcMint}
	for _, a := range []struct {
		dst         *solana.PublicKey
		mint, owner solana.PublicKey
	}{
		{&b.VaultSharesATA, mint, vault},
		{&b.VaultUSDCATA, usdcMint, vault},
		{&b.PoolUSDCATA, usdcMint, pool},
	} {
		addr, err := AssociatedTokenAddress(a.mint, a.owner)
		if err != nil {
			return ATABundle{}, err
		}
		*a.dst = addr
	}
	return b, nil
}

// UserSharesATA returns owner's share token account.
func (b ATABundle) UserSharesATA(owner solana.PublicKey) (solana.PublicKey, error) {
	return AssociatedTokenAddress(b.ShareMint, owner)
}

// UserUSDCATA returns owner's stable-coin token account.
func (b ATABundle) UserUSDCATA(owner solana.PublicKey) (solana.PublicKey, error) {
	return AssociatedTokenAddress(b.USDCMint, owner)
}
