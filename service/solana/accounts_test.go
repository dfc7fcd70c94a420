package solana

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscriminators(t *testing.T) {
	sum := sha256.Sum256([]byte("account:Property"))
	assert.Equal(t, sum[:8], PropertyAccountDiscriminator[:])

	sum = sha256.Sum256([]byte("global:buy_shares"))
	assert.Equal(t, sum[:8], BuySharesDiscriminator[:])
}

func TestDecodePropertyAccount(t *testing.T) {
	acc := &PropertyAccount{
		Authority:     solana.NewWallet().PublicKey(),
		PropertyID:    "villa-alpha",
		Mint:          solana.NewWallet().PublicKey(),
		USDCMint:      solana.NewWallet().PublicKey(),
		TotalShares:   1000,
		PricePerShare: 66_500_000,
		Bump:          253,
	}
	data, err := EncodePropertyAccount(acc)
	require.NoError(t, err)
	assert.Len(t, data, 8+32+4+len(acc.PropertyID)+32+32+8+8+1)

	got, err := DecodePropertyAccount(data)
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}

func TestDecodeAccount_Errors(t *testing.T) {
	pool, err := EncodePoolAccount(&PoolAccount{Property: solana.NewWallet().PublicKey()})
	require.NoError(t, err)

	_, err = DecodePropertyAccount(pool)
	assert.Error(t, err, "wrong discriminator")

	_, err = DecodePoolAccount(pool[:20])
	assert.Error(t, err, "truncated")

	_, err = DecodeUserRewardAccount([]byte{1, 2})
	assert.Error(t, err, "too short")
}

func TestUint128Accumulator(t *testing.T) {
	// Larger than 2^64 so both halves are used.
	acc := new(big.Int).Mul(big.NewInt(123_456_789), new(big.Int).SetUint64(AccScale*1_000_000))
	data, err := EncodePoolAccount(&PoolAccount{
		Property:    solana.NewWallet().PublicKey(),
		AccPerShare: Uint128FromBig(acc),
		Bump:        1,
	})
	require.NoError(t, err)
	assert.Len(t, data, 8+32+16+1)

	pool, err := DecodePoolAccount(data)
	require.NoError(t, err)
	assert.Equal(t, 0, acc.Cmp(pool.AccPerShare.BigInt()), pool.AccPerShare.BigInt().String())
}
