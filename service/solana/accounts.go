package solana

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Discriminator is the 8-byte prefix anchor writes in front of accounts and instruction data.
type Discriminator [8]byte

func anchorDiscriminator(namespace, name string) Discriminator {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

// Account discriminators of the property_shares program.
var (
	PropertyAccountDiscriminator   = anchorDiscriminator("account", "Property")
	PoolAccountDiscriminator       = anchorDiscriminator("account", "Pool")
	UserRewardAccountDiscriminator = anchorDiscriminator("account", "UserReward")
)

// PropertyAccount is the on-chain property record.
// Layout: 8 (discriminator) + 32 + (4 + len) + 32 + 32 + 8 + 8 + 1.
type PropertyAccount struct {
	Authority     solana.PublicKey
	PropertyID    string
	Mint          solana.PublicKey
	USDCMint      solana.PublicKey
	TotalShares   uint64
	PricePerShare uint64
	Bump          uint8
}

// PoolAccount tracks the global reward accumulator for one property.
// Layout: 8 (discriminator) + 32 + 16 + 1.
type PoolAccount struct {
	Property    solana.PublicKey
	AccPerShare bin.Uint128
	Bump        uint8
}

// UserRewardAccount is the per-user checkpoint of acc_per_share at the last claim.
// Layout: 8 (discriminator) + 32 + 32 + 16 + 1.
type UserRewardAccount struct {
	Pool         solana.PublicKey
	User         solana.PublicKey
	PaidPerShare bin.Uint128
	Bump         uint8
}

// DecodePropertyAccount decodes raw property account data.
func DecodePropertyAccount(data []byte) (*PropertyAccount, error) {
	var acc PropertyAccount
	if err := decodeAnchorAccount(data, PropertyAccountDiscriminator, "Property", &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// DecodePoolAccount decodes raw pool account data.
func DecodePoolAccount(data []byte) (*PoolAccount, error) {
	var acc PoolAccount
	if err := decodeAnchorAccount(data, PoolAccountDiscriminator, "Pool", &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// DecodeUserRewardAccount decodes raw user reward account data.
func DecodeUserRewardAccount(data []byte) (*UserRewardAccount, error) {
	var acc UserRewardAccount
	if err := decodeAnchorAccount(data, UserRewardAccountDiscriminator, "UserReward", &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func decodeAnchorAccount(data []byte, want Discriminator, name string, v interface{}) error {
	if len(data) < len(want) {
		return fmt.Errorf("%s account data too short: %d bytes", name, len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return fmt.Errorf("%s account discriminator mismatch", name)
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s account: %w", name, err)
	}
	return nil
}

// EncodePropertyAccount serializes a property record the way the program stores it.
func EncodePropertyAccount(acc *PropertyAccount) ([]byte, error) {
	return encodeAnchorAccount(PropertyAccountDiscriminator, acc)
}

// EncodePoolAccount serializes a pool record.
func EncodePoolAccount(acc *PoolAccount) ([]byte, error) {
	return encodeAnchorAccount(PoolAccountDiscriminator, acc)
}

// EncodeUserRewardAccount serializes a user reward checkpoint.
func EncodeUserRewardAccount(acc *UserRewardAccount) ([]byte, error) {
	return encodeAnchorAccount(UserRewardAccountDiscriminator, acc)
}

func encodeAnchorAccount(d Discriminator, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(d[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Uint128FromBig converts a non-negative integer below 2^128 into the wire type.
func Uint128FromBig(v *big.Int) bin.Uint128 {
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(v, mask).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return bin.Uint128{Lo: lo, Hi: hi, Endianness: bin.LE}
}
