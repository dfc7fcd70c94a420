package solana

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
)

// Instruction discriminators of the property_shares program.
var (
	BuySharesDiscriminator    = anchorDiscriminator("global", "buy_shares")
	DepositYieldDiscriminator = anchorDiscriminator("global", "deposit_yield")
	ClaimDiscriminator        = anchorDiscriminator("global", "claim")
)

// BuySharesAccounts lists the accounts buy_shares requires.
type BuySharesAccounts struct {
	Property       solana.PublicKey
	Vault          solana.PublicKey
	Mint           solana.PublicKey
	USDCMint       solana.PublicKey
	VaultSharesATA solana.PublicKey
	VaultUSDCATA   solana.PublicKey
	User           solana.PublicKey
	UserUSDCATA    solana.PublicKey
	UserSharesATA  solana.PublicKey
}

// NewBuySharesInstruction builds buy_shares(amount).
func NewBuySharesInstruction(programID solana.PublicKey, accounts BuySharesAccounts, amount uint64) (solana.Instruction, error) {
	data, err := instructionData(BuySharesDiscriminator, amount)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Property).WRITE(),
		solana.Meta(accounts.Vault),
		solana.Meta(accounts.Mint).WRITE(),
		solana.Meta(accounts.USDCMint),
		solana.Meta(accounts.VaultSharesATA).WRITE(),
		solana.Meta(accounts.VaultUSDCATA).WRITE(),
		solana.Meta(accounts.User).WRITE().SIGNER(),
		solana.Meta(accounts.UserUSDCATA).WRITE(),
		solana.Meta(accounts.UserSharesATA).WRITE(),
		solana.Meta(TokenProgramID),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// DepositYieldAccounts lists the accounts deposit_yield requires.
type DepositYieldAccounts struct {
	Authority        solana.PublicKey
	Property         solana.PublicKey
	Pool             solana.PublicKey
	Mint             solana.PublicKey
	USDCMint         solana.PublicKey
	AuthorityUSDCATA solana.PublicKey
	PoolUSDCATA      solana.PublicKey
}

// NewDepositYieldInstruction builds deposit_yield(amount).
func NewDepositYieldInstruction(programID solana.PublicKey, accounts DepositYieldAccounts, amount uint64) (solana.Instruction, error) {
	data, err := instructionData(DepositYieldDiscriminator, amount)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Authority).WRITE().SIGNER(),
		solana.Meta(accounts.Property),
		solana.Meta(accounts.Pool).WRITE(),
		solana.Meta(accounts.Mint),
		solana.Meta(accounts.USDCMint),
		solana.Meta(accounts.AuthorityUSDCATA).WRITE(),
		solana.Meta(accounts.PoolUSDCATA).WRITE(),
		solana.Meta(TokenProgramID),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// ClaimAccounts lists the accounts claim requires.
type ClaimAccounts struct {
	User          solana.PublicKey
	Property      solana.PublicKey
	Pool          solana.PublicKey
	UserReward    solana.PublicKey
	UserSharesATA solana.PublicKey
	UserUSDCATA   solana.PublicKey
	PoolUSDCATA   solana.PublicKey
	Mint          solana.PublicKey
	USDCMint      solana.PublicKey
}

// NewClaimInstruction builds claim().
func NewClaimInstruction(programID solana.PublicKey, accounts ClaimAccounts) solana.Instruction {
	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.User).WRITE().SIGNER(),
		solana.Meta(accounts.Property),
		solana.Meta(accounts.Pool),
		solana.Meta(accounts.UserReward).WRITE(),
		solana.Meta(accounts.UserSharesATA),
		solana.Meta(accounts.UserUSDCATA).WRITE(),
		solana.Meta(accounts.PoolUSDCATA).WRITE(),
		solana.Meta(accounts.Mint),
		solana.Meta(accounts.USDCMint),
		solana.Meta(TokenProgramID),
		solana.Meta(SystemProgramID),
	}
	return solana.NewInstruction(programID, metas, ClaimDiscriminator[:])
}

// NewCreateATAInstruction builds an associated token account creation for owner and mint, paid by payer.
func NewCreateATAInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ix, err := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build create ATA instruction: %w", err)
	}
	return ix, nil
}

// DecodeAmountArgument reads the u64 argument of buy_shares or deposit_yield.
func DecodeAmountArgument(data []byte) (Discriminator, uint64, error) {
	var d Discriminator
	if len(data) < len(d) {
		return d, 0, fmt.Errorf("instruction data too short: %d bytes", len(data))
	}
	copy(d[:], data[:8])
	if len(data) == 8 {
		return d, 0, nil
	}
	var amount uint64
	if err := bin.NewBorshDecoder(data[8:]).Decode(&amount); err != nil {
		return d, 0, fmt.Errorf("failed to decode amount: %w", err)
	}
	return d, amount, nil
}

func instructionData(d Discriminator, amount uint64) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(d[:])
	if err := bin.NewBorshEncoder(buf).Encode(amount); err != nil {
		return nil, fmt.Errorf("failed to encode amount: %w", err)
	}
	return buf.Bytes(), nil
}
