package shares

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/homepass/service/catalog"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

var testProgramID = solanapkg.ProgramID

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChain is an in-memory ledger. It applies create-ATA, buy_shares and
// deposit_yield instructions so refreshes after a submission see the effect.
type fakeChain struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	balances map[solana.PublicKey]uint64
	failOn   map[solana.PublicKey]error
	delays   map[solana.PublicKey]time.Duration
	sendErr  error
	sent     [][]solana.Instruction
	calls    int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		accounts: make(map[solana.PublicKey][]byte),
		balances: make(map[solana.PublicKey]uint64),
		failOn:   make(map[solana.PublicKey]error),
		delays:   make(map[solana.PublicKey]time.Duration),
	}
}

func (f *fakeChain) wait(ctx context.Context, account solana.PublicKey) error {
	f.mu.Lock()
	f.calls++
	d := f.delays[account]
	err := f.failOn[account]
	f.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeChain) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	if err := f.wait(ctx, account); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[account]
	if !ok {
		return nil, solanapkg.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeChain) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	if err := f.wait(ctx, account); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[account]
	return ok, nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := f.wait(ctx, account); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account], nil
}

func (f *fakeChain) SendAndConfirm(ctx context.Context, signer solanapkg.Signer, instructions ...solana.Instruction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent = append(f.sent, instructions)
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	for _, ix := range instructions {
		if err := f.apply(ix); err != nil {
			return solana.Signature{}, err
		}
	}
	return solana.Signature{byte(len(f.sent))}, nil
}

func (f *fakeChain) apply(ix solana.Instruction) error {
	metas := ix.Accounts()
	switch {
	case ix.ProgramID().Equals(solanapkg.AssociatedTokenProgramID):
		f.accounts[metas[1].PublicKey] = []byte{}
		return nil
	case !ix.ProgramID().Equals(testProgramID):
		return nil
	}

	data, err := ix.Data()
	if err != nil {
		return err
	}
	d, amount, err := solanapkg.DecodeAmountArgument(data)
	if err != nil {
		return err
	}
	switch d {
	case solanapkg.BuySharesDiscriminator:
		property, err := solanapkg.DecodePropertyAccount(f.accounts[metas[0].PublicKey])
		if err != nil {
			return err
		}
		cost := amount * property.PricePerShare
		f.balances[metas[4].PublicKey] -= amount
		f.balances[metas[8].PublicKey] += amount
		f.balances[metas[7].PublicKey] -= cost
		f.balances[metas[5].PublicKey] += cost
	case solanapkg.DepositYieldDiscriminator:
		f.balances[metas[5].PublicKey] -= amount
		f.balances[metas[6].PublicKey] += amount
	}
	return nil
}

// mustATA unwraps a token account derivation, which cannot fail for 32-byte keys.
func mustATA(addr solana.PublicKey, err error) solana.PublicKey {
	if err != nil {
		panic(err)
	}
	return addr
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChain) sentTransactions() [][]solana.Instruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]solana.Instruction, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChain) setBalance(account solana.PublicKey, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] = amount
	f.accounts[account] = []byte{}
}

// fixture is one property seeded into a fakeChain.
type fixture struct {
	cfg       catalog.PropertyConfig
	addrs     solanapkg.DerivedAddresses
	atas      solanapkg.ATABundle
	authority solana.PublicKey
}

func testConfig(id string) catalog.PropertyConfig {
	return catalog.PropertyConfig{
		PropertyID:    id,
		TotalShares:   1000,
		MetadataURI:   "https://example.com/" + id + ".json",
		TokenName:     "Token " + id,
		TokenSymbol:   "T" + id,
		PricePerShare: 66_500_000,
		USDCMint:      solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
	}
}

// seedProperty initializes cfg on the chain with its whole supply in the vault.
func seedProperty(t *testing.T, chain *fakeChain, cfg catalog.PropertyConfig, authority solana.PublicKey) fixture {
	t.Helper()
	addrs, err := solanapkg.DeriveCoreAddresses(testProgramID, cfg.PropertyID)
	require.NoError(t, err)
	atas, err := solanapkg.MakeATABundle(addrs.Mint, cfg.USDCMint, addrs.Vault, addrs.Pool)
	require.NoError(t, err)

	property, err := solanapkg.EncodePropertyAccount(&solanapkg.PropertyAccount{
		Authority:     authority,
		PropertyID:    cfg.PropertyID,
		Mint:          addrs.Mint,
		USDCMint:      cfg.USDCMint,
		TotalShares:   cfg.TotalShares,
		PricePerShare: cfg.PricePerShare,
		Bump:          255,
	})
	require.NoError(t, err)
	pool, err := solanapkg.EncodePoolAccount(&solanapkg.PoolAccount{
		Property:    addrs.Property,
		AccPerShare: solanapkg.Uint128FromBig(big.NewInt(0)),
		Bump:        254,
	})
	require.NoError(t, err)

	chain.mu.Lock()
	chain.accounts[addrs.Property] = property
	chain.accounts[addrs.Pool] = pool
	chain.mu.Unlock()
	chain.setBalance(atas.VaultSharesATA, cfg.TotalShares)
	chain.setBalance(atas.VaultUSDCATA, 0)
	chain.setBalance(atas.PoolUSDCATA, 0)

	return fixture{cfg: cfg, addrs: addrs, atas: atas, authority: authority}
}

func (fx fixture) setAccumulator(t *testing.T, chain *fakeChain, acc *big.Int) {
	t.Helper()
	data, err := solanapkg.EncodePoolAccount(&solanapkg.PoolAccount{
		Property:    fx.addrs.Property,
		AccPerShare: solanapkg.Uint128FromBig(acc),
	})
	require.NoError(t, err)
	chain.mu.Lock()
	chain.accounts[fx.addrs.Pool] = data
	chain.mu.Unlock()
}

func (fx fixture) setCheckpoint(t *testing.T, chain *fakeChain, user solana.PublicKey, paid *big.Int) {
	t.Helper()
	addr, err := solanapkg.DeriveUserRewardAddress(testProgramID, fx.addrs.Pool, user)
	require.NoError(t, err)
	data, err := solanapkg.EncodeUserRewardAccount(&solanapkg.UserRewardAccount{
		Pool:         fx.addrs.Pool,
		User:         user,
		PaidPerShare: solanapkg.Uint128FromBig(paid),
	})
	require.NoError(t, err)
	chain.mu.Lock()
	chain.accounts[addr] = data
	chain.mu.Unlock()
}

func newTestSigner() *solanapkg.KeypairSigner {
	return solanapkg.NewKeypairSigner(solana.NewWallet().PrivateKey)
}

func scaled(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).SetUint64(solanapkg.AccScale))
}
