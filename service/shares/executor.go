package shares

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/brojonat/homepass/service/metrics"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

// Action names used in outcomes, metrics and events.
const (
	ActionBuyShares    = "buy_shares"
	ActionDepositYield = "deposit_yield"
	ActionClaim        = "claim"
)

const defaultSubmissionReason = "Transaction failed"

// ActionOutcome describes one action that reached the ledger.
type ActionOutcome struct {
	ID          uuid.UUID     `json:"id"`
	Action      string        `json:"action"`
	PropertyID  string        `json:"property_id"`
	Signer      string        `json:"signer"`
	Amount      uint64        `json:"amount"`
	Signature   string        `json:"signature,omitempty"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Duration    time.Duration `json:"duration"`
	// Generation is the snapshot generation published by the refresh that
	// followed the action, or 0 if that refresh failed.
	Generation uint64 `json:"generation"`
}

// Succeeded reports whether the ledger confirmed the action.
func (o ActionOutcome) Succeeded() bool {
	return o.Status == "success"
}

// ActionNotifier is told about every action that reached the ledger.
type ActionNotifier interface {
	ActionCompleted(ctx context.Context, outcome ActionOutcome) error
}

// ReceiptRecorder persists action outcomes.
type ReceiptRecorder interface {
	RecordAction(ctx context.Context, outcome ActionOutcome) error
}

// Executor validates and submits share actions against the tracker's
// latest snapshot. Actions on the same property run one at a time.
type Executor struct {
	chain     Chain
	tracker   *Tracker
	programID solana.PublicKey
	metrics   *metrics.Metrics
	notifier  ActionNotifier
	receipts  ReceiptRecorder
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor creates an executor. m may be nil.
func NewExecutor(chain Chain, tracker *Tracker, programID solana.PublicKey, m *metrics.Metrics, logger *slog.Logger) *Executor {
	return &Executor{
		chain:     chain,
		tracker:   tracker,
		programID: programID,
		metrics:   m,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// WithNotifier sets the action notifier.
func (e *Executor) WithNotifier(n ActionNotifier) *Executor {
	e.notifier = n
	return e
}

// WithReceipts sets the receipt recorder.
func (e *Executor) WithReceipts(r ReceiptRecorder) *Executor {
	e.receipts = r
	return e
}

func (e *Executor) lock(propertyID string) func() {
	e.mu.Lock()
	l, ok := e.locks[propertyID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[propertyID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// BuyShares buys shares from the property's vault, creating the signer's
// token accounts in the same transaction when they do not exist yet.
func (e *Executor) BuyShares(ctx context.Context, signer solanapkg.Signer, propertyID string, shares int64) (*ActionOutcome, error) {
	const action = ActionBuyShares
	if err := requireSigner(action, propertyID, signer); err != nil {
		return nil, err
	}
	if shares <= 0 {
		return nil, newActionError(action, propertyID, KindInvalidAmount, "share amount must be greater than zero", nil)
	}
	defer e.lock(propertyID)()

	view, err := e.prepare(ctx, action, signer, propertyID)
	if err != nil {
		return nil, err
	}
	amount := uint64(shares)
	if amount > view.AvailableShares {
		return nil, newActionError(action, propertyID, KindInsufficientState,
			fmt.Sprintf("only %d shares available, requested %d", view.AvailableShares, amount), nil)
	}
	hi, cost := bits.Mul64(amount, view.Config.PricePerShare)
	if hi != 0 {
		return nil, newActionError(action, propertyID, KindInvalidAmount, "purchase cost is too large", nil)
	}
	if cost > view.UserUSDCBalance {
		return nil, newActionError(action, propertyID, KindInsufficientState,
			fmt.Sprintf("insufficient USDC balance: need %s, have %s", PriceUI(cost), PriceUI(view.UserUSDCBalance)), nil)
	}

	user := signer.PublicKey()
	userShares, userUSDC, err := userTokenAccounts(action, view, user)
	if err != nil {
		return nil, err
	}

	return e.submit(ctx, action, signer, view, amount, func(ctx context.Context) ([]solana.Instruction, error) {
		var ixs []solana.Instruction
		for _, ata := range []struct {
			address solana.PublicKey
			mint    solana.PublicKey
		}{
			{userUSDC, view.ATAs.USDCMint},
			{userShares, view.ATAs.ShareMint},
		} {
			exists, err := e.chain.AccountExists(ctx, ata.address)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
			e.logger.InfoContext(ctx, "creating token account with purchase",
				"property_id", propertyID, "account", ata.address, "mint", ata.mint)
			ix, err := solanapkg.NewCreateATAInstruction(user, user, ata.mint)
			if err != nil {
				return nil, err
			}
			ixs = append(ixs, ix)
		}

		buy, err := solanapkg.NewBuySharesInstruction(e.programID, solanapkg.BuySharesAccounts{
			Property:       view.Addresses.Property,
			Vault:          view.Addresses.Vault,
			Mint:           view.Addresses.Mint,
			USDCMint:       view.ATAs.USDCMint,
			VaultSharesATA: view.ATAs.VaultSharesATA,
			VaultUSDCATA:   view.ATAs.VaultUSDCATA,
			User:           user,
			UserUSDCATA:    userUSDC,
			UserSharesATA:  userShares,
		}, amount)
		if err != nil {
			return nil, err
		}
		return append(ixs, buy), nil
	})
}

// DepositYield moves amount micro-USDC from the authority into the
// property's reward pool. The authority's USDC account is created first,
// in its own transaction, if missing.
func (e *Executor) DepositYield(ctx context.Context, signer solanapkg.Signer, propertyID string, amount int64) (*ActionOutcome, error) {
	const action = ActionDepositYield
	if err := requireSigner(action, propertyID, signer); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, newActionError(action, propertyID, KindInvalidAmount, "deposit amount must be greater than zero", nil)
	}
	defer e.lock(propertyID)()

	view, err := e.prepare(ctx, action, signer, propertyID)
	if err != nil {
		return nil, err
	}
	if !view.IsAuthority {
		return nil, newActionError(action, propertyID, KindUnauthorized, "only the property authority can deposit yield", nil)
	}

	authority := signer.PublicKey()
	_, authorityUSDC, err := userTokenAccounts(action, view, authority)
	if err != nil {
		return nil, err
	}

	return e.submit(ctx, action, signer, view, uint64(amount), func(ctx context.Context) ([]solana.Instruction, error) {
		if err := e.ensureTokenAccount(ctx, signer, propertyID, authorityUSDC, view.ATAs.USDCMint); err != nil {
			return nil, err
		}
		ix, err := solanapkg.NewDepositYieldInstruction(e.programID, solanapkg.DepositYieldAccounts{
			Authority:        authority,
			Property:         view.Addresses.Property,
			Pool:             view.Addresses.Pool,
			Mint:             view.Addresses.Mint,
			USDCMint:         view.ATAs.USDCMint,
			AuthorityUSDCATA: authorityUSDC,
			PoolUSDCATA:      view.ATAs.PoolUSDCATA,
		}, uint64(amount))
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil
	})
}

// Claim collects the signer's pending rewards. The signer's share and USDC
// token accounts are created first, one transaction each, if missing.
func (e *Executor) Claim(ctx context.Context, signer solanapkg.Signer, propertyID string) (*ActionOutcome, error) {
	const action = ActionClaim
	if err := requireSigner(action, propertyID, signer); err != nil {
		return nil, err
	}
	defer e.lock(propertyID)()

	view, err := e.prepare(ctx, action, signer, propertyID)
	if err != nil {
		return nil, err
	}
	if view.UserShares == 0 {
		return nil, newActionError(action, propertyID, KindInsufficientState, "nothing to claim", nil)
	}

	user := signer.PublicKey()
	userShares, userUSDC, err := userTokenAccounts(action, view, user)
	if err != nil {
		return nil, err
	}

	return e.submit(ctx, action, signer, view, view.PendingRewards, func(ctx context.Context) ([]solana.Instruction, error) {
		if err := e.ensureTokenAccount(ctx, signer, propertyID, userShares, view.ATAs.ShareMint); err != nil {
			return nil, err
		}
		if err := e.ensureTokenAccount(ctx, signer, propertyID, userUSDC, view.ATAs.USDCMint); err != nil {
			return nil, err
		}
		reward, err := solanapkg.DeriveUserRewardAddress(e.programID, view.Addresses.Pool, user)
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{solanapkg.NewClaimInstruction(e.programID, solanapkg.ClaimAccounts{
			User:          user,
			Property:      view.Addresses.Property,
			Pool:          view.Addresses.Pool,
			UserReward:    reward,
			UserSharesATA: userShares,
			UserUSDCATA:   userUSDC,
			PoolUSDCATA:   view.ATAs.PoolUSDCATA,
			Mint:          view.Addresses.Mint,
			USDCMint:      view.ATAs.USDCMint,
		})}, nil
	})
}

// requireSigner rejects an action when no signing identity is connected.
func requireSigner(action, propertyID string, signer solanapkg.Signer) error {
	if signer == nil {
		return newActionError(action, propertyID, KindNotConnected, "no signing identity connected", nil)
	}
	return nil
}

// userTokenAccounts returns owner's share and stable-coin token accounts for view.
func userTokenAccounts(action string, view PropertyView, owner solana.PublicKey) (shares, usdc solana.PublicKey, err error) {
	if shares, err = view.ATAs.UserSharesATA(owner); err == nil {
		usdc, err = view.ATAs.UserUSDCATA(owner)
	}
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, newActionError(action, view.Config.PropertyID, KindSubmission,
			"failed to derive token accounts", err)
	}
	return shares, usdc, nil
}

// prepare resolves the view the action validates against. The snapshot is
// refreshed first when its user fields were read for a different identity.
// Callers check the signer and any amount first.
func (e *Executor) prepare(ctx context.Context, action string, signer solanapkg.Signer, propertyID string) (PropertyView, error) {
	owner := signer.PublicKey()
	snap := e.tracker.Current()
	if !snap.OwnedBy(owner) {
		var err error
		snap, err = e.tracker.Refresh(ctx, &owner)
		if err != nil {
			return PropertyView{}, newActionError(action, propertyID, KindNetwork,
				fmt.Sprintf("failed to load property state: %v", err), err)
		}
	}
	view, ok := snap.Find(propertyID)
	if !ok {
		return PropertyView{}, newActionError(action, propertyID, KindNotFound,
			fmt.Sprintf("unknown property %q", propertyID), nil)
	}
	if !view.IsInitialized {
		return PropertyView{}, newActionError(action, propertyID, KindNotInitialized,
			"property is not yet available", nil)
	}
	return view, nil
}

// ensureTokenAccount creates account in its own confirmed transaction when it does not exist.
func (e *Executor) ensureTokenAccount(ctx context.Context, signer solanapkg.Signer, propertyID string, account, mint solana.PublicKey) error {
	exists, err := e.chain.AccountExists(ctx, account)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	owner := signer.PublicKey()
	ix, err := solanapkg.NewCreateATAInstruction(owner, owner, mint)
	if err != nil {
		return err
	}
	sig, err := e.chain.SendAndConfirm(ctx, signer, ix)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "created token account",
		"property_id", propertyID, "account", account, "mint", mint, "signature", sig)
	return nil
}

// submit runs build and sends its instructions, then refreshes, records and
// notifies whatever the result.
func (e *Executor) submit(
	ctx context.Context,
	action string,
	signer solanapkg.Signer,
	view PropertyView,
	amount uint64,
	build func(ctx context.Context) ([]solana.Instruction, error),
) (*ActionOutcome, error) {
	propertyID := view.Config.PropertyID
	owner := signer.PublicKey()
	start := time.Now()
	outcome := &ActionOutcome{
		ID:          uuid.New(),
		Action:      action,
		PropertyID:  propertyID,
		Signer:      owner.String(),
		Amount:      amount,
		SubmittedAt: start.UTC(),
	}

	e.logger.InfoContext(ctx, "submitting action",
		"action", action, "property_id", propertyID, "signer", owner, "amount", amount)

	var sig solana.Signature
	ixs, err := build(ctx)
	if err == nil {
		sig, err = e.chain.SendAndConfirm(ctx, signer, ixs...)
	}

	var actionErr *ActionError
	if err != nil {
		actionErr = classify(action, propertyID, err)
		outcome.Status = "failed"
		outcome.Error = actionErr.Reason
		if sig != (solana.Signature{}) {
			outcome.Signature = sig.String()
		}
		e.logger.ErrorContext(ctx, "action failed",
			"action", action, "property_id", propertyID, "kind", actionErr.Kind, "error", err)
	} else {
		outcome.Status = "success"
		outcome.Signature = sig.String()
		e.logger.InfoContext(ctx, "action confirmed",
			"action", action, "property_id", propertyID, "signature", sig)
	}
	outcome.Duration = time.Since(start)

	snap, refreshErr := e.tracker.Refresh(ctx, &owner)
	if refreshErr == nil {
		outcome.Generation = snap.Generation
	}

	if e.metrics != nil {
		e.metrics.RecordAction(action, propertyID, outcome.Status, outcome.Duration.Seconds())
	}
	if e.receipts != nil {
		if err := e.receipts.RecordAction(ctx, *outcome); err != nil {
			e.logger.WarnContext(ctx, "failed to record action receipt", "id", outcome.ID, "error", err)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.ActionCompleted(ctx, *outcome); err != nil {
			e.logger.WarnContext(ctx, "failed to publish action event", "id", outcome.ID, "error", err)
		}
	}

	if actionErr != nil {
		return outcome, actionErr
	}
	return outcome, nil
}

func classify(action, propertyID string, err error) *ActionError {
	var txErr *solanapkg.TransactionError
	switch {
	case errors.As(err, &txErr):
		reason := txErr.Reason
		if reason == "" {
			reason = defaultSubmissionReason
		}
		return newActionError(action, propertyID, KindSubmission, reason, err)
	case errors.Is(err, solanapkg.ErrRPCUnavailable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newActionError(action, propertyID, KindNetwork, fmt.Sprintf("network failure: %v", err), err)
	default:
		reason := err.Error()
		if reason == "" {
			reason = defaultSubmissionReason
		}
		return newActionError(action, propertyID, KindSubmission, reason, err)
	}
}
