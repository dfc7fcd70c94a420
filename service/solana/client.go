package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/homepass/service/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrAccountNotFound means the RPC node answered and the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrRPCUnavailable wraps failures to reach the RPC node or get a usable answer from it.
	ErrRPCUnavailable = errors.New("solana rpc unavailable")
)

// TransactionError is returned when the ledger rejects a transaction or it
// cannot be confirmed in time.
type TransactionError struct {
	Signature solana.Signature
	Reason    string
}

func (e *TransactionError) Error() string {
	if e.Signature == (solana.Signature{}) {
		return e.Reason
	}
	return fmt.Sprintf("%s (signature %s)", e.Reason, e.Signature)
}

// Signer is the connected signing identity.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// KeypairSigner signs with an in-process private key.
type KeypairSigner struct {
	key solana.PrivateKey
}

// NewKeypairSigner wraps a private key.
func NewKeypairSigner(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

// LoadKeypairSigner reads a solana-keygen JSON keypair file.
func LoadKeypairSigner(path string) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return NewKeypairSigner(key), nil
}

func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeypairSigner) Sign(tx *solana.Transaction) error {
	pub := s.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &s.key
		}
		return nil
	})
	return err
}

// Client provides the ledger reads and writes the share program needs.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc            RPCClient
	logger         *slog.Logger
	metrics        *metrics.Metrics
	endpoint       string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:            rpcClient,
		logger:         logger,
		metrics:        m,
		endpoint:       endpoint,
		confirmTimeout: 60 * time.Second,
		pollInterval:   500 * time.Millisecond,
	}
}

// WithConfirmTimeout sets how long SendAndConfirm waits for confirmation.
func (c *Client) WithConfirmTimeout(d time.Duration) *Client {
	c.confirmTimeout = d
	return c
}

// WithPollInterval sets the first delay between signature status polls.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	c.pollInterval = d
	return c
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// AccountData returns the raw data of account, or ErrAccountNotFound.
func (c *Client) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		c.record("GetAccountInfo", start, nil)
		return nil, ErrAccountNotFound
	}
	c.record("GetAccountInfo", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get account info", "account", account.String(), "error", err)
		return nil, fmt.Errorf("%w: get account %s: %v", ErrRPCUnavailable, account, err)
	}
	if out == nil || out.Value == nil {
		return nil, ErrAccountNotFound
	}
	if out.Value.Data == nil {
		return nil, nil
	}
	return out.Value.Data.GetBinary(), nil
}

// AccountExists reports whether account has been created on-chain.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.AccountData(ctx, account)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TokenBalance returns the raw amount held by a token account.
// A token account that was never created has a balance of zero.
func (c *Client) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, account)
	if err != nil && isMissingAccountError(err) {
		c.record("GetTokenAccountBalance", start, nil)
		c.logger.DebugContext(ctx, "token account missing, using zero balance", "account", account.String())
		return 0, nil
	}
	c.record("GetTokenAccountBalance", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get token balance", "account", account.String(), "error", err)
		return 0, fmt.Errorf("%w: get token balance %s: %v", ErrRPCUnavailable, account, err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q for %s: %w", out.Value.Amount, account, err)
	}
	return amount, nil
}

// isMissingAccountError distinguishes an RPC answer about a nonexistent (or
// not-yet-token) account from a transport failure.
func isMissingAccountError(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not a token account")
}

// SendAndConfirm signs instructions into one transaction paid by signer,
// submits it and waits for confirmed commitment.
func (c *Client) SendAndConfirm(ctx context.Context, signer Signer, instructions ...solana.Instruction) (solana.Signature, error) {
	start := time.Now()
	blockhash, err := c.rpc.GetLatestBlockhash(ctx)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: get latest blockhash: %v", ErrRPCUnavailable, err)
	}
	if blockhash == nil || blockhash.Value == nil {
		return solana.Signature{}, fmt.Errorf("%w: empty blockhash response", ErrRPCUnavailable)
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	if err := signer.Sign(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	start = time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx)
	c.record("SendTransaction", start, err)
	if err != nil {
		c.recordSubmission("rejected")
		return solana.Signature{}, &TransactionError{Reason: rpcErrorReason(err)}
	}

	c.logger.DebugContext(ctx, "transaction sent, awaiting confirmation",
		"signature", sig.String(),
		"instructions", len(instructions),
	)

	if err := c.confirm(ctx, sig); err != nil {
		c.recordSubmission("failed")
		return sig, err
	}
	c.recordSubmission("confirmed")
	return sig, nil
}

func (c *Client) recordSubmission(status string) {
	if c.metrics != nil {
		c.metrics.RecordTransactionSubmitted(status)
	}
}

// confirm polls the signature status with exponential backoff until the
// transaction is confirmed, fails on-chain, or the confirm timeout elapses.
func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.confirmTimeout

	var lastErr error
	operation := func() error {
		start := time.Now()
		out, err := c.rpc.GetSignatureStatuses(ctx, sig)
		c.record("GetSignatureStatuses", start, err)
		if err != nil {
			lastErr = err
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetSignatureStatuses", "error")
			}
			return err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return fmt.Errorf("signature %s not yet visible", sig)
		}
		status := out.Value[0]
		if status.Err != nil {
			return backoff.Permanent(&TransactionError{
				Signature: sig,
				Reason:    fmt.Sprintf("transaction failed: %v", status.Err),
			})
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
		return fmt.Errorf("signature %s is %s", sig, status.ConfirmationStatus)
	}

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr
	}
	if lastErr != nil {
		c.logger.WarnContext(ctx, "signature status polling failed", "signature", sig.String(), "error", lastErr)
	}
	return &TransactionError{
		Signature: sig,
		Reason:    "transaction was not confirmed in time",
	}
}

// rpcErrorReason extracts the ledger's own message from a submission error.
func rpcErrorReason(err error) string {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Message != "" {
		return rpcErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Transaction failed"
}
