package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/homepass/service/shares"
)

// Client is the HTTP client for the homepass share service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new share service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Actions block until the transaction confirms.
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Kind is set for rejected actions.
	Kind shares.Kind
	// Outcome is set when the action was submitted and failed.
	Outcome *shares.ActionOutcome
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Holdings is the connected identity's portfolio.
type Holdings struct {
	Owner       *solana.PublicKey `json:"owner,omitempty"`
	Generation  uint64            `json:"generation"`
	Holdings    []shares.Holding  `json:"holdings"`
	TotalValue  decimal.Decimal   `json:"total_value"`
	TotalIncome decimal.Decimal   `json:"total_income"`
}

// Receipt is a recorded action as listed by the server.
type Receipt struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	PropertyID  string    `json:"property_id"`
	Signer      string    `json:"signer"`
	Amount      uint64    `json:"amount"`
	Signature   *string   `json:"signature,omitempty"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	Generation  uint64    `json:"generation"`
	Duration    string    `json:"duration"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReceiptFilter narrows Receipts. Zero values are omitted.
type ReceiptFilter struct {
	PropertyID string
	Signer     string
	Limit      int
	Offset     int
}

// Properties returns the server's latest snapshot.
func (c *Client) Properties(ctx context.Context) (*shares.Snapshot, error) {
	var snap shares.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/properties", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Property returns one property's view.
func (c *Client) Property(ctx context.Context, propertyID string) (*shares.PropertyView, error) {
	var resp struct {
		Property shares.PropertyView `json:"property"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/properties/"+url.PathEscape(propertyID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Property, nil
}

// Holdings returns the connected identity's portfolio.
func (c *Client) Holdings(ctx context.Context) (*Holdings, error) {
	var h Holdings
	if err := c.do(ctx, http.MethodGet, "/api/v1/holdings", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Refresh asks the server to re-read chain state now.
func (c *Client) Refresh(ctx context.Context) (*shares.Snapshot, error) {
	var snap shares.Snapshot
	if err := c.do(ctx, http.MethodPost, "/api/v1/refresh", nil, &snap); err != nil {
		return nil, err
	}
	c.logger.Debug("refreshed", "generation", snap.Generation)
	return &snap, nil
}

// BuyShares buys whole shares of a property.
func (c *Client) BuyShares(ctx context.Context, propertyID string, count int64) (*shares.ActionOutcome, error) {
	return c.action(ctx, propertyID, "buy", map[string]int64{"shares": count})
}

// DepositYield deposits amount micro-USDC into the property's reward pool.
func (c *Client) DepositYield(ctx context.Context, propertyID string, amount int64) (*shares.ActionOutcome, error) {
	return c.action(ctx, propertyID, "deposit", map[string]int64{"amount": amount})
}

// Claim claims pending rewards.
func (c *Client) Claim(ctx context.Context, propertyID string) (*shares.ActionOutcome, error) {
	return c.action(ctx, propertyID, "claim", nil)
}

func (c *Client) action(ctx context.Context, propertyID, verb string, body interface{}) (*shares.ActionOutcome, error) {
	var outcome shares.ActionOutcome
	path := fmt.Sprintf("/api/v1/properties/%s/%s", url.PathEscape(propertyID), verb)
	if err := c.do(ctx, http.MethodPost, path, body, &outcome); err != nil {
		return nil, err
	}
	c.logger.Debug("action confirmed", "action", outcome.Action, "property_id", propertyID, "signature", outcome.Signature)
	return &outcome, nil
}

// Resolve maps a marketplace listing id to a property id.
func (c *Client) Resolve(ctx context.Context, listingID int64) (string, error) {
	var resp struct {
		PropertyID string `json:"property_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/resolve/"+strconv.FormatInt(listingID, 10), nil, &resp); err != nil {
		return "", err
	}
	return resp.PropertyID, nil
}

// Receipts lists recorded actions, newest first.
func (c *Client) Receipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error) {
	q := url.Values{}
	if filter.PropertyID != "" {
		q.Set("property_id", filter.PropertyID)
	}
	if filter.Signer != "" {
		q.Set("signer", filter.Signer)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	path := "/api/v1/receipts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Receipts []Receipt `json:"receipts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error   string                `json:"error"`
		Kind    shares.Kind           `json:"kind"`
		Outcome *shares.ActionOutcome `json:"outcome"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    errResp.Error,
		Kind:       errResp.Kind,
		Outcome:    errResp.Outcome,
	}
}
