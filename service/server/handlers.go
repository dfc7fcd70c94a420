package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/db"
	"github.com/brojonat/homepass/service/shares"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

const (
	maxRequestBodySize = 1 << 16 // action bodies are a single number
	defaultReceiptPage = 50
	maxReceiptPage     = 500
)

// handleListProperties returns the latest snapshot.
// GET /api/v1/properties
func handleListProperties(tracker *shares.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := tracker.Current()
		logger.Debug("properties listed", "generation", snap.Generation, "count", len(snap.Views))
		writeJSON(w, snap, http.StatusOK)
	})
}

// handleGetProperty returns one property's view from the latest snapshot.
// GET /api/v1/properties/{id}
func handleGetProperty(tracker *shares.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validatePropertyID(id); err != nil {
			logger.Debug("invalid property id", "property_id", id, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		snap := tracker.Current()
		view, ok := snap.Find(id)
		if !ok {
			writeError(w, "property not found", http.StatusNotFound)
			return
		}

		writeJSON(w, map[string]interface{}{
			"generation":   snap.Generation,
			"refreshed_at": snap.RefreshedAt,
			"property":     view,
		}, http.StatusOK)
	})
}

type holdingsResponse struct {
	Owner       *solana.PublicKey `json:"owner,omitempty"`
	Generation  uint64            `json:"generation"`
	Holdings    []shares.Holding  `json:"holdings"`
	TotalValue  decimal.Decimal   `json:"total_value"`
	TotalIncome decimal.Decimal   `json:"total_income"`
}

// handleHoldings returns the snapshot owner's positions.
// GET /api/v1/holdings
func handleHoldings(tracker *shares.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := tracker.Current()
		portfolio := shares.Holdings(snap.Views)
		logger.Debug("holdings computed", "owner", snap.Owner, "count", len(portfolio.Holdings))

		writeJSON(w, holdingsResponse{
			Owner:       snap.Owner,
			Generation:  snap.Generation,
			Holdings:    portfolio.Holdings,
			TotalValue:  portfolio.TotalValue,
			TotalIncome: portfolio.TotalIncome,
		}, http.StatusOK)
	})
}

// handleRefresh runs a refresh pass for the connected identity.
// POST /api/v1/refresh
func handleRefresh(tracker *shares.Tracker, owner func() *solana.PublicKey, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := tracker.Refresh(r.Context(), owner())
		if err != nil {
			logger.Warn("refresh request failed", "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, snap, http.StatusOK)
	})
}

// handleBuyShares submits a share purchase.
// POST /api/v1/properties/{id}/buy {"shares": n}
func handleBuyShares(executor *shares.Executor, signer solanapkg.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validatePropertyID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req struct {
			Shares int64 `json:"shares"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("failed to decode buy request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		outcome, err := executor.BuyShares(r.Context(), signer, id, req.Shares)
		writeActionResult(w, logger, outcome, err)
	})
}

// handleDepositYield submits a yield deposit in micro-USDC.
// POST /api/v1/properties/{id}/deposit {"amount": micro}
func handleDepositYield(executor *shares.Executor, signer solanapkg.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validatePropertyID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			logger.Debug("failed to decode deposit request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		outcome, err := executor.DepositYield(r.Context(), signer, id, req.Amount)
		writeActionResult(w, logger, outcome, err)
	})
}

// handleClaim claims pending rewards.
// POST /api/v1/properties/{id}/claim
func handleClaim(executor *shares.Executor, signer solanapkg.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validatePropertyID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		outcome, err := executor.Claim(r.Context(), signer, id)
		writeActionResult(w, logger, outcome, err)
	})
}

// handleResolveListing maps a marketplace listing to a property id.
// GET /api/v1/resolve/{listing}
func handleResolveListing(resolver *catalog.Resolver, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("listing")
		listing, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, "invalid listing id: must be an integer", http.StatusBadRequest)
			return
		}

		propertyID, ok := resolver.Resolve(listing)
		if !ok {
			logger.Debug("listing not mapped", "listing_id", listing)
			writeError(w, "no property for listing", http.StatusNotFound)
			return
		}

		writeJSON(w, map[string]interface{}{
			"listing_id":  listing,
			"property_id": propertyID,
		}, http.StatusOK)
	})
}

type receiptResponse struct {
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

func receiptToResponse(rc *db.Receipt) receiptResponse {
	return receiptResponse{
		ID:          rc.ID.String(),
		Action:      rc.Action,
		PropertyID:  rc.PropertyID,
		Signer:      rc.Signer,
		Amount:      rc.Amount,
		Signature:   rc.Signature,
		Status:      rc.Status,
		Error:       rc.Error,
		Generation:  rc.Generation,
		Duration:    rc.Duration.String(),
		SubmittedAt: rc.SubmittedAt,
	}
}

// handleListReceipts lists recorded actions, newest first.
// GET /api/v1/receipts?property_id={id}&signer={address}&limit={n}&offset={n}
func handleListReceipts(receipts ReceiptLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params := db.ListReceiptsParams{
			PropertyID: q.Get("property_id"),
			Signer:     q.Get("signer"),
			Limit:      defaultReceiptPage,
		}

		if params.PropertyID != "" {
			if err := validatePropertyID(params.PropertyID); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if params.Signer != "" {
			if _, err := solana.PublicKeyFromBase58(params.Signer); err != nil {
				writeError(w, "invalid signer: must be a base58 public key", http.StatusBadRequest)
				return
			}
		}

		var err error
		if params.Limit, err = parsePageParam(q.Get("limit"), defaultReceiptPage, 1, maxReceiptPage); err != nil {
			writeError(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
			return
		}
		if params.Offset, err = parsePageParam(q.Get("offset"), 0, 0, 1<<30); err != nil {
			writeError(w, fmt.Sprintf("invalid offset: %v", err), http.StatusBadRequest)
			return
		}

		list, err := receipts.ListReceipts(r.Context(), params)
		if err != nil {
			logger.Error("failed to list receipts", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]receiptResponse, len(list))
		for i, rc := range list {
			resp[i] = receiptToResponse(rc)
		}
		writeJSON(w, map[string]interface{}{
			"receipts": resp,
			"limit":    params.Limit,
			"offset":   params.Offset,
		}, http.StatusOK)
	})
}

// writeActionResult writes an action outcome, or maps its error onto a
// status code. Failed submissions carry their outcome alongside the error.
func writeActionResult(w http.ResponseWriter, logger *slog.Logger, outcome *shares.ActionOutcome, err error) {
	if err == nil {
		writeJSON(w, outcome, http.StatusOK)
		return
	}

	status := statusForError(err)
	logger.Debug("action rejected", "kind", shares.KindOf(err), "status", status, "error", err)

	body := map[string]interface{}{
		"error": err.Error(),
		"kind":  shares.KindOf(err),
	}
	if outcome != nil {
		body["outcome"] = outcome
	}
	writeJSON(w, body, status)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, shares.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shares.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, shares.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shares.ErrConnectivity), errors.Is(err, shares.ErrSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errorf("request body too large: maximum size is %d bytes", maxRequestBodySize)
		}
		return errorf("invalid request body: must be valid JSON with an integer amount")
	}
	return nil
}

func parsePageParam(raw string, def, min, max int32) (int32, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, errorf("must be an integer")
	}
	if int32(n) < min || int32(n) > max {
		return 0, errorf("must be between %d and %d", min, max)
	}
	return int32(n), nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validatePropertyID rejects ids that could never derive a program address.
func validatePropertyID(id string) error {
	if id == "" {
		return errorf("property id is required")
	}
	if len(id) > solanapkg.MaxSeedLength {
		return errorf("property id too long: maximum length is %d bytes", solanapkg.MaxSeedLength)
	}
	for _, r := range id {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in property id: control characters not allowed")
		}
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
