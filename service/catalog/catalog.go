// Package catalog ingests the external property catalog feed.
//
// Ingestion is all-or-nothing: one malformed entry rejects the whole batch,
// because address derivation downstream assumes every config is well-formed.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	solanapkg "github.com/brojonat/homepass/service/solana"
)

// ErrInvalidEntry is matched by every catalog validation failure.
var ErrInvalidEntry = errors.New("invalid catalog entry")

// EntryError identifies the offending catalog entry.
type EntryError struct {
	Index      int
	PropertyID string
	Reason     string
}

func (e *EntryError) Error() string {
	if e.PropertyID == "" {
		return fmt.Sprintf("entry #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("entry #%d (%s): %s", e.Index, e.PropertyID, e.Reason)
}

func (e *EntryError) Unwrap() error { return ErrInvalidEntry }

// PropertyConfig describes one property's token economics.
type PropertyConfig struct {
	PropertyID    string           `json:"property_id"`
	TotalShares   uint64           `json:"total_shares"`
	MetadataURI   string           `json:"metadata_uri"`
	TokenName     string           `json:"token_name"`
	TokenSymbol   string           `json:"token_symbol"`
	PricePerShare uint64           `json:"price_per_share"` // micro units of the stable-coin
	USDCMint      solana.PublicKey `json:"usdc_mint"`
}

// remoteEntry is the feed's wire format. propertyId and pricePerShare arrive
// as either JSON numbers or strings.
type remoteEntry struct {
	PropertyID    json.RawMessage `json:"propertyId"`
	TotalShares   json.RawMessage `json:"totalShares"`
	MetadataURI   string          `json:"metadataUri"`
	TokenName     string          `json:"tokenName"`
	TokenSymbol   string          `json:"tokenSymbol"`
	PricePerShare json.RawMessage `json:"pricePerShare"`
	USDCMint      string          `json:"usdcMint"`
}

var numericToken = regexp.MustCompile(`\d+(\.\d+)?`)

var (
	microFactor = decimal.New(1, solanapkg.USDCDecimals)
	maxMicro    = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)
)

// ParsePricePerShare extracts the first numeric token of a loosely formatted
// price ("66.5", "150.0JS:150", "42") and converts it to micro units, rounded.
func ParsePricePerShare(value string) (uint64, error) {
	text := strings.TrimSpace(value)
	loc := numericToken.FindStringIndex(text)
	if loc == nil {
		return 0, fmt.Errorf("pricePerShare has no numeric token: %q", text)
	}
	if negativeSign(text[:loc[0]]) {
		return 0, fmt.Errorf("pricePerShare is not a positive number: %q", text)
	}

	num, err := decimal.NewFromString(text[loc[0]:loc[1]])
	if err != nil {
		return 0, fmt.Errorf("pricePerShare is not a number: %q: %w", text, err)
	}
	if !num.IsPositive() {
		return 0, fmt.Errorf("pricePerShare is not a positive number: %q", text)
	}

	micro := num.Mul(microFactor).Round(0)
	if !micro.IsPositive() {
		return 0, fmt.Errorf("pricePerShare rounds to zero micro units: %q", text)
	}
	if micro.GreaterThan(maxMicro) {
		return 0, fmt.Errorf("pricePerShare is too large: %q", text)
	}
	return micro.BigInt().Uint64(), nil
}

// negativeSign reports whether prefix ends in a minus sign applied to the
// number that follows it. A hyphen joined to a word ("USD-150") is a separator.
func negativeSign(prefix string) bool {
	p := strings.TrimRight(prefix, " $")
	if !strings.HasSuffix(p, "-") {
		return false
	}
	p = strings.TrimSuffix(p, "-")
	if p == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(p)
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Decode validates a raw catalog payload. The payload must be a JSON array;
// the first malformed entry rejects the batch with an *EntryError.
func Decode(data []byte) ([]PropertyConfig, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrInvalidEntry)
	}

	var raw []remoteEntry
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode catalog: %v", ErrInvalidEntry, err)
	}

	configs := make([]PropertyConfig, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for i, entry := range raw {
		cfg, err := decodeEntry(i, entry)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[cfg.PropertyID]; dup {
			return nil, &EntryError{Index: i, PropertyID: cfg.PropertyID, Reason: fmt.Sprintf("duplicate propertyId (first seen at entry #%d)", prev)}
		}
		seen[cfg.PropertyID] = i
		configs = append(configs, cfg)
	}
	return configs, nil
}

func decodeEntry(index int, entry remoteEntry) (PropertyConfig, error) {
	propertyID, err := scalarString(entry.PropertyID)
	if err != nil || propertyID == "" {
		return PropertyConfig{}, &EntryError{Index: index, Reason: "empty propertyId"}
	}
	fail := func(format string, args ...interface{}) (PropertyConfig, error) {
		return PropertyConfig{}, &EntryError{Index: index, PropertyID: propertyID, Reason: fmt.Sprintf(format, args...)}
	}

	if len(propertyID) > solanapkg.MaxSeedLength {
		return fail("propertyId longer than %d bytes", solanapkg.MaxSeedLength)
	}

	sharesText, err := scalarString(entry.TotalShares)
	if err != nil {
		return fail("invalid totalShares=%s", string(entry.TotalShares))
	}
	totalShares, err := strconv.ParseUint(sharesText, 10, 64)
	if err != nil || totalShares == 0 {
		return fail("invalid totalShares=%s", sharesText)
	}

	priceText, err := scalarString(entry.PricePerShare)
	if err != nil {
		return fail("invalid pricePerShare=%s", string(entry.PricePerShare))
	}
	price, err := ParsePricePerShare(priceText)
	if err != nil {
		return fail("%v", err)
	}

	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(entry.USDCMint))
	if err != nil {
		return fail("invalid usdcMint %q: %v", entry.USDCMint, err)
	}

	return PropertyConfig{
		PropertyID:    propertyID,
		TotalShares:   totalShares,
		MetadataURI:   entry.MetadataURI,
		TokenName:     entry.TokenName,
		TokenSymbol:   entry.TokenSymbol,
		PricePerShare: price,
		USDCMint:      mint,
	}, nil
}

// scalarString renders a JSON string or number as text.
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing value")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
