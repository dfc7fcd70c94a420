package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devnetUSDC = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

func TestParsePricePerShare(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr string
	}{
		{input: "66.5", want: 66_500_000},
		{input: "150.0JS:150", want: 150_000_000},
		{input: "42", want: 42_000_000},
		{input: " $12.34 per share", want: 12_340_000},
		{input: "0.0000005", want: 1},
		{input: "1.2345678", want: 1_234_568},
		{input: "abc", wantErr: "no numeric token"},
		{input: "", wantErr: "no numeric token"},
		{input: "-5", wantErr: "not a positive number"},
		{input: "-$5", wantErr: "not a positive number"},
		{input: "$-5", wantErr: "not a positive number"},
		{input: "price: - 5", wantErr: "not a positive number"},
		{input: "USD-150", want: 150_000_000},
		{input: "tier-2 share", want: 2_000_000},
		{input: "0", wantErr: "not a positive number"},
		{input: "0.0000001", wantErr: "rounds to zero"},
		{input: "99999999999999999999", wantErr: "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePricePerShare(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode(t *testing.T) {
	payload := `[
		{"propertyId": "villa-alpha", "totalShares": 1000, "metadataUri": "https://example.com/a.json",
		 "tokenName": "Villa Alpha", "tokenSymbol": "VALPHA", "pricePerShare": "66.5", "usdcMint": "` + devnetUSDC + `"},
		{"propertyId": 7, "totalShares": "250", "pricePerShare": 42, "usdcMint": "` + devnetUSDC + `"}
	]`

	configs, err := Decode([]byte(payload))
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "villa-alpha", configs[0].PropertyID)
	assert.Equal(t, uint64(1000), configs[0].TotalShares)
	assert.Equal(t, uint64(66_500_000), configs[0].PricePerShare)
	assert.Equal(t, "VALPHA", configs[0].TokenSymbol)
	assert.Equal(t, devnetUSDC, configs[0].USDCMint.String())

	assert.Equal(t, "7", configs[1].PropertyID)
	assert.Equal(t, uint64(250), configs[1].TotalShares)
	assert.Equal(t, uint64(42_000_000), configs[1].PricePerShare)
}

func TestDecode_RejectsMalformedEntries(t *testing.T) {
	valid := `{"propertyId": "ok", "totalShares": 10, "pricePerShare": "1", "usdcMint": "` + devnetUSDC + `"}`

	tests := []struct {
		name   string
		entry  string
		reason string
	}{
		{"empty id", `{"propertyId": "", "totalShares": 10, "pricePerShare": "1", "usdcMint": "` + devnetUSDC + `"}`, "empty propertyId"},
		{"missing id", `{"totalShares": 10, "pricePerShare": "1", "usdcMint": "` + devnetUSDC + `"}`, "empty propertyId"},
		{"zero shares", `{"propertyId": "p", "totalShares": 0, "pricePerShare": "1", "usdcMint": "` + devnetUSDC + `"}`, "invalid totalShares"},
		{"negative shares", `{"propertyId": "p", "totalShares": -3, "pricePerShare": "1", "usdcMint": "` + devnetUSDC + `"}`, "invalid totalShares"},
		{"fractional shares", `{"propertyId": "p", "totalShares": 1.5, "pricePerShare": "1", "usdcMint": "` + devnetUSDC + `"}`, "invalid totalShares"},
		{"bad price", `{"propertyId": "p", "totalShares": 10, "pricePerShare": "tbd", "usdcMint": "` + devnetUSDC + `"}`, "no numeric token"},
		{"bad mint", `{"propertyId": "p", "totalShares": 10, "pricePerShare": "1", "usdcMint": "not-base58!"}`, "invalid usdcMint"},
		{"long id", `{"propertyId": "this-property-id-is-far-too-long-to-seed", "totalShares": 10, "pricePerShare": "1", "usdcMint": "` + devnetUSDC + `"}`, "longer than 32 bytes"},
		{"duplicate", valid, "duplicate propertyId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configs, err := Decode([]byte(`[` + valid + `,` + tt.entry + `]`))
			require.Error(t, err)
			assert.Nil(t, configs, "no partial catalog")
			assert.True(t, errors.Is(err, ErrInvalidEntry))

			var entryErr *EntryError
			require.True(t, errors.As(err, &entryErr))
			assert.Equal(t, 1, entryErr.Index)
			assert.Contains(t, entryErr.Reason, tt.reason)
			assert.Contains(t, err.Error(), "entry #1")
		})
	}
}

func TestDecode_RejectsNonArray(t *testing.T) {
	for _, payload := range []string{``, `{}`, `"x"`, `[1,`} {
		_, err := Decode([]byte(payload))
		assert.ErrorIs(t, err, ErrInvalidEntry, payload)
	}
}

func TestDecode_EmptyArray(t *testing.T) {
	configs, err := Decode([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, configs)
}
